package dispatch

import (
	"fmt"

	"waterbar/pkg/models"
)

type RemainingDrink struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type FollowUpData struct {
	CustomerName     string           `json:"customerName"`
	ConsumedCount    int              `json:"consumedCount"`
	ConsumedDrinks   []string         `json:"consumedDrinks"`
	RemainingDrinks  []RemainingDrink `json:"remainingDrinks"`
	TotalDrinks      int              `json:"totalDrinks"`
	ExperienceName   string           `json:"experienceName,omitempty"`
	ExperienceAdvice string           `json:"experienceAdvice,omitempty"`
}

type CompletionData struct {
	CustomerName      string `json:"customerName"`
	OrderID           string `json:"orderId"`
	TotalDrinks       int    `json:"totalDrinks"`
	CompletionMessage string `json:"completionMessage"`
}

// EmailArguments is the argument object of the notifier's email tool.
type EmailArguments struct {
	Flow string      `json:"flow"`
	To   string      `json:"to"`
	Data interface{} `json:"data"`
}

// PayloadBuilder turns decisions into notifier arguments.
type PayloadBuilder struct {
	Flow              string
	CompletionMessage string
}

func (b PayloadBuilder) FollowUp(order *models.Order, d Decision, fc models.FollowUpContext) (EmailArguments, error) {
	if d.Kind != KindFollowUp {
		return EmailArguments{}, fmt.Errorf("follow-up payload requested for %s decision", d.Kind)
	}

	consumedNames := make([]string, 0, len(d.Consumed))
	for _, item := range d.Consumed {
		consumedNames = append(consumedNames, item.ProductName)
	}

	remaining := make([]RemainingDrink, 0, len(d.Remaining))
	for _, item := range d.Remaining {
		remaining = append(remaining, RemainingDrink{Name: item.ProductName, Quantity: item.Quantity})
	}

	return EmailArguments{
		Flow: b.Flow,
		To:   order.CustomerEmail,
		Data: FollowUpData{
			CustomerName:     order.CustomerName,
			ConsumedCount:    len(d.Consumed),
			ConsumedDrinks:   consumedNames,
			RemainingDrinks:  remaining,
			TotalDrinks:      d.Total,
			ExperienceName:   fc.ExperienceName,
			ExperienceAdvice: fc.Advice,
		},
	}, nil
}

func (b PayloadBuilder) Completion(order *models.Order, d Decision) (EmailArguments, error) {
	if d.Kind != KindCompletion {
		return EmailArguments{}, fmt.Errorf("completion payload requested for %s decision", d.Kind)
	}

	return EmailArguments{
		Flow: b.Flow,
		To:   order.CustomerEmail,
		Data: CompletionData{
			CustomerName:      order.CustomerName,
			OrderID:           order.ID,
			TotalDrinks:       d.Total,
			CompletionMessage: b.CompletionMessage,
		},
	}, nil
}
