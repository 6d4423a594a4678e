package advice

import (
	"fmt"
	"strings"

	"waterbar/pkg/models"
)

const systemPrompt = "You are a Water Bar hydration coach. Be encouraging and scientific."

// Prompt is one request to a text-generation provider.
type Prompt struct {
	System string
	User   string
}

// BuildPrompt describes what the customer drank, what is left and, when
// known, the experience they booked.
func BuildPrompt(consumed, remaining []models.OrderItem, booking *models.BookingContext) Prompt {
	var b strings.Builder

	b.WriteString("A customer just consumed these drinks:\n\n")
	for i, item := range consumed {
		fmt.Fprintf(&b, "%d. %s\n", i+1, item.ProductName)
		if item.Description != "" {
			fmt.Fprintf(&b, "   Description: %s\n", item.Description)
		}
		if len(item.Tags) > 0 {
			fmt.Fprintf(&b, "   Properties: %s\n", strings.Join(item.Tags, ", "))
		}
	}

	if len(remaining) > 0 {
		names := make([]string, 0, len(remaining))
		for _, item := range remaining {
			names = append(names, item.ProductName)
		}
		fmt.Fprintf(&b, "\nRemaining drinks: %s\n", strings.Join(names, ", "))
	}

	if booking != nil && booking.ExperienceName != "" {
		fmt.Fprintf(&b, "\nExperience context: %s", booking.ExperienceName)
		if len(booking.ExperienceTags) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(booking.ExperienceTags, ", "))
		}
		b.WriteString("\n")
	}

	b.WriteString("\nProvide: 1) A brief encouraging message, 2) Hydration advice based on their experience. ")
	b.WriteString("Keep it to 2-3 sentences.")

	return Prompt{System: systemPrompt, User: b.String()}
}
