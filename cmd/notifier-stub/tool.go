package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/mail"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"waterbar/internal/constants"
	"waterbar/internal/logger"
)

type sendResult struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// EmailTool handles send_waterbar_email calls.
type EmailTool struct {
	flow   string
	logger logger.Logger
}

func NewEmailTool(flow string, log logger.Logger) *EmailTool {
	return &EmailTool{flow: flow, logger: log}
}

func (t *EmailTool) Definition() mcp.Tool {
	return mcp.NewTool(constants.DefaultToolName,
		mcp.WithDescription("Send a Water Bar follow-up or completion email"),
		mcp.WithString("flow",
			mcp.Required(),
			mcp.Description("Email flow, e.g. "+constants.DefaultFlow),
		),
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("Recipient email address"),
		),
		mcp.WithObject("data",
			mcp.Required(),
			mcp.Description("Template data for the email"),
		),
	)
}

func (t *EmailTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	flow := req.GetString("flow", "")
	to := req.GetString("to", "")
	data, _ := req.GetArguments()["data"].(map[string]interface{})

	if err := t.validate(flow, to, data); err != nil {
		t.logger.Warnw("Rejected email", "error", err, "to", to, "flow", flow)
		return reply(sendResult{Error: err.Error()}, true)
	}

	id := uuid.NewString()
	t.logger.Infow("Email accepted",
		"id", id,
		"to", to,
		"flow", flow,
		"customer", data["customerName"],
		"data", data,
	)
	return reply(sendResult{Success: true, ID: id}, false)
}

func (t *EmailTool) validate(flow, to string, data map[string]interface{}) error {
	if flow == "" {
		return fmt.Errorf("flow is required")
	}
	if t.flow != "" && flow != t.flow {
		return fmt.Errorf("unsupported flow %q", flow)
	}
	if _, err := mail.ParseAddress(to); err != nil {
		return fmt.Errorf("invalid recipient %q", to)
	}
	if data == nil {
		return fmt.Errorf("data must be an object")
	}
	if _, ok := data["customerName"].(string); !ok {
		return fmt.Errorf("data.customerName is required")
	}
	return nil
}

func reply(res sendResult, isError bool) (*mcp.CallToolResult, error) {
	body, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	out := mcp.NewToolResultText(string(body))
	out.IsError = isError
	return out, nil
}
