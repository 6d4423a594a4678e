package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waterbar/internal/logger"
)

func call(t *testing.T, args map[string]interface{}) (sendResult, bool) {
	t.Helper()
	tool := NewEmailTool("water-bar-followup", logger.NopLogger())

	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := tool.Handle(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Content, 1)

	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)

	var out sendResult
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out, res.IsError
}

func TestEmailToolAccepts(t *testing.T) {
	out, isError := call(t, map[string]interface{}{
		"flow": "water-bar-followup",
		"to":   "ana@example.com",
		"data": map[string]interface{}{"customerName": "Ana", "consumedCount": 2.0},
	})
	assert.False(t, isError)
	assert.True(t, out.Success)
	assert.NotEmpty(t, out.ID)
}

func TestEmailToolRejects(t *testing.T) {
	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{
			name: "wrong flow",
			args: map[string]interface{}{"flow": "other", "to": "ana@example.com", "data": map[string]interface{}{"customerName": "Ana"}},
		},
		{
			name: "bad address",
			args: map[string]interface{}{"flow": "water-bar-followup", "to": "not-an-email", "data": map[string]interface{}{"customerName": "Ana"}},
		},
		{
			name: "data missing",
			args: map[string]interface{}{"flow": "water-bar-followup", "to": "ana@example.com"},
		},
		{
			name: "no customer name",
			args: map[string]interface{}{"flow": "water-bar-followup", "to": "ana@example.com", "data": map[string]interface{}{}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, isError := call(t, tt.args)
			assert.True(t, isError)
			assert.False(t, out.Success)
			assert.NotEmpty(t, out.Error)
		})
	}
}

func TestDefinitionRequiresArguments(t *testing.T) {
	def := NewEmailTool("", logger.NopLogger()).Definition()
	assert.Equal(t, "send_waterbar_email", def.Name)
	assert.ElementsMatch(t, []string{"flow", "to", "data"}, def.InputSchema.Required)
}
