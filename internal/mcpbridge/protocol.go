package mcpbridge

import (
	"encoding/json"
	"errors"
	"fmt"
)

const jsonRPCVersion = "2.0"

const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsCall   = "tools/call"
)

var (
	ErrNotRunning      = errors.New("bridge is not running")
	ErrAlreadyStarted  = errors.New("bridge already started")
	ErrTransportClosed = errors.New("notifier transport closed")
	ErrTimeout         = errors.New("notifier call timed out")
	ErrEmptyContent    = errors.New("tool result has no content")
)

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcNotification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// rpcResponse keeps ID optional: servers answer unparseable requests with a null id.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

type toolCallParams struct {
	Name      string      `json:"name"`
	Arguments interface{} `json:"arguments"`
}

type toolCallResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError,omitempty"`
}

// ToolResult is the decoded inner payload of a tool call.
type ToolResult struct {
	Success   bool            `json:"success"`
	ID        string          `json:"id,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	Error     string          `json:"error,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// NotificationID returns whichever message id the notifier reported.
func (r *ToolResult) NotificationID() string {
	if r.ID != "" {
		return r.ID
	}
	return r.MessageID
}

// RPCError is a JSON-RPC error object returned by the notifier.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// EnvelopeError reports a response line that is not a usable JSON-RPC envelope.
type EnvelopeError struct {
	Line string
	Err  error
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("invalid response envelope %q: %v", e.Line, e.Err)
}

func (e *EnvelopeError) Unwrap() error {
	return e.Err
}

// PayloadError reports a well-formed envelope whose content text is not the expected JSON.
type PayloadError struct {
	Text string
	Err  error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("invalid tool payload %q: %v", e.Text, e.Err)
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}

// ToolError is returned when the notifier flags the tool result with isError.
type ToolError struct {
	Message string
}

func (e *ToolError) Error() string {
	return "tool reported error: " + e.Message
}

// StartError wraps a failure to launch the notifier process.
type StartError struct {
	Command string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start notifier %q: %v", e.Command, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

const maxLoggedLine = 256

func truncate(b []byte) string {
	if len(b) > maxLoggedLine {
		return string(b[:maxLoggedLine]) + "..."
	}
	return string(b)
}

// decodeEnvelope is the first decoding stage: one response line to a JSON-RPC result.
func decodeEnvelope(line []byte) (*rpcResponse, error) {
	var resp rpcResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, &EnvelopeError{Line: truncate(line), Err: err}
	}
	if resp.Error == nil && len(resp.Result) == 0 {
		return nil, &EnvelopeError{Line: truncate(line), Err: errors.New("response carries neither result nor error")}
	}
	return &resp, nil
}

// decodeContent is the second stage: the first content item's text is itself JSON.
func decodeContent(result json.RawMessage) (json.RawMessage, error) {
	var tr toolCallResult
	if err := json.Unmarshal(result, &tr); err != nil {
		return nil, &EnvelopeError{Line: truncate(result), Err: fmt.Errorf("result is not a tool result: %w", err)}
	}

	if len(tr.Content) == 0 || tr.Content[0].Text == "" {
		return nil, &PayloadError{Err: ErrEmptyContent}
	}
	text := tr.Content[0].Text

	if tr.IsError {
		return nil, &ToolError{Message: text}
	}

	var inner json.RawMessage
	if err := json.Unmarshal([]byte(text), &inner); err != nil {
		return nil, &PayloadError{Text: truncate([]byte(text)), Err: err}
	}
	return inner, nil
}

func decodeToolResult(inner json.RawMessage) (*ToolResult, error) {
	var res ToolResult
	if err := json.Unmarshal(inner, &res); err != nil {
		return nil, &PayloadError{Text: truncate(inner), Err: err}
	}
	res.Raw = inner
	return &res, nil
}
