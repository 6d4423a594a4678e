package mcpbridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waterbar/internal/logger"
	"waterbar/pkg/metrics"
)

const fakeModeEnv = "MCPBRIDGE_FAKE_NOTIFIER"

// TestMain lets the test binary double as the notifier process.
func TestMain(m *testing.M) {
	if mode := os.Getenv(fakeModeEnv); mode != "" {
		runFakeNotifier(mode)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

type fakeRequest struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func toolText(id int64, text string, isError bool) string {
	result := map[string]interface{}{
		"content": []map[string]string{{"type": "text", "text": text}},
	}
	if isError {
		result["isError"] = true
	}
	b, _ := json.Marshal(map[string]interface{}{"jsonrpc": "2.0", "id": id, "result": result})
	return string(b)
}

func runFakeNotifier(mode string) {
	in := bufio.NewScanner(os.Stdin)
	out := bufio.NewWriter(os.Stdout)
	reply := func(line string) {
		fmt.Fprintln(out, line)
		out.Flush()
	}

	handled := 0
	for in.Scan() {
		var req fakeRequest
		if err := json.Unmarshal(in.Bytes(), &req); err != nil {
			continue
		}
		if req.ID == nil {
			// notification
			continue
		}
		id := *req.ID
		handled++

		if req.Method == MethodInitialize {
			reply(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"protocolVersion":"2024-11-05","capabilities":{}}}`, id))
			continue
		}

		switch mode {
		case "ok":
			var params struct {
				Name      string          `json:"name"`
				Arguments json.RawMessage `json:"arguments"`
			}
			_ = json.Unmarshal(req.Params, &params)
			inner, _ := json.Marshal(map[string]interface{}{
				"success": true,
				"id":      fmt.Sprintf("msg-%d", id),
				"tool":    params.Name,
				"echo":    params.Arguments,
			})
			reply(toolText(id, string(inner), false))
		case "stderr":
			fmt.Fprintln(os.Stderr, "sending email via provider")
			reply(toolText(id, `{"success":true,"id":"m"}`, false))
		case "rpc-error":
			reply(`{"error":{"code":-1,"message":"boom"}}`)
		case "garbage":
			reply("this is not json")
		case "bad-inner":
			reply(toolText(id, "{not json", false))
		case "empty":
			reply(fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"content":[]}}`, id))
		case "tool-error":
			reply(toolText(id, "smtp unavailable", true))
		case "failure":
			reply(toolText(id, `{"success":false,"error":"invalid recipient"}`, false))
		case "null-id-result":
			reply(`{"jsonrpc":"2.0","id":null,"result":{"content":[{"type":"text","text":"{\"success\":true}"}]}}`)
		case "wrong-id":
			reply(toolText(id+5, `{"success":true}`, false))
		case "stale":
			reply(toolText(id-1, `{"success":false,"error":"stale"}`, false))
			reply(toolText(id, `{"success":true,"id":"fresh"}`, false))
		case "slow-first":
			if handled == 1 {
				time.Sleep(400 * time.Millisecond)
			}
			reply(toolText(id, fmt.Sprintf(`{"success":true,"id":"msg-%d"}`, id), false))
		case "exit":
			os.Exit(3)
		case "silent":
		}
	}
}

func newFakeClient(t *testing.T, mode string, opts ...func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		Command:     os.Args[0],
		Args:        []string{"-test.run=^$"},
		Env:         append(os.Environ(), fakeModeEnv+"="+mode),
		CallTimeout: 2 * time.Second,
		StopGrace:   time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	c := New(cfg, logger.NopLogger())
	t.Cleanup(func() { _ = c.Stop() })
	return c
}

func startFake(t *testing.T, mode string, opts ...func(*Config)) *Client {
	t.Helper()
	c := newFakeClient(t, mode, opts...)
	require.NoError(t, c.Start(context.Background()))
	return c
}

func TestClient_CallToolSuccess(t *testing.T) {
	c := startFake(t, "ok")

	res, err := c.CallTool(context.Background(), "send_waterbar_email", map[string]string{"to": "a@example.com"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "msg-1", res.NotificationID())

	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal(res.Raw, &raw))
	assert.Equal(t, "send_waterbar_email", raw["tool"])
	assert.Equal(t, map[string]interface{}{"to": "a@example.com"}, raw["echo"])
}

func TestClient_IDsAreMonotonic(t *testing.T) {
	c := startFake(t, "ok")

	for want := 1; want <= 3; want++ {
		res, err := c.CallTool(context.Background(), "t", nil)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("msg-%d", want), res.ID)
	}
}

func TestClient_CallReturnsInnerJSON(t *testing.T) {
	c := startFake(t, "ok")

	inner, err := c.Call(context.Background(), MethodToolsCall, toolCallParams{Name: "x", Arguments: map[string]int{"n": 1}})
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(inner, &decoded))
	assert.Equal(t, true, decoded["success"])
}

func TestClient_Failures(t *testing.T) {
	tests := []struct {
		mode  string
		check func(t *testing.T, err error)
	}{
		{"rpc-error", func(t *testing.T, err error) {
			var rpcErr *RPCError
			require.ErrorAs(t, err, &rpcErr)
			assert.Equal(t, -1, rpcErr.Code)
			assert.Equal(t, "boom", rpcErr.Message)
		}},
		{"garbage", func(t *testing.T, err error) {
			var envErr *EnvelopeError
			assert.ErrorAs(t, err, &envErr)
		}},
		{"wrong-id", func(t *testing.T, err error) {
			var envErr *EnvelopeError
			require.ErrorAs(t, err, &envErr)
			assert.Contains(t, envErr.Error(), "does not match")
		}},
		{"null-id-result", func(t *testing.T, err error) {
			var envErr *EnvelopeError
			require.ErrorAs(t, err, &envErr)
			assert.Contains(t, envErr.Error(), "without an id")
		}},
		{"bad-inner", func(t *testing.T, err error) {
			var payloadErr *PayloadError
			assert.ErrorAs(t, err, &payloadErr)
		}},
		{"empty", func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrEmptyContent)
		}},
		{"tool-error", func(t *testing.T, err error) {
			var toolErr *ToolError
			require.ErrorAs(t, err, &toolErr)
			assert.Equal(t, "smtp unavailable", toolErr.Message)
		}},
		{"exit", func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrTransportClosed)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			c := startFake(t, tt.mode)
			res, err := c.CallTool(context.Background(), "send_waterbar_email", map[string]string{})
			assert.Nil(t, res)
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestClient_RecordsOneOutcomePerCall(t *testing.T) {
	count := func(status string) float64 {
		return testutil.ToFloat64(metrics.RPCCallsTotal.WithLabelValues(MethodToolsCall, status))
	}

	c := startFake(t, "bad-inner")
	ok, payloadErr := count("ok"), count("payload_error")

	_, err := c.CallTool(context.Background(), "t", nil)
	require.Error(t, err)
	assert.Equal(t, ok, count("ok"))
	assert.Equal(t, payloadErr+1, count("payload_error"))

	c = startFake(t, "ok")
	ok = count("ok")
	_, err = c.CallTool(context.Background(), "t", nil)
	require.NoError(t, err)
	assert.Equal(t, ok+1, count("ok"))
}

func TestClient_UnsuccessfulToolResultIsNotAnError(t *testing.T) {
	c := startFake(t, "failure")

	res, err := c.CallTool(context.Background(), "send_waterbar_email", nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "invalid recipient", res.Error)
}

func TestClient_RPCErrorDoesNotPoisonNextCall(t *testing.T) {
	c := startFake(t, "rpc-error")

	for i := 0; i < 2; i++ {
		_, err := c.CallTool(context.Background(), "t", nil)
		var rpcErr *RPCError
		assert.ErrorAs(t, err, &rpcErr)
	}
	assert.True(t, c.Alive())
}

func TestClient_StaleResponsesAreDiscarded(t *testing.T) {
	c := startFake(t, "stale")

	res, err := c.CallTool(context.Background(), "t", nil)
	require.NoError(t, err)
	assert.Equal(t, "fresh", res.ID)
}

func TestClient_TimeoutThenRecover(t *testing.T) {
	c := startFake(t, "slow-first", func(cfg *Config) { cfg.CallTimeout = 100 * time.Millisecond })

	_, err := c.CallTool(context.Background(), "t", nil)
	require.ErrorIs(t, err, ErrTimeout)

	// let the late answer to id 1 arrive before id 2 is sent
	time.Sleep(500 * time.Millisecond)

	c.cfg.CallTimeout = 2 * time.Second
	res, err := c.CallTool(context.Background(), "t", nil)
	require.NoError(t, err)
	assert.Equal(t, "msg-2", res.ID)
}

func TestClient_ContextCancellation(t *testing.T) {
	c := startFake(t, "silent")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.CallTool(ctx, "t", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Handshake(t *testing.T) {
	c := startFake(t, "ok", func(cfg *Config) { cfg.Handshake = true })

	res, err := c.CallTool(context.Background(), "t", nil)
	require.NoError(t, err)
	// id 1 was spent on initialize
	assert.Equal(t, "msg-2", res.ID)
}

func TestClient_StderrIsNotProtocol(t *testing.T) {
	c := startFake(t, "stderr")

	res, err := c.CallTool(context.Background(), "t", nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestClient_Lifecycle(t *testing.T) {
	c := newFakeClient(t, "ok")
	assert.Equal(t, StateNotStarted, c.State())

	_, err := c.CallTool(context.Background(), "t", nil)
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, StateRunning, c.State())
	assert.True(t, c.Alive())
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, c.Stop())
	assert.Equal(t, StateStopped, c.State())
	assert.False(t, c.Alive())
	require.NoError(t, c.Stop())

	_, err = c.CallTool(context.Background(), "t", nil)
	assert.ErrorIs(t, err, ErrNotRunning)
	assert.ErrorIs(t, c.Start(context.Background()), ErrAlreadyStarted)
}

func TestClient_StopBeforeStart(t *testing.T) {
	c := newFakeClient(t, "ok")
	require.NoError(t, c.Stop())
	assert.Equal(t, StateStopped, c.State())
}

func TestClient_StartFailure(t *testing.T) {
	c := New(Config{Command: "/nonexistent/notifier-binary"}, logger.NopLogger())

	err := c.Start(context.Background())
	var startErr *StartError
	require.True(t, errors.As(err, &startErr))
	assert.Equal(t, "/nonexistent/notifier-binary", startErr.Command)
	assert.Equal(t, StateNotStarted, c.State())
}

func TestDecodeEnvelope(t *testing.T) {
	_, err := decodeEnvelope([]byte(`{"jsonrpc":"2.0","id":1}`))
	var envErr *EnvelopeError
	assert.ErrorAs(t, err, &envErr)

	resp, err := decodeEnvelope([]byte(`{"jsonrpc":"2.0","id":4,"result":{"content":[]}}`))
	require.NoError(t, err)
	require.NotNil(t, resp.ID)
	assert.Equal(t, int64(4), *resp.ID)
}
