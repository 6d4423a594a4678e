// Package mcpbridge talks JSON-RPC 2.0 to a notifier child process over its
// stdin and stdout, one newline-delimited message per line.
package mcpbridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"waterbar/internal/constants"
	"waterbar/internal/logger"
	"waterbar/pkg/metrics"
	"waterbar/pkg/tracing"
)

type State int32

const (
	StateNotStarted State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

type Config struct {
	Command     string
	Args        []string
	Dir         string
	Env         []string
	CallTimeout time.Duration
	// Handshake sends the MCP initialize exchange right after launch.
	Handshake     bool
	ClientName    string
	ClientVersion string
	StopGrace     time.Duration
}

type readResult struct {
	line []byte
	err  error
}

// Client owns one notifier process. Calls are serialized.
type Client struct {
	cfg    Config
	logger logger.Logger

	callMu sync.Mutex
	nextID int64

	stateMu sync.Mutex
	state   State
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	lines   chan readResult
	quit    chan struct{}
	exited  chan struct{}
	waitErr error
}

func New(cfg Config, log logger.Logger) *Client {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = constants.DefaultCallTimeout
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 2 * time.Second
	}
	if cfg.ClientName == "" {
		cfg.ClientName = constants.ServiceName
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = constants.ServiceVersion
	}
	return &Client{cfg: cfg, logger: log}
}

func (c *Client) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// Alive reports whether the child is running and has not exited on its own.
func (c *Client) Alive() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.state != StateRunning {
		return false
	}
	select {
	case <-c.exited:
		return false
	default:
		return true
	}
}

// Start launches the notifier. A launch failure is returned as *StartError.
func (c *Client) Start(ctx context.Context) error {
	c.stateMu.Lock()
	if c.state != StateNotStarted {
		c.stateMu.Unlock()
		return ErrAlreadyStarted
	}

	cmd := exec.Command(c.cfg.Command, c.cfg.Args...)
	cmd.Dir = c.cfg.Dir
	if len(c.cfg.Env) > 0 {
		cmd.Env = c.cfg.Env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		c.stateMu.Unlock()
		return &StartError{Command: c.cfg.Command, Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		c.stateMu.Unlock()
		return &StartError{Command: c.cfg.Command, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		c.stateMu.Unlock()
		return &StartError{Command: c.cfg.Command, Err: err}
	}

	if err := cmd.Start(); err != nil {
		c.stateMu.Unlock()
		return &StartError{Command: c.cfg.Command, Err: err}
	}

	c.cmd = cmd
	c.stdin = stdin
	c.lines = make(chan readResult, 16)
	c.quit = make(chan struct{})
	c.exited = make(chan struct{})
	c.state = StateRunning

	var readers sync.WaitGroup
	readers.Add(2)
	go func(lines chan<- readResult, quit <-chan struct{}) {
		defer readers.Done()
		readStdout(stdout, lines, quit)
	}(c.lines, c.quit)
	go func() {
		defer readers.Done()
		c.drainStderr(stderr)
	}()
	go func() {
		readers.Wait()
		err := cmd.Wait()
		c.stateMu.Lock()
		c.waitErr = err
		c.stateMu.Unlock()
		close(c.exited)
	}()
	c.stateMu.Unlock()

	c.logger.Infow("Notifier started",
		"command", c.cfg.Command,
		"args", c.cfg.Args,
		"dir", c.cfg.Dir,
		"pid", cmd.Process.Pid,
	)

	if c.cfg.Handshake {
		if err := c.initialize(ctx); err != nil {
			_ = c.Stop()
			return &StartError{Command: c.cfg.Command, Err: fmt.Errorf("initialize handshake: %w", err)}
		}
	}

	return nil
}

// readStdout is the only reader of the child's stdout; it hands complete lines
// to whichever call is waiting.
func readStdout(r io.Reader, lines chan<- readResult, quit <-chan struct{}) {
	defer close(lines)

	send := func(rr readResult) bool {
		select {
		case lines <- rr:
			return true
		case <-quit:
			return false
		}
	}

	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadBytes('\n')
		if trimmed := trimLine(line); len(trimmed) > 0 {
			if !send(readResult{line: trimmed}) {
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				send(readResult{err: err})
			}
			return
		}
	}
}

func (c *Client) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		c.logger.Warnw("Notifier stderr",
			"source", "notifier",
			"line", scanner.Text(),
		)
	}
}

func trimLine(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

// Call sends one request and decodes the response in two stages: the JSON-RPC
// envelope, then the JSON carried in result.content[0].text.
func (c *Client) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	result, err := c.request(ctx, method, params)
	if err != nil {
		return nil, err
	}

	inner, err := decodeContent(result)
	if err != nil {
		metrics.IncRPCCall(method, "payload_error")
		return nil, err
	}
	metrics.IncRPCCall(method, "ok")
	return inner, nil
}

// CallTool invokes an MCP tool and decodes its {success, ...} result.
func (c *Client) CallTool(ctx context.Context, name string, arguments interface{}) (*ToolResult, error) {
	inner, err := c.Call(ctx, MethodToolsCall, toolCallParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, err
	}
	return decodeToolResult(inner)
}

// request counts failed round trips only. Callers count success after their
// own decoding so each call is recorded once.
func (c *Client) request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	ctx, span := tracing.GetTracer("mcpbridge").Start(ctx, "mcpbridge.call",
		trace.WithAttributes(attribute.String("rpc.method", method)),
	)
	defer span.End()

	start := time.Now()
	result, err := c.roundTrip(ctx, method, params)
	metrics.ObserveRPCCallDuration(method, time.Since(start))

	if err != nil {
		tracing.Fail(span, err)
		metrics.IncRPCCall(method, "error")
		return nil, err
	}
	return result, nil
}

func (c *Client) roundTrip(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	c.stateMu.Lock()
	state, stdin, lines, exited := c.state, c.stdin, c.lines, c.exited
	c.stateMu.Unlock()

	if state != StateRunning {
		return nil, ErrNotRunning
	}

	select {
	case <-exited:
		return nil, fmt.Errorf("%w: process exited", ErrTransportClosed)
	default:
	}

	c.nextID++
	id := c.nextID

	data, err := json.Marshal(rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')

	if _, err := stdin.Write(data); err != nil {
		return nil, fmt.Errorf("%w: write request: %v", ErrTransportClosed, err)
	}

	timer := time.NewTimer(c.cfg.CallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, fmt.Errorf("%w after %s (id %d)", ErrTimeout, c.cfg.CallTimeout, id)
		case rr, ok := <-lines:
			if !ok {
				return nil, fmt.Errorf("%w: stdout closed", ErrTransportClosed)
			}
			if rr.err != nil {
				return nil, fmt.Errorf("%w: read response: %v", ErrTransportClosed, rr.err)
			}

			resp, err := decodeEnvelope(rr.line)
			if err != nil {
				return nil, err
			}

			if resp.ID != nil && *resp.ID < id {
				// answer to a call that already timed out
				c.logger.Debugw("Discarding stale notifier response",
					"response_id", *resp.ID,
					"expected_id", id,
				)
				continue
			}
			if resp.ID == nil && resp.Error == nil {
				return nil, &EnvelopeError{
					Line: truncate(rr.line),
					Err:  errors.New("result response without an id"),
				}
			}
			if resp.ID != nil && *resp.ID != id {
				return nil, &EnvelopeError{
					Line: truncate(rr.line),
					Err:  fmt.Errorf("response id %d does not match request id %d", *resp.ID, id),
				}
			}

			if resp.Error != nil {
				return nil, resp.Error
			}
			return resp.Result, nil
		}
	}
}

func (c *Client) initialize(ctx context.Context) error {
	_, err := c.request(ctx, MethodInitialize, map[string]interface{}{
		"protocolVersion": constants.MCPProtocolVersion,
		"clientInfo": map[string]string{
			"name":    c.cfg.ClientName,
			"version": c.cfg.ClientVersion,
		},
		"capabilities": map[string]interface{}{},
	})
	if err != nil {
		return err
	}
	metrics.IncRPCCall(MethodInitialize, "ok")
	return c.notify(MethodInitialized, nil)
}

func (c *Client) notify(method string, params interface{}) error {
	c.callMu.Lock()
	defer c.callMu.Unlock()

	c.stateMu.Lock()
	stdin := c.stdin
	c.stateMu.Unlock()

	data, err := json.Marshal(rpcNotification{JSONRPC: jsonRPCVersion, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if _, err := stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: write notification: %v", ErrTransportClosed, err)
	}
	return nil
}

// Stop closes the child's stdin, waits for it to exit and kills it after the
// grace period. Calling Stop more than once, or before Start, is a no-op.
func (c *Client) Stop() error {
	c.stateMu.Lock()
	if c.state != StateRunning {
		c.state = StateStopped
		c.stateMu.Unlock()
		return nil
	}
	c.state = StateStopped
	cmd, stdin, quit, exited := c.cmd, c.stdin, c.quit, c.exited
	c.stateMu.Unlock()

	close(quit)
	_ = stdin.Close()

	select {
	case <-exited:
	case <-time.After(c.cfg.StopGrace):
		c.logger.Warnw("Notifier did not exit after stdin closed, killing",
			"pid", cmd.Process.Pid,
		)
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("kill notifier: %w", err)
		}
		<-exited
	}

	c.stateMu.Lock()
	waitErr := c.waitErr
	c.stateMu.Unlock()

	c.logger.Infow("Notifier stopped", "exit", fmt.Sprint(waitErr))
	return nil
}
