package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lokiorch/loki/internal/errors"
	"github.com/lokiorch/loki/internal/mcp"
)

// State is the connection lifecycle of a Client.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

const (
	// MaxBufferBytes bounds the unparsed receive buffer. A peer that never
	// terminates a line gets disconnected instead of growing memory.
	MaxBufferBytes = 4 << 20

	DefaultTimeout = 30 * time.Second

	readChunkSize = 4096
)

// Config declares one peer server.
type Config struct {
	Name    string
	Command string
	Args    []string
	Timeout time.Duration
}

// Client drives one peer MCP server subprocess: spawn, handshake, tool
// discovery, calls correlated by request id, and teardown. All exported
// methods are safe for concurrent use.
type Client struct {
	name    string
	command string
	args    []string
	timeout time.Duration

	mu         sync.Mutex
	state      State
	connecting chan struct{} // closed when the in-flight handshake settles
	connectErr error
	tools      []mcp.Tool

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex
	closed  chan struct{} // closed on teardown of the current connection

	nextID  atomic.Int64
	pending map[int64]chan *mcp.Response

	errHandlers []func(error)
}

// New validates the declaration and creates a disconnected Client.
func New(conf Config) (*Client, error) {
	if conf.Name == "" {
		return nil, errors.InvalidArg("server name is required")
	}
	if conf.Command == "" {
		return nil, errors.EmptyCommand()
	}
	if err := ValidateCommand(conf.Command); err != nil {
		return nil, err
	}

	timeout := conf.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		name:    conf.Name,
		command: conf.Command,
		args:    conf.Args,
		timeout: timeout,
		state:   StateDisconnected,
		pending: make(map[int64]chan *mcp.Response),
	}, nil
}

// Name returns the declared server name.
func (c *Client) Name() string {
	return c.name
}

// GetState returns the current connection state.
func (c *Client) GetState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnError registers an observer for asynchronous transport failures, such
// as a receive buffer overflow. Handlers run outside the client lock.
func (c *Client) OnError(fn func(error)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.errHandlers = append(c.errHandlers, fn)
	c.mu.Unlock()
}

// Connect spawns the subprocess, performs the initialize handshake, and
// discovers the tool catalog. Concurrent callers during the handshake
// window share the single in-flight attempt; a connected client returns
// its cached catalog without re-spawning.
func (c *Client) Connect(ctx context.Context) ([]mcp.Tool, error) {
	c.mu.Lock()
	switch c.state {
	case StateConnected:
		tools := c.tools
		c.mu.Unlock()
		return tools, nil
	case StateConnecting:
		done := c.connecting
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		c.mu.Lock()
		tools, err := c.tools, c.connectErr
		c.mu.Unlock()
		return tools, err
	}

	done := make(chan struct{})
	c.state = StateConnecting
	c.connecting = done
	c.connectErr = nil
	c.mu.Unlock()

	tools, err := c.doConnect(ctx)

	c.mu.Lock()
	if err != nil {
		c.state = StateDisconnected
		c.connectErr = err
		c.tools = nil
	} else {
		c.state = StateConnected
		c.tools = tools
	}
	c.connecting = nil
	close(done)
	c.mu.Unlock()

	return tools, err
}

func (c *Client) doConnect(ctx context.Context) ([]mcp.Tool, error) {
	cmd := exec.Command(c.command, c.args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.SpawnFailed(c.command, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.SpawnFailed(c.command, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.SpawnFailed(c.command, err)
	}

	// A missing binary fails here, well before any protocol timeout.
	if err := cmd.Start(); err != nil {
		return nil, errors.SpawnFailed(c.command, err)
	}

	closed := make(chan struct{})
	c.mu.Lock()
	c.cmd = cmd
	c.stdin = stdin
	c.closed = closed
	c.pending = make(map[int64]chan *mcp.Response)
	c.mu.Unlock()

	go c.logStderr(stderr)
	go c.readLoop(stdout, closed)
	go func() {
		err := cmd.Wait()
		select {
		case <-closed:
			// expected exit after Shutdown
		default:
			c.emitError(errors.Transport(fmt.Sprintf("server %s exited unexpectedly", c.name), err))
			c.teardown()
		}
	}()

	if err := c.handshake(ctx); err != nil {
		c.teardown()
		return nil, err
	}

	tools, err := c.listTools(ctx)
	if err != nil {
		c.teardown()
		return nil, err
	}

	log.Info().Str("server", c.name).Int("tools", len(tools)).Msg("connected to MCP server")
	return tools, nil
}

func (c *Client) handshake(ctx context.Context) error {
	resp, err := c.sendRequest(ctx, mcp.MethodInitialize, &mcp.InitializeRequest{
		ProtocolVersion: mcp.ProtocolVersion,
		Capabilities:    mcp.M{},
		ClientInfo:      &mcp.ClientInfo{Name: "loki", Version: "1.0.0"},
	})
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return errors.Transport(fmt.Sprintf("initialize rejected by %s", c.name), resp.Error)
	}

	return c.sendNotification(mcp.MethodInitialized, nil)
}

func (c *Client) listTools(ctx context.Context) ([]mcp.Tool, error) {
	resp, err := c.sendRequest(ctx, mcp.MethodToolsList, nil)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, errors.Transport(fmt.Sprintf("tools/list rejected by %s", c.name), resp.Error)
	}

	list, err := mcp.ParseParams[mcp.ToolsListResponse](resp.Result)
	if err != nil {
		return nil, errors.Protocol(fmt.Sprintf("malformed tools/list result from %s", c.name), err)
	}
	return list.Tools, nil
}

// CallTool invokes a tool on the connected peer. The timeout is a per-call
// wall-clock deadline measured from send; expiry rejects the call without
// retrying.
func (c *Client) CallTool(ctx context.Context, name string, args mcp.M) (*mcp.ToolsCallResponse, error) {
	c.mu.Lock()
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected {
		return nil, errors.NotConnected(c.name)
	}

	resp, err := c.sendRequest(ctx, mcp.MethodToolsCall, &mcp.ToolsCallRequest{Name: name, Arguments: args})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, errors.Transport(fmt.Sprintf("tools/call rejected by %s", c.name), resp.Error)
	}

	result, err := mcp.ParseParams[mcp.ToolsCallResponse](resp.Result)
	if err != nil {
		return nil, errors.Protocol(fmt.Sprintf("malformed tools/call result from %s", c.name), err)
	}
	return result, nil
}

// RefreshTools re-issues tools/list and replaces the cached catalog.
func (c *Client) RefreshTools(ctx context.Context) ([]mcp.Tool, error) {
	c.mu.Lock()
	connected := c.state == StateConnected
	c.mu.Unlock()
	if !connected {
		return nil, errors.NotConnected(c.name)
	}

	tools, err := c.listTools(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
	return tools, nil
}

// Tools returns the cached catalog, nil before the first discovery.
func (c *Client) Tools() []mcp.Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tools
}

// Shutdown terminates the subprocess and clears connection state. Pending
// calls reject rather than hang. Safe to call repeatedly; later calls are
// no-ops.
func (c *Client) Shutdown() {
	c.teardown()
}

func (c *Client) teardown() {
	c.mu.Lock()
	if c.closed != nil {
		select {
		case <-c.closed:
			// already torn down
		default:
			close(c.closed)
		}
	}
	cmd := c.cmd
	stdin := c.stdin
	pending := c.pending
	c.cmd = nil
	c.stdin = nil
	c.pending = make(map[int64]chan *mcp.Response)
	c.state = StateDisconnected
	c.tools = nil
	c.mu.Unlock()

	if stdin != nil {
		stdin.Close()
	}
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil {
			log.Debug().Err(err).Str("server", c.name).Msg("kill on shutdown")
		}
	}
	// Reject any call still waiting for a response.
	for _, ch := range pending {
		close(ch)
	}
}

func (c *Client) sendRequest(ctx context.Context, method string, params interface{}) (*mcp.Response, error) {
	id := c.nextID.Add(1)
	ch := make(chan *mcp.Response, 1)

	c.mu.Lock()
	stdin := c.stdin
	closed := c.closed
	if stdin == nil || closed == nil {
		c.mu.Unlock()
		return nil, errors.ClientClosed(c.name)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	req := &mcp.Request{JsonRPC: mcp.JsonRPCVersion, ID: id, Method: method, Params: params}
	if err := c.writeMessage(stdin, req); err != nil {
		c.removePending(id)
		return nil, errors.Transport(fmt.Sprintf("failed to write to %s", c.name), err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, errors.ClientClosed(c.name)
		}
		return resp, nil
	case <-timer.C:
		c.removePending(id)
		return nil, errors.CallTimeout(method, c.name)
	case <-closed:
		return nil, errors.ClientClosed(c.name)
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	}
}

func (c *Client) sendNotification(method string, params interface{}) error {
	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()
	if stdin == nil {
		return errors.ClientClosed(c.name)
	}
	return c.writeMessage(stdin, mcp.NewNotification(method, params))
}

func (c *Client) writeMessage(w io.Writer, msg interface{}) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = w.Write(b)
	return err
}

func (c *Client) removePending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// readLoop accumulates subprocess output and splits it on newlines. A
// partial trailing line stays buffered for the next chunk; crossing
// MaxBufferBytes without a newline tears the connection down.
func (c *Client) readLoop(stdout io.Reader, closed chan struct{}) {
	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)

	for {
		n, err := stdout.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				i := bytes.IndexByte(buf, '\n')
				if i < 0 {
					break
				}
				line := buf[:i]
				buf = append([]byte(nil), buf[i+1:]...)
				c.handleLine(line)
			}
			if len(buf) > MaxBufferBytes {
				c.emitError(errors.BufferOverflow(c.name, len(buf)))
				c.teardown()
				return
			}
		}
		if err != nil {
			select {
			case <-closed:
			default:
				if err != io.EOF {
					c.emitError(errors.Transport(fmt.Sprintf("read from %s failed", c.name), err))
				}
				c.teardown()
			}
			return
		}
	}
}

// handleLine parses one complete line: a response object or a batch array
// of responses. Peer-initiated requests and notifications are logged and
// dropped; this client only correlates replies.
func (c *Client) handleLine(line []byte) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return
	}

	if trimmed[0] == '[' {
		var batch []*mcp.Response
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			log.Warn().Err(err).Str("server", c.name).Msg("unparseable batch from server")
			return
		}
		for _, resp := range batch {
			c.routeResponse(resp)
		}
		return
	}

	var resp mcp.Response
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		log.Warn().Err(err).Str("server", c.name).Msg("unparseable message from server")
		return
	}
	c.routeResponse(&resp)
}

// routeResponse delivers a response to the pending call owning its id.
// Responses never reach the wrong caller: an id either matches its pending
// channel or is dropped.
func (c *Client) routeResponse(resp *mcp.Response) {
	if resp == nil {
		return
	}
	id, ok := respID(resp.ID)
	if !ok {
		log.Debug().Str("server", c.name).Msg("message without usable id from server")
		return
	}

	c.mu.Lock()
	ch, found := c.pending[id]
	if found {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !found {
		log.Warn().Int64("id", id).Str("server", c.name).Msg("response for unknown request id")
		return
	}
	ch <- resp
}

// respID normalizes the wire id. encoding/json decodes numbers into
// float64; string ids never originate from this client and are dropped.
func respID(v interface{}) (int64, bool) {
	switch id := v.(type) {
	case float64:
		return int64(id), true
	case int64:
		return id, true
	case json.Number:
		n, err := id.Int64()
		return n, err == nil
	default:
		return 0, false
	}
}

func (c *Client) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		log.Debug().Str("server", c.name).Msg(scanner.Text())
	}
}

func (c *Client) emitError(err error) {
	c.mu.Lock()
	handlers := make([]func(error), len(c.errHandlers))
	copy(handlers, c.errHandlers)
	c.mu.Unlock()

	log.Error().Err(err).Str("server", c.name).Msg("client error")
	for _, fn := range handlers {
		fn(err)
	}
}
