// Package localproc implements the "local" Sandbox Gateway backend (spec.md
// §4.5, Design Notes §9): a child process speaking a length-prefixed
// JSON-RPC protocol over stdio. The host sends three methods: prepare, exec,
// close; a final_answer made by the executed code comes back in the
// final_answer field of the exec reply. Process lifecycle (start once, reuse across
// Execute calls, tear down on Close) follows the teacher's engine-process
// idiom of starting a long-lived worker and communicating over pipes rather
// than forking per call.
package localproc

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/agenterr"
	"github.com/lwyBZss8924d/deepsearch-agent-go/internal/agent/sandbox"
)

// request is one length-prefixed JSON-RPC call sent to the child process.
type request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// response is one length-prefixed JSON-RPC reply from the child process.
type response struct {
	Stdout       string         `json:"stdout,omitempty"`
	Stderr       string         `json:"stderr,omitempty"`
	ReturnValue  any            `json:"return_value,omitempty"`
	UpdatedState map[string]any `json:"updated_state,omitempty"`
	Error        string         `json:"error,omitempty"`
	FinalAnswer  map[string]any `json:"final_answer,omitempty"`
}

// Backend is the local child-process Sandbox Gateway. New runs "python3" on
// the script path it is given; no bridge script ships with this package.
// Tests substitute a pure-Go stub interpreter binary via NewWithCommand.
type Backend struct {
	mu  sync.Mutex
	cmd *exec.Cmd
	in  io.WriteCloser
	out *bufio.Reader

	command string
	args    []string
}

// New constructs a Backend that launches "python3 <scriptPath>" on Prepare.
func New(scriptPath string) *Backend {
	return &Backend{command: "python3", args: []string{scriptPath}}
}

// NewWithCommand constructs a Backend that launches an arbitrary command,
// used by tests to substitute a stub interpreter.
func NewWithCommand(command string, args ...string) *Backend {
	return &Backend{command: command, args: args}
}

var _ sandbox.Gateway = (*Backend)(nil)

// Prepare starts the child process (if not already running) and sends the
// "prepare" call installing the tool namespace and authorised imports.
func (b *Backend) Prepare(ctx context.Context, namespace []sandbox.ToolShim, authorisedImports map[string]struct{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cmd == nil {
		if err := b.start(); err != nil {
			return agenterr.Wrap(agenterr.KindSandboxError, "start sandbox process", err)
		}
	}

	imports := make([]string, 0, len(authorisedImports))
	for n := range authorisedImports {
		imports = append(imports, n)
	}
	tools := make([]string, 0, len(namespace))
	for _, t := range namespace {
		tools = append(tools, t.Name)
	}
	params, _ := json.Marshal(map[string]any{
		"tools":              tools,
		"authorized_imports": imports,
	})
	_, err := b.call(ctx, "prepare", params)
	if err != nil {
		return agenterr.Wrap(agenterr.KindSandboxError, "prepare sandbox namespace", err)
	}
	return nil
}

// Execute sends the "exec" call, round-tripping state and returning the
// captured stdout/stderr/return_value/updated_state.
func (b *Backend) Execute(ctx context.Context, code string, state map[string]any) (sandbox.Result, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	params, err := json.Marshal(map[string]any{"code": code, "state": state})
	if err != nil {
		return sandbox.Result{}, agenterr.Wrap(agenterr.KindSandboxError, "marshal exec params", err)
	}
	resp, err := b.call(ctx, "exec", params)
	if err != nil {
		return sandbox.Result{}, agenterr.Wrap(agenterr.KindSandboxError, "sandbox exec failed", err)
	}
	result := sandbox.Result{
		Stdout:       resp.Stdout,
		Stderr:       resp.Stderr,
		ReturnValue:  resp.ReturnValue,
		UpdatedState: resp.UpdatedState,
	}
	if resp.Error != "" {
		result.Err = agenterr.New(agenterr.KindSandboxError, resp.Error)
	}
	if resp.FinalAnswer != nil {
		result.FinalAnswer = &sandbox.FinalAnswerCall{Payload: resp.FinalAnswer}
	}
	return result, nil
}

// Close sends "close" and tears the child process down unconditionally.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cmd == nil {
		return nil
	}
	_, _ = b.call(context.Background(), "close", nil)
	_ = b.in.Close()
	err := b.cmd.Wait()
	b.cmd = nil
	return err
}

func (b *Backend) start() error {
	cmd := exec.Command(b.command, b.args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	b.cmd = cmd
	b.in = stdin
	b.out = bufio.NewReader(stdout)
	return nil
}

// call performs one length-prefixed JSON-RPC round trip: a 4-byte
// big-endian length header followed by the JSON body, in both directions.
func (b *Backend) call(ctx context.Context, method string, params json.RawMessage) (response, error) {
	req := request{Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return response{}, err
	}

	type result struct {
		resp response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		if err := writeFrame(b.in, body); err != nil {
			done <- result{err: err}
			return
		}
		frame, err := readFrame(b.out)
		if err != nil {
			done <- result{err: err}
			return
		}
		var resp response
		if err := json.Unmarshal(frame, &resp); err != nil {
			done <- result{err: err}
			return
		}
		done <- result{resp: resp}
	}()

	select {
	case <-ctx.Done():
		return response{}, ctx.Err()
	case r := <-done:
		return r.resp, r.err
	}
}

func writeFrame(w io.Writer, body []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > 64<<20 {
		return nil, fmt.Errorf("localproc: frame too large (%d bytes)", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
