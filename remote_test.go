package bidi

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// CommandMessage is a command envelope as read off the wire.
type CommandMessage struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params Object `json:"params"`
}

// receivedCommand is a command as seen by the fake remote end.
type receivedCommand struct {
	ID     uint64
	Method string
	Params map[string]any
	Raw    string
}

// responder builds the full reply frame for a command, or nil for no reply.
type responder func(cmd receivedCommand) []byte

// fakeRemote plays the browser side of a pipe. Commands are recorded and
// answered by per-method responders; unknown methods get an empty result.
type fakeRemote struct {
	t  *testing.T
	tr Transport

	mu         sync.Mutex
	responders map[string]responder
	commands   []receivedCommand
	consumed   []bool
	intercepts int
}

func newTestSession(t *testing.T, opts ...SessionOptions) (*Session, *fakeRemote) {
	t.Helper()
	local, remoteEnd := NewPipe()
	r := &fakeRemote{
		t:          t,
		tr:         remoteEnd,
		responders: make(map[string]responder),
	}
	r.on(MethodSubscribe, func(cmd receivedCommand) []byte {
		return successFrame(cmd.ID, `{"subscription":"sub-1"}`)
	})
	r.on(MethodAddIntercept, func(cmd receivedCommand) []byte {
		r.mu.Lock()
		r.intercepts++
		id := r.intercepts
		r.mu.Unlock()
		return successFrame(cmd.ID, fmt.Sprintf(`{"intercept":"intercept-%d"}`, id))
	})
	go r.run()

	s := NewSession(local, opts...)
	t.Cleanup(func() { s.Close() })
	return s, r
}

func successFrame(id uint64, result string) []byte {
	return []byte(fmt.Sprintf(`{"type":"success","id":%d,"result":%s}`, id, result))
}

func errorFrame(id uint64, code, message string) []byte {
	return []byte(fmt.Sprintf(`{"type":"error","id":%d,"error":%q,"message":%q}`, id, code, message))
}

func (r *fakeRemote) on(method string, fn responder) {
	r.mu.Lock()
	r.responders[method] = fn
	r.mu.Unlock()
}

// silence makes the remote end never answer method.
func (r *fakeRemote) silence(method string) {
	r.on(method, func(receivedCommand) []byte { return nil })
}

func (r *fakeRemote) run() {
	for {
		data, err := r.tr.Receive(context.Background())
		if err != nil {
			return
		}
		var msg struct {
			ID     uint64         `json:"id"`
			Method string         `json:"method"`
			Params jsontext.Value `json:"params"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			r.t.Errorf("remote: bad command %s: %v", data, err)
			continue
		}
		cmd := receivedCommand{ID: msg.ID, Method: msg.Method, Raw: string(data)}
		if err := json.Unmarshal(msg.Params, &cmd.Params); err != nil {
			r.t.Errorf("remote: bad params %s: %v", msg.Params, err)
			continue
		}

		r.mu.Lock()
		r.commands = append(r.commands, cmd)
		r.consumed = append(r.consumed, false)
		fn, ok := r.responders[cmd.Method]
		r.mu.Unlock()

		reply := successFrame(cmd.ID, `{}`)
		if ok {
			reply = fn(cmd)
		}
		if reply != nil {
			r.send(reply)
		}
	}
}

func (r *fakeRemote) send(frame []byte) {
	if err := r.tr.Send(context.Background(), frame); err != nil {
		r.t.Logf("remote: send: %v", err)
	}
}

func (r *fakeRemote) reply(id uint64, result string) {
	r.send(successFrame(id, result))
}

func (r *fakeRemote) emit(method, params string) {
	r.send([]byte(fmt.Sprintf(`{"type":"event","method":%q,"params":%s}`, method, params)))
}

// beforeRequestSent emits a network.beforeRequestSent event. extra is
// spliced into the params object, e.g. `"intercepts":["intercept-1"]`.
func (r *fakeRemote) beforeRequestSent(request, url string, extra ...string) {
	params := fmt.Sprintf(`{"context":"ctx-1","isBlocked":true,"redirectCount":0,"timestamp":1,"request":{"request":%q,"url":%q,"method":"GET","headers":[{"name":"Accept","value":{"type":"string","value":"*/*"}}],"cookies":[],"headersSize":0,"bodySize":0}`, request, url)
	for _, e := range extra {
		params += "," + e
	}
	r.emit(EventBeforeRequestSent, params+"}")
}

// waitFor returns the oldest command of method not returned before.
func (r *fakeRemote) waitFor(method string) receivedCommand {
	r.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for i, cmd := range r.commands {
			if cmd.Method == method && !r.consumed[i] {
				r.consumed[i] = true
				r.mu.Unlock()
				return cmd
			}
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	r.t.Fatalf("remote: no %s command within 2s; got %s", method, r.methods())
	return receivedCommand{}
}

func (r *fakeRemote) count(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, cmd := range r.commands {
		if cmd.Method == method {
			n++
		}
	}
	return n
}

func (r *fakeRemote) methods() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.commands))
	for i, cmd := range r.commands {
		names[i] = cmd.Method
	}
	return strings.Join(names, ", ")
}

// assertParams fails unless params hold exactly want.
func assertParams(t *testing.T, cmd receivedCommand, want map[string]any) {
	t.Helper()
	got, _ := json.Marshal(cmd.Params, json.Deterministic(true))
	exp, _ := json.Marshal(want, json.Deterministic(true))
	if string(got) != string(exp) {
		t.Errorf("%s params = %s, want %s", cmd.Method, got, exp)
	}
}
