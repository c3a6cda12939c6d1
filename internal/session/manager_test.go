package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/ridewallet/internal/agent"
	"github.com/ent0n29/ridewallet/internal/tools"
)

type nopDispatcher struct{}

func (nopDispatcher) Definitions() []tools.Definition { return nil }

func (nopDispatcher) Dispatch(_ context.Context, _ tools.Invocation, call tools.Call) tools.Result {
	return tools.Result{Tool: call.Name, OK: true, Output: json.RawMessage(`{}`)}
}

func factory(username string) AgentFactory {
	return func(id string) (*agent.Agent, error) {
		return agent.New(id, username, "tok", agent.Options{Dispatcher: nopDispatcher{}})
	}
}

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s, err := m.Create(factory("maya"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Username != "maya" || got.Status != StatusActive || got.Agent == nil {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ended, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	if _, err := m.Active(s.ID); !errors.Is(err, ErrEnded) {
		t.Fatalf("Active() error = %v, want ErrEnded", err)
	}
}

func TestManagerCreatePropagatesAgentError(t *testing.T) {
	m := NewManager(time.Minute)
	_, err := m.Create(factory(""))
	if !errors.Is(err, agent.ErrMissingIdentity) {
		t.Fatalf("Create() error = %v, want ErrMissingIdentity", err)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", m.ActiveCount())
	}
}

func TestManagerRecordToolCall(t *testing.T) {
	m := NewManager(time.Minute)
	s, err := m.Create(factory("maya"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := m.RecordToolCall(s.ID); err != nil {
		t.Fatalf("RecordToolCall() error = %v", err)
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ToolCalls != 1 {
		t.Fatalf("ToolCalls = %d, want 1", got.ToolCalls)
	}
	if err := m.RecordToolCall("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RecordToolCall(missing) error = %v, want ErrNotFound", err)
	}
}

func TestManagerRecordToolCallRefusesEndedSession(t *testing.T) {
	m := NewManager(time.Minute)
	s, err := m.Create(factory("maya"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := m.End(s.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if err := m.RecordToolCall(s.ID); !errors.Is(err, ErrEnded) {
		t.Fatalf("RecordToolCall(ended) error = %v, want ErrEnded", err)
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ToolCalls != 0 {
		t.Fatalf("ToolCalls = %d, want 0", got.ToolCalls)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	var hooked atomic.Int32
	m.SetExpireHook(func(*Session) { hooked.Add(1) })
	s, err := m.Create(factory("maya"))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	waitFor(t, time.Second, func() bool { return hooked.Load() == 1 })

	waitFor(t, time.Second, func() bool {
		_, err := m.Get(s.ID)
		return errors.Is(err, ErrNotFound)
	})
	if hooked.Load() != 1 {
		t.Fatalf("expire hook calls = %d, want 1", hooked.Load())
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}
