package agent

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/ridewallet/internal/audit"
	"github.com/ent0n29/ridewallet/internal/tools"
)

type recordingDispatcher struct {
	invocations []tools.Invocation
	keys        []string
}

func (r *recordingDispatcher) Definitions() []tools.Definition {
	return []tools.Definition{{Name: tools.ListPasses}}
}

func (r *recordingDispatcher) Dispatch(_ context.Context, inv tools.Invocation, call tools.Call) tools.Result {
	r.invocations = append(r.invocations, inv)
	r.keys = append(r.keys, inv.Credentials.AuthKey())
	return tools.Result{CallID: call.ID, Tool: call.Name, OK: true, Output: json.RawMessage(`{}`)}
}

func TestNewRequiresIdentity(t *testing.T) {
	d := &recordingDispatcher{}
	_, err := New("s1", "", "tok", Options{Dispatcher: d})
	assert.ErrorIs(t, err, ErrMissingIdentity)
	_, err = New("s1", "maya", "  ", Options{Dispatcher: d})
	assert.ErrorIs(t, err, ErrMissingIdentity)
}

func TestCallUsesRotatedKey(t *testing.T) {
	d := &recordingDispatcher{}
	a, err := New("s1", "maya", "tok-1", Options{Dispatcher: d})
	require.NoError(t, err)

	a.Call(context.Background(), tools.Call{Name: tools.CheckBalances})
	require.NoError(t, a.RotateAuth("tok-2"))
	a.Call(context.Background(), tools.Call{Name: tools.CheckBalances})

	assert.Equal(t, []string{"tok-1", "tok-2"}, d.keys)
	assert.Equal(t, "s1", d.invocations[0].SessionID)
	assert.Equal(t, "maya", d.invocations[0].Username)
	assert.Same(t, d.invocations[0].Flow, d.invocations[1].Flow)
	assert.ErrorIs(t, a.RotateAuth(""), ErrMissingIdentity)
}

func TestAgentsDoNotShareFlows(t *testing.T) {
	d := &recordingDispatcher{}
	a1, err := New("s1", "maya", "tok", Options{Dispatcher: d})
	require.NoError(t, err)
	a2, err := New("s2", "leo", "tok", Options{Dispatcher: d})
	require.NoError(t, err)

	a1.Call(context.Background(), tools.Call{Name: tools.ListPasses})
	a2.Call(context.Background(), tools.Call{Name: tools.ListPasses})

	assert.NotSame(t, d.invocations[0].Flow, d.invocations[1].Flow)
}

func TestOnEnterGreetsByName(t *testing.T) {
	a, err := New("s1", "maya", "tok", Options{Dispatcher: &recordingDispatcher{}})
	require.NoError(t, err)

	got := a.OnEnter(context.Background())

	assert.Contains(t, got, "Greet maya.")
	assert.Contains(t, got, "MyRideWallet")
}

func TestOnEnterMentionsLastPurchase(t *testing.T) {
	store := audit.NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Record(ctx, audit.Event{
		Username:  "maya",
		Tool:      tools.PurchasePasses,
		Outcome:   audit.OutcomeOK,
		Detail:    "ddot-weekly x1 from personal wallet",
		CreatedAt: time.Date(2026, time.March, 4, 9, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, store.Record(ctx, audit.Event{Username: "maya", Tool: tools.CheckBalances, Outcome: audit.OutcomeOK}))

	a, err := New("s1", "maya", "tok", Options{Dispatcher: &recordingDispatcher{}, Audit: store})
	require.NoError(t, err)

	got := a.OnEnter(ctx)

	assert.Contains(t, got, "Their last purchase was ddot-weekly x1 from personal wallet on March 4.")
}

func TestCloseClearsCredentials(t *testing.T) {
	d := &recordingDispatcher{}
	a, err := New("s1", "maya", "tok", Options{Dispatcher: d})
	require.NoError(t, err)

	a.Close()
	a.Call(context.Background(), tools.Call{Name: tools.CheckBalances})

	assert.Equal(t, []string{""}, d.keys)
}

type countingStore struct {
	audit.Store
	lookups atomic.Int32
}

func (c *countingStore) RecentByUser(ctx context.Context, username string, limit int) ([]audit.Event, error) {
	c.lookups.Add(1)
	return c.Store.RecentByUser(ctx, username, limit)
}

func TestOnEnterRunsOnce(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: audit.NewInMemoryStore()}
	a, err := New("s1", "maya", "tok", Options{Dispatcher: &recordingDispatcher{}, Audit: store})
	require.NoError(t, err)

	first := a.OnEnter(ctx)
	require.NoError(t, store.Record(ctx, audit.Event{
		Username:  "maya",
		Tool:      tools.PurchasePasses,
		Outcome:   audit.OutcomeOK,
		Detail:    "ddot-weekly x1 from personal wallet",
		CreatedAt: time.Now(),
	}))
	second := a.OnEnter(ctx)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, store.lookups.Load())
}

type overlapDispatcher struct {
	recordingDispatcher
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (o *overlapDispatcher) Dispatch(_ context.Context, _ tools.Invocation, call tools.Call) tools.Result {
	n := o.inFlight.Add(1)
	defer o.inFlight.Add(-1)
	for {
		seen := o.maxSeen.Load()
		if n <= seen || o.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return tools.Result{CallID: call.ID, Tool: call.Name, OK: true, Output: json.RawMessage(`{}`)}
}

func TestCallsOnOneAgentDoNotOverlap(t *testing.T) {
	d := &overlapDispatcher{}
	a, err := New("s1", "maya", "tok", Options{Dispatcher: d})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Call(context.Background(), tools.Call{Name: tools.PurchasePasses})
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, d.maxSeen.Load())
}
