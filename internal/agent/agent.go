// Package agent binds one rider's identity and purchase flow to the shared
// tool dispatcher.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ent0n29/ridewallet/internal/audit"
	"github.com/ent0n29/ridewallet/internal/purchase"
	"github.com/ent0n29/ridewallet/internal/tools"
)

var ErrMissingIdentity = errors.New("username and auth_key are required")

const recentLookup = 20

// Dispatcher runs tool calls; *tools.Dispatcher satisfies it.
type Dispatcher interface {
	Definitions() []tools.Definition
	Dispatch(ctx context.Context, inv tools.Invocation, call tools.Call) tools.Result
}

// Options are the process-wide collaborators every agent shares.
type Options struct {
	Dispatcher    Dispatcher
	Audit         audit.Store
	Instructions  string
	BalanceMaxAge time.Duration
	Logger        *zap.Logger
}

// Agent is owned by exactly one session.
type Agent struct {
	sessionID    string
	identity     *Identity
	flow         *purchase.Flow
	dispatcher   Dispatcher
	audit        audit.Store
	instructions string
	logger       *zap.Logger

	// callMu serializes tool calls so a purchase authorize/submit/complete
	// sequence cannot interleave with another call on the same session.
	callMu sync.Mutex

	greetOnce sync.Once
	greeting  string
}

func New(sessionID, username, authKey string, opts Options) (*Agent, error) {
	id := NewIdentity(username, authKey)
	if id.Username() == "" || id.AuthKey() == "" {
		return nil, ErrMissingIdentity
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("agent: dispatcher is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{
		sessionID:    sessionID,
		identity:     id,
		flow:         purchase.NewFlow(opts.BalanceMaxAge),
		dispatcher:   opts.Dispatcher,
		audit:        opts.Audit,
		instructions: opts.Instructions,
		logger:       logger.With(zap.String("session_id", sessionID)),
	}, nil
}

func (a *Agent) Username() string { return a.identity.Username() }

func (a *Agent) Instructions() string { return a.instructions }

func (a *Agent) Tools() []tools.Definition { return a.dispatcher.Definitions() }

func (a *Agent) FlowStatus() purchase.Status { return a.flow.Status() }

func (a *Agent) RotateAuth(authKey string) error {
	if strings.TrimSpace(authKey) == "" {
		return ErrMissingIdentity
	}
	a.identity.Rotate(authKey)
	a.logger.Info("auth key rotated")
	return nil
}

// Call dispatches one model-issued tool call against this agent's flow.
// Calls on one agent run one at a time, whichever surface issued them.
func (a *Agent) Call(ctx context.Context, call tools.Call) tools.Result {
	a.callMu.Lock()
	defer a.callMu.Unlock()
	return a.dispatcher.Dispatch(ctx, tools.Invocation{
		SessionID:   a.sessionID,
		Username:    a.identity.Username(),
		Credentials: a.identity,
		Flow:        a.flow,
	}, call)
}

// OnEnter produces the opening instruction for the model. When the rider
// bought something before, a short note about it is appended. The greeting
// is built on the first call; later calls return the same text.
func (a *Agent) OnEnter(ctx context.Context) string {
	a.greetOnce.Do(func() {
		a.greeting = a.buildGreeting(ctx)
	})
	return a.greeting
}

func (a *Agent) buildGreeting(ctx context.Context) string {
	greeting := fmt.Sprintf(
		"Greet %s. Inform them that you're here to assist with anything about MyRideWallet app. "+
			"Be conversational, knowledgeable, and remember past conversations.",
		a.identity.Username(),
	)
	if note := a.lastPurchaseNote(ctx); note != "" {
		greeting += " " + note
	}
	return greeting
}

func (a *Agent) lastPurchaseNote(ctx context.Context) string {
	if a.audit == nil {
		return ""
	}
	events, err := a.audit.RecentByUser(ctx, a.identity.Username(), recentLookup)
	if err != nil {
		a.logger.Warn("recent activity lookup failed", zap.Error(err))
		return ""
	}
	for _, e := range events {
		if e.Tool == tools.PurchasePasses && e.Outcome == audit.OutcomeOK && e.Detail != "" {
			return fmt.Sprintf("Their last purchase was %s on %s.", e.Detail, e.CreatedAt.Format("January 2"))
		}
	}
	return ""
}

// Close ends the agent; later calls carry no credentials.
func (a *Agent) Close() {
	a.identity.Clear()
	a.flow.Fail()
}
