// Package tools exposes the wallet operations as model-callable tools and
// turns every outcome into a structured result.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ent0n29/ridewallet/internal/audit"
	"github.com/ent0n29/ridewallet/internal/observability"
	"github.com/ent0n29/ridewallet/internal/policy"
	"github.com/ent0n29/ridewallet/internal/purchase"
	"github.com/ent0n29/ridewallet/internal/wallet"
)

const auditTimeout = 3 * time.Second

// Backend is the subset of the wallet client the tools call.
type Backend interface {
	ListPasses(ctx context.Context, creds wallet.Credentials, provider wallet.Provider) ([]byte, error)
	GetBalances(ctx context.Context, creds wallet.Credentials) (wallet.Balances, error)
	Purchase(ctx context.Context, creds wallet.Credentials, req wallet.PurchaseRequest) (json.RawMessage, error)
}

// Call is one tool invocation emitted by the model.
type Call struct {
	ID        string          `json:"call_id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Result is what goes back into the model's context.
type Result struct {
	CallID  string          `json:"call_id,omitempty"`
	Tool    string          `json:"tool"`
	OK      bool            `json:"ok"`
	Output  json.RawMessage `json:"output,omitempty"`
	Failure *Failure        `json:"failure,omitempty"`
}

// Invocation carries the per-session state a call runs against.
type Invocation struct {
	SessionID   string
	Username    string
	Credentials wallet.Credentials
	Flow        *purchase.Flow
}

type Config struct {
	Backend   Backend
	Providers wallet.ProviderSet
	Audit     audit.Store
	Metrics   *observability.Metrics
	Logger    *zap.Logger
}

// handler returns the tool output and a short audit note describing it.
type handler func(ctx context.Context, inv Invocation, args json.RawMessage) (any, string, error)

// Dispatcher is shared by all sessions; everything per-session arrives in
// the Invocation.
type Dispatcher struct {
	backend   Backend
	providers wallet.ProviderSet
	audit     audit.Store
	metrics   *observability.Metrics
	logger    *zap.Logger
	validator *validator.Validate
	defs      []Definition
	handlers  map[string]handler
}

func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("tools: backend is required")
	}
	if len(cfg.Providers.Names()) == 0 {
		return nil, fmt.Errorf("tools: at least one transit provider is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Dispatcher{
		backend:   cfg.Backend,
		providers: cfg.Providers,
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
		logger:    logger.Named("tools"),
		validator: newValidator(cfg.Providers),
		defs:      DefinitionsFor(cfg.Providers),
	}
	d.handlers = map[string]handler{
		ListPasses:       d.listPasses,
		CheckBalances:    d.checkBalances,
		EvaluatePurchase: d.evaluatePurchase,
		PurchasePasses:   d.purchasePasses,
	}
	return d, nil
}

func (d *Dispatcher) Definitions() []Definition {
	out := make([]Definition, len(d.defs))
	copy(out, d.defs)
	return out
}

// Dispatch runs one tool call. It never panics on bad input and never returns
// an error: every failure is reported inside the Result.
func (d *Dispatcher) Dispatch(ctx context.Context, inv Invocation, call Call) Result {
	res := Result{CallID: call.ID, Tool: call.Name}

	h, ok := d.handlers[call.Name]
	if !ok {
		res.Failure = &Failure{
			Kind:      KindValidation,
			Code:      CodeUnknownTool,
			Operation: call.Name,
			Summary:   fmt.Sprintf("no tool named %q", call.Name),
		}
		d.finish(inv, &res, "")
		return res
	}
	if inv.Flow == nil {
		res.Failure = &Failure{Kind: KindInternal, Operation: call.Name, Summary: "session has no purchase flow"}
		d.finish(inv, &res, "")
		return res
	}

	out, note, err := h(ctx, inv, call.Arguments)
	if err != nil {
		res.Failure = classify(call.Name, err)
		d.finish(inv, &res, "")
		return res
	}

	raw, err := marshalOutput(out)
	if err != nil {
		res.Failure = classify(call.Name, err)
		d.finish(inv, &res, "")
		return res
	}
	res.OK = true
	res.Output = raw
	d.finish(inv, &res, note)
	return res
}

func (d *Dispatcher) finish(inv Invocation, res *Result, note string) {
	event := audit.Event{
		SessionID: inv.SessionID,
		Username:  inv.Username,
		Tool:      res.Tool,
		Outcome:   audit.OutcomeOK,
	}
	if inv.Flow != nil {
		event.FlowID = inv.Flow.ID()
	}
	if f := res.Failure; f != nil {
		event.Outcome = audit.OutcomeFailed
		event.Kind = string(f.Kind)
		event.Code = f.Code
		event.Status = f.Status
		event.Detail = policy.Redact(f.Summary)
		d.logger.Warn("tool call failed",
			zap.String("session_id", inv.SessionID),
			zap.String("tool", res.Tool),
			zap.String("kind", string(f.Kind)),
			zap.String("code", f.Code),
			zap.Int("status", f.Status),
			zap.String("summary", event.Detail),
		)
	} else {
		event.Detail = note
		d.logger.Info("tool call completed",
			zap.String("session_id", inv.SessionID),
			zap.String("tool", res.Tool),
		)
	}

	label := res.Tool
	if _, known := d.handlers[label]; !known {
		label = "unknown"
	}
	d.metrics.ObserveToolCall(label, string(event.Outcome))

	if d.audit == nil {
		return
	}
	// The call's own context may already be cancelled by a disconnect; the
	// audit row is still written.
	ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
	defer cancel()
	if err := d.audit.Record(ctx, event); err != nil {
		d.logger.Warn("audit record failed", zap.String("tool", res.Tool), zap.Error(err))
	}
}

func marshalOutput(out any) (json.RawMessage, error) {
	switch v := out.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return wallet.AsJSON(v), nil
	default:
		return json.Marshal(v)
	}
}

func (d *Dispatcher) listPasses(ctx context.Context, inv Invocation, raw json.RawMessage) (any, string, error) {
	var args listPassesArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, "", err
	}
	in := listPassesInput{Provider: firstNonEmpty(args.Provider, args.TransitProvider)}
	if err := d.validate(in); err != nil {
		return nil, "", err
	}
	provider, _ := d.providers.Canonical(in.Provider)

	body, err := d.backend.ListPasses(ctx, inv.Credentials, provider)
	if err != nil {
		inv.Flow.Fail()
		return nil, "", err
	}
	n, perr := inv.Flow.RecordListing(provider, body)
	if perr != nil {
		d.logger.Warn("pass listing not indexed", zap.String("provider", string(provider)), zap.Error(perr))
	}
	d.logger.Debug("pass listing indexed", zap.String("provider", string(provider)), zap.Int("passes", n))
	return body, fmt.Sprintf("%d passes for %s", n, providerLabel(provider)), nil
}

func (d *Dispatcher) checkBalances(ctx context.Context, inv Invocation, raw json.RawMessage) (any, string, error) {
	var args struct{}
	if err := decodeArgs(raw, &args); err != nil {
		return nil, "", err
	}
	b, err := d.backend.GetBalances(ctx, inv.Credentials)
	if err != nil {
		inv.Flow.Fail()
		return nil, "", err
	}
	if perr := inv.Flow.RecordBalances(b); perr != nil {
		d.logger.Warn("balance documents not readable", zap.Error(perr))
	}
	return b, "", nil
}

func (d *Dispatcher) evaluatePurchase(_ context.Context, inv Invocation, raw json.RawMessage) (any, string, error) {
	var args evaluateArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, "", err
	}
	in := evaluateInput{PassID: firstNonEmpty(args.PassID), Quantity: quantityOrDefault(args.Quantity)}
	if err := d.validate(in); err != nil {
		return nil, "", err
	}
	q, err := inv.Flow.Evaluate(in.PassID, in.Quantity)
	if err != nil {
		return nil, "", err
	}
	return q, fmt.Sprintf("%s x%d: %s", q.PassID, q.Quantity, q.Decision.Outcome), nil
}

func (d *Dispatcher) purchasePasses(ctx context.Context, inv Invocation, raw json.RawMessage) (any, string, error) {
	var args purchaseArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, "", err
	}
	in := purchaseInput{
		PassID:     firstNonEmpty(args.PassID),
		WalletType: firstNonEmpty(args.WalletType, args.TypeOfWallet),
		Quantity:   quantityOrDefault(args.Quantity),
	}
	if err := d.validate(in); err != nil {
		return nil, "", err
	}
	w, _ := wallet.ParseWalletType(in.WalletType)

	req, err := inv.Flow.Authorize(in.PassID, in.Quantity, w)
	if err != nil {
		return nil, "", err
	}

	confirmation, err := d.backend.Purchase(ctx, inv.Credentials, req)
	inv.Flow.Complete(err)
	if err != nil {
		return nil, "", err
	}
	note := fmt.Sprintf("%s x%d from %s wallet", req.PassID, req.Quantity, req.WalletType.Slug())
	return confirmation, note, nil
}

func providerLabel(p wallet.Provider) string {
	if p == "" {
		return "all providers"
	}
	return string(p)
}
