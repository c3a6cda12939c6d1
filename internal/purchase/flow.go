// Package purchase tracks one rider's purchase flow across independently
// dispatched tool calls and refuses purchases whose preconditions were not
// established in the same flow.
package purchase

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"

	"github.com/ent0n29/ridewallet/internal/balance"
	"github.com/ent0n29/ridewallet/internal/wallet"
)

type State string

const (
	StateIdle          State = "idle"
	StateProviderKnown State = "provider_known"
	StatePassResolved  State = "pass_resolved"
	StateBalancesKnown State = "balances_known"
	StateWalletChosen  State = "wallet_chosen"
	StatePurchased     State = "purchased"
	StateFailed        State = "failed"
)

// Refusal codes reported when a purchase precondition is missing.
const (
	CodePassNotResolved    = "pass_not_resolved"
	CodeBalancesMissing    = "balances_missing"
	CodeBalancesStale      = "balances_stale"
	CodePriceUnknown       = "price_unknown"
	CodeBalanceUnreadable  = "balance_unreadable"
	CodeInsufficientFunds  = "insufficient_funds"
	CodeWalletMismatch     = "wallet_mismatch"
	CodeWalletInsufficient = "wallet_insufficient"
	CodeInvalidSelection   = "invalid_selection"
)

const passIndexSize = 256

// ProtocolError is a purchase attempted out of sequence or against the
// evaluator's decision.
type ProtocolError struct {
	Code   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("purchase refused (%s): %s", e.Code, e.Reason)
}

type snapshot struct {
	subsidy  decimal.Decimal
	personal decimal.Decimal
	readErr  error
	takenAt  time.Time
}

type selection struct {
	pass     wallet.PassSummary
	quantity int
}

// Quote is the evaluated purchase the rider is asked to confirm.
type Quote struct {
	FlowID     string            `json:"flow_id"`
	PassID     string            `json:"pass_id"`
	PassName   string            `json:"pass_name,omitempty"`
	Provider   string            `json:"provider,omitempty"`
	Quantity   int               `json:"quantity"`
	UnitPrice  decimal.Decimal   `json:"unit_price"`
	Decision   balance.Decision  `json:"evaluation"`
	WalletType wallet.WalletType `json:"wallet_type,omitempty"`
}

// Status is a read-only view of the flow for diagnostics.
type Status struct {
	FlowID          string     `json:"flow_id"`
	State           State      `json:"state"`
	Provider        string     `json:"provider,omitempty"`
	ListedPasses    int        `json:"listed_passes"`
	BalancesTakenAt *time.Time `json:"balances_taken_at,omitempty"`
	PassID          string     `json:"pass_id,omitempty"`
	WalletType      string     `json:"wallet_type,omitempty"`
}

// Flow is owned by a single session; the mutex only guards against a runtime
// that overlaps calls.
type Flow struct {
	mu     sync.Mutex
	maxAge time.Duration
	now    func() time.Time

	id       string
	listed   bool
	provider wallet.Provider
	passes   *lru.Cache[string, wallet.PassSummary]
	snap     *snapshot
	sel      *selection
	chosen   wallet.WalletType
	terminal State
}

func NewFlow(balanceMaxAge time.Duration) *Flow {
	if balanceMaxAge <= 0 {
		balanceMaxAge = 5 * time.Minute
	}
	passes, _ := lru.New[string, wallet.PassSummary](passIndexSize)
	return &Flow{
		maxAge: balanceMaxAge,
		now:    time.Now,
		id:     uuid.NewString(),
		passes: passes,
	}
}

func (f *Flow) ID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateLocked()
}

func (f *Flow) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := Status{
		FlowID:       f.id,
		State:        f.stateLocked(),
		Provider:     string(f.provider),
		ListedPasses: f.passes.Len(),
		WalletType:   string(f.chosen),
	}
	if f.snap != nil {
		t := f.snap.takenAt
		st.BalancesTakenAt = &t
	}
	if f.sel != nil {
		st.PassID = f.sel.pass.ID
	}
	return st
}

// RecordListing stores the passes from a successful list_passes call. A new
// listing replaces the previous one and drops any pass selection.
func (f *Flow) RecordListing(provider wallet.Provider, raw []byte) (int, error) {
	passes, err := wallet.ParsePassListing(raw)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.beginLocked()
	f.passes.Purge()
	f.sel = nil
	f.chosen = ""
	f.listed = true
	f.provider = provider
	for _, p := range passes {
		f.passes.Add(p.ID, p)
	}
	return len(passes), err
}

// RecordBalances stores a snapshot from a successful check_balances call.
func (f *Flow) RecordBalances(b wallet.Balances) error {
	snap := &snapshot{takenAt: f.now()}
	var err error
	if snap.subsidy, err = wallet.ParseBalance(b.Subsidy); err != nil {
		snap.readErr = fmt.Errorf("subsidy wallet: %w", err)
	} else if snap.personal, err = wallet.ParseBalance(b.Personal); err != nil {
		snap.readErr = fmt.Errorf("personal wallet: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.beginLocked()
	f.snap = snap
	f.chosen = ""
	return snap.readErr
}

// Evaluate resolves the pass against this flow's listing and runs the balance
// evaluator on the current snapshot. An automatic wallet choice moves the flow
// to WalletChosen.
func (f *Flow) Evaluate(passID string, quantity int) (Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beginLocked()

	q, err := f.quoteLocked(passID, quantity)
	if err != nil {
		return Quote{}, err
	}
	if w, ok := q.Decision.Wallet(); ok {
		f.chosen = w
		q.WalletType = w
	} else {
		f.chosen = ""
	}
	return q, nil
}

// Authorize checks every purchase precondition and returns the request to
// send. The decision is recomputed from the snapshot on every call.
func (f *Flow) Authorize(passID string, quantity int, w wallet.WalletType) (wallet.PurchaseRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beginLocked()

	q, err := f.quoteLocked(passID, quantity)
	if err != nil {
		return wallet.PurchaseRequest{}, err
	}

	if auto, ok := q.Decision.Wallet(); ok {
		if w != auto {
			return wallet.PurchaseRequest{}, &ProtocolError{
				Code:   CodeWalletMismatch,
				Reason: fmt.Sprintf("only the %s wallet can pay %s; the other wallet is empty", auto.Slug(), q.Decision.TotalCost),
			}
		}
	} else if !q.Decision.Covers(w) {
		return wallet.PurchaseRequest{}, &ProtocolError{
			Code:   CodeWalletInsufficient,
			Reason: fmt.Sprintf("the %s wallet cannot cover %s", w.Slug(), q.Decision.TotalCost),
		}
	}

	f.chosen = w
	return wallet.PurchaseRequest{PassID: q.PassID, WalletType: w, Quantity: q.Quantity}, nil
}

// Complete ends the flow after a purchase request was sent. Listing and
// snapshot are discarded either way so a new purchase starts from scratch.
func (f *Flow) Complete(purchaseErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearLocked()
	if purchaseErr != nil {
		f.terminal = StateFailed
		return
	}
	f.terminal = StatePurchased
}

// Fail discards everything after a failed step.
func (f *Flow) Fail() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearLocked()
	f.terminal = StateFailed
}

func (f *Flow) quoteLocked(passID string, quantity int) (Quote, error) {
	passID = strings.TrimSpace(passID)
	if passID == "" || quantity < 1 {
		return Quote{}, &ProtocolError{Code: CodeInvalidSelection, Reason: "pass_id and a quantity of at least 1 are required"}
	}
	if !f.listed {
		return Quote{}, &ProtocolError{Code: CodePassNotResolved, Reason: "call list_passes for the rider's provider first"}
	}
	pass, ok := f.passes.Get(passID)
	if !ok {
		return Quote{}, &ProtocolError{
			Code:   CodePassNotResolved,
			Reason: fmt.Sprintf("pass %q is not in the latest list_passes result; list passes again and use an id from it", passID),
		}
	}
	f.sel = &selection{pass: pass, quantity: quantity}

	if !pass.HasPrice {
		return Quote{}, &ProtocolError{Code: CodePriceUnknown, Reason: fmt.Sprintf("pass %q has no readable price", passID)}
	}
	if f.snap == nil {
		return Quote{}, &ProtocolError{Code: CodeBalancesMissing, Reason: "call check_balances before purchasing"}
	}
	if age := f.now().Sub(f.snap.takenAt); age > f.maxAge {
		return Quote{}, &ProtocolError{
			Code:   CodeBalancesStale,
			Reason: fmt.Sprintf("balances were checked %s ago; call check_balances again", age.Round(time.Second)),
		}
	}
	if f.snap.readErr != nil {
		return Quote{}, &ProtocolError{Code: CodeBalanceUnreadable, Reason: f.snap.readErr.Error()}
	}

	d, err := balance.Evaluate(balance.Input{
		Subsidy:   f.snap.subsidy,
		Personal:  f.snap.personal,
		UnitPrice: pass.Price,
		Quantity:  quantity,
	})
	if err != nil {
		return Quote{}, &ProtocolError{Code: CodeInvalidSelection, Reason: err.Error()}
	}
	if d.Outcome == balance.InsufficientFunds {
		return Quote{}, &ProtocolError{
			Code: CodeInsufficientFunds,
			Reason: fmt.Sprintf("total %s exceeds both wallets (subsidy %s, personal %s)",
				d.TotalCost, d.Subsidy, d.Personal),
		}
	}

	return Quote{
		FlowID:    f.id,
		PassID:    pass.ID,
		PassName:  pass.Name,
		Provider:  pass.Provider,
		Quantity:  quantity,
		UnitPrice: pass.Price,
		Decision:  d,
	}, nil
}

// beginLocked opens a new flow when the previous one has ended.
func (f *Flow) beginLocked() {
	if f.terminal == "" {
		return
	}
	f.terminal = ""
	f.id = uuid.NewString()
}

func (f *Flow) clearLocked() {
	f.listed = false
	f.provider = ""
	f.passes.Purge()
	f.snap = nil
	f.sel = nil
	f.chosen = ""
}

func (f *Flow) stateLocked() State {
	switch {
	case f.terminal != "":
		return f.terminal
	case f.chosen != "":
		return StateWalletChosen
	case f.sel != nil && f.snap != nil && f.now().Sub(f.snap.takenAt) <= f.maxAge:
		return StateBalancesKnown
	case f.sel != nil:
		return StatePassResolved
	case f.listed:
		return StateProviderKnown
	default:
		return StateIdle
	}
}
