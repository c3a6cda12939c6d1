// Package balance decides which rider wallet can pay for a purchase.
package balance

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/ent0n29/ridewallet/internal/wallet"
)

// Outcome is the evaluator's verdict.
type Outcome string

const (
	UseSubsidy        Outcome = "use_subsidy"
	UsePersonal       Outcome = "use_personal"
	InsufficientFunds Outcome = "insufficient_funds"
	// ChooseOne means the rider must pick a wallet explicitly.
	ChooseOne Outcome = "choose_one"
)

var (
	ErrNegativeAmount  = errors.New("balances and price must not be negative")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

type Input struct {
	Subsidy   decimal.Decimal
	Personal  decimal.Decimal
	UnitPrice decimal.Decimal
	Quantity  int
}

// Decision carries both balances so a ChooseOne verdict can be presented as is.
type Decision struct {
	Outcome   Outcome         `json:"decision"`
	Subsidy   decimal.Decimal `json:"subsidy_balance"`
	Personal  decimal.Decimal `json:"personal_balance"`
	TotalCost decimal.Decimal `json:"total_cost"`
}

// Wallet returns the automatically selected wallet, if any.
func (d Decision) Wallet() (wallet.WalletType, bool) {
	switch d.Outcome {
	case UseSubsidy:
		return wallet.WalletSubsidy, true
	case UsePersonal:
		return wallet.WalletPersonal, true
	default:
		return "", false
	}
}

// Covers reports whether w alone can pay the total cost.
func (d Decision) Covers(w wallet.WalletType) bool {
	switch w {
	case wallet.WalletSubsidy:
		return d.Subsidy.GreaterThanOrEqual(d.TotalCost)
	case wallet.WalletPersonal:
		return d.Personal.GreaterThanOrEqual(d.TotalCost)
	default:
		return false
	}
}

// Evaluate applies the wallet selection policy. A wallet is picked
// automatically only when it covers the cost and the other wallet is exactly
// zero; two non-zero balances always surface a choice unless neither covers
// the cost.
func Evaluate(in Input) (Decision, error) {
	if in.Quantity < 1 {
		return Decision{}, ErrInvalidQuantity
	}
	if in.Subsidy.IsNegative() || in.Personal.IsNegative() || in.UnitPrice.IsNegative() {
		return Decision{}, ErrNegativeAmount
	}

	cost := in.UnitPrice.Mul(decimal.NewFromInt(int64(in.Quantity)))
	d := Decision{Subsidy: in.Subsidy, Personal: in.Personal, TotalCost: cost}

	subsidyOK := in.Subsidy.GreaterThanOrEqual(cost)
	personalOK := in.Personal.GreaterThanOrEqual(cost)

	switch {
	case subsidyOK && personalOK:
		d.Outcome = ChooseOne
	case !subsidyOK && !personalOK:
		d.Outcome = InsufficientFunds
	case subsidyOK && in.Personal.IsZero():
		d.Outcome = UseSubsidy
	case personalOK && in.Subsidy.IsZero():
		d.Outcome = UsePersonal
	default:
		d.Outcome = ChooseOne
	}
	return d, nil
}
