package balance

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/ridewallet/internal/wallet"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestEvaluatePolicy(t *testing.T) {
	cases := []struct {
		name     string
		subsidy  int64
		personal int64
		price    int64
		qty      int
		want     Outcome
	}{
		{"personal funded subsidy empty", 0, 50, 10, 1, UsePersonal},
		{"both sufficient", 50, 50, 10, 1, ChooseOne},
		{"neither sufficient", 5, 0, 10, 1, InsufficientFunds},
		{"quantity multiplies price", 100, 0, 10, 3, UseSubsidy},
		{"quantity exceeds subsidy", 25, 0, 10, 3, InsufficientFunds},
		{"exact balance is sufficient", 0, 30, 10, 3, UsePersonal},
		{"one sufficient other non-zero", 50, 5, 10, 1, ChooseOne},
		{"personal sufficient subsidy non-zero", 3, 40, 10, 2, ChooseOne},
		{"both empty", 0, 0, 10, 1, InsufficientFunds},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := Evaluate(Input{
				Subsidy:   dec(tc.subsidy),
				Personal:  dec(tc.personal),
				UnitPrice: dec(tc.price),
				Quantity:  tc.qty,
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.Outcome)
			assert.True(t, got.TotalCost.Equal(dec(tc.price*int64(tc.qty))))
		})
	}
}

func TestEvaluateChooseOneCarriesBalances(t *testing.T) {
	got, err := Evaluate(Input{Subsidy: dec(50), Personal: dec(50), UnitPrice: dec(10), Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, ChooseOne, got.Outcome)
	assert.True(t, got.Subsidy.Equal(dec(50)))
	assert.True(t, got.Personal.Equal(dec(50)))
	_, auto := got.Wallet()
	assert.False(t, auto)
}

func TestEvaluateDecimalPrices(t *testing.T) {
	got, err := Evaluate(Input{
		Subsidy:   decimal.Zero,
		Personal:  decimal.RequireFromString("7.50"),
		UnitPrice: decimal.RequireFromString("2.50"),
		Quantity:  3,
	})
	require.NoError(t, err)
	assert.Equal(t, UsePersonal, got.Outcome)
	w, ok := got.Wallet()
	require.True(t, ok)
	assert.Equal(t, wallet.WalletPersonal, w)
}

func TestEvaluateRejectsBadInput(t *testing.T) {
	_, err := Evaluate(Input{Subsidy: dec(10), Personal: dec(10), UnitPrice: dec(1), Quantity: 0})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = Evaluate(Input{Subsidy: dec(-1), Personal: dec(10), UnitPrice: dec(1), Quantity: 1})
	assert.ErrorIs(t, err, ErrNegativeAmount)
}

func TestDecisionCovers(t *testing.T) {
	d, err := Evaluate(Input{Subsidy: dec(50), Personal: dec(5), UnitPrice: dec(10), Quantity: 1})
	require.NoError(t, err)
	assert.True(t, d.Covers(wallet.WalletSubsidy))
	assert.False(t, d.Covers(wallet.WalletPersonal))
}
