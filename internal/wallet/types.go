package wallet

import (
	"encoding/json"
	"strings"
)

// Provider names a transit provider as the wallet API knows it (msp).
type Provider string

// WalletType selects one of the two rider wallets.
type WalletType string

const (
	WalletSubsidy  WalletType = "Subsidy"
	WalletPersonal WalletType = "Personal"
)

// ParseWalletType accepts the wallet name in any letter case.
func ParseWalletType(s string) (WalletType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "subsidy":
		return WalletSubsidy, true
	case "personal":
		return WalletPersonal, true
	default:
		return "", false
	}
}

// Slug is the lower-case path segment used by the rider wallet endpoints.
func (w WalletType) Slug() string {
	return strings.ToLower(string(w))
}

// Credentials supplies the bearer token for a single request. Implementations
// are read on every call so a rotated token takes effect immediately.
type Credentials interface {
	AuthKey() string
}

// StaticCredentials is a fixed token, mostly useful for tools and tests.
type StaticCredentials string

func (s StaticCredentials) AuthKey() string { return string(s) }

// PurchaseRequest is built for one purchase attempt and discarded afterwards.
type PurchaseRequest struct {
	PassID     string
	WalletType WalletType
	Quantity   int
}

type purchaseLine struct {
	PassID   string `json:"pass_id"`
	Quantity int    `json:"quantity"`
}

type purchasePayload struct {
	WalletType WalletType     `json:"wallet_type"`
	PassIDs    []purchaseLine `json:"pass_ids"`
}

func (r PurchaseRequest) payload() purchasePayload {
	return purchasePayload{
		WalletType: r.WalletType,
		PassIDs:    []purchaseLine{{PassID: r.PassID, Quantity: r.Quantity}},
	}
}

// Balances holds both wallet documents exactly as returned by the backend.
type Balances struct {
	Subsidy  json.RawMessage `json:"subsidy"`
	Personal json.RawMessage `json:"personal"`
}

// ProviderSet is the configured closed set of known providers.
type ProviderSet struct {
	byKey map[string]Provider
	names []Provider
}

func NewProviderSet(names []string) ProviderSet {
	ps := ProviderSet{byKey: make(map[string]Provider, len(names))}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		key := strings.ToLower(n)
		if _, dup := ps.byKey[key]; dup {
			continue
		}
		ps.byKey[key] = Provider(n)
		ps.names = append(ps.names, Provider(n))
	}
	return ps
}

// Canonical maps a provider name in any letter case to its configured spelling.
func (ps ProviderSet) Canonical(name string) (Provider, bool) {
	p, ok := ps.byKey[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

func (ps ProviderSet) Names() []string {
	out := make([]string, 0, len(ps.names))
	for _, p := range ps.names {
		out = append(out, string(p))
	}
	return out
}
