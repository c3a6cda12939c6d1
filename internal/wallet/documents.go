package wallet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// PassSummary is the part of a backend pass record the purchase flow reads.
// The backend stays the owner of the record; summaries live for one flow.
type PassSummary struct {
	ID       string
	Name     string
	Provider string
	Price    decimal.Decimal
	HasPrice bool
}

var (
	listingKeys  = []string{"data", "passes", "results", "items"}
	passIDKeys   = []string{"pass_id", "id", "uuid"}
	passNameKeys = []string{"name", "title"}
	providerKeys = []string{"msp", "provider", "transit_provider"}
	priceKeys    = []string{"price", "amount", "cost", "fare"}
	balanceKeys  = []string{"balance", "available_balance", "current_balance", "amount"}
	wrapperKeys  = []string{"data", "wallet"}
)

// ParsePassListing extracts pass summaries from a listing body. It accepts a
// top-level array or an object wrapping the array under a common key.
func ParsePassListing(raw []byte) ([]PassSummary, error) {
	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, err
	}

	records, ok := doc.([]any)
	if !ok {
		obj, isObj := doc.(map[string]any)
		if !isObj {
			return nil, fmt.Errorf("%w: pass listing is neither array nor object", ErrDocument)
		}
		for _, k := range listingKeys {
			if arr, found := obj[k].([]any); found {
				records, ok = arr, true
				break
			}
		}
		if !ok {
			return nil, fmt.Errorf("%w: pass listing has no pass array", ErrDocument)
		}
	}

	out := make([]PassSummary, 0, len(records))
	for _, rec := range records {
		obj, ok := rec.(map[string]any)
		if !ok {
			continue
		}
		id := firstString(obj, passIDKeys)
		if id == "" {
			continue
		}
		p := PassSummary{
			ID:       id,
			Name:     firstString(obj, passNameKeys),
			Provider: providerName(obj),
		}
		if price, ok := firstDecimal(obj, priceKeys); ok {
			p.Price = price
			p.HasPrice = true
		}
		out = append(out, p)
	}
	return out, nil
}

// ParseBalance reads the numeric balance from a wallet document.
func ParseBalance(raw []byte) (decimal.Decimal, error) {
	doc, err := decodeDocument(raw)
	if err != nil {
		return decimal.Zero, err
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: wallet document is not an object", ErrDocument)
	}
	if d, ok := firstDecimal(obj, balanceKeys); ok {
		return d, nil
	}
	for _, k := range wrapperKeys {
		if inner, ok := obj[k].(map[string]any); ok {
			if d, ok := firstDecimal(inner, balanceKeys); ok {
				return d, nil
			}
		}
	}
	return decimal.Zero, fmt.Errorf("%w: wallet document has no balance", ErrDocument)
}

func decodeDocument(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocument, err)
	}
	return doc, nil
}

func firstString(obj map[string]any, keys []string) string {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

func providerName(obj map[string]any) string {
	for _, k := range providerKeys {
		switch v := obj[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case map[string]any:
			if s := firstString(v, []string{"name", "code", "id"}); s != "" {
				return s
			}
		}
	}
	return ""
}

func firstDecimal(obj map[string]any, keys []string) (decimal.Decimal, bool) {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case json.Number:
			if d, err := decimal.NewFromString(v.String()); err == nil {
				return d, true
			}
		case string:
			s := strings.TrimPrefix(strings.TrimSpace(v), "$")
			if d, err := decimal.NewFromString(s); err == nil {
				return d, true
			}
		}
	}
	return decimal.Zero, false
}
