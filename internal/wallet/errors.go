package wallet

import (
	"errors"
	"fmt"
)

// Operation names a wallet API call for errors, logs and metrics.
type Operation string

const (
	OpListPasses  Operation = "list_passes"
	OpGetBalances Operation = "get_balances"
	OpPurchase    Operation = "purchase_passes"
)

// UpstreamError is a non-success response from the wallet API.
type UpstreamError struct {
	Operation Operation
	// Wallet is set when a single wallet read failed during OpGetBalances.
	Wallet WalletType
	Status int
	Body   string
	Detail string
}

func (e *UpstreamError) Error() string {
	target := string(e.Operation)
	if e.Wallet != "" {
		target = fmt.Sprintf("%s (%s wallet)", e.Operation, e.Wallet.Slug())
	}
	if e.Detail != "" {
		return fmt.Sprintf("wallet api %s: status %d: %s", target, e.Status, e.Detail)
	}
	return fmt.Sprintf("wallet api %s: status %d: %s", target, e.Status, e.Body)
}

// TransportError is a network-level failure (timeout, DNS, reset, cancellation).
type TransportError struct {
	Operation Operation
	Wallet    WalletType
	Err       error
}

func (e *TransportError) Error() string {
	if e.Wallet != "" {
		return fmt.Sprintf("wallet api %s (%s wallet): transport: %v", e.Operation, e.Wallet.Slug(), e.Err)
	}
	return fmt.Sprintf("wallet api %s: transport: %v", e.Operation, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ErrMissingCredentials is returned, without contacting the wallet API, when
// the session holds no bearer token (the session ended or was never
// authenticated).
var ErrMissingCredentials = errors.New("no rider credentials for wallet api")

// ErrDocument marks a backend document that lacks a field the agent needs.
var ErrDocument = errors.New("unreadable wallet document")
