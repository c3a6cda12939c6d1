package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ent0n29/ridewallet/internal/policy"
	"github.com/ent0n29/ridewallet/internal/purchase"
	"github.com/ent0n29/ridewallet/internal/reliability"
	"github.com/ent0n29/ridewallet/internal/wallet"
)

// Kind is the failure taxonomy the conversational layer reacts to.
type Kind string

const (
	KindValidation Kind = "validation"
	KindUpstream   Kind = "upstream"
	KindTransport  Kind = "transport"
	KindInternal   Kind = "internal"
)

const (
	CodeInvalidArguments = "invalid_arguments"
	CodeUnknownTool      = "unknown_tool"
	CodeNoCredentials    = "missing_credentials"
)

// ValidationError is one rejected tool argument.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e ValidationError) Error() string {
	return e.Field + " " + e.Reason
}

// ValidationErrors collects every rejected argument of one call.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, 0, len(e))
	for _, v := range e {
		parts = append(parts, v.Error())
	}
	return "invalid arguments: " + strings.Join(parts, "; ")
}

// Failure is the structured result of a tool call that did not succeed.
type Failure struct {
	Kind      Kind              `json:"kind"`
	Code      string            `json:"code,omitempty"`
	Operation string            `json:"operation"`
	Summary   string            `json:"summary"`
	Status    int               `json:"status,omitempty"`
	Body      string            `json:"body,omitempty"`
	Retryable bool              `json:"retryable"`
	Fields    []ValidationError `json:"fields,omitempty"`
}

func (f *Failure) Error() string {
	if f.Code != "" {
		return fmt.Sprintf("%s %s (%s): %s", f.Operation, f.Kind, f.Code, f.Summary)
	}
	return fmt.Sprintf("%s %s: %s", f.Operation, f.Kind, f.Summary)
}

func classify(tool string, err error) *Failure {
	var (
		fieldsErr ValidationErrors
		fieldErr  ValidationError
		protoErr  *purchase.ProtocolError
		upErr     *wallet.UpstreamError
		tErr      *wallet.TransportError
		failure   *Failure
	)
	switch {
	case errors.As(err, &failure):
		return failure
	case errors.As(err, &fieldsErr):
		return &Failure{
			Kind:      KindValidation,
			Code:      CodeInvalidArguments,
			Operation: tool,
			Summary:   fieldsErr.Error(),
			Fields:    fieldsErr,
		}
	case errors.As(err, &fieldErr):
		return &Failure{
			Kind:      KindValidation,
			Code:      CodeInvalidArguments,
			Operation: tool,
			Summary:   "invalid arguments: " + fieldErr.Error(),
			Fields:    []ValidationError{fieldErr},
		}
	case errors.As(err, &protoErr):
		return &Failure{
			Kind:      KindValidation,
			Code:      protoErr.Code,
			Operation: tool,
			Summary:   protoErr.Reason,
		}
	case errors.Is(err, wallet.ErrMissingCredentials):
		return &Failure{
			Kind:      KindValidation,
			Code:      CodeNoCredentials,
			Operation: tool,
			Summary:   "the session holds no rider credentials; the rider has to sign in again",
		}
	case errors.As(err, &upErr):
		body, _ := policy.RedactSecrets(upErr.Body)
		return &Failure{
			Kind:      KindUpstream,
			Operation: tool,
			Summary:   upstreamSummary(upErr),
			Status:    upErr.Status,
			Body:      body,
			Retryable: reliability.IsRetryableHTTPStatus(upErr.Status),
		}
	case errors.As(err, &tErr):
		summary := "could not reach the wallet service"
		if errors.Is(err, context.DeadlineExceeded) {
			summary = "the wallet service did not answer in time"
		}
		if tErr.Wallet != "" {
			summary += " while reading the " + tErr.Wallet.Slug() + " wallet"
		}
		return &Failure{
			Kind:      KindTransport,
			Operation: tool,
			Summary:   summary,
			Retryable: reliability.IsRetryableTransport(tErr.Err),
		}
	default:
		return &Failure{
			Kind:      KindInternal,
			Operation: tool,
			Summary:   policy.Redact(err.Error()),
		}
	}
}

func upstreamSummary(e *wallet.UpstreamError) string {
	var s string
	switch {
	case e.Detail != "":
		s = "the wallet service answered but " + e.Detail
	case e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		s = "the wallet service rejected the rider's credentials"
	case e.Status == http.StatusPaymentRequired:
		s = "the wallet service declined the payment"
	case e.Status == http.StatusNotFound:
		s = "the wallet service could not find what was requested"
	case e.Status == http.StatusTooManyRequests:
		s = "the wallet service is rate limiting requests"
	case e.Status >= 500:
		s = "the wallet service is having trouble"
	default:
		s = fmt.Sprintf("the wallet service rejected the request with status %d", e.Status)
	}
	if e.Wallet != "" {
		s += " (" + e.Wallet.Slug() + " wallet)"
	}
	return s
}
