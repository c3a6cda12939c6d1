package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ent0n29/ridewallet/internal/wallet"
)

// Raw argument shapes as the model sends them. The original agent named two
// of the fields differently, so those spellings are accepted as aliases.
type listPassesArgs struct {
	Provider        string `json:"provider"`
	TransitProvider string `json:"transit_provider"`
}

type evaluateArgs struct {
	PassID   string `json:"pass_id"`
	Quantity *int   `json:"quantity"`
}

type purchaseArgs struct {
	PassID       string `json:"pass_id"`
	WalletType   string `json:"wallet_type"`
	TypeOfWallet string `json:"type_of_wallet"`
	Quantity     *int   `json:"quantity"`
}

// Validated inputs.
type listPassesInput struct {
	Provider string `json:"provider" validate:"omitempty,provider"`
}

type evaluateInput struct {
	PassID   string `json:"pass_id" validate:"required"`
	Quantity int    `json:"quantity" validate:"min=1"`
}

type purchaseInput struct {
	PassID     string `json:"pass_id" validate:"required"`
	WalletType string `json:"wallet_type" validate:"required,wallet_type"`
	Quantity   int    `json:"quantity" validate:"min=1"`
}

func newValidator(providers wallet.ProviderSet) *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("provider", func(fl validator.FieldLevel) bool {
		_, ok := providers.Canonical(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("wallet_type", func(fl validator.FieldLevel) bool {
		_, ok := wallet.ParseWalletType(fl.Field().String())
		return ok
	})
	return v
}

// decodeArgs reads the model's JSON arguments. Absent or null arguments decode
// to the zero value; values of the wrong JSON type are rejected, not coerced.
func decodeArgs(raw json.RawMessage, dst any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if err := dec.Decode(dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return ValidationErrors{{Field: typeErr.Field, Reason: "must be a " + jsonKind(typeErr.Type)}}
		}
		return ValidationErrors{{Field: "arguments", Reason: "must be a JSON object"}}
	}
	return nil
}

func jsonKind(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Int, reflect.Int64, reflect.Int32:
		return "whole number"
	case reflect.String:
		return "string"
	default:
		return t.String()
	}
}

func quantityOrDefault(q *int) int {
	if q == nil {
		return 1
	}
	return *q
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func (d *Dispatcher) validate(in any) error {
	err := d.validator.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := make(ValidationErrors, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{Field: fe.Field(), Reason: d.reason(fe)})
	}
	return out
}

func (d *Dispatcher) reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "provider":
		return "must be one of " + strings.Join(d.providers.Names(), ", ")
	case "wallet_type":
		return fmt.Sprintf("must be %s or %s", wallet.WalletSubsidy, wallet.WalletPersonal)
	default:
		return "is invalid"
	}
}
