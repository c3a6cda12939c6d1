package tools

import "github.com/ent0n29/ridewallet/internal/wallet"

const (
	ListPasses       = "list_passes"
	CheckBalances    = "check_balances"
	EvaluatePurchase = "evaluate_purchase"
	PurchasePasses   = "purchase_passes"
)

// Definition describes a tool to the conversational model. Parameters is a
// JSON schema object.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// DefinitionsFor builds the tool schemas for a provider set.
func DefinitionsFor(providers wallet.ProviderSet) []Definition {
	quantity := map[string]any{
		"type":        "integer",
		"minimum":     1,
		"default":     1,
		"description": "Number of passes. Defaults to 1.",
	}
	passID := map[string]any{
		"type":        "string",
		"minLength":   1,
		"description": "The pass_id exactly as returned by list_passes in this conversation.",
	}

	return []Definition{
		{
			Name: ListPasses,
			Description: "List the passes a transit provider sells, with their ids and prices. " +
				"Call this whenever the rider wants to buy or learn about passes; omit provider to list every provider.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"provider": map[string]any{
						"type":        "string",
						"enum":        providers.Names(),
						"description": "Transit provider the rider named.",
					},
				},
				"additionalProperties": false,
			},
		},
		{
			Name:        CheckBalances,
			Description: "Read the rider's subsidy and personal wallet balances. Call this before evaluating or purchasing.",
			Parameters: map[string]any{
				"type":                 "object",
				"properties":           map[string]any{},
				"additionalProperties": false,
			},
		},
		{
			Name: EvaluatePurchase,
			Description: "Decide which wallet can pay for a pass from the latest listing and balances. " +
				"Returns use_subsidy, use_personal, choose_one (ask the rider) or insufficient_funds.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"pass_id":  passID,
					"quantity": quantity,
				},
				"required":             []string{"pass_id"},
				"additionalProperties": false,
			},
		},
		{
			Name: PurchasePasses,
			Description: "Buy passes from the chosen wallet once the rider confirmed. " +
				"Each call is a new purchase; never repeat it for the same confirmation.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"pass_id": passID,
					"wallet_type": map[string]any{
						"type":        "string",
						"enum":        []string{string(wallet.WalletSubsidy), string(wallet.WalletPersonal)},
						"description": "Wallet the evaluation selected, or the one the rider chose.",
					},
					"quantity": quantity,
				},
				"required":             []string{"pass_id", "wallet_type"},
				"additionalProperties": false,
			},
		},
	}
}
