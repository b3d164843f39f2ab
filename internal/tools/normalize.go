package tools

// canonicalAliases maps the stable field names templates depend on to the
// gateway field variants that carry the same value.
var canonicalAliases = map[string][]string{
	"transaction_id": {"transaction_id", "transactionId", "txn_id", "id"},
	"reference":      {"reference", "reference_number", "referenceNumber", "confirmation_number"},
	"amount":         {"amount", "amount_usd", "amountUsd", "total_amount"},
	"currency":       {"currency", "currency_code", "currencyCode"},
	"timestamp":      {"timestamp", "created_at", "createdAt", "completed_at"},
	"status":         {"status", "state"},
}

// normalizeResult copies canonical fields onto stable names so response
// templates can reference them regardless of which endpoint produced the
// payload. Existing canonical keys are never overwritten.
func normalizeResult(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	for canonical, aliases := range canonicalAliases {
		if _, ok := data[canonical]; ok {
			continue
		}
		for _, alias := range aliases {
			if v, ok := data[alias]; ok {
				data[canonical] = v
				break
			}
		}
	}
	return data
}
