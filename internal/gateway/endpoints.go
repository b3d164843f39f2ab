package gateway

// Endpoint maps a tool name to a downstream HTTP call. Path segments in
// braces are substituted from the tool's parameters.
type Endpoint struct {
	Method string
	Path   string
}

// endpoints is the static service map. Tools absent here are unknown to the
// gateway and fail with UNKNOWN_TOOL.
var endpoints = map[string]Endpoint{
	// Remittances
	"get_exchange_rate":    {Method: "GET", Path: "/remittances/exchange-rate"},
	"list_recipients":      {Method: "GET", Path: "/remittances/recipients"},
	"get_recipient":        {Method: "GET", Path: "/remittances/recipients/{recipient_id}"},
	"create_recipient":     {Method: "POST", Path: "/remittances/recipients"},
	"create_transfer":      {Method: "POST", Path: "/remittances/transfers"},
	"get_transfer_status":  {Method: "GET", Path: "/remittances/transfers/{transaction_id}"},
	"cancel_transfer":      {Method: "DELETE", Path: "/remittances/transfers/{transaction_id}"},
	"get_transfer_history": {Method: "GET", Path: "/remittances/transfers"},

	// Top-ups
	"get_carriers":         {Method: "GET", Path: "/topups/carriers"},
	"get_topup_products":   {Method: "GET", Path: "/topups/carriers/{carrier_id}/products"},
	"get_frequent_numbers": {Method: "GET", Path: "/topups/frequent-numbers"},
	"create_topup":         {Method: "POST", Path: "/topups"},
	"get_topup_status":     {Method: "GET", Path: "/topups/{transaction_id}"},

	// Bill pay
	"get_billers":      {Method: "GET", Path: "/billpay/billers"},
	"get_bill_balance": {Method: "GET", Path: "/billpay/billers/{biller_id}/balance"},
	"pay_bill":         {Method: "POST", Path: "/billpay/payments"},
	"get_bill_history": {Method: "GET", Path: "/billpay/payments"},

	// Credit
	"get_loan_offers":     {Method: "GET", Path: "/credit/offers"},
	"get_loan_status":     {Method: "GET", Path: "/credit/loans/{loan_id}"},
	"accept_loan_offer":   {Method: "POST", Path: "/credit/loans"},
	"make_loan_payment":   {Method: "POST", Path: "/credit/loans/{loan_id}/payments"},
	"get_payment_schedule": {Method: "GET", Path: "/credit/loans/{loan_id}/schedule"},

	// Wallet
	"get_wallet_balance":      {Method: "GET", Path: "/wallet/balance"},
	"get_wallet_transactions": {Method: "GET", Path: "/wallet/transactions"},
	"add_wallet_funds":        {Method: "POST", Path: "/wallet/funds"},
}

// Lookup returns the endpoint for a tool name.
func Lookup(toolName string) (Endpoint, bool) {
	ep, ok := endpoints[toolName]
	return ep, ok
}
