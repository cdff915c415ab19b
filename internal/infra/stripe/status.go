package stripe

import "strings"

// NormalizePaymentStatus folds checkout.session payment_status into the values
// reconciliation branches on: "paid", "unpaid" or "" when absent.
func NormalizePaymentStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return ""
	case "paid", "no_payment_required":
		return "paid"
	case "unpaid":
		return "unpaid"
	default:
		return strings.TrimSpace(s)
	}
}
