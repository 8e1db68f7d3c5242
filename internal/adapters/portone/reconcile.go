package portone

import (
	"strings"

	"github.com/shopspring/decimal"
)

// UnknownOrderID is the sentinel returned when no order identifier can be
// recovered from a payment-detail envelope.
const UnknownOrderID = "unknown-order"

// ResolveOrderID extracts the merchant order id from a payment-detail
// envelope. Different gateway integration modes surface the merchant-supplied
// id under different keys, so candidates are tried most-authoritative first:
// merchantUid, merchantPaymentId, orderId, then customData.orderId, then the
// gateway's own payment id, and finally UnknownOrderID. The function is
// total: it returns a non-empty string for any input.
func ResolveOrderID(details map[string]interface{}) string {
	for _, key := range []string{"merchantUid", "merchantPaymentId", "orderId"} {
		if v := stringValue(details[key]); v != "" {
			return v
		}
	}

	if v := orderIDFromCustomData(details["customData"]); v != "" {
		return v
	}

	if v := stringValue(details["id"]); v != "" {
		return v
	}
	return UnknownOrderID
}

// orderIDFromCustomData handles customData as either a structured map or a
// raw string. A raw string containing an embedded "orderId":"..." fragment is
// scanned by locating the key, its colon, and the first quoted value after
// it; a bare non-blank string is taken as the order id itself.
func orderIDFromCustomData(customData interface{}) string {
	switch cd := customData.(type) {
	case map[string]interface{}:
		return stringValue(cd["orderId"])
	case string:
		if !strings.Contains(cd, "orderId") {
			return strings.TrimSpace(cd)
		}
		idx := strings.Index(cd, "orderId")
		colon := strings.Index(cd[idx:], ":")
		if colon < 0 {
			return ""
		}
		rest := cd[idx+colon+1:]
		startQuote := strings.Index(rest, `"`)
		if startQuote < 0 {
			return ""
		}
		rest = rest[startQuote+1:]
		endQuote := strings.Index(rest, `"`)
		if endQuote <= 0 {
			return ""
		}
		return strings.TrimSpace(rest[:endQuote])
	default:
		return ""
	}
}

// ExtractRefundAmount recovers the refunded amount from a cancellation
// envelope, trying canceledAmount, cancelAmount, then amount.cancelled and
// amount.canceled, accepting numeric or numeric-string representations.
// Non-positive values are treated the same as an absent key: some
// integration modes send a zeroed amount field on a full cancellation.
// ok=false means no positive amount was found; callers assume a full refund
// rather than blocking a confirmed gateway-side cancellation.
func ExtractRefundAmount(cancelResult map[string]interface{}) (decimal.Decimal, bool) {
	if cancelResult == nil {
		return decimal.Zero, false
	}

	for _, key := range []string{"canceledAmount", "cancelAmount"} {
		if amount, ok := parseAmount(cancelResult[key]); ok && amount.IsPositive() {
			return amount, true
		}
	}

	if amountObj, ok := cancelResult["amount"].(map[string]interface{}); ok {
		for _, key := range []string{"cancelled", "canceled"} {
			if amount, ok := parseAmount(amountObj[key]); ok && amount.IsPositive() {
				return amount, true
			}
		}
	}

	return decimal.Zero, false
}

// PaidAmount extracts amount.total from a payment-detail envelope; zero when
// absent or unparseable.
func PaidAmount(details map[string]interface{}) decimal.Decimal {
	amountObj, ok := details["amount"].(map[string]interface{})
	if !ok {
		return decimal.Zero
	}
	amount, ok := parseAmount(amountObj["total"])
	if !ok {
		return decimal.Zero
	}
	return amount
}

// IsPaidStatus reports whether a payment-detail envelope describes a
// completed payment, tolerating case variants of "PAID".
func IsPaidStatus(details map[string]interface{}) bool {
	status := stringValue(details["status"])
	return strings.EqualFold(status, "PAID")
}

// BillingKeyFromInfo extracts the billing key from a billing-key lookup
// envelope, which nests the key under billingKeyInfo in some API versions and
// carries it at the top level in others.
func BillingKeyFromInfo(info map[string]interface{}) string {
	if nested, ok := info["billingKeyInfo"].(map[string]interface{}); ok {
		if v := stringValue(nested["billingKey"]); v != "" {
			return v
		}
	}
	return stringValue(info["billingKey"])
}

// ChargePaymentID extracts the gateway charge id from a billing-execution
// envelope. An empty result means the charge did not complete.
func ChargePaymentID(result map[string]interface{}) string {
	for _, key := range []string{"imp_uid", "paymentId", "id"} {
		if v := stringValue(result[key]); v != "" {
			return v
		}
	}
	return ""
}

// CanonicalPaymentID prefers the gateway's own payment id over the
// caller-supplied identifier, which may be a merchant reference.
func CanonicalPaymentID(details map[string]interface{}, fallback string) string {
	if v := stringValue(details["id"]); v != "" {
		return v
	}
	return fallback
}

func stringValue(v interface{}) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

func parseAmount(v interface{}) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), true
	case int:
		return decimal.NewFromInt(int64(n)), true
	case int64:
		return decimal.NewFromInt(n), true
	case string:
		if strings.TrimSpace(n) == "" {
			return decimal.Zero, false
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return decimal.Zero, false
		}
		return amount, true
	default:
		return decimal.Zero, false
	}
}
