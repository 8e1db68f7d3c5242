package domain

import "time"

// PaymentMethod represents a stored, chargeable payment credential. The
// gateway identifies the credential by CustomerUID; BillingKey caches the
// gateway-issued key when it is known locally.
type PaymentMethod struct {
	CreatedAt   time.Time `json:"created_at"`
	BillingKey  *string   `json:"billing_key"`
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	CustomerUID string    `json:"customer_uid"`
	CardType    string    `json:"card_type"`
	CardLast4   string    `json:"card_last4"`
	IsDefault   bool      `json:"is_default"`
}

// HasBillingKey returns true if a billing key is cached locally
func (pm *PaymentMethod) HasBillingKey() bool {
	return pm.BillingKey != nil && *pm.BillingKey != ""
}

// BelongsTo returns true if the payment method is owned by the given user
func (pm *PaymentMethod) BelongsTo(userID string) bool {
	return pm.UserID == userID
}
