package ports

import "context"

// BillingGateway defines the interface to the external payment gateway.
// Every method is a single remote call; retry policy belongs to the caller.
// Response envelopes are decoded as generic maps because the gateway's field
// naming varies between integration modes; the reconciliation layer absorbs
// that variance.
type BillingGateway interface {
	// GetAccessToken exchanges the API secret for a bearer token
	GetAccessToken(ctx context.Context) (string, error)

	// GetPaymentDetails fetches the gateway's record of a payment
	GetPaymentDetails(ctx context.Context, paymentID, accessToken string) (map[string]interface{}, error)

	// IssueBillingKey registers a payment credential and returns the issued key info
	IssueBillingKey(ctx context.Context, req map[string]interface{}, accessToken string) (map[string]interface{}, error)

	// GetBillingKey looks up the billing key stored for a gateway customer
	GetBillingKey(ctx context.Context, customerUID, accessToken string) (map[string]interface{}, error)

	// ExecuteBilling charges the customer's stored billing key off-session
	ExecuteBilling(ctx context.Context, customerUID string, req map[string]interface{}, accessToken string) (map[string]interface{}, error)

	// CancelPayment cancels (refunds) a settled payment
	CancelPayment(ctx context.Context, paymentID, accessToken, reason string) (map[string]interface{}, error)

	// CreateSchedule registers a future recurring charge under a unique payment id
	CreateSchedule(ctx context.Context, paymentID string, req map[string]interface{}, accessToken string) (map[string]interface{}, error)

	// GetSchedules lists the charge schedules registered for a customer
	GetSchedules(ctx context.Context, customerUID, accessToken string) (map[string]interface{}, error)

	// GetSchedule fetches a single schedule
	GetSchedule(ctx context.Context, customerUID, scheduleID, accessToken string) (map[string]interface{}, error)

	// DeleteSchedule removes a schedule
	DeleteSchedule(ctx context.Context, customerUID, scheduleID, accessToken string) (map[string]interface{}, error)
}
