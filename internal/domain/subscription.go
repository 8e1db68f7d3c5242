package domain

import "time"

// SubscriptionStatus represents the subscription lifecycle state
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "TRIALING"
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
	SubscriptionStatusEnded    SubscriptionStatus = "ENDED"
)

// Subscription represents a recurring billing agreement against a plan.
// CurrentPeriodEnd is always after CurrentPeriodStart and advances
// monotonically on each successful charge.
type Subscription struct {
	CurrentPeriodStart time.Time          `json:"current_period_start"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
	TrialEnd           *time.Time         `json:"trial_end"`
	CanceledAt         *time.Time         `json:"canceled_at"`
	PaymentMethodID    *string            `json:"payment_method_id"`
	ID                 string             `json:"id"`
	UserID             string             `json:"user_id"`
	PlanID             string             `json:"plan_id"`
	Status             SubscriptionStatus `json:"status"`
}

// IsLive returns true while the subscription is trialing or active
func (s *Subscription) IsLive() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusTrialing
}

// IsCanceled returns true once the subscription has been canceled or ended
func (s *Subscription) IsCanceled() bool {
	return s.Status == SubscriptionStatusCanceled || s.Status == SubscriptionStatusEnded
}

// CanBeInvoiced returns true if a new invoice may be created for this
// subscription
func (s *Subscription) CanBeInvoiced() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusPastDue
}

// BelongsTo returns true if the subscription is owned by the given user
func (s *Subscription) BelongsTo(userID string) bool {
	return s.UserID == userID
}

// AdvancePeriod moves the billing window forward by one plan interval.
// The new period starts where the old one ended.
func (s *Subscription) AdvancePeriod(billingInterval string) {
	s.CurrentPeriodStart = s.CurrentPeriodEnd
	s.CurrentPeriodEnd = NextPeriodEnd(s.CurrentPeriodStart, billingInterval)
}

// Cancel transitions the subscription to CANCELED at the given time
func (s *Subscription) Cancel(at time.Time) {
	s.Status = SubscriptionStatusCanceled
	s.CanceledAt = &at
}

// NextChargeAt returns when the gateway should execute the next scheduled
// charge: the trial end when one exists, otherwise the current period end.
func (s *Subscription) NextChargeAt() time.Time {
	if s.TrialEnd != nil {
		return *s.TrialEnd
	}
	return s.CurrentPeriodEnd
}
