package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PlanStatus represents the plan lifecycle state
type PlanStatus string

const (
	PlanStatusActive   PlanStatus = "ACTIVE"
	PlanStatusInactive PlanStatus = "INACTIVE"
)

// Billing interval values understood by period arithmetic. Anything else
// (including empty) is treated as monthly.
const (
	IntervalMonthly = "monthly"
	IntervalYearly  = "yearly"
)

// Plan represents a billable subscription plan. Plans are immutable once a
// live subscription references them, except for administrative deactivation.
type Plan struct {
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Price           decimal.Decimal `json:"price"`
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	BillingInterval string          `json:"billing_interval"`
	Status          PlanStatus      `json:"status"`
	TrialPeriodDays int             `json:"trial_period_days"`
}

// IsActive returns true if the plan can be subscribed to
func (p *Plan) IsActive() bool {
	return p.Status == PlanStatusActive
}

// HasTrial returns true if the plan starts subscriptions in a trial period
func (p *Plan) HasTrial() bool {
	return p.TrialPeriodDays > 0
}

// NextPeriodEnd advances start by one billing period. "yearly" and "annual"
// (case-insensitive) add one calendar year; any other interval adds one
// calendar month.
func NextPeriodEnd(start time.Time, billingInterval string) time.Time {
	switch strings.ToLower(billingInterval) {
	case "yearly", "annual":
		return start.AddDate(1, 0, 0)
	default:
		return start.AddDate(0, 1, 0)
	}
}
