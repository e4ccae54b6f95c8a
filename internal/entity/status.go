package entity

import (
	"strings"
)

// Booking statuses in the target schema
const (
	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
	BookingCompleted = "completed"
	BookingCancelled = "cancelled"
	BookingNoShow    = "no_show"
)

// Payment statuses in the target schema
const (
	PaymentPending    = "pending"
	PaymentProcessing = "processing"
	PaymentSucceeded  = "succeeded"
	PaymentCancelled  = "cancelled"
	PaymentRefunded   = "refunded"
	PaymentFailed     = "failed"
)

// DefaultCurrency applies when a payment has none
const DefaultCurrency = "gbp"

// BookingStatus maps the legacy integer status. Every input has an answer.
func BookingStatus(legacy *int64) string {
	if legacy == nil {
		return BookingPending
	}
	switch *legacy {
	case 0:
		return BookingPending
	case 1:
		return BookingConfirmed
	case 2:
		return BookingCompleted
	case 3, 4: // cancelled by customer, cancelled by stylist
		return BookingCancelled
	case 5:
		return BookingNoShow
	default:
		return BookingPending
	}
}

// PaymentStatus maps a legacy payment provider status. Every input has an answer.
func PaymentStatus(legacy *string) string {
	if legacy == nil {
		return PaymentPending
	}
	s := strings.ToLower(strings.TrimSpace(*legacy))
	switch {
	case s == "succeeded":
		return PaymentSucceeded
	case s == "processing":
		return PaymentProcessing
	case strings.HasPrefix(s, "requires_"):
		return PaymentPending
	case s == "canceled", s == "cancelled":
		return PaymentCancelled
	case s == "refunded":
		return PaymentRefunded
	case s == "failed":
		return PaymentFailed
	default:
		return PaymentPending
	}
}

// Currency normalises a currency code
func Currency(legacy *string) string {
	if legacy == nil {
		return DefaultCurrency
	}
	c := strings.ToLower(strings.TrimSpace(*legacy))
	if c == "" {
		return DefaultCurrency
	}
	return c
}
