// Package legacy defines typed records for the legacy dump tables and the row mapper
// that builds them from parsed dump rows.
package legacy

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Source table names in the legacy dump
const (
	TableBuyers          = "buyers"
	TableStylists        = "stylists"
	TableAddresses       = "addresses"
	TableServices        = "services"
	TableBookings        = "bookings"
	TableBookingServices = "booking_services"
	TablePayments        = "payments"
	TableChats           = "chats"
	TableChatMessages    = "chat_messages"
	TableReviews         = "reviews"
)

// FieldError reports a required field that could not be coerced
type FieldError struct {
	Table string
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Table, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// Audit carries the soft-delete and timestamp columns most tables share
type Audit struct {
	DeletedAt *string // Non-nil means soft-deleted
	CreatedAt string
	// CreatedAtDefaulted is set when created_at was missing and processing time was used
	CreatedAtDefaulted bool
}

// Deleted reports whether the row was soft-deleted in the legacy system
func (a Audit) Deleted() bool {
	return a.DeletedAt != nil
}

// Buyer is a customer account
type Buyer struct {
	ID        string
	FirstName string
	LastName  string
	Email     *string
	Phone     *string
	Active    bool
	UpdatedAt string
	Audit
}

// Stylist is a service provider account
type Stylist struct {
	ID           string
	BusinessName *string
	FirstName    string
	LastName     string
	Email        *string
	Phone        *string
	Bio          *string
	Verified     bool
	Active       bool
	UpdatedAt    string
	Audit
}

// Address belongs to either a buyer or a stylist; UserID does not say which
type Address struct {
	ID        string
	UserID    string
	Line1     string
	Line2     *string
	City      *string
	Postcode  *string
	Country   *string
	Location  *string // opaque POINT literal, never decoded
	Latitude  *float64
	Longitude *float64
	IsDefault bool
	Audit
}

// HasCoordinates reports whether both latitude and longitude are present
func (a Address) HasCoordinates() bool {
	return a.Latitude != nil && a.Longitude != nil
}

// Service is a priced offering of a stylist
type Service struct {
	ID              string
	StylistID       string
	Name            string
	Description     *string
	Price           *decimal.Decimal
	DurationMinutes *int64
	Active          bool
	Audit
}

// Booking is an appointment between a buyer and a stylist
type Booking struct {
	ID          string
	BuyerID     string
	StylistID   string
	AddressID   *string
	ServiceIDs  []string // embedded JSON list; empty when unparsable
	ScheduledAt *string
	Status      *int64
	TotalAmount *decimal.Decimal
	Notes       *string
	UpdatedAt   string
	Audit
}

// BookingService is a row of the booking_services link table
type BookingService struct {
	ID        string
	BookingID string
	ServiceID string
	Price     *decimal.Decimal
}

// Payment is a card payment against a booking
type Payment struct {
	ID              string
	BookingID       string
	PaymentIntentID *string
	Amount          *decimal.Decimal
	Currency        *string
	Status          *string
	Audit
}

// Chat is a conversation between a buyer and a stylist
type Chat struct {
	ID        string
	BuyerID   string
	StylistID string
	BookingID *string
	Audit
}

// Message is a chat message; SenderID may be a buyer or a stylist
type Message struct {
	ID       string
	ChatID   string
	SenderID string
	Body     string
	Read     bool
	Audit
}

// Review is a buyer's rating of a completed booking
type Review struct {
	ID        string
	BookingID string
	BuyerID   string
	StylistID string
	Rating    *int64
	Comment   *string
	Audit
}
