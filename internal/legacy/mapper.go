package legacy

import (
	"strings"

	"github.com/shahariaz/legacy_dump_migrator/internal/coerce"
	"github.com/shahariaz/legacy_dump_migrator/internal/dump"
)

// Mapper turns dump rows into typed legacy records. It is pure apart from the clock
// used to default missing timestamps.
type Mapper struct {
	Clock coerce.Clock
}

// NewMapper returns a mapper using clock for timestamp defaults
func NewMapper(clock coerce.Clock) *Mapper {
	if clock == nil {
		clock = coerce.SystemClock
	}
	return &Mapper{Clock: clock}
}

func (m *Mapper) audit(row dump.RawRow) Audit {
	created, defaulted := coerce.Timestamp(row.Value("created_at"), m.Clock)
	return Audit{
		DeletedAt:          coerce.OptionalTimestamp(row.Value("deleted_at")),
		CreatedAt:          created,
		CreatedAtDefaulted: defaulted,
	}
}

func (m *Mapper) updated(row dump.RawRow, fallback string) string {
	if ts := coerce.OptionalTimestamp(row.Value("updated_at")); ts != nil {
		return *ts
	}
	return fallback
}

// required returns the trimmed text of a column that must be present
func required(row dump.RawRow, table, col string) (string, error) {
	v := coerce.NonEmpty(row.Value(col))
	if v == nil {
		return "", &FieldError{Table: table, Field: col, Err: coerce.ErrMissing}
	}
	return *v, nil
}

// id reads an identifier column; legacy ids are integers but are kept as text
func id(row dump.RawRow, table, col string) (string, error) {
	s, err := required(row, table, col)
	if err != nil {
		return "", err
	}
	if _, err := coerce.RequiredInt(row.Value(col)); err != nil {
		return "", &FieldError{Table: table, Field: col, Err: err}
	}
	return s, nil
}

func optionalID(row dump.RawRow, col string) *string {
	v := coerce.NonEmpty(row.Value(col))
	if v == nil || *v == "0" {
		return nil
	}
	return v
}

func text(row dump.RawRow, col string) string {
	return strings.TrimSpace(row.String(col))
}

// Buyer maps a buyers row
func (m *Mapper) Buyer(row dump.RawRow) (Buyer, error) {
	pk, err := id(row, TableBuyers, "id")
	if err != nil {
		return Buyer{}, err
	}
	audit := m.audit(row)
	return Buyer{
		ID:        pk,
		FirstName: text(row, "first_name"),
		LastName:  text(row, "last_name"),
		Email:     coerce.NonEmpty(row.Value("email")),
		Phone:     coerce.NonEmpty(row.Value("phone")),
		Active:    coerce.Bool(row.Value("is_active")),
		UpdatedAt: m.updated(row, audit.CreatedAt),
		Audit:     audit,
	}, nil
}

// Stylist maps a stylists row
func (m *Mapper) Stylist(row dump.RawRow) (Stylist, error) {
	pk, err := id(row, TableStylists, "id")
	if err != nil {
		return Stylist{}, err
	}
	audit := m.audit(row)
	return Stylist{
		ID:           pk,
		BusinessName: coerce.NonEmpty(row.Value("business_name")),
		FirstName:    text(row, "first_name"),
		LastName:     text(row, "last_name"),
		Email:        coerce.NonEmpty(row.Value("email")),
		Phone:        coerce.NonEmpty(row.Value("phone")),
		Bio:          coerce.NonEmpty(row.Value("bio")),
		Verified:     coerce.Bool(row.Value("is_verified")),
		Active:       coerce.Bool(row.Value("is_active")),
		UpdatedAt:    m.updated(row, audit.CreatedAt),
		Audit:        audit,
	}, nil
}

// Address maps an addresses row
func (m *Mapper) Address(row dump.RawRow) (Address, error) {
	pk, err := id(row, TableAddresses, "id")
	if err != nil {
		return Address{}, err
	}
	owner, err := id(row, TableAddresses, "user_id")
	if err != nil {
		return Address{}, err
	}
	line1, err := required(row, TableAddresses, "address_line_1")
	if err != nil {
		return Address{}, err
	}
	return Address{
		ID:        pk,
		UserID:    owner,
		Line1:     line1,
		Line2:     coerce.NonEmpty(row.Value("address_line_2")),
		City:      coerce.NonEmpty(row.Value("city")),
		Postcode:  coerce.NonEmpty(row.Value("postcode")),
		Country:   coerce.NonEmpty(row.Value("country")),
		Location:  coerce.OptionalString(row.Value("location")),
		Latitude:  coerce.OptionalFloat(row.Value("latitude")),
		Longitude: coerce.OptionalFloat(row.Value("longitude")),
		IsDefault: coerce.Bool(row.Value("is_default")),
		Audit:     m.audit(row),
	}, nil
}

// Service maps a services row
func (m *Mapper) Service(row dump.RawRow) (Service, error) {
	pk, err := id(row, TableServices, "id")
	if err != nil {
		return Service{}, err
	}
	stylist, err := id(row, TableServices, "stylist_id")
	if err != nil {
		return Service{}, err
	}
	name, err := required(row, TableServices, "name")
	if err != nil {
		return Service{}, err
	}
	return Service{
		ID:              pk,
		StylistID:       stylist,
		Name:            name,
		Description:     coerce.NonEmpty(row.Value("description")),
		Price:           coerce.OptionalDecimal(row.Value("price")),
		DurationMinutes: coerce.OptionalInt(row.Value("duration_minutes")),
		Active:          coerce.Bool(row.Value("is_active")),
		Audit:           m.audit(row),
	}, nil
}

// Booking maps a bookings row
func (m *Mapper) Booking(row dump.RawRow) (Booking, error) {
	pk, err := id(row, TableBookings, "id")
	if err != nil {
		return Booking{}, err
	}
	buyer, err := id(row, TableBookings, "buyer_id")
	if err != nil {
		return Booking{}, err
	}
	stylist, err := id(row, TableBookings, "stylist_id")
	if err != nil {
		return Booking{}, err
	}
	audit := m.audit(row)
	return Booking{
		ID:          pk,
		BuyerID:     buyer,
		StylistID:   stylist,
		AddressID:   optionalID(row, "address_id"),
		ServiceIDs:  coerce.IDList(row.Value("service_ids")),
		ScheduledAt: coerce.OptionalTimestamp(row.Value("scheduled_at")),
		Status:      coerce.OptionalInt(row.Value("status")),
		TotalAmount: coerce.OptionalDecimal(row.Value("total_amount")),
		Notes:       coerce.NonEmpty(row.Value("notes")),
		UpdatedAt:   m.updated(row, audit.CreatedAt),
		Audit:       audit,
	}, nil
}

// BookingService maps a booking_services row
func (m *Mapper) BookingService(row dump.RawRow) (BookingService, error) {
	pk, err := id(row, TableBookingServices, "id")
	if err != nil {
		return BookingService{}, err
	}
	booking, err := id(row, TableBookingServices, "booking_id")
	if err != nil {
		return BookingService{}, err
	}
	service, err := id(row, TableBookingServices, "service_id")
	if err != nil {
		return BookingService{}, err
	}
	return BookingService{
		ID:        pk,
		BookingID: booking,
		ServiceID: service,
		Price:     coerce.OptionalDecimal(row.Value("price")),
	}, nil
}

// Payment maps a payments row
func (m *Mapper) Payment(row dump.RawRow) (Payment, error) {
	pk, err := id(row, TablePayments, "id")
	if err != nil {
		return Payment{}, err
	}
	booking, err := id(row, TablePayments, "booking_id")
	if err != nil {
		return Payment{}, err
	}
	return Payment{
		ID:              pk,
		BookingID:       booking,
		PaymentIntentID: coerce.NonEmpty(row.Value("payment_intent_id")),
		Amount:          coerce.OptionalDecimal(row.Value("amount")),
		Currency:        coerce.NonEmpty(row.Value("currency")),
		Status:          coerce.NonEmpty(row.Value("status")),
		Audit:           m.audit(row),
	}, nil
}

// Chat maps a chats row
func (m *Mapper) Chat(row dump.RawRow) (Chat, error) {
	pk, err := id(row, TableChats, "id")
	if err != nil {
		return Chat{}, err
	}
	buyer, err := id(row, TableChats, "buyer_id")
	if err != nil {
		return Chat{}, err
	}
	stylist, err := id(row, TableChats, "stylist_id")
	if err != nil {
		return Chat{}, err
	}
	return Chat{
		ID:        pk,
		BuyerID:   buyer,
		StylistID: stylist,
		BookingID: optionalID(row, "booking_id"),
		Audit:     m.audit(row),
	}, nil
}

// Message maps a chat_messages row
func (m *Mapper) Message(row dump.RawRow) (Message, error) {
	pk, err := id(row, TableChatMessages, "id")
	if err != nil {
		return Message{}, err
	}
	chat, err := id(row, TableChatMessages, "chat_id")
	if err != nil {
		return Message{}, err
	}
	sender, err := id(row, TableChatMessages, "sender_id")
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:       pk,
		ChatID:   chat,
		SenderID: sender,
		Body:     row.String("message"),
		Read:     coerce.Bool(row.Value("is_read")),
		Audit:    m.audit(row),
	}, nil
}

// Review maps a reviews row
func (m *Mapper) Review(row dump.RawRow) (Review, error) {
	pk, err := id(row, TableReviews, "id")
	if err != nil {
		return Review{}, err
	}
	booking, err := id(row, TableReviews, "booking_id")
	if err != nil {
		return Review{}, err
	}
	buyer, err := id(row, TableReviews, "buyer_id")
	if err != nil {
		return Review{}, err
	}
	stylist, err := id(row, TableReviews, "stylist_id")
	if err != nil {
		return Review{}, err
	}
	return Review{
		ID:        pk,
		BookingID: booking,
		BuyerID:   buyer,
		StylistID: stylist,
		Rating:    coerce.OptionalInt(row.Value("rating")),
		Comment:   coerce.NonEmpty(row.Value("comment")),
		Audit:     m.audit(row),
	}, nil
}
