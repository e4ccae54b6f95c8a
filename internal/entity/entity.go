// Package entity defines how each legacy entity type maps onto the target schema:
// target records, natural keys, status translation and owner resolution.
package entity

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/shahariaz/legacy_dump_migrator/internal/dump"
	"github.com/shahariaz/legacy_dump_migrator/internal/idmap"
	"github.com/shahariaz/legacy_dump_migrator/internal/pipeline"
)

// Entity names, in migration order
const (
	Users     = "users"
	Addresses = "addresses"
	Services  = "services"
	Bookings  = "bookings"
	Payments  = "payments"
	Chats     = "chats"
	Reviews   = "reviews"
)

// Identifier mapping names. Users write two: one per legacy account table.
const (
	MappingBuyers    = "buyers"
	MappingStylists  = "stylists"
	MappingAddresses = "addresses"
	MappingServices  = "services"
	MappingBookings  = "bookings"
	MappingPayments  = "payments"
	MappingChats     = "chats"
	MappingReviews   = "reviews"
)

// Destination tables
const (
	TableUsers           = "users"
	TableStylistProfiles = "stylist_profiles"
	TableAddresses       = "addresses"
	TableServices        = "services"
	TableBookings        = "bookings"
	TableBookingServices = "booking_services"
	TablePayments        = "payments"
	TableChats           = "chats"
	TableChatMessages    = "chat_messages"
	TableReviews         = "reviews"
)

// Order lists every entity so that owners come before dependents
var Order = []string{Users, Addresses, Services, Bookings, Payments, Chats, Reviews}

// Migrators returns a migrator per entity in Order
func Migrators() []pipeline.Migrator {
	return []pipeline.Migrator{
		pipeline.New(UserDefinition()),
		pipeline.New(AddressDefinition()),
		pipeline.New(ServiceDefinition()),
		pipeline.New(BookingDefinition()),
		pipeline.New(PaymentDefinition()),
		pipeline.New(ChatDefinition()),
		pipeline.New(ReviewDefinition()),
	}
}

func refs(mapping string, ids []string) []pipeline.LegacyRef {
	out := make([]pipeline.LegacyRef, len(ids))
	for i, id := range ids {
		out[i] = pipeline.LegacyRef{Mapping: mapping, ID: id}
	}
	return out
}

// views loads snapshots of the named mappings
func views(ids *idmap.Store, names ...string) (map[string]idmap.View, error) {
	out := make(map[string]idmap.View, len(names))
	for _, name := range names {
		v, err := ids.View(name)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s mapping: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func notMigrated(what, legacyID string) string {
	return fmt.Sprintf("%s %s not migrated", what, legacyID)
}

// invalid records a row the mapper rejected
func invalid(t *pipeline.Tally, entity, table string, row dump.RawRow, err error) {
	t.Skip(entity, table, row.String("id"), err.Error())
}

// money renders an amount with two decimal places
func money(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.StringFixed(2)
	return &s
}

// nullable converts an optional value to a column value that is a real nil when absent
func nullable[T any](p *T) interface{} {
	if p == nil {
		return nil
	}
	return *p
}
