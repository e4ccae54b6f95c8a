package entity

import (
	"context"

	"github.com/shahariaz/legacy_dump_migrator/internal/destination"
	"github.com/shahariaz/legacy_dump_migrator/internal/legacy"
	"github.com/shahariaz/legacy_dump_migrator/internal/pipeline"
)

// ServiceLink is one row of the target booking_services table
type ServiceLink struct {
	ServiceID string  `json:"service_id"`
	Price     *string `json:"price,omitempty"`
}

// Booking is a target appointment
type Booking struct {
	LegacyIDs   []string      `json:"legacy_ids"`
	CustomerID  string        `json:"customer_id"`
	StylistID   string        `json:"stylist_id"`
	AddressID   *string       `json:"address_id,omitempty"`
	ScheduledAt string        `json:"scheduled_at"`
	Status      string        `json:"status"`
	TotalAmount *string       `json:"total_amount,omitempty"`
	Notes       *string       `json:"notes,omitempty"`
	Services    []ServiceLink `json:"services"`
	CreatedAt   string        `json:"created_at"`
	UpdatedAt   string        `json:"updated_at"`
}

// BookingDefinition migrates bookings and their service links. Links come from both the
// embedded service_ids list and the booking_services table.
func BookingDefinition() pipeline.Definition[Booking] {
	return pipeline.Definition[Booking]{
		Name:      Bookings,
		Table:     TableBookings,
		DependsOn: []string{Users, Addresses, Services},
		Transform: transformBookings,
		Sources:   func(b *Booking) []pipeline.LegacyRef { return refs(MappingBookings, b.LegacyIDs) },
		Key:       bookingKey,
		Row:       bookingRow,
		Merge: func(into, dup *Booking) {
			into.LegacyIDs = append(into.LegacyIDs, dup.LegacyIDs...)
			into.Services = appendLinks(into.Services, dup.Services)
			if into.AddressID == nil {
				into.AddressID = dup.AddressID
			}
		},
		Children: []pipeline.Child[Booking]{{
			Table:      TableBookingServices,
			Rows:       serviceRows,
			References: []pipeline.Reference{{Column: "service_id", Table: TableServices}},
		}},
		References: []pipeline.Reference{
			{Column: "customer_id", Table: TableUsers},
			{Column: "stylist_id", Table: TableUsers},
			{Column: "address_id", Table: TableAddresses},
		},
		Compare: []string{"customer_id", "stylist_id", "scheduled_at", "status", "total_amount", "notes"},
	}
}

func transformBookings(ctx context.Context, in *pipeline.Input) (*pipeline.Extraction[Booking], error) {
	x := &pipeline.Extraction[Booking]{}
	v, err := views(in.IDs, MappingBuyers, MappingStylists, MappingAddresses, MappingServices)
	if err != nil {
		return nil, err
	}

	// booking legacy id -> links from the link table, in dump order
	linkRows, err := in.OptionalRows(legacy.TableBookingServices, &x.Tally)
	if err != nil {
		return nil, err
	}
	tableLinks := make(map[string][]legacy.BookingService)
	for _, row := range linkRows {
		bs, err := in.Mapper.BookingService(row)
		if err != nil {
			invalid(&x.Tally, Bookings, legacy.TableBookingServices, row, err)
			continue
		}
		tableLinks[bs.BookingID] = append(tableLinks[bs.BookingID], bs)
	}

	rows, err := in.Rows(legacy.TableBookings, &x.Tally)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		b, err := in.Mapper.Booking(row)
		if err != nil {
			invalid(&x.Tally, Bookings, legacy.TableBookings, row, err)
			continue
		}
		if x.Excluded(b.Audit, true) {
			continue
		}

		customerID, ok := v[MappingBuyers].Lookup(b.BuyerID)
		if !ok {
			x.Skip(Bookings, legacy.TableBookings, b.ID, notMigrated("buyer", b.BuyerID))
			continue
		}
		stylistID, ok := v[MappingStylists].Lookup(b.StylistID)
		if !ok {
			x.Skip(Bookings, legacy.TableBookings, b.ID, notMigrated("stylist", b.StylistID))
			continue
		}
		if b.ScheduledAt == nil {
			x.Skip(Bookings, legacy.TableBookings, b.ID, "missing scheduled_at")
			continue
		}

		rec := Booking{
			LegacyIDs:   []string{b.ID},
			CustomerID:  customerID,
			StylistID:   stylistID,
			ScheduledAt: *b.ScheduledAt,
			Status:      BookingStatus(b.Status),
			TotalAmount: money(b.TotalAmount),
			Notes:       b.Notes,
			CreatedAt:   b.CreatedAt,
			UpdatedAt:   b.UpdatedAt,
		}

		if b.AddressID != nil {
			if addressID, ok := v[MappingAddresses].Lookup(*b.AddressID); ok {
				rec.AddressID = &addressID
			} else {
				x.Add("unresolved_address", 1)
			}
		}

		var links []ServiceLink
		for _, serviceID := range b.ServiceIDs {
			links = append(links, resolveLink(x, v[MappingServices].Lookup, serviceID, nil)...)
		}
		for _, bs := range tableLinks[b.ID] {
			links = append(links, resolveLink(x, v[MappingServices].Lookup, bs.ServiceID, money(bs.Price))...)
		}
		before := len(links)
		rec.Services = appendLinks(nil, links)
		x.Add("duplicate_service_links", before-len(rec.Services))

		x.Records = append(x.Records, rec)
	}
	return x, nil
}

func resolveLink(x *pipeline.Extraction[Booking], lookup func(string) (string, bool), legacyID string, price *string) []ServiceLink {
	id, ok := lookup(legacyID)
	if !ok {
		x.Add("unresolved_service", 1)
		return nil
	}
	return []ServiceLink{{ServiceID: id, Price: price}}
}

// appendLinks adds links not already present, keyed by service. A later link only
// contributes its price when the kept one has none.
func appendLinks(into, more []ServiceLink) []ServiceLink {
	index := make(map[string]int, len(into))
	for i, l := range into {
		index[l.ServiceID] = i
	}
	for _, l := range more {
		if i, ok := index[l.ServiceID]; ok {
			if into[i].Price == nil {
				into[i].Price = l.Price
			}
			continue
		}
		index[l.ServiceID] = len(into)
		into = append(into, l)
	}
	return into
}

func bookingKey(b *Booking) destination.Key {
	return destination.NewKey("customer_id", b.CustomerID, "stylist_id", b.StylistID, "scheduled_at", b.ScheduledAt)
}

func bookingRow(b *Booking) destination.Row {
	return destination.Row{
		"customer_id":  b.CustomerID,
		"stylist_id":   b.StylistID,
		"address_id":   nullable(b.AddressID),
		"scheduled_at": b.ScheduledAt,
		"status":       b.Status,
		"total_amount": nullable(b.TotalAmount),
		"notes":        nullable(b.Notes),
		"created_at":   b.CreatedAt,
		"updated_at":   b.UpdatedAt,
	}
}

func serviceRows(b *Booking, bookingID string) []pipeline.ChildRow {
	rows := make([]pipeline.ChildRow, 0, len(b.Services))
	for _, link := range b.Services {
		rows = append(rows, pipeline.ChildRow{
			Key: destination.NewKey("booking_id", bookingID, "service_id", link.ServiceID),
			Row: destination.Row{
				"booking_id": bookingID,
				"service_id": link.ServiceID,
				"price":      nullable(link.Price),
			},
		})
	}
	return rows
}
