package entity

import (
	"context"

	"github.com/shahariaz/legacy_dump_migrator/internal/destination"
	"github.com/shahariaz/legacy_dump_migrator/internal/legacy"
	"github.com/shahariaz/legacy_dump_migrator/internal/pipeline"
)

// Payment is a target payment against a booking
type Payment struct {
	LegacyIDs       []string `json:"legacy_ids"`
	BookingID       string   `json:"booking_id"`
	PaymentIntentID string   `json:"payment_intent_id"`
	Amount          string   `json:"amount"`
	Currency        string   `json:"currency"`
	Status          string   `json:"status"`
	CreatedAt       string   `json:"created_at"`
}

// PaymentDefinition migrates payments keyed by their provider payment intent
func PaymentDefinition() pipeline.Definition[Payment] {
	return pipeline.Definition[Payment]{
		Name:      Payments,
		Table:     TablePayments,
		DependsOn: []string{Bookings},
		Transform: transformPayments,
		Sources:   func(p *Payment) []pipeline.LegacyRef { return refs(MappingPayments, p.LegacyIDs) },
		Key: func(p *Payment) destination.Key {
			return destination.NewKey("payment_intent_id", p.PaymentIntentID)
		},
		Row: func(p *Payment) destination.Row {
			return destination.Row{
				"booking_id":        p.BookingID,
				"payment_intent_id": p.PaymentIntentID,
				"amount":            p.Amount,
				"currency":          p.Currency,
				"status":            p.Status,
				"created_at":        p.CreatedAt,
			}
		},
		Merge: func(into, dup *Payment) {
			into.LegacyIDs = append(into.LegacyIDs, dup.LegacyIDs...)
		},
		References: []pipeline.Reference{{Column: "booking_id", Table: TableBookings}},
		Compare:    []string{"booking_id", "amount", "currency", "status"},
	}
}

func transformPayments(ctx context.Context, in *pipeline.Input) (*pipeline.Extraction[Payment], error) {
	x := &pipeline.Extraction[Payment]{}
	bookings, err := in.IDs.View(MappingBookings)
	if err != nil {
		return nil, err
	}

	rows, err := in.Rows(legacy.TablePayments, &x.Tally)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		p, err := in.Mapper.Payment(row)
		if err != nil {
			invalid(&x.Tally, Payments, legacy.TablePayments, row, err)
			continue
		}
		if x.Excluded(p.Audit, true) {
			continue
		}

		bookingID, ok := bookings.Lookup(p.BookingID)
		if !ok {
			x.Skip(Payments, legacy.TablePayments, p.ID, notMigrated("booking", p.BookingID))
			continue
		}
		if p.PaymentIntentID == nil {
			x.Skip(Payments, legacy.TablePayments, p.ID, "missing payment intent id")
			continue
		}
		amount := money(p.Amount)
		if amount == nil {
			x.Skip(Payments, legacy.TablePayments, p.ID, "invalid amount")
			continue
		}

		x.Records = append(x.Records, Payment{
			LegacyIDs:       []string{p.ID},
			BookingID:       bookingID,
			PaymentIntentID: *p.PaymentIntentID,
			Amount:          *amount,
			Currency:        Currency(p.Currency),
			Status:          PaymentStatus(p.Status),
			CreatedAt:       p.CreatedAt,
		})
	}
	return x, nil
}
