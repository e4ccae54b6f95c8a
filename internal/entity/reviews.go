package entity

import (
	"context"

	"github.com/shahariaz/legacy_dump_migrator/internal/destination"
	"github.com/shahariaz/legacy_dump_migrator/internal/legacy"
	"github.com/shahariaz/legacy_dump_migrator/internal/pipeline"
)

// Review is a customer's rating of a booking. A booking has at most one review.
type Review struct {
	LegacyID   string  `json:"legacy_id"`
	BookingID  string  `json:"booking_id"`
	CustomerID string  `json:"customer_id"`
	StylistID  string  `json:"stylist_id"`
	Rating     int64   `json:"rating"`
	Comment    *string `json:"comment,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// ReviewDefinition migrates reviews with a rating between 1 and 5
func ReviewDefinition() pipeline.Definition[Review] {
	return pipeline.Definition[Review]{
		Name:      Reviews,
		Table:     TableReviews,
		DependsOn: []string{Users, Bookings},
		Transform: transformReviews,
		Sources: func(r *Review) []pipeline.LegacyRef {
			return []pipeline.LegacyRef{{Mapping: MappingReviews, ID: r.LegacyID}}
		},
		Key: func(r *Review) destination.Key {
			return destination.NewKey("booking_id", r.BookingID)
		},
		Row: func(r *Review) destination.Row {
			return destination.Row{
				"booking_id":  r.BookingID,
				"customer_id": r.CustomerID,
				"stylist_id":  r.StylistID,
				"rating":      r.Rating,
				"comment":     nullable(r.Comment),
				"created_at":  r.CreatedAt,
			}
		},
		References: []pipeline.Reference{
			{Column: "booking_id", Table: TableBookings},
			{Column: "customer_id", Table: TableUsers},
			{Column: "stylist_id", Table: TableUsers},
		},
		Compare: []string{"customer_id", "stylist_id", "rating", "comment"},
	}
}

func transformReviews(ctx context.Context, in *pipeline.Input) (*pipeline.Extraction[Review], error) {
	x := &pipeline.Extraction[Review]{}
	v, err := views(in.IDs, MappingBuyers, MappingStylists, MappingBookings)
	if err != nil {
		return nil, err
	}

	rows, err := in.Rows(legacy.TableReviews, &x.Tally)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		r, err := in.Mapper.Review(row)
		if err != nil {
			invalid(&x.Tally, Reviews, legacy.TableReviews, row, err)
			continue
		}
		if x.Excluded(r.Audit, true) {
			continue
		}

		bookingID, ok := v[MappingBookings].Lookup(r.BookingID)
		if !ok {
			x.Skip(Reviews, legacy.TableReviews, r.ID, notMigrated("booking", r.BookingID))
			continue
		}
		customerID, ok := v[MappingBuyers].Lookup(r.BuyerID)
		if !ok {
			x.Skip(Reviews, legacy.TableReviews, r.ID, notMigrated("buyer", r.BuyerID))
			continue
		}
		stylistID, ok := v[MappingStylists].Lookup(r.StylistID)
		if !ok {
			x.Skip(Reviews, legacy.TableReviews, r.ID, notMigrated("stylist", r.StylistID))
			continue
		}
		if r.Rating == nil || *r.Rating < 1 || *r.Rating > 5 {
			x.Skip(Reviews, legacy.TableReviews, r.ID, "invalid rating")
			continue
		}

		x.Records = append(x.Records, Review{
			LegacyID:   r.ID,
			BookingID:  bookingID,
			CustomerID: customerID,
			StylistID:  stylistID,
			Rating:     *r.Rating,
			Comment:    r.Comment,
			CreatedAt:  r.CreatedAt,
		})
	}
	return x, nil
}
