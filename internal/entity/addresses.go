package entity

import (
	"context"
	"fmt"

	"github.com/shahariaz/legacy_dump_migrator/internal/destination"
	"github.com/shahariaz/legacy_dump_migrator/internal/geocode"
	"github.com/shahariaz/legacy_dump_migrator/internal/legacy"
	"github.com/shahariaz/legacy_dump_migrator/internal/pipeline"
)

// Address is a target address owned by a user
type Address struct {
	LegacyIDs  []string `json:"legacy_ids"`
	UserID     string   `json:"user_id"`
	OwnerKind  string   `json:"owner_kind"`
	Line1      string   `json:"address_line_1"`
	Line2      *string  `json:"address_line_2,omitempty"`
	City       *string  `json:"city,omitempty"`
	Postcode   *string  `json:"postcode,omitempty"`
	Country    *string  `json:"country,omitempty"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
	Confidence *string  `json:"geocode_confidence,omitempty"` // nil when the dump had coordinates
	IsDefault  bool     `json:"is_default"`
	CreatedAt  string   `json:"created_at"`
}

// AddressDefinition migrates addresses, resolving their polymorphic owner and geocoding
// those without coordinates.
func AddressDefinition() pipeline.Definition[Address] {
	return pipeline.Definition[Address]{
		Name:      Addresses,
		Table:     TableAddresses,
		DependsOn: []string{Users},
		Transform: transformAddresses,
		Sources:   func(a *Address) []pipeline.LegacyRef { return refs(MappingAddresses, a.LegacyIDs) },
		Key: func(a *Address) destination.Key {
			return destination.NewKey("user_id", a.UserID, "address_line_1", a.Line1, "postcode", nullable(a.Postcode))
		},
		Row: addressRow,
		Merge: func(into, dup *Address) {
			into.LegacyIDs = append(into.LegacyIDs, dup.LegacyIDs...)
			into.IsDefault = into.IsDefault || dup.IsDefault
		},
		References: []pipeline.Reference{{Column: "user_id", Table: TableUsers}},
		Compare: []string{
			"user_id", "address_line_1", "address_line_2", "city", "postcode", "country",
		},
	}
}

func transformAddresses(ctx context.Context, in *pipeline.Input) (*pipeline.Extraction[Address], error) {
	x := &pipeline.Extraction[Address]{}
	v, err := views(in.IDs, MappingBuyers, MappingStylists)
	if err != nil {
		return nil, err
	}

	rows, err := in.Rows(legacy.TableAddresses, &x.Tally)
	if err != nil {
		return nil, err
	}

	var (
		pending  []int
		requests []geocode.Request
	)
	for _, row := range rows {
		a, err := in.Mapper.Address(row)
		if err != nil {
			invalid(&x.Tally, Addresses, legacy.TableAddresses, row, err)
			continue
		}
		if x.Excluded(a.Audit, true) {
			continue
		}

		owner := ResolveOwner(v[MappingBuyers], v[MappingStylists], a.UserID)
		if !owner.Resolved() {
			x.Skip(Addresses, legacy.TableAddresses, a.ID,
				fmt.Sprintf("owner %s is neither a migrated buyer nor a migrated stylist", a.UserID))
			continue
		}

		rec := Address{
			LegacyIDs: []string{a.ID},
			UserID:    owner.ID,
			OwnerKind: string(owner.Kind),
			Line1:     a.Line1,
			Line2:     a.Line2,
			City:      a.City,
			Postcode:  a.Postcode,
			Country:   a.Country,
			Latitude:  a.Latitude,
			Longitude: a.Longitude,
			IsDefault: a.IsDefault,
			CreatedAt: a.CreatedAt,
		}
		if !a.HasCoordinates() {
			rec.Latitude, rec.Longitude = nil, nil
			pending = append(pending, len(x.Records))
			requests = append(requests, geocode.Request{
				Query:    geocode.Query(a.Line1, deref(a.Line2), deref(a.City), deref(a.Postcode), deref(a.Country)),
				Postcode: deref(a.Postcode),
			})
		}
		x.Records = append(x.Records, rec)
	}

	if len(pending) > 0 {
		results := in.Enricher.Batch(ctx, requests)
		for i, idx := range pending {
			res := results[i]
			rec := &x.Records[idx]
			conf := string(res.Confidence)
			rec.Confidence = &conf
			if res.Confidence == geocode.ConfidenceNone {
				x.Add("geocode_unmatched", 1)
				continue
			}
			rec.Latitude, rec.Longitude = res.Latitude, res.Longitude
			x.Add("geocoded", 1)
		}
		in.Logger.Info("Address enrichment finished",
			"requested", len(pending),
			"geocoded", x.Extra["geocoded"],
			"unmatched", x.Extra["geocode_unmatched"])
	}

	return x, nil
}

func addressRow(a *Address) destination.Row {
	return destination.Row{
		"user_id":            a.UserID,
		"address_line_1":     a.Line1,
		"address_line_2":     nullable(a.Line2),
		"city":               nullable(a.City),
		"postcode":           nullable(a.Postcode),
		"country":            nullable(a.Country),
		"latitude":           nullable(a.Latitude),
		"longitude":          nullable(a.Longitude),
		"geocode_confidence": nullable(a.Confidence),
		"is_default":         a.IsDefault,
		"created_at":         a.CreatedAt,
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
