package entity

import (
	"context"

	"github.com/shahariaz/legacy_dump_migrator/internal/destination"
	"github.com/shahariaz/legacy_dump_migrator/internal/legacy"
	"github.com/shahariaz/legacy_dump_migrator/internal/pipeline"
)

// Service is a stylist's priced offering
type Service struct {
	LegacyIDs       []string `json:"legacy_ids"`
	StylistID       string   `json:"stylist_id"`
	Name            string   `json:"name"`
	Description     *string  `json:"description,omitempty"`
	Price           string   `json:"price"`
	DurationMinutes *int64   `json:"duration_minutes,omitempty"`
	CreatedAt       string   `json:"created_at"`
}

// ServiceDefinition migrates active services of migrated stylists
func ServiceDefinition() pipeline.Definition[Service] {
	return pipeline.Definition[Service]{
		Name:      Services,
		Table:     TableServices,
		DependsOn: []string{Users},
		Transform: transformServices,
		Sources:   func(s *Service) []pipeline.LegacyRef { return refs(MappingServices, s.LegacyIDs) },
		Key: func(s *Service) destination.Key {
			return destination.NewKey("stylist_id", s.StylistID, "name", s.Name)
		},
		Row: func(s *Service) destination.Row {
			return destination.Row{
				"stylist_id":       s.StylistID,
				"name":             s.Name,
				"description":      nullable(s.Description),
				"price":            s.Price,
				"duration_minutes": nullable(s.DurationMinutes),
				"created_at":       s.CreatedAt,
			}
		},
		Merge: func(into, dup *Service) {
			into.LegacyIDs = append(into.LegacyIDs, dup.LegacyIDs...)
		},
		References: []pipeline.Reference{{Column: "stylist_id", Table: TableUsers}},
		Compare:    []string{"stylist_id", "name", "price", "duration_minutes"},
	}
}

func transformServices(ctx context.Context, in *pipeline.Input) (*pipeline.Extraction[Service], error) {
	x := &pipeline.Extraction[Service]{}
	stylists, err := in.IDs.View(MappingStylists)
	if err != nil {
		return nil, err
	}

	rows, err := in.Rows(legacy.TableServices, &x.Tally)
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		s, err := in.Mapper.Service(row)
		if err != nil {
			invalid(&x.Tally, Services, legacy.TableServices, row, err)
			continue
		}
		if x.Excluded(s.Audit, s.Active) {
			continue
		}

		stylistID, ok := stylists.Lookup(s.StylistID)
		if !ok {
			x.Skip(Services, legacy.TableServices, s.ID, notMigrated("stylist", s.StylistID))
			continue
		}
		price := money(s.Price)
		if price == nil {
			x.Skip(Services, legacy.TableServices, s.ID, "invalid price")
			continue
		}

		x.Records = append(x.Records, Service{
			LegacyIDs:       []string{s.ID},
			StylistID:       stylistID,
			Name:            s.Name,
			Description:     s.Description,
			Price:           *price,
			DurationMinutes: s.DurationMinutes,
			CreatedAt:       s.CreatedAt,
		})
	}
	return x, nil
}
