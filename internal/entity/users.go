package entity

import (
	"context"
	"strings"

	"github.com/shahariaz/legacy_dump_migrator/internal/destination"
	"github.com/shahariaz/legacy_dump_migrator/internal/legacy"
	"github.com/shahariaz/legacy_dump_migrator/internal/pipeline"
)

// Roles in the target users table
const (
	RoleCustomer = "customer"
	RoleStylist  = "stylist"
)

// StylistProfile is the stylist-only part of a user
type StylistProfile struct {
	BusinessName *string `json:"business_name,omitempty"`
	Bio          *string `json:"bio,omitempty"`
	Verified     bool    `json:"verified"`
}

// User is a target account built from a buyer, a stylist or both
type User struct {
	Sources   []pipeline.LegacyRef `json:"sources"`
	Email     string               `json:"email"`
	FirstName string               `json:"first_name"`
	LastName  string               `json:"last_name"`
	Phone     *string              `json:"phone,omitempty"`
	Role      string               `json:"role"`
	Profile   *StylistProfile      `json:"profile,omitempty"`
	CreatedAt string               `json:"created_at"`
	UpdatedAt string               `json:"updated_at"`
}

// UserDefinition migrates buyers and stylists into users. Accounts sharing an e-mail
// address become one user; a stylist account wins the role.
func UserDefinition() pipeline.Definition[User] {
	return pipeline.Definition[User]{
		Name:      Users,
		Table:     TableUsers,
		Transform: transformUsers,
		Sources:   func(u *User) []pipeline.LegacyRef { return u.Sources },
		Key: func(u *User) destination.Key {
			return destination.NewKey("email", u.Email)
		},
		Row:      userRow,
		Merge:    mergeUsers,
		Children: []pipeline.Child[User]{{Table: TableStylistProfiles, Rows: profileRows}},
		Compare: []string{
			"email", "first_name", "last_name", "role",
		},
	}
}

func transformUsers(ctx context.Context, in *pipeline.Input) (*pipeline.Extraction[User], error) {
	x := &pipeline.Extraction[User]{}

	buyers, err := in.Rows(legacy.TableBuyers, &x.Tally)
	if err != nil {
		return nil, err
	}
	for _, row := range buyers {
		b, err := in.Mapper.Buyer(row)
		if err != nil {
			invalid(&x.Tally, Users, legacy.TableBuyers, row, err)
			continue
		}
		if x.Excluded(b.Audit, b.Active) {
			continue
		}
		if b.Email == nil {
			x.Skip(Users, legacy.TableBuyers, b.ID, "missing email")
			continue
		}
		x.Records = append(x.Records, User{
			Sources:   []pipeline.LegacyRef{{Mapping: MappingBuyers, ID: b.ID}},
			Email:     strings.ToLower(*b.Email),
			FirstName: b.FirstName,
			LastName:  b.LastName,
			Phone:     b.Phone,
			Role:      RoleCustomer,
			CreatedAt: b.CreatedAt,
			UpdatedAt: b.UpdatedAt,
		})
	}

	stylists, err := in.Rows(legacy.TableStylists, &x.Tally)
	if err != nil {
		return nil, err
	}
	for _, row := range stylists {
		s, err := in.Mapper.Stylist(row)
		if err != nil {
			invalid(&x.Tally, Users, legacy.TableStylists, row, err)
			continue
		}
		if x.Excluded(s.Audit, s.Active) {
			continue
		}
		if s.Email == nil {
			x.Skip(Users, legacy.TableStylists, s.ID, "missing email")
			continue
		}
		x.Records = append(x.Records, User{
			Sources:   []pipeline.LegacyRef{{Mapping: MappingStylists, ID: s.ID}},
			Email:     strings.ToLower(*s.Email),
			FirstName: s.FirstName,
			LastName:  s.LastName,
			Phone:     s.Phone,
			Role:      RoleStylist,
			Profile: &StylistProfile{
				BusinessName: s.BusinessName,
				Bio:          s.Bio,
				Verified:     s.Verified,
			},
			CreatedAt: s.CreatedAt,
			UpdatedAt: s.UpdatedAt,
		})
	}

	return x, nil
}

func mergeUsers(into, dup *User) {
	into.Sources = append(into.Sources, dup.Sources...)
	if dup.Role == RoleStylist {
		into.Role = RoleStylist
		if into.Profile == nil {
			into.Profile = dup.Profile
		}
	}
	if into.Phone == nil {
		into.Phone = dup.Phone
	}
	if into.FirstName == "" {
		into.FirstName = dup.FirstName
	}
	if into.LastName == "" {
		into.LastName = dup.LastName
	}
	if dup.CreatedAt < into.CreatedAt {
		into.CreatedAt = dup.CreatedAt
	}
}

func userRow(u *User) destination.Row {
	return destination.Row{
		"email":      u.Email,
		"first_name": u.FirstName,
		"last_name":  u.LastName,
		"phone":      nullable(u.Phone),
		"role":       u.Role,
		"created_at": u.CreatedAt,
		"updated_at": u.UpdatedAt,
	}
}

func profileRows(u *User, userID string) []pipeline.ChildRow {
	if u.Profile == nil {
		return nil
	}
	return []pipeline.ChildRow{{
		LegacyID: u.legacyID(MappingStylists),
		Key:      destination.NewKey("user_id", userID),
		Row: destination.Row{
			"user_id":       userID,
			"business_name": nullable(u.Profile.BusinessName),
			"bio":           nullable(u.Profile.Bio),
			"is_verified":   u.Profile.Verified,
			"created_at":    u.CreatedAt,
		},
	}}
}

// legacyID returns the first source id of the user in mapping, or ""
func (u *User) legacyID(mapping string) string {
	for _, ref := range u.Sources {
		if ref.Mapping == mapping {
			return ref.ID
		}
	}
	return ""
}
