package entity

import (
	"github.com/shahariaz/legacy_dump_migrator/internal/idmap"
)

// OwnerKind says which legacy account table a polymorphic user id referred to
type OwnerKind string

const (
	OwnerBuyer   OwnerKind = "buyer"
	OwnerStylist OwnerKind = "stylist"
)

// Owner is a resolved polymorphic reference. The zero value is Unresolved.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"` // target user id
}

// Unresolved is the owner of a reference found in neither mapping
var Unresolved = Owner{}

// Resolved reports whether the owner was found
func (o Owner) Resolved() bool {
	return o.Kind != ""
}

// ResolveOwner looks a legacy user id up as a buyer first, then as a stylist
func ResolveOwner(buyers, stylists idmap.View, legacyID string) Owner {
	if id, ok := buyers.Lookup(legacyID); ok {
		return Owner{Kind: OwnerBuyer, ID: id}
	}
	if id, ok := stylists.Lookup(legacyID); ok {
		return Owner{Kind: OwnerStylist, ID: id}
	}
	return Unresolved
}
