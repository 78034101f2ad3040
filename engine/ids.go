package engine

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ID is an opaque, stable identifier: a 24-character hex ObjectID.
type ID string

// NewID allocates a fresh identifier.
func NewID() ID {
	return ID(primitive.NewObjectID().Hex())
}

// ParseID validates s and returns it as an ID.
// Malformed identifiers fail with ErrInvalidArgument before any lookup.
func ParseID(field, s string) (ID, error) {
	oid, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return "", invalidArgument("parse_id", "invalid %s format: %q", field, s)
	}
	return ID(oid.Hex()), nil
}

// ParseOptionalID is ParseID for optional references; empty input yields nil.
func ParseOptionalID(field, s string) (*ID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := ParseID(field, s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (id ID) String() string { return string(id) }
