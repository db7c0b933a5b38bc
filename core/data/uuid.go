package data

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// UUID wraps google/uuid.UUID for transparent SQLite storage. Implements
// sql.Scanner and driver.Valuer so callers can bind it directly as a query
// argument or scan destination.
type UUID struct {
	uuid.UUID
}

// NewUUID generates a new UUIDv7. UUIDv7 values are time-ordered (timestamp
// prefix plus a counter), which keeps B-Tree insertion sequential instead of
// scattering writes across the primary-key index.
func NewUUID() UUID {
	id := uuid.Must(uuid.NewV7())
	return UUID{UUID: id}
}

// MustParseUUID parses a UUID string, panicking if it is invalid. Intended
// for constants and hardcoded values known to be valid.
func MustParseUUID(s string) UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		panic(fmt.Sprintf("invalid UUID string %q: %v", s, err))
	}
	return UUID{UUID: id}
}

// ParseUUID parses a UUID string, returning an error if it is invalid.
func ParseUUID(s string) (UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, err
	}
	return UUID{UUID: id}, nil
}

// UUIDFromBytes builds a UUID from its 16-byte representation.
func UUIDFromBytes(b []byte) (UUID, error) {
	id, err := uuid.FromBytes(b)
	if err != nil {
		return UUID{}, err
	}
	return UUID{UUID: id}, nil
}

// String returns the canonical text form, e.g.
// "550e8400-e29b-41d4-a716-446655440000".
func (u UUID) String() string {
	return u.UUID.String()
}

// Bytes returns the 16-byte binary representation.
func (u UUID) Bytes() []byte {
	return u.UUID[:]
}

// IsZero reports whether u is the nil UUID.
func (u UUID) IsZero() bool {
	return u.UUID == uuid.Nil
}

// Value implements driver.Valuer, storing the UUID as a 16-byte BLOB rather
// than a 36-byte TEXT string.
func (u UUID) Value() (driver.Value, error) {
	if u.IsZero() {
		return nil, nil
	}
	return u.Bytes(), nil
}

// Scan implements sql.Scanner, accepting either the 16-byte BLOB form or a
// 36-byte TEXT string (for rows written before a column switched encoding).
func (u *UUID) Scan(src any) error {
	if src == nil {
		u.UUID = uuid.Nil
		return nil
	}

	switch v := src.(type) {
	case []byte:
		id, err := parseUUIDBytes(v)
		if err != nil {
			return err
		}
		u.UUID = id
		return nil

	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return fmt.Errorf("invalid UUID string: %w", err)
		}
		u.UUID = id
		return nil

	default:
		return fmt.Errorf("unsupported UUID type: %T", src)
	}
}

// parseUUIDBytes accepts both column encodings a UUID column may hold: the
// 16-byte BLOB form this package writes, and the legacy 36-byte TEXT form a
// column may still carry from before it switched to BLOB storage.
func parseUUIDBytes(v []byte) (uuid.UUID, error) {
	switch len(v) {
	case 16:
		id, err := uuid.FromBytes(v)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid UUID bytes: %w", err)
		}
		return id, nil
	case 36:
		id, err := uuid.Parse(string(v))
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid UUID string: %w", err)
		}
		return id, nil
	default:
		return uuid.Nil, fmt.Errorf("invalid UUID bytes length: %d (expected 16 or 36)", len(v))
	}
}
