package domain

import (
	"encoding/hex"
	"strings"
)

// Identity is an opaque caller token. Two identities are the same caller iff
// they compare equal; the engine never interprets the contents.
type Identity string

// NewIdentity trims the raw token and rejects empty values.
func NewIdentity(raw string) (Identity, error) {
	id := Identity(strings.TrimSpace(raw))
	if id.IsZero() {
		return "", ErrInvalidIdentity
	}
	return id, nil
}

// IdentityFromBytes hex-encodes a byte-sequence key (e.g. a public key).
func IdentityFromBytes(key []byte) Identity {
	return Identity(hex.EncodeToString(key))
}

// IsZero reports whether the identity is unset.
func (i Identity) IsZero() bool {
	return i == ""
}

func (i Identity) String() string {
	return string(i)
}

// AssetID identifies one fungible asset type (a mint address, a ticker, ...).
type AssetID string

func (a AssetID) String() string {
	return string(a)
}

// PoolKind selects one of the two custody pools.
type PoolKind int

const (
	PoolSource PoolKind = iota + 1
	PoolDestination
)

// String returns the string representation of PoolKind
func (k PoolKind) String() string {
	switch k {
	case PoolSource:
		return "source"
	case PoolDestination:
		return "destination"
	default:
		return "unknown"
	}
}

// ParsePoolKind accepts "source"/"src"/"old" and "destination"/"dst"/"new".
func ParsePoolKind(raw string) (PoolKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "source", "src", "old":
		return PoolSource, nil
	case "destination", "dest", "dst", "new":
		return PoolDestination, nil
	default:
		return 0, ErrInvalidPool
	}
}
