package domain

import (
	"fmt"
	"strings"
)

// MediaRef identifies a Wistia media by its hashed ID
type MediaRef struct {
	HashedID string `json:"hashed_id"`
}

// NewMediaRef validates an identifier and returns its reference
func NewMediaRef(hashedID string) (MediaRef, error) {
	id := strings.TrimSpace(hashedID)
	if id == "" {
		return MediaRef{}, fmt.Errorf("%w: empty media identifier", ErrUnresolvableIdentifier)
	}
	for _, c := range id {
		if !isIdentifierChar(c) {
			return MediaRef{}, fmt.Errorf("%w: invalid character %q in %q", ErrUnresolvableIdentifier, c, id)
		}
	}
	return MediaRef{HashedID: id}, nil
}

// IsZero reports whether the reference is unset
func (r MediaRef) IsZero() bool {
	return r.HashedID == ""
}

func (r MediaRef) String() string {
	return r.HashedID
}

func isIdentifierChar(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
