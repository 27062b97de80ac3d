package types

import (
	"fmt"
	"time"
)

// MemoryLink is a directed, typed, weighted edge from one memory to
// another. Uniqueness of (source, target, link_type) is enforced by the
// storage backend; self-links are rejected here at construction.
type MemoryLink struct {
	Source          MemoryID   `json:"source"`
	Target          MemoryID   `json:"target"`
	LinkType        LinkType   `json:"link_type"`
	Strength        float64    `json:"strength"`
	Reason          string     `json:"reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	LastTraversedAt *time.Time `json:"last_traversed_at,omitempty"`
}

// NewMemoryLink constructs a MemoryLink, enforcing the strength range and
// the no-self-links rule at creation.
func NewMemoryLink(source, target MemoryID, linkType LinkType, strength float64, reason string, now time.Time) (MemoryLink, error) {
	if source == target {
		return MemoryLink{}, fmt.Errorf("%w: self-link from %s to itself", ErrInvariant, source)
	}
	if strength < 0 || strength > 1 {
		return MemoryLink{}, fmt.Errorf("%w: link strength %f out of range [0,1]", ErrInvariant, strength)
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return MemoryLink{
		Source:    source,
		Target:    target,
		LinkType:  NormalizeLinkType(linkType),
		Strength:  strength,
		Reason:    reason,
		CreatedAt: now,
	}, nil
}

// DecayFactor is the multiplicative decay applied to strength by the link
// decay job when a link has not been traversed in tau days.
const DecayFactor = 0.9

// DecayFloor is the strength below which a decayed link is deleted.
const DecayFloor = 0.1

// Decay applies the link-decay rule in place: if the link has not been
// traversed within tau of now, strength is multiplied by DecayFactor. It
// returns true if the resulting strength fell below DecayFloor, signaling
// the caller should delete the link rather than persist it.
func (l *MemoryLink) Decay(now time.Time, tau time.Duration) (shouldDelete bool) {
	last := l.CreatedAt
	if l.LastTraversedAt != nil {
		last = *l.LastTraversedAt
	}
	if now.Sub(last) <= tau {
		return false
	}
	l.Strength *= DecayFactor
	return l.Strength < DecayFloor
}

// Traversed records that a traversal crossed this link at time at.
func (l *MemoryLink) Traversed(at time.Time) {
	l.LastTraversedAt = &at
}
