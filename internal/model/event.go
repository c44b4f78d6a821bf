// Package model defines the core domain types shared across the pipeline.
package model

import (
	"strings"
	"time"
)

// StatusVerified is the only actionable verification status. Anything else
// recorded in the correlation log is kept for audit but never matched.
const StatusVerified = "verified"

// StatusUnparseable tags a notice whose body could not be decoded. The raw
// payload is kept so the notice is never silently lost.
const StatusUnparseable = "unparseable"

// CorrelationEvent is one verification-completion notice from the identity
// provider. Events are immutable once recorded; any field may be missing on
// malformed input.
type CorrelationEvent struct {
	GUID       string    `json:"guid"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	ReceivedAt time.Time `json:"timestamp"`
	Raw        string    `json:"raw,omitempty"`
}

// Actionable reports whether this event can ever satisfy a lookup: it needs
// a correlation id and a verified status.
func (e CorrelationEvent) Actionable() bool {
	return e.GUID != "" && strings.EqualFold(strings.TrimSpace(e.Status), StatusVerified)
}

// MatchesName reports whether both name fragments appear in the event's
// free-text name, case-insensitively. The identity provider and the intake
// form format names differently (legal vs. given order, middle names), so
// this is deliberately a substring match rather than an exact key.
func (e CorrelationEvent) MatchesName(firstName, lastName string) bool {
	name := strings.ToLower(e.Name)
	first := strings.ToLower(strings.TrimSpace(firstName))
	last := strings.ToLower(strings.TrimSpace(lastName))
	if first == "" || last == "" {
		return false
	}
	return strings.Contains(name, first) && strings.Contains(name, last)
}
