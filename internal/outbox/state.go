// Package outbox holds the lifecycle rules for queued outgoing messages.
package outbox

import (
	"errors"
	"fmt"
	"strings"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

var (
	ErrInvalidStatus   = errors.New("invalid status")
	ErrAlreadyTerminal = errors.New("entry already terminal")
)

func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// ParseReport validates a status reported by a device. Only terminal states
// may be reported.
func ParseReport(raw string) (Status, error) {
	status := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Terminal() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return status, nil
}

// Transition decides the effect of reporting next on an entry currently in
// current. changed is false for a repeated identical report.
func Transition(current, next Status) (changed bool, err error) {
	if !next.Terminal() {
		return false, fmt.Errorf("%w: %q", ErrInvalidStatus, next)
	}
	switch {
	case current == StatusPending:
		return true, nil
	case current == next:
		return false, nil
	case current.Terminal():
		return false, fmt.Errorf("%w: %s, reported %s", ErrAlreadyTerminal, current, next)
	default:
		return false, fmt.Errorf("%w: stored %q", ErrInvalidStatus, current)
	}
}
