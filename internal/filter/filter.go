// Package filter defines the read filters assigned to viewer sessions.
//
// A Filter restricts which timeline rows a session may see. Filters are
// evaluated in two places: the store translates them into SQL predicates for
// read queries, and the live hub evaluates them in memory with Allows before
// pushing an event to a connection. Both paths must agree, so every new Kind
// has to be handled in Allows and in the store's predicate builder.
package filter

import "strings"

type Kind string

const (
	KindAll             Kind = "all"
	KindContentContains Kind = "content_contains"
	KindSenderMatch     Kind = "sender_match"
)

// Filter is a tagged union: Value is meaningful only for the substring kinds.
type Filter struct {
	Kind  Kind   `json:"type"`
	Value string `json:"value,omitempty"`
}

// Subject is the part of a message a filter is evaluated against.
type Subject struct {
	Counterpart string
	Content     string
}

func All() Filter {
	return Filter{Kind: KindAll}
}

func ContentContains(value string) Filter {
	return Filter{Kind: KindContentContains, Value: value}
}

func SenderMatch(value string) Filter {
	return Filter{Kind: KindSenderMatch, Value: value}
}

// Resolve turns a stored filter type and value into a Filter. Unknown or
// empty types resolve to All; known reports whether the type was recognized
// so callers can log the degrade.
func Resolve(kind, value string) (f Filter, known bool) {
	switch Kind(strings.TrimSpace(kind)) {
	case KindAll:
		return All(), true
	case KindContentContains:
		return ContentContains(value), true
	case KindSenderMatch:
		return SenderMatch(value), true
	default:
		return All(), false
	}
}

// Valid reports whether kind names a known filter type.
func Valid(kind string) bool {
	_, known := Resolve(kind, "")
	return known
}

// Allows reports whether a message with the given subject is visible under f.
// Matching is a case-sensitive substring test.
func (f Filter) Allows(s Subject) bool {
	switch f.Kind {
	case KindContentContains:
		return strings.Contains(s.Content, f.Value)
	case KindSenderMatch:
		return strings.Contains(s.Counterpart, f.Value)
	default:
		return true
	}
}

func (f Filter) IsAll() bool {
	return f.Kind != KindContentContains && f.Kind != KindSenderMatch
}
