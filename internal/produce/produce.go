// Package produce maps classifier labels to canonical produce names and
// shelf-life durations.
package produce

import "strings"

// builtinDays is the built-in shelf-life table in days, keyed by canonical
// (lower-cased) produce name.
var builtinDays = map[string]int{
	"apple":       7,
	"banana":      3,
	"orange":      10,
	"strawberry":  2,
	"pomegranate": 10,
}

// Normalize maps a raw classifier label to its canonical form. It lower-cases
// the input and nothing else: unknown labels pass through to the policy, which
// supplies the default duration. Synonym resolution belongs in the policy
// table, not here.
func Normalize(raw string) string {
	return strings.ToLower(raw)
}

// Policy is a read-only lookup from canonical produce name to shelf life in
// days. It is built once at startup and safe for concurrent use.
type Policy struct {
	days        map[string]int
	defaultDays int
}

// NewPolicy builds a policy from the built-in table, an optional override map
// from configuration, and the default day count for unknown produce.
func NewPolicy(overrides map[string]int, defaultDays int) *Policy {
	days := make(map[string]int, len(builtinDays)+len(overrides))
	for name, d := range builtinDays {
		days[name] = d
	}
	for name, d := range overrides {
		days[Normalize(name)] = d
	}
	return &Policy{days: days, defaultDays: defaultDays}
}

// ExpiryDays returns the shelf life in days for a canonical label, or the
// default when the label is not in the table.
func (p *Policy) ExpiryDays(canonical string) int {
	if days, ok := p.days[canonical]; ok {
		return days
	}
	return p.defaultDays
}

// Known reports whether the label has an explicit table entry.
func (p *Policy) Known(canonical string) bool {
	_, ok := p.days[canonical]
	return ok
}
