package doctrine

import "fmt"

// Pattern is the structured activity predicate of a rule: a mapping of named
// conditions to typed comparisons. A rule matches a probe only if every key
// present in the pattern has a satisfying value in the probe. Probe keys the
// pattern does not mention are ignored; pattern keys absent from the probe are
// a non-match (ambiguous probes never match).
type Pattern map[string]Condition

// Condition is a tagged-variant comparison so matching semantics are explicit
// rather than ad hoc key/value equality.
type Condition struct {
	Op ConditionOp `json:"op"`

	// Value is used by OpEquals and OpThreshold.
	Value float64 `json:"value,omitempty"`

	// Min/Max bound OpBetween, inclusive on both ends.
	Min float64 `json:"min,omitempty"`
	Max float64 `json:"max,omitempty"`
}

type ConditionOp string

const (
	// OpEquals matches an exactly equal probe value.
	OpEquals ConditionOp = "eq"
	// OpThreshold matches probe values >= Value.
	OpThreshold ConditionOp = "gte"
	// OpBetween matches Min <= probe value <= Max.
	OpBetween ConditionOp = "between"
)

// Validate rejects unknown operators and inverted ranges.
func (p Pattern) Validate() error {
	for key, c := range p {
		switch c.Op {
		case OpEquals, OpThreshold:
		case OpBetween:
			if c.Min > c.Max {
				return fmt.Errorf("%w: pattern %q has inverted range", ErrValidation, key)
			}
		default:
			return fmt.Errorf("%w: pattern %q has unknown op %q", ErrValidation, key, c.Op)
		}
	}
	return nil
}

// Matches reports whether the probe satisfies every condition in the pattern.
// An empty pattern matches everything.
func (p Pattern) Matches(probe map[string]float64) bool {
	for key, c := range p {
		v, ok := probe[key]
		if !ok {
			return false
		}
		if !c.holds(v) {
			return false
		}
	}
	return true
}

// MatchesAmount evaluates every condition against a single aggregated amount.
// Used by impact estimation, where the only observable is a client's aggregated
// jurisdiction revenue.
func (p Pattern) MatchesAmount(amount float64) bool {
	for _, c := range p {
		if !c.holds(amount) {
			return false
		}
	}
	return true
}

func (c Condition) holds(v float64) bool {
	switch c.Op {
	case OpEquals:
		return v == c.Value
	case OpThreshold:
		return v >= c.Value
	case OpBetween:
		return v >= c.Min && v <= c.Max
	default:
		return false
	}
}

// RevenueProbe builds a probe that answers any revenue-keyed condition with the
// same aggregated amount. Callers mediating alerts use it to translate the
// alert's current amount into the pattern vocabulary.
func RevenueProbe(amount float64) map[string]float64 {
	return map[string]float64{
		"revenue":          amount,
		"revenueThreshold": amount,
		"revenueRange":     amount,
	}
}
