// Package policy maps a classification and the current mode to an action.
package policy

import "github.com/jamesainslie/dropguard/pkg/dropguard/types"

// Action is what the router should do with a classified file.
type Action int

const (
	Ignore Action = iota
	RecordAndQuarantine
	RecordAndWarn
)

func (a Action) String() string {
	switch a {
	case RecordAndQuarantine:
		return "record_and_quarantine"
	case RecordAndWarn:
		return "record_and_warn"
	default:
		return "ignore"
	}
}

// Decision carries the action and the rule that triggered it.
type Decision struct {
	Action Action
	Rule   string
	Mode   types.PolicyMode
}

// Records reports whether the decision produces an alert.
func (d Decision) Records() bool { return d.Action != Ignore }

// Decide is pure: an empty rule means no match and is always ignored.
func Decide(rule string, mode types.PolicyMode) Decision {
	switch {
	case rule == "":
		return Decision{Action: Ignore, Mode: mode}
	case mode == types.ModeWarn:
		return Decision{Action: RecordAndWarn, Rule: rule, Mode: mode}
	default:
		return Decision{Action: RecordAndQuarantine, Rule: rule, Mode: types.ModeBlock}
	}
}
