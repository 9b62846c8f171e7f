// Package classify matches file content against an ordered list of
// sensitive-data rules.
package classify

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultMaxBytes is how much of a file is sampled when no limit is given.
const DefaultMaxBytes int64 = 5 << 20

// Classifier labels content. ok is false when nothing matched.
type Classifier interface {
	Classify(content []byte) (label string, ok bool)
}

// Rule is one labelled pattern. Patterns are always matched case-insensitively.
type Rule struct {
	Label   string `yaml:"label" mapstructure:"label"`
	Pattern string `yaml:"pattern" mapstructure:"pattern"`
}

// Built-in rules. The first four form the default set, in precedence order.
var (
	Aadhaar      = Rule{Label: "Aadhaar", Pattern: `\b\d{4}\s\d{4}\s\d{4}\b`}
	Email        = Rule{Label: "Email", Pattern: `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-z]{2,}`}
	CreditCard   = Rule{Label: "Credit Card", Pattern: `\b(?:\d[ -]*?){13,16}\b`}
	Confidential = Rule{Label: "Confidential", Pattern: `\b(confidential|secret|restricted)\b`}

	AWSAccessKey = Rule{Label: "AWS Access Key", Pattern: `\bAKIA[0-9A-Z]{16}\b`}
	PrivateKey   = Rule{Label: "Private Key", Pattern: `-----BEGIN (RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY-----`}
)

// DefaultRules returns the default rule order.
func DefaultRules() []Rule {
	return []Rule{Aadhaar, Email, CreditCard, Confidential}
}

// Builtin looks up a built-in rule by label, ignoring case.
func Builtin(label string) (Rule, bool) {
	for _, r := range []Rule{Aadhaar, Email, CreditCard, Confidential, AWSAccessKey, PrivateKey} {
		if strings.EqualFold(r.Label, label) {
			return r, true
		}
	}
	return Rule{}, false
}

// ErrNoRules is returned when a rule set would be empty.
var ErrNoRules = errors.New("no classification rules")

type compiled struct {
	label string
	re    *regexp.Regexp
}

// RuleSet is an immutable, ordered set of compiled rules. The first matching
// rule wins.
type RuleSet struct {
	rules []compiled
}

// Compile builds a RuleSet. A rule with a label but no pattern refers to a
// built-in rule.
func Compile(rules []Rule) (*RuleSet, error) {
	if len(rules) == 0 {
		return nil, ErrNoRules
	}

	rs := &RuleSet{rules: make([]compiled, 0, len(rules))}
	for i, r := range rules {
		if r.Label == "" {
			return nil, fmt.Errorf("rule %d: missing label", i)
		}
		if r.Pattern == "" {
			b, ok := Builtin(r.Label)
			if !ok {
				return nil, fmt.Errorf("rule %q: no pattern and no built-in rule with that label", r.Label)
			}
			r = b
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Label, err)
		}
		rs.rules = append(rs.rules, compiled{label: r.Label, re: re})
	}
	return rs, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(rules []Rule) *RuleSet {
	rs, err := Compile(rules)
	if err != nil {
		panic(err)
	}
	return rs
}

// Classify returns the label of the first rule that matches content.
func (rs *RuleSet) Classify(content []byte) (string, bool) {
	for _, r := range rs.rules {
		if r.re.Match(content) {
			return r.label, true
		}
	}
	return "", false
}

// Labels returns the rule labels in precedence order.
func (rs *RuleSet) Labels() []string {
	out := make([]string, len(rs.rules))
	for i, r := range rs.rules {
		out[i] = r.label
	}
	return out
}

// ClassifyFile reads at most limit bytes of path and classifies them. It
// returns the label (empty when nothing matched) and the number of bytes read.
func ClassifyFile(c Classifier, path string, limit int64) (string, int64, error) {
	if limit <= 0 {
		limit = DefaultMaxBytes
	}

	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(f, limit))
	if err != nil {
		return "", n, fmt.Errorf("reading %s: %w", path, err)
	}

	label, _ := c.Classify(buf.Bytes())
	return label, n, nil
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads an ordered rule list from a YAML file of the form
//
//	rules:
//	  - label: Email
//	  - label: Employee ID
//	    pattern: '\bEMP-\d{6}\b'
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}

	var rf rulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing rules file %s: %w", path, err)
	}
	if len(rf.Rules) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoRules)
	}
	return rf.Rules, nil
}
