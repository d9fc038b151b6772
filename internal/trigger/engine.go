// Package trigger implements the operator-configured auto-reply rules.
package trigger

import (
	"strings"
)

// Rule pairs a match text with the reply it fires. Reply may contain several
// response segments separated by the configured delimiter.
type Rule struct {
	Trigger string `yaml:"trigger" json:"trigger"`
	Reply   string `yaml:"reply" json:"reply"`
}

// Reply is one fired rule, split into its ordered response segments. Segments
// are dispatched by the caller with a stagger between them.
type Reply struct {
	Rule     Rule
	Segments []string
}

// DefaultDelimiter separates response segments inside a rule's reply text.
const DefaultDelimiter = "&&"

// Match returns a Reply for every rule whose normalized trigger is a substring
// of the normalized incoming text. Rules fire independently; several may match
// the same line.
func Match(incoming string, rules []Rule, delimiter string) []Reply {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}

	normalized := normalize(incoming)
	if normalized == "" {
		return nil
	}

	var fired []Reply
	for _, rule := range rules {
		trig := normalize(rule.Trigger)
		if trig == "" || !strings.Contains(normalized, trig) {
			continue
		}
		fired = append(fired, Reply{
			Rule:     rule,
			Segments: splitSegments(rule.Reply, delimiter),
		})
	}
	return fired
}

// Add appends a rule unless one with the same trigger (case-insensitive exact
// match) already exists. Returns the updated set and whether it changed.
func Add(rules []Rule, trig, reply string) ([]Rule, bool) {
	trig = strings.TrimSpace(trig)
	reply = strings.TrimSpace(reply)
	if trig == "" || reply == "" {
		return rules, false
	}

	for _, r := range rules {
		if strings.EqualFold(r.Trigger, trig) {
			return rules, false
		}
	}
	return append(rules, Rule{Trigger: trig, Reply: reply}), true
}

// Remove deletes every rule whose trigger equals the given one
// case-insensitively. Returns the updated set and whether anything was removed.
func Remove(rules []Rule, trig string) ([]Rule, bool) {
	trig = strings.TrimSpace(trig)
	out := rules[:0]
	removed := false
	for _, r := range rules {
		if strings.EqualFold(r.Trigger, trig) {
			removed = true
			continue
		}
		out = append(out, r)
	}
	return out, removed
}

func splitSegments(reply, delimiter string) []string {
	parts := strings.Split(reply, delimiter)
	segments := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			segments = append(segments, p)
		}
	}
	return segments
}

// normalize case-folds and collapses whitespace runs to single spaces, so
// matching is insensitive to both.
func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
