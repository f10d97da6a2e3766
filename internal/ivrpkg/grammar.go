package ivrpkg

import (
	"fmt"
	"strconv"
	"strings"
)

// CollectTermMode is the termmode attribute of <collectinfo> (§4.8).
type CollectTermMode string

const (
	TermMatch   CollectTermMode = "match"
	TermNoMatch CollectTermMode = "nomatch"
	TermNoInput CollectTermMode = "noinput"
	TermStopped CollectTermMode = "stopped"
)

// grammar compiles a <grammar mode="dtmf"> element into the set of complete
// digit strings it accepts, enumerated up to a bounded repeat count. This is
// a best-effort subset matcher, not a general SRGS engine: it supports
// <rule>, <one-of>, <item repeat="m-n" | "n">, and <ruleref uri="#id">.
type grammar struct {
	alternatives []string
}

const maxRepeatExpansion = 10

func compileGrammar(g *grammarElem) (*grammar, error) {
	if g == nil {
		return nil, nil
	}
	if g.Mode != "" && g.Mode != "dtmf" {
		return nil, fmt.Errorf("%w: mode %q not supported", ErrBadGrammar, g.Mode)
	}
	rules := map[string]*ruleElem{}
	for i := range g.Rules {
		rules[g.Rules[i].ID] = &g.Rules[i]
	}
	root := g.Root
	if root == "" && len(g.Rules) > 0 {
		root = g.Rules[0].ID
	}
	r, ok := rules[root]
	if !ok {
		return nil, fmt.Errorf("%w: root rule %q not found", ErrBadGrammar, root)
	}
	alts, err := expandRule(rules, r, 0)
	if err != nil {
		return nil, err
	}
	return &grammar{alternatives: alts}, nil
}

func expandRule(rules map[string]*ruleElem, r *ruleElem, depth int) ([]string, error) {
	if depth > 8 {
		return nil, fmt.Errorf("%w: grammar nesting too deep", ErrBadGrammar)
	}
	var alts []string
	items := r.Items
	for _, oo := range r.OneOf {
		items = append(items, oo.Items...)
	}
	for _, it := range items {
		expanded, err := expandItem(rules, it, depth+1)
		if err != nil {
			return nil, err
		}
		alts = append(alts, expanded...)
	}
	if len(alts) == 0 {
		return nil, fmt.Errorf("%w: rule %q has no alternatives", ErrBadGrammar, r.ID)
	}
	return alts, nil
}

func expandItem(rules map[string]*ruleElem, it itemElem, depth int) ([]string, error) {
	var base []string
	switch {
	case it.RuleRef != nil:
		refID := strings.TrimPrefix(it.RuleRef.URI, "#")
		refRule, ok := rules[refID]
		if !ok {
			return nil, fmt.Errorf("%w: ruleref %q not found", ErrBadGrammar, it.RuleRef.URI)
		}
		expanded, err := expandRule(rules, refRule, depth)
		if err != nil {
			return nil, err
		}
		base = expanded
	case it.OneOf != nil:
		for _, sub := range it.OneOf.Items {
			expanded, err := expandItem(rules, sub, depth)
			if err != nil {
				return nil, err
			}
			base = append(base, expanded...)
		}
	default:
		text := strings.TrimSpace(it.Text)
		if text == "" {
			return nil, fmt.Errorf("%w: empty item", ErrBadGrammar)
		}
		base = []string{text}
	}

	minRep, maxRep, err := parseRepeat(it.Repeat)
	if err != nil {
		return nil, err
	}
	if minRep == 1 && maxRep == 1 {
		return base, nil
	}
	return repeatAlternatives(base, minRep, maxRep)
}

func parseRepeat(spec string) (min, max int, err error) {
	if spec == "" {
		return 1, 1, nil
	}
	if i := strings.Index(spec, "-"); i >= 0 {
		min, err = strconv.Atoi(spec[:i])
		if err != nil {
			return 0, 0, fmt.Errorf("%w: bad repeat %q", ErrBadGrammar, spec)
		}
		max, err = strconv.Atoi(spec[i+1:])
		if err != nil {
			return 0, 0, fmt.Errorf("%w: bad repeat %q", ErrBadGrammar, spec)
		}
		return min, max, nil
	}
	n, err := strconv.Atoi(spec)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: bad repeat %q", ErrBadGrammar, spec)
	}
	return n, n, nil
}

func repeatAlternatives(base []string, min, max int) ([]string, error) {
	if max > maxRepeatExpansion {
		max = maxRepeatExpansion
	}
	if max < min {
		return nil, fmt.Errorf("%w: repeat max < min", ErrBadGrammar)
	}
	var out []string
	cur := []string{""}
	for n := 1; n <= max; n++ {
		var next []string
		for _, prefix := range cur {
			for _, b := range base {
				next = append(next, prefix+b)
			}
		}
		cur = next
		if n >= min {
			out = append(out, cur...)
		}
	}
	return out, nil
}

// match classifies a digit buffer against the grammar: "match" if buffer is
// exactly one accepted alternative, "nomatch" if no alternative starts with
// buffer (collection should stop), or "" if buffer is a valid-so-far prefix
// and collection should continue.
func (g *grammar) match(buffer string) CollectTermMode {
	if buffer == "" {
		return TermNoInput
	}
	exact := false
	prefixOfLonger := false
	for _, alt := range g.alternatives {
		if alt == buffer {
			exact = true
		}
		if strings.HasPrefix(alt, buffer) && alt != buffer {
			prefixOfLonger = true
		}
	}
	if exact && !prefixOfLonger {
		return TermMatch
	}
	if exact || prefixOfLonger {
		return ""
	}
	return TermNoMatch
}
