// Package filter evaluates user and internal rules against news events.
// An Engine is immutable once compiled and safe for concurrent use.
package filter

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"newstrader/src/model"
)

// keyword rules scan these fields, in order
var keywordFields = []string{model.NewsFieldBody, model.NewsFieldQuote}

var knownDataFields = map[string]struct{}{
	model.NewsFieldTitle:  {},
	model.NewsFieldBody:   {},
	model.NewsFieldSource: {},
	model.NewsFieldFeed:   {},
	model.NewsFieldLink:   {},
	model.NewsFieldQuote:  {},
	model.NewsFieldQuoter: {},
	model.NewsFieldCoin:   {},
	"coins":               {},
}

type matcher func(string) bool

type compiledRule struct {
	rule  model.FilterRule
	match matcher
}

type Engine struct {
	rules []compiledRule
}

// Compile validates rules and returns an engine evaluating them in ascending Position order.
// Rules sharing a position keep their input order.
func Compile(rules []model.FilterRule) (*Engine, error) {
	sorted := make([]model.FilterRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	compiled := make([]compiledRule, 0, len(sorted))
	for i, r := range sorted {
		m, err := compileRule(r)
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s %q): %w", i, r.Kind, r.Pattern, err)
		}
		compiled = append(compiled, compiledRule{rule: r, match: m})
	}
	return &Engine{rules: compiled}, nil
}

// MustCompile is Compile for rule sets known at build time.
func MustCompile(rules []model.FilterRule) *Engine {
	e, err := Compile(rules)
	if err != nil {
		panic(err)
	}
	return e
}

func (e *Engine) Len() int {
	if e == nil {
		return 0
	}
	return len(e.rules)
}

func validateAction(r model.FilterRule) error {
	switch r.Action {
	case model.ActionIgnore:
		return nil
	case model.ActionSound:
		if r.SoundID == "" {
			return fmt.Errorf("sound action needs a sound id")
		}
		return nil
	case model.ActionCoin:
		if r.Symbol == "" {
			return fmt.Errorf("coin action needs a symbol")
		}
		return nil
	default:
		return fmt.Errorf("unknown action %q", r.Action)
	}
}

func compileRule(r model.FilterRule) (matcher, error) {
	if err := validateAction(r); err != nil {
		return nil, err
	}
	if strings.TrimSpace(r.Pattern) == "" {
		return nil, fmt.Errorf("empty pattern")
	}

	switch r.Kind {
	case model.FilterKindKeyword:
		return keywordMatcher(r)
	case model.FilterKindDataField:
		if _, ok := knownDataFields[strings.ToLower(r.TargetField)]; !ok {
			return nil, fmt.Errorf("unknown data field %q", r.TargetField)
		}
		return dataMatcher(r)
	default:
		return nil, fmt.Errorf("unknown rule kind %q", r.Kind)
	}
}

// keywordMatcher matches whole words unless the rule is a raw regex.
func keywordMatcher(r model.FilterRule) (matcher, error) {
	expr := r.Pattern
	if !r.Regex {
		expr = `\b` + regexp.QuoteMeta(r.Pattern) + `\b`
		// \b only anchors on word characters; patterns like "$btc" or "c++" anchor on their text instead
		if !isWordChar(r.Pattern[0]) {
			expr = regexp.QuoteMeta(r.Pattern) + `\b`
		}
		if !isWordChar(r.Pattern[len(r.Pattern)-1]) {
			expr = strings.TrimSuffix(expr, `\b`)
		}
	}
	if !r.CaseSensitive {
		expr = "(?i)" + expr
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return re.MatchString, nil
}

func isWordChar(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// dataMatcher compares a field exactly. A pattern wrapped in '*' matches as a substring.
func dataMatcher(r model.FilterRule) (matcher, error) {
	if r.Regex {
		return keywordMatcher(r)
	}

	pattern := r.Pattern
	contains := len(pattern) > 2 && strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*")
	if contains {
		pattern = pattern[1 : len(pattern)-1]
	}
	if !r.CaseSensitive {
		pattern = strings.ToLower(pattern)
	}

	return func(value string) bool {
		if !r.CaseSensitive {
			value = strings.ToLower(value)
		}
		if contains {
			return strings.Contains(value, pattern)
		}
		return value == pattern
	}, nil
}

func (c compiledRule) matches(ev model.NewsEvent) bool {
	fields := keywordFields
	if c.rule.Kind == model.FilterKindDataField {
		fields = []string{c.rule.TargetField}
	}
	for _, name := range fields {
		values, _ := ev.Field(name)
		for _, v := range values {
			if v != "" && c.match(v) {
				return true
			}
		}
	}
	return false
}

func (c compiledRule) action() model.Action {
	switch c.rule.Action {
	case model.ActionIgnore:
		return model.IgnoreAction(c.rule.ID)
	case model.ActionSound:
		return model.SoundAction(c.rule.SoundID, c.rule.ID)
	default:
		return model.CoinAction(strings.ToUpper(c.rule.Symbol), c.rule.ID)
	}
}

// Evaluate returns the actions of all matching rules in rule order. One sound is
// kept (the first) and coins are de-duplicated by symbol. A matching ignore rule
// short-circuits and the result is exactly that ignore action.
func (e *Engine) Evaluate(ev model.NewsEvent) []model.Action {
	if e == nil || len(e.rules) == 0 {
		return nil
	}

	var out []model.Action
	soundSet := false
	coins := make(map[string]struct{})

	for _, c := range e.rules {
		if !c.matches(ev) {
			continue
		}
		a := c.action()
		switch a.Type {
		case model.ActionIgnore:
			return []model.Action{a}
		case model.ActionSound:
			if soundSet {
				continue
			}
			soundSet = true
		case model.ActionCoin:
			if _, seen := coins[a.Symbol]; seen {
				continue
			}
			coins[a.Symbol] = struct{}{}
		}
		out = append(out, a)
	}
	return out
}

// Ignored reports whether actions suppress the event.
func Ignored(actions []model.Action) bool {
	return len(actions) == 1 && actions[0].Type == model.ActionIgnore
}

// Coins returns the coin symbols of actions in order.
func Coins(actions []model.Action) []string {
	var out []string
	for _, a := range actions {
		if a.Type == model.ActionCoin {
			out = append(out, a.Symbol)
		}
	}
	return out
}

// Sound returns the sound id of actions, if any.
func Sound(actions []model.Action) (string, bool) {
	for _, a := range actions {
		if a.Type == model.ActionSound {
			return a.SoundID, true
		}
	}
	return "", false
}
