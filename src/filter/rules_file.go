package filter

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"newstrader/src/model"
)

type rulesFile struct {
	Rules []model.FilterRule `yaml:"rules"`
}

// LoadRulesYAML reads a rule file of the form:
//
//	rules:
//	  - kind: keyword
//	    pattern: foxify
//	    action: sound
//	    sound_id: pause
//
// Rules without an explicit position keep file order. Every rule is validated.
func LoadRulesYAML(r io.Reader) ([]model.FilterRule, error) {
	var f rulesFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode rules: %w", err)
	}

	for i := range f.Rules {
		if f.Rules[i].Position == 0 {
			f.Rules[i].Position = i + 1
		}
	}
	if _, err := Compile(f.Rules); err != nil {
		return nil, err
	}
	return f.Rules, nil
}

// WriteRulesYAML writes rules in the format read by LoadRulesYAML.
func WriteRulesYAML(w io.Writer, rules []model.FilterRule) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rulesFile{Rules: rules}); err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}
	return enc.Close()
}
