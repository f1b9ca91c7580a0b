package taxonomy

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Seed struct {
	Name  string `yaml:"name"`
	Color string `yaml:"color"`
}

// Defaults are the entities every tenant starts with.
type Defaults struct {
	Categories      []Seed `yaml:"categories"`
	Purposes        []Seed `yaml:"purposes"`
	PaymentAccounts []Seed `yaml:"payment_accounts"`
}

// Of returns the seeds for kind.
func (d Defaults) Of(kind Kind) []Seed {
	switch kind {
	case KindCategory:
		return d.Categories
	case KindPurpose:
		return d.Purposes
	case KindPaymentAccount:
		return d.PaymentAccounts
	}
	return nil
}

// LoadDefaults parses the embedded defaults.
func LoadDefaults() (Defaults, error) {
	return ParseDefaults(defaultsYAML)
}

// ParseDefaults parses a defaults document. Names must be unique per kind
// after folding, and the built-in purposes must be present.
func ParseDefaults(data []byte) (Defaults, error) {
	var d Defaults
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Defaults{}, fmt.Errorf("parsing taxonomy defaults: %w", err)
	}

	for _, kind := range Kinds {
		seen := make(map[string]bool)
		for _, s := range d.Of(kind) {
			key := NameKey(s.Name)
			if key == "" {
				return Defaults{}, fmt.Errorf("taxonomy defaults: empty %s name", kind)
			}
			if seen[key] {
				return Defaults{}, fmt.Errorf("taxonomy defaults: duplicate %s %q", kind, s.Name)
			}
			seen[key] = true
		}
		if kind == KindPurpose && (!seen[PurposePersonal] || !seen[PurposeBusiness]) {
			return Defaults{}, fmt.Errorf("taxonomy defaults: purposes must include %q and %q", PurposePersonal, PurposeBusiness)
		}
	}

	return d, nil
}
