package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Decimal decodes a YAML scalar from its literal text, so values like 0.1
// never pass through binary floating point.
type Decimal struct {
	decimal.Decimal
}

func NewDecimal(d decimal.Decimal) Decimal {
	return Decimal{d}
}

func (d *Decimal) UnmarshalYAML(node *yaml.Node) error {
	raw := strings.TrimSpace(node.Value)
	if raw == "" || raw == "~" || raw == "null" {
		d.Decimal = decimal.Decimal{}
		return nil
	}
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("invalid decimal %q: %w", node.Value, err)
	}
	d.Decimal = parsed
	return nil
}

func (d Decimal) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}
