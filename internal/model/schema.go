package model

import "strings"

// Schema describes the structured output an extraction call must produce:
// a closed label set plus the required JSON keys.
type Schema struct {
	Labels       []string `json:"labels" yaml:"labels" mapstructure:"labels"`
	RequiredKeys []string `json:"required_keys" yaml:"required_keys" mapstructure:"required_keys"`
}

// DefaultStanceSchema returns the reference three-way stance schema used
// for political text annotation.
func DefaultStanceSchema() Schema {
	return Schema{
		Labels:       []string{"Progressive", "Conservative", "Centrist"},
		RequiredKeys: []string{"label", "confidence", "rationale"},
	}
}

// HasLabel reports whether label is a member of the closed label set.
func (s Schema) HasLabel(label string) bool {
	for _, l := range s.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// LabelCode returns the representative numeric code for a label: its index
// in the schema's label list. Used to reduce classification output to a
// scalar for ensemble aggregation.
func (s Schema) LabelCode(label string) (int, bool) {
	for i, l := range s.Labels {
		if l == label {
			return i, true
		}
	}
	return 0, false
}

// LabelAlternatives renders the label set as "A|B|C|null" for embedding
// in a prompt.
func (s Schema) LabelAlternatives() string {
	return strings.Join(s.Labels, "|") + "|null"
}
