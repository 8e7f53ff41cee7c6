package model

// ModelConfig identifies one (model, provider) pair in an ensemble. It is
// a pure value: comparable, usable as a map key, and passed by value.
type ModelConfig struct {
	Model    string `json:"model" yaml:"model" mapstructure:"model"`
	Provider string `json:"provider" yaml:"provider" mapstructure:"provider"`
}

// String returns "provider/model", the canonical display form.
func (m ModelConfig) String() string {
	return m.Provider + "/" + m.Model
}
