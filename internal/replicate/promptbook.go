package replicate

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"

	"github.com/civiclab/stance-cli/internal/model"
)

// PromptbookModel documents one model's settings within a promptbook.
type PromptbookModel struct {
	Name           string  `json:"name"`
	Provider       string  `json:"provider"`
	Temperature    float64 `json:"temperature"`
	Seed           *int64  `json:"seed,omitempty"`
	ResponseFormat string  `json:"response_format,omitempty"`
}

// ValidationSummary records how the prompt was validated against a
// human-coded reference.
type ValidationSummary struct {
	Method     string  `json:"method"`
	SampleSize int     `json:"sample_size"`
	CohenKappa float64 `json:"cohen_kappa"`
	Accuracy   float64 `json:"accuracy"`
}

// Promptbook is the replication document for an annotation task: the
// exact prompt, the models and settings it ran with, the output schema,
// validation results, and per-model fingerprints. Stored as JSON next to
// the run so the task can be re-executed byte-for-byte later.
type Promptbook struct {
	Task           string             `json:"task"`
	DateCreated    string             `json:"date_created"`
	Version        string             `json:"version"`
	Models         []PromptbookModel  `json:"models"`
	PromptTemplate string             `json:"prompt_template"`
	OutputSchema   model.Schema       `json:"output_schema"`
	Validation     *ValidationSummary `json:"validation,omitempty"`
	Fingerprints   map[string]string  `json:"fingerprints,omitempty"`
	Notes          string             `json:"notes,omitempty"`
}

// Save writes the promptbook as indented JSON.
func (p *Promptbook) Save(path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return eris.Wrap(err, "replicate: marshal promptbook")
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return eris.Wrapf(err, "replicate: write promptbook %s", path)
	}
	return nil
}

// LoadPromptbook reads a promptbook previously written by Save.
func LoadPromptbook(path string) (*Promptbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "replicate: read promptbook %s", path)
	}
	var p Promptbook
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrapf(err, "replicate: parse promptbook %s", path)
	}
	return &p, nil
}
