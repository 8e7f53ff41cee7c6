package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// AnnotationRecord is the canonical output unit of an extraction call.
// Exactly one record is produced per extraction that exhausts its retry
// budget; records are append-only and never mutated after creation.
//
// Invariant: Success implies Label and Confidence are non-nil and Label is
// a member of the configured label set. Failure implies both are nil and
// Error is non-empty.
type AnnotationRecord struct {
	Label      *string  `json:"label"`
	Rationale  string   `json:"rationale"`
	Confidence *float64 `json:"confidence"`

	SourceText string    `json:"source_text"`
	ModelID    string    `json:"model_id"`
	Timestamp  time.Time `json:"timestamp"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
}

// NewFailureRecord builds a failed AnnotationRecord with the given
// diagnostic. Label and Confidence stay nil per the record invariant.
func NewFailureRecord(sourceText, modelID, diagnostic string) AnnotationRecord {
	return AnnotationRecord{
		SourceText: sourceText,
		ModelID:    modelID,
		Timestamp:  time.Now().UTC(),
		Success:    false,
		Error:      diagnostic,
	}
}

// Validate checks the record invariant against a schema.
func (r AnnotationRecord) Validate(schema Schema) error {
	if r.Success {
		if r.Label == nil {
			return eris.New("record: success with nil label")
		}
		if r.Confidence == nil {
			return eris.New("record: success with nil confidence")
		}
		if !schema.HasLabel(*r.Label) {
			return eris.Errorf("record: label %q not in label set", *r.Label)
		}
		if *r.Confidence < 0 || *r.Confidence > 1 {
			return eris.Errorf("record: confidence %f out of [0,1]", *r.Confidence)
		}
		return nil
	}
	if r.Label != nil || r.Confidence != nil {
		return eris.New("record: failure with non-nil label or confidence")
	}
	if r.Error == "" {
		return eris.New("record: failure with empty error")
	}
	return nil
}
