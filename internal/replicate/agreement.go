package replicate

import (
	"github.com/rotisserie/eris"
)

// ErrValidationInput marks a caller contract violation in the agreement
// computation: mismatched sequence lengths or labels outside the
// universe. Fatal to that call, never recoverable.
var ErrValidationInput = eris.New("replicate: invalid validation input")

// Agreement bands over Cohen's kappa. Reporting only, nothing branches
// on them.
const (
	BandSubstantial = "substantial"
	BandModerate    = "moderate"
	BandLow         = "low"
)

// kappaEpsilon guards the kappa denominator when chance agreement is
// saturated.
const kappaEpsilon = 1e-12

// AgreementReport compares a candidate label sequence (usually model
// output) against a reference sequence (usually human-coded).
type AgreementReport struct {
	Kappa     float64                   `json:"kappa"`
	Accuracy  float64                   `json:"accuracy"`
	Confusion map[string]map[string]int `json:"confusion"`
	N         int                       `json:"n"`
}

// Band classifies Kappa: > 0.80 substantial, > 0.60 moderate, else low.
func (r *AgreementReport) Band() string {
	switch {
	case r.Kappa > 0.80:
		return BandSubstantial
	case r.Kappa > 0.60:
		return BandModerate
	default:
		return BandLow
	}
}

// Agreement computes raw accuracy, Cohen's kappa under each sequence's
// empirical marginal distribution, and the full confusion matrix indexed
// (reference label, candidate label). Both sequences must be the same
// non-zero length and every element must be a member of universe;
// violations return an error wrapping ErrValidationInput.
func Agreement(ref, cand, universe []string) (*AgreementReport, error) {
	if len(universe) == 0 {
		return nil, eris.Wrap(ErrValidationInput, "replicate: empty label universe")
	}
	if len(ref) == 0 {
		return nil, eris.Wrap(ErrValidationInput, "replicate: empty label sequences")
	}
	if len(ref) != len(cand) {
		return nil, eris.Wrapf(ErrValidationInput,
			"replicate: sequence length mismatch (%d reference vs %d candidate)",
			len(ref), len(cand))
	}

	member := make(map[string]bool, len(universe))
	confusion := make(map[string]map[string]int, len(universe))
	for _, l := range universe {
		member[l] = true
		row := make(map[string]int, len(universe))
		for _, m := range universe {
			row[m] = 0
		}
		confusion[l] = row
	}

	refCount := make(map[string]int, len(universe))
	candCount := make(map[string]int, len(universe))
	agree := 0
	for i := range ref {
		if !member[ref[i]] {
			return nil, eris.Wrapf(ErrValidationInput,
				"replicate: reference label %q at position %d not in universe", ref[i], i)
		}
		if !member[cand[i]] {
			return nil, eris.Wrapf(ErrValidationInput,
				"replicate: candidate label %q at position %d not in universe", cand[i], i)
		}
		confusion[ref[i]][cand[i]]++
		refCount[ref[i]]++
		candCount[cand[i]]++
		if ref[i] == cand[i] {
			agree++
		}
	}

	n := float64(len(ref))
	po := float64(agree) / n

	// Expected-by-chance agreement from the empirical marginals.
	pe := 0.0
	for _, l := range universe {
		pe += (float64(refCount[l]) / n) * (float64(candCount[l]) / n)
	}

	var kappa float64
	if 1-pe < kappaEpsilon {
		// Chance agreement saturated: both marginals are concentrated
		// on one label. Perfect observed agreement counts as 1.
		if po >= 1-kappaEpsilon {
			kappa = 1
		}
	} else {
		kappa = (po - pe) / (1 - pe)
	}

	return &AgreementReport{
		Kappa:     kappa,
		Accuracy:  po,
		Confusion: confusion,
		N:         len(ref),
	}, nil
}
