package outlier

import (
	"errors"
	"fmt"

	"chain-anomaly-watch/internal/domain"
	"chain-anomaly-watch/internal/ml/models/iforest"
	"chain-anomaly-watch/internal/ml/models/zscore"
)

// Seed is fixed so repeated runs over identical tables are reproducible.
const Seed int64 = 42

// minRows is the smallest table that can hold an outlier relative to the rest.
const minRows = 2

var ErrInvalidContamination = errors.New("contamination must be in (0, 1)")

// Model fits on a feature matrix and returns one anomalous/normal label per row.
type Model interface {
	Key() string
	FitAndLabel(matrix [][]float64, contamination float64, seed int64) ([]bool, error)
}

type Scorer struct {
	model Model
}

func NewScorer(model Model) *Scorer {
	if model == nil {
		model = iforest.NewDetector(iforest.DefaultOptions())
	}
	return &Scorer{model: model}
}

// NewModel returns the model registered under key.
func NewModel(key string) (Model, error) {
	switch key {
	case "", iforest.ModelKey:
		return iforest.NewDetector(iforest.DefaultOptions()), nil
	case zscore.ModelKey:
		return zscore.NewDetector(), nil
	default:
		return nil, fmt.Errorf("unknown outlier model %q", key)
	}
}

func (s *Scorer) ModelKey() string {
	return s.model.Key()
}

// Score returns the rows labelled anomalous, in input order. Tables too small
// to score yield an empty table and the model is not called.
func (s *Scorer) Score(table domain.FeatureTable, contamination float64) (domain.FeatureTable, error) {
	if contamination <= 0 || contamination >= 1 {
		return nil, ErrInvalidContamination
	}
	out := domain.FeatureTable{}
	if len(table) < minRows {
		return out, nil
	}

	labels, err := s.model.FitAndLabel(table.Matrix(), contamination, Seed)
	if err != nil {
		return nil, fmt.Errorf("%s fit: %w", s.model.Key(), err)
	}
	if len(labels) != len(table) {
		return nil, fmt.Errorf("%s returned %d labels for %d rows", s.model.Key(), len(labels), len(table))
	}
	for i, anomalous := range labels {
		if anomalous {
			out = append(out, table[i])
		}
	}
	return out, nil
}
