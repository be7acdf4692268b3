package iforest

import "chain-anomaly-watch/internal/ml/common"

// Detector fits a fresh forest per call and labels rows by contamination.
type Detector struct {
	opts Options
}

func NewDetector(opts Options) *Detector {
	return &Detector{opts: opts}
}

func (d *Detector) Key() string { return ModelKey }

func (d *Detector) FitAndLabel(matrix [][]float64, contamination float64, seed int64) ([]bool, error) {
	forest, err := Fit(matrix, d.opts, seed)
	if err != nil {
		return nil, err
	}
	return common.LabelByContamination(forest.ScoreBatch(matrix), contamination), nil
}
