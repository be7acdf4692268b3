package zscore

import (
	"errors"
	"math"

	"chain-anomaly-watch/internal/ml/common"

	"gonum.org/v1/gonum/stat"
)

const ModelKey = "zscore"

// Detector scores each row by its largest absolute per-column z-score. It is
// deterministic and ignores the seed.
type Detector struct{}

func NewDetector() *Detector { return &Detector{} }

func (d *Detector) Key() string { return ModelKey }

func (d *Detector) FitAndLabel(matrix [][]float64, contamination float64, _ int64) ([]bool, error) {
	scores, err := Scores(matrix)
	if err != nil {
		return nil, err
	}
	return common.LabelByContamination(scores, contamination), nil
}

// Scores returns max |z| per row across all columns.
func Scores(matrix [][]float64) ([]float64, error) {
	if len(matrix) < 2 {
		return nil, errors.New("z-score needs at least two samples")
	}
	if !common.ValidMatrix(matrix) {
		return nil, errors.New("invalid feature matrix")
	}

	width := len(matrix[0])
	scores := make([]float64, len(matrix))
	column := make([]float64, len(matrix))
	for j := 0; j < width; j++ {
		for i := range matrix {
			column[i] = matrix[i][j]
		}
		mean, std := stat.PopMeanStdDev(column, nil)
		if std == 0 || math.IsNaN(std) {
			continue
		}
		for i := range matrix {
			z := math.Abs((matrix[i][j] - mean) / std)
			if z > scores[i] {
				scores[i] = z
			}
		}
	}
	return scores, nil
}
