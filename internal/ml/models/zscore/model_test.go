package zscore

import (
	"math"
	"testing"
)

func TestScoresFlagSpike(t *testing.T) {
	matrix := [][]float64{{1}, {1}, {1}, {1}, {1000}}
	scores, err := Scores(matrix)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(scores[4]-2) > 1e-9 {
		t.Fatalf("expected |z|=2 for spike, got %.6f", scores[4])
	}

	labels, err := NewDetector().FitAndLabel(matrix, 0.2, 42)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, l := range labels {
		if l != (i == 4) {
			t.Fatalf("unexpected labels: %v", labels)
		}
	}
}

func TestScoresConstantColumnIsIgnored(t *testing.T) {
	matrix := [][]float64{{5, 1}, {5, 2}, {5, 3}, {5, 30}}
	scores, err := Scores(matrix)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scores[3] <= scores[0] {
		t.Fatalf("expected second column to drive score, got %v", scores)
	}
}

func TestScoresRejectsSingleRow(t *testing.T) {
	if _, err := Scores([][]float64{{1}}); err == nil {
		t.Fatal("expected error for single row")
	}
}
