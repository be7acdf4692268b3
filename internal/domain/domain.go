package domain

import (
	"encoding/json"
	"errors"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrConnectivity means the block source or its chain head could not be reached.
	ErrConnectivity = errors.New("chain connectivity")
	// ErrRetrieval means a specific block failed to load mid-scan.
	ErrRetrieval = errors.New("block retrieval")
)

// BlockRange is an inclusive span of block numbers.
type BlockRange struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

// Len returns the number of blocks in the range.
func (r BlockRange) Len() uint64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

type ChainTransaction struct {
	Hash  string   `json:"hash"`
	Value *big.Int `json:"value"`
}

type ChainBlock struct {
	Number       uint64             `json:"number"`
	Transactions []ChainTransaction `json:"transactions"`
}

// TransactionRecord is one row of the feature table.
type TransactionRecord struct {
	Block uint64
	Value decimal.Decimal
}

var featureColumns = []string{"value"}

// FeatureVector returns the numeric feature columns of the record in Columns order.
func (r TransactionRecord) FeatureVector() []float64 {
	v, _ := r.Value.Float64()
	return []float64{v}
}

func (r TransactionRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Block uint64      `json:"block"`
		Value json.Number `json:"value"`
	}{
		Block: r.Block,
		Value: json.Number(r.Value.String()),
	})
}

func (r *TransactionRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		Block uint64          `json:"block"`
		Value decimal.Decimal `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Block = raw.Block
	r.Value = raw.Value
	return nil
}

// FeatureTable is an ordered sequence of records, used as a numeric matrix.
type FeatureTable []TransactionRecord

func (t FeatureTable) Columns() []string {
	return append([]string(nil), featureColumns...)
}

// Matrix returns one feature vector per row, in row order.
func (t FeatureTable) Matrix() [][]float64 {
	out := make([][]float64, len(t))
	for i := range t {
		out[i] = t[i].FeatureVector()
	}
	return out
}

// AnomalyReport is the artifact of a single scan run. Only Timestamp and
// Anomalies are serialized; the remaining fields describe the run.
type AnomalyReport struct {
	Timestamp time.Time    `json:"timestamp"`
	Anomalies FeatureTable `json:"anomalies"`

	Range    BlockRange `json:"-"`
	Scanned  int        `json:"-"`
	ModelKey string     `json:"-"`
}

func (r AnomalyReport) MarshalJSON() ([]byte, error) {
	anomalies := r.Anomalies
	if anomalies == nil {
		anomalies = FeatureTable{}
	}
	return json.Marshal(struct {
		Timestamp time.Time    `json:"timestamp"`
		Anomalies FeatureTable `json:"anomalies"`
	}{
		Timestamp: r.Timestamp.UTC(),
		Anomalies: anomalies,
	})
}

// StoredReport is a report as kept in the history store.
type StoredReport struct {
	ID         int64         `json:"id"`
	Report     AnomalyReport `json:"report"`
	RangeStart uint64        `json:"range_start"`
	RangeEnd   uint64        `json:"range_end"`
	Scanned    int           `json:"scanned"`
	ModelKey   string        `json:"model_key"`
	CreatedAt  time.Time     `json:"created_at"`
}
