package report

import (
	"math"
	"time"
)

// Bench is the record of one bench invocation.
type Bench struct {
	RunID     string    `json:"run_id"     yaml:"run_id"`
	Engine    string    `json:"engine"     yaml:"engine"`
	Seed      int64     `json:"seed"       yaml:"seed"`
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	Chains    []Chain   `json:"chains"     yaml:"chains"`
}

// Chain is the outcome of one accept/reject chain. Scores that are not finite
// are written as nil so that every codec can carry them.
type Chain struct {
	Index       int      `json:"index"                  yaml:"index"`
	Proposals   int      `json:"proposals"              yaml:"proposals"`
	Accepted    int      `json:"accepted"               yaml:"accepted"`
	Acceptance  float64  `json:"acceptance"             yaml:"acceptance"`
	FinalScore  *float64 `json:"final_score"            yaml:"final_score"`
	BestScore   *float64 `json:"best_score"             yaml:"best_score"`
	MeanEval    string   `json:"mean_eval"              yaml:"mean_eval"`
	P95Eval     string   `json:"p95_eval"               yaml:"p95_eval"`
	ElapsedSecs float64  `json:"elapsed_seconds"        yaml:"elapsed_seconds"`
	FinalTree   string   `json:"final_tree,omitempty"   yaml:"final_tree,omitempty"`
}

// Finite returns a pointer to v, or nil when v is infinite or NaN.
func Finite(v float64) *float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}

	return &v
}
