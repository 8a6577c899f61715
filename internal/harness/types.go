package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Seq     int64          `json:"seq"`
	Op      string         `json:"op"`
	Args    map[string]any `json:"args,omitempty"`
	Outcome string         `json:"outcome"`
	Result  map[string]any `json:"result,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors explains each failed expectation. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step event.
func (r *Result) AddTrace(seq int64, op string, args map[string]any, outcome string, result map[string]any) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:     seq,
		Op:      op,
		Args:    args,
		Outcome: outcome,
		Result:  result,
	})
}
