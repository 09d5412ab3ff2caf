package reconcile

// Result carries the counters of one bulk reconciliation run.
//
// Conservation law: every record fed to the pipeline lands in exactly one of
// the five counters, so Total always equals the number of records processed.
// Immutable once returned to the caller.
type Result struct {
	Created           int    `json:"created"`
	Registered        int    `json:"registered"`
	AlreadyRegistered int    `json:"already_registered"`
	Skipped           int    `json:"skipped"`
	Errors            int    `json:"errors"`
	Success           bool   `json:"success"`
	Message           string `json:"message,omitempty"`
}

// Total is the number of records accounted for across all counters.
func (r Result) Total() int {
	return r.Created + r.Registered + r.AlreadyRegistered + r.Skipped + r.Errors
}

// merge folds a per-batch accumulator into the run result. Counters only;
// Success and Message belong to the run, not a batch.
func (r *Result) merge(b Result) {
	r.Created += b.Created
	r.Registered += b.Registered
	r.AlreadyRegistered += b.AlreadyRegistered
	r.Skipped += b.Skipped
	r.Errors += b.Errors
}
