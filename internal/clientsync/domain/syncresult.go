package domain

import "time"

// OutcomeStatus is the terminal state of one store within a sync attempt.
type OutcomeStatus string

const (
	// OutcomeCommitted means the store's local transaction committed.
	OutcomeCommitted OutcomeStatus = "committed"
	// OutcomeFailed means the store's own write or commit failed.
	OutcomeFailed OutcomeStatus = "failed"
	// OutcomeRolledBack means the store's write succeeded but was undone
	// because another store failed.
	OutcomeRolledBack OutcomeStatus = "rolled_back"
	// OutcomeSkipped means the store had no column for any changed field and
	// was left untouched. Only partial updates skip; creates always map at
	// least the bookkeeping columns or fail outright.
	OutcomeSkipped OutcomeStatus = "skipped"
)

// SyncOutcome records the terminal state of one store. Immutable once
// appended to a result.
type SyncOutcome struct {
	StoreID   string        `json:"storeId"`
	Status    OutcomeStatus `json:"status"`
	Message   string        `json:"message,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Success reports whether the store committed.
func (o SyncOutcome) Success() bool { return o.Status == OutcomeCommitted }

// LogEntry is one step in the ordered transaction log of an attempt.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	StoreID   string    `json:"storeId,omitempty"`
	Step      string    `json:"step"`
	Detail    string    `json:"detail,omitempty"`
}

// SyncResult aggregates a whole attempt: one outcome per target store plus
// the ordered log of every step taken. OverallSuccess means no store failed
// and at least one committed; skipped stores do not count against it.
type SyncResult struct {
	ClientID       string        `json:"id"`
	OverallSuccess bool          `json:"overallSuccess"`
	Outcomes       []SyncOutcome `json:"detailedResults"`
	Log            []LogEntry    `json:"transactionLog"`
	Timestamp      time.Time     `json:"timestamp"`
}

// AppendLog adds a timestamped step to the transaction log.
func (r *SyncResult) AppendLog(storeID, step, detail string) {
	r.Log = append(r.Log, LogEntry{
		Timestamp: time.Now().UTC(),
		StoreID:   storeID,
		Step:      step,
		Detail:    detail,
	})
}

// Record appends a terminal outcome for one store.
func (r *SyncResult) Record(storeID string, status OutcomeStatus, message string) {
	r.Outcomes = append(r.Outcomes, SyncOutcome{
		StoreID:   storeID,
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// SuccessRate is committed stores over total target stores. A fully rolled
// back attempt rates 0 even though individual writes succeeded before the
// rollback.
func (r *SyncResult) SuccessRate() float64 {
	if len(r.Outcomes) == 0 {
		return 0
	}
	var committed int
	for _, o := range r.Outcomes {
		if o.Success() {
			committed++
		}
	}
	return float64(committed) / float64(len(r.Outcomes))
}

// ModulesCreated lists stores that committed, in attempt order.
func (r *SyncResult) ModulesCreated() []string {
	ids := make([]string, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.Status == OutcomeCommitted {
			ids = append(ids, o.StoreID)
		}
	}
	return ids
}

// ModulesFailed lists stores whose own write or commit failed. Rolled back
// stores are victims, not failures, and are excluded.
func (r *SyncResult) ModulesFailed() []string {
	ids := make([]string, 0)
	for _, o := range r.Outcomes {
		if o.Status == OutcomeFailed {
			ids = append(ids, o.StoreID)
		}
	}
	return ids
}

// Errors collects the failure messages in attempt order.
func (r *SyncResult) Errors() []string {
	msgs := make([]string, 0)
	for _, o := range r.Outcomes {
		if o.Status == OutcomeFailed && o.Message != "" {
			msgs = append(msgs, o.StoreID+": "+o.Message)
		}
	}
	return msgs
}

// UpdateResult is the narrower view returned for partial updates.
type UpdateResult struct {
	ClientID       string   `json:"id"`
	OverallSuccess bool     `json:"overallSuccess"`
	UpdatedIn      []string `json:"updatedIn"`
	Errors         []string `json:"errors,omitempty"`
}

// UpdateView projects the attempt into an UpdateResult.
func (r *SyncResult) UpdateView() *UpdateResult {
	return &UpdateResult{
		ClientID:       r.ClientID,
		OverallSuccess: r.OverallSuccess,
		UpdatedIn:      r.ModulesCreated(),
		Errors:         r.Errors(),
	}
}
