package domain

import (
	"fmt"
	"time"
)

// ViolationKind classifies what an audit scan found.
type ViolationKind string

const (
	// ViolationOrphanReference is a row whose reference column points at a
	// client id the referenced store no longer holds.
	ViolationOrphanReference ViolationKind = "orphan-reference"
	// ViolationDuplicateID is a client id present more than once in a
	// store's client table.
	ViolationDuplicateID ViolationKind = "duplicate-id"
	// ViolationMissingColumn is a client table missing entirely or lacking
	// a required column.
	ViolationMissingColumn ViolationKind = "missing-column"
)

// RepairPolicy selects what Repair does with scan findings.
type RepairPolicy string

const (
	// RepairDeleteOrphan removes orphaned rows after snapshotting the store.
	RepairDeleteOrphan RepairPolicy = "delete-orphan"
	// RepairNullReference nulls dangling reference columns where the schema
	// allows NULL.
	RepairNullReference RepairPolicy = "null-reference"
	// RepairSkip reports findings without touching data.
	RepairSkip RepairPolicy = "skip"
)

// ParseRepairPolicy validates an operator-supplied policy name.
func ParseRepairPolicy(s string) (RepairPolicy, error) {
	switch RepairPolicy(s) {
	case RepairDeleteOrphan, RepairNullReference, RepairSkip:
		return RepairPolicy(s), nil
	}
	return "", fmt.Errorf("unknown repair policy %q", s)
}

// RepairAction is what the auditor did about one violation.
type RepairAction string

const (
	ActionNone        RepairAction = ""
	ActionDeleted     RepairAction = "deleted"
	ActionNulled      RepairAction = "nulled"
	ActionColumnAdded RepairAction = "column-added"
	ActionDeduped     RepairAction = "deduped"
	ActionSkipped     RepairAction = "skipped"
	ActionFailed      RepairAction = "failed"
)

// Violation is one audit finding. RowID is the offending key value: the
// dangling reference for orphans, the duplicated id for duplicates, empty
// for schema findings.
type Violation struct {
	StoreID    string        `json:"storeId"`
	Table      string        `json:"table"`
	Column     string        `json:"column,omitempty"`
	RowID      string        `json:"rowId,omitempty"`
	Kind       ViolationKind `json:"kind"`
	RefStoreID string        `json:"refStoreId,omitempty"`
	RefTable   string        `json:"refTable,omitempty"`
	Rows       int64         `json:"rows,omitempty"`
	Detail     string        `json:"detail,omitempty"`
	Action     RepairAction  `json:"action,omitempty"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s.%s %s (%s)", v.StoreID, v.Table, v.Column, v.RowID, v.Kind)
}

// RepairReport is the result of applying one policy to a set of violations.
type RepairReport struct {
	Policy   RepairPolicy      `json:"policy"`
	Repaired []Violation       `json:"repaired,omitempty"`
	Skipped  []Violation       `json:"skipped,omitempty"`
	Failed   []Violation       `json:"failed,omitempty"`
	Backups  map[string]string `json:"backups,omitempty"` // store id -> snapshot key
}

// AuditReport summarizes a full scan + repair + re-scan run.
type AuditReport struct {
	RunID               string            `json:"runId"`
	Policy              RepairPolicy      `json:"policy"`
	StartedAt           time.Time         `json:"startedAt"`
	FinishedAt          time.Time         `json:"finishedAt"`
	DatabasesChecked    int               `json:"databasesChecked"`
	CleanDatabases      []string          `json:"cleanDatabases"`
	ViolationsFound     int               `json:"violationsFound"`
	ViolationsRepaired  int               `json:"violationsRepaired"`
	ViolationsRemaining int               `json:"violationsRemaining"`
	Found               []Violation       `json:"found,omitempty"`
	Remaining           []Violation       `json:"remaining,omitempty"`
	Backups             map[string]string `json:"backups,omitempty"`
}
