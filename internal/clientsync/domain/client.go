package domain

import (
	"fmt"
	"time"
)

// RiskLevel is the assessed service-priority band for a client.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// CaseStatus is the lifecycle state of a client's case. Clients are never
// hard-deleted; retirement is a status transition.
type CaseStatus string

const (
	CaseActive    CaseStatus = "active"
	CaseInactive  CaseStatus = "inactive"
	CaseCompleted CaseStatus = "completed"
)

func (s CaseStatus) Valid() bool {
	switch s {
	case CaseActive, CaseInactive, CaseCompleted:
		return true
	}
	return false
}

// ClientRecord is the canonical client entity fanned out to every registered
// store. ID is assigned once by the master store and is the only column
// guaranteed to exist everywhere; all other fields are written only where the
// target schema carries a matching column.
type ClientRecord struct {
	ID            string
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	RiskLevel     RiskLevel
	CaseStatus    CaseStatus
	CaseManagerID string
	IntakeDate    time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// Extra carries optional per-module attributes keyed by column name,
	// e.g. "bedroom_count" for housing or "benefit_type" for benefits.
	Extra map[string]any
}

// Validate rejects records that can never sync cleanly. Zero-valued fields
// are fine, store default rules fill those in.
func (c ClientRecord) Validate() error {
	if c.FirstName == "" {
		return fmt.Errorf("client record: first name required")
	}
	if c.LastName == "" {
		return fmt.Errorf("client record: last name required")
	}
	if c.RiskLevel != "" && !c.RiskLevel.Valid() {
		return fmt.Errorf("client record: invalid risk level %q", c.RiskLevel)
	}
	if c.CaseStatus != "" && !c.CaseStatus.Valid() {
		return fmt.Errorf("client record: invalid case status %q", c.CaseStatus)
	}
	return nil
}

// ClientPatch is a partial update. Nil fields are untouched; a field that is
// not representable here cannot be patched at all, so unknown attributes are
// rejected at the type level rather than at write time.
type ClientPatch struct {
	FirstName     *string
	LastName      *string
	Email         *string
	Phone         *string
	RiskLevel     *RiskLevel
	CaseStatus    *CaseStatus
	CaseManagerID *string
	IntakeDate    *time.Time

	// Extra patches optional per-module attributes by column name. A nil
	// map patches nothing; a present key with a nil value clears it.
	Extra map[string]any
}

// Validate rejects patches carrying invalid enum values.
func (p ClientPatch) Validate() error {
	if p.RiskLevel != nil && !p.RiskLevel.Valid() {
		return fmt.Errorf("client patch: invalid risk level %q", *p.RiskLevel)
	}
	if p.CaseStatus != nil && !p.CaseStatus.Valid() {
		return fmt.Errorf("client patch: invalid case status %q", *p.CaseStatus)
	}
	return nil
}

// Empty reports whether the patch changes nothing.
func (p ClientPatch) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Email == nil &&
		p.Phone == nil && p.RiskLevel == nil && p.CaseStatus == nil &&
		p.CaseManagerID == nil && p.IntakeDate == nil && len(p.Extra) == 0
}
