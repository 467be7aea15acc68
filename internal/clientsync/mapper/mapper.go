// Package mapper turns a canonical client record into the exact column set a
// target store can accept. Mapping is pure: callers pass the live column set
// and one shared timestamp, so every store in an attempt sees the same "now".
package mapper

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/commonassist/casehub/internal/clientsync/domain"
	"github.com/commonassist/casehub/internal/clientsync/registry"
	"github.com/commonassist/casehub/internal/clientsync/store"
	"github.com/commonassist/casehub/pkg/idx"

	"github.com/google/uuid"
)

// IdentityColumn is the one column every client table must carry. Upserts
// key on it and it is the only field guaranteed present wherever client data
// lives.
const IdentityColumn = "id"

var (
	// ErrNoIdentityColumn reports a target table without an id column. A
	// store that cannot key rows by client id cannot hold client records.
	ErrNoIdentityColumn = errors.New("mapper: table has no id column")

	// ErrNoMappableColumns reports a table where nothing beyond the id maps.
	ErrNoMappableColumns = errors.New("mapper: no mappable columns")
)

// canonical lists the client columns every store may carry. A zero value
// counts as absent so the store's default rules can fill it.
var canonical = []struct {
	column string
	value  func(domain.ClientRecord) (any, bool)
}{
	{"first_name", func(r domain.ClientRecord) (any, bool) { return r.FirstName, r.FirstName != "" }},
	{"last_name", func(r domain.ClientRecord) (any, bool) { return r.LastName, r.LastName != "" }},
	{"email", func(r domain.ClientRecord) (any, bool) { return r.Email, r.Email != "" }},
	{"phone", func(r domain.ClientRecord) (any, bool) { return r.Phone, r.Phone != "" }},
	{"risk_level", func(r domain.ClientRecord) (any, bool) { return string(r.RiskLevel), r.RiskLevel != "" }},
	{"case_status", func(r domain.ClientRecord) (any, bool) { return string(r.CaseStatus), r.CaseStatus != "" }},
	{"case_manager_id", func(r domain.ClientRecord) (any, bool) { return r.CaseManagerID, r.CaseManagerID != "" }},
	{"intake_date", func(r domain.ClientRecord) (any, bool) { return r.IntakeDate, !r.IntakeDate.IsZero() }},
}

// Map produces the full column write set for one store. The id column is
// mandatory; canonical fields, extra attributes and the store's default
// rules each contribute only where the live schema has a matching column.
func Map(rec domain.ClientRecord, st *registry.Store, cols store.ColumnSet, now time.Time) ([]store.Field, error) {
	if rec.ID == "" {
		return nil, fmt.Errorf("mapper: record for store %q has no id", st.ID)
	}
	if !cols.Has(IdentityColumn) {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoIdentityColumn, st.ID, st.Table)
	}

	fields := []store.Field{{Column: IdentityColumn, Value: rec.ID}}
	mapped := map[string]bool{IdentityColumn: true}

	for _, c := range canonical {
		if !cols.Has(c.column) {
			continue
		}
		if v, ok := c.value(rec); ok {
			fields = append(fields, store.Field{Column: c.column, Value: v, Refresh: true})
			mapped[c.column] = true
		}
	}

	for _, k := range sortedKeys(rec.Extra) {
		if mapped[k] || !cols.Has(k) {
			continue
		}
		fields = append(fields, store.Field{Column: k, Value: rec.Extra[k], Refresh: true})
		mapped[k] = true
	}

	// Bookkeeping columns: created_at never moves after the first insert,
	// updated_at refreshes every attempt.
	if cols.Has("created_at") && !mapped["created_at"] {
		v := any(now)
		if !rec.CreatedAt.IsZero() {
			v = rec.CreatedAt
		}
		fields = append(fields, store.Field{Column: "created_at", Value: v})
		mapped["created_at"] = true
	}
	if cols.Has("updated_at") && !mapped["updated_at"] {
		fields = append(fields, store.Field{Column: "updated_at", Value: now, Refresh: true})
		mapped["updated_at"] = true
	}

	for _, rule := range st.Defaults {
		if mapped[rule.Column] || !cols.Has(rule.Column) {
			continue
		}
		f, err := evalDefault(rule, rec, now)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
		mapped[rule.Column] = true
	}

	if len(fields) == 1 {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoMappableColumns, st.ID, st.Table)
	}
	return fields, nil
}

// MapPatch produces the write set for a partial update: only the fields the
// patch actually sets, plus the id key, the updated_at bump and any
// time-refresh defaults. A nil, nil return means nothing in the patch maps
// onto this store, which is a no-op rather than a failure.
func MapPatch(id string, patch domain.ClientPatch, st *registry.Store, cols store.ColumnSet, now time.Time) ([]store.Field, error) {
	if id == "" {
		return nil, fmt.Errorf("mapper: patch for store %q has no id", st.ID)
	}
	if !cols.Has(IdentityColumn) {
		return nil, fmt.Errorf("%w: %s.%s", ErrNoIdentityColumn, st.ID, st.Table)
	}

	fields := []store.Field{{Column: IdentityColumn, Value: id}}
	mapped := map[string]bool{IdentityColumn: true}

	add := func(column string, v any) {
		if mapped[column] || !cols.Has(column) {
			return
		}
		fields = append(fields, store.Field{Column: column, Value: v, Refresh: true})
		mapped[column] = true
	}

	if patch.FirstName != nil {
		add("first_name", *patch.FirstName)
	}
	if patch.LastName != nil {
		add("last_name", *patch.LastName)
	}
	if patch.Email != nil {
		add("email", *patch.Email)
	}
	if patch.Phone != nil {
		add("phone", *patch.Phone)
	}
	if patch.RiskLevel != nil {
		add("risk_level", string(*patch.RiskLevel))
	}
	if patch.CaseStatus != nil {
		add("case_status", string(*patch.CaseStatus))
	}
	if patch.CaseManagerID != nil {
		add("case_manager_id", *patch.CaseManagerID)
	}
	if patch.IntakeDate != nil {
		add("intake_date", *patch.IntakeDate)
	}
	for _, k := range sortedKeys(patch.Extra) {
		add(k, patch.Extra[k])
	}

	if len(fields) == 1 {
		// Nothing in the patch belongs to this store.
		return nil, nil
	}

	if cols.Has("updated_at") && !mapped["updated_at"] {
		fields = append(fields, store.Field{Column: "updated_at", Value: now, Refresh: true})
		mapped["updated_at"] = true
	}
	for _, rule := range st.Defaults {
		if rule.Generator != "now" || mapped[rule.Column] || !cols.Has(rule.Column) {
			continue
		}
		fields = append(fields, store.Field{Column: rule.Column, Value: now, Refresh: true})
		mapped[rule.Column] = true
	}
	return fields, nil
}

// evalDefault applies one default rule. Static values and one-shot
// generators are insert-only so later syncs never clobber them; the now
// generator refreshes on every write.
func evalDefault(rule registry.DefaultRule, rec domain.ClientRecord, now time.Time) (store.Field, error) {
	if rule.Generator == "" {
		return store.Field{Column: rule.Column, Value: rule.Value}, nil
	}
	switch rule.Generator {
	case "now":
		return store.Field{Column: rule.Column, Value: now, Refresh: true}, nil
	case "ulid":
		return store.Field{Column: rule.Column, Value: idx.New().String()}, nil
	case "uuid":
		return store.Field{Column: rule.Column, Value: uuid.NewString()}, nil
	case "intake_date":
		v := any(now)
		if !rec.IntakeDate.IsZero() {
			v = rec.IntakeDate
		}
		return store.Field{Column: rule.Column, Value: v}, nil
	default:
		// Registry validation keeps this unreachable.
		return store.Field{}, fmt.Errorf("mapper: unknown generator %q", rule.Generator)
	}
}

func sortedKeys(m map[string]any) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
