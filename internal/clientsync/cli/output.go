package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/commonassist/casehub/internal/clientsync/domain"
)

// OutputFormatter renders command results as human text or JSON.
type OutputFormatter struct {
	Format  string
	Writer  io.Writer
	Verbose bool
}

func (f *OutputFormatter) JSON(v any) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// SyncResult renders a create attempt's per-store breakdown.
func (f *OutputFormatter) SyncResult(op string, res *domain.SyncResult) error {
	if f.Format == "json" {
		return f.JSON(res)
	}

	status := "success"
	if !res.OverallSuccess {
		status = "FAILED"
	}
	fmt.Fprintf(f.Writer, "%s %s: %s (%.0f%% of %d stores)\n",
		op, res.ClientID, status, res.SuccessRate()*100, len(res.Outcomes))
	for _, o := range res.Outcomes {
		line := fmt.Sprintf("  %-12s %s", o.StoreID, o.Status)
		if o.Message != "" && o.Status != domain.OutcomeCommitted {
			line += "  " + o.Message
		}
		fmt.Fprintln(f.Writer, line)
	}
	if f.Verbose {
		f.transactionLog(res.Log)
	}
	return nil
}

// UpdateResult renders the condensed update view.
func (f *OutputFormatter) UpdateResult(res *domain.UpdateResult) error {
	if f.Format == "json" {
		return f.JSON(res)
	}

	status := "success"
	if !res.OverallSuccess {
		status = "FAILED"
	}
	fmt.Fprintf(f.Writer, "update %s: %s\n", res.ClientID, status)
	if len(res.UpdatedIn) > 0 {
		fmt.Fprintf(f.Writer, "  updated in: %s\n", strings.Join(res.UpdatedIn, ", "))
	} else {
		fmt.Fprintln(f.Writer, "  updated in: none")
	}
	for _, e := range res.Errors {
		fmt.Fprintf(f.Writer, "  error: %s\n", e)
	}
	return nil
}

// AuditReport renders a full audit run.
func (f *OutputFormatter) AuditReport(report *domain.AuditReport) error {
	if f.Format == "json" {
		return f.JSON(report)
	}

	fmt.Fprintf(f.Writer, "audit %s policy=%s checked=%d\n",
		report.RunID, report.Policy, report.DatabasesChecked)
	fmt.Fprintf(f.Writer, "  found=%d repaired=%d remaining=%d\n",
		report.ViolationsFound, report.ViolationsRepaired, report.ViolationsRemaining)
	if len(report.CleanDatabases) > 0 {
		fmt.Fprintf(f.Writer, "  clean: %s\n", strings.Join(report.CleanDatabases, ", "))
	}
	if len(report.Backups) > 0 {
		fmt.Fprintln(f.Writer, "  backups:")
		for storeID, key := range report.Backups {
			fmt.Fprintf(f.Writer, "    %s: %s\n", storeID, key)
		}
	}
	if f.Verbose && len(report.Found) > 0 {
		fmt.Fprintln(f.Writer, "  found:")
		for _, v := range report.Found {
			f.violation(v)
		}
	}
	if len(report.Remaining) > 0 {
		fmt.Fprintln(f.Writer, "  remaining:")
		for _, v := range report.Remaining {
			f.violation(v)
		}
	}
	return nil
}

func (f *OutputFormatter) violation(v domain.Violation) {
	line := "    - " + v.String()
	if v.Action != domain.ActionNone {
		line += " action=" + string(v.Action)
	}
	if v.Detail != "" {
		line += " (" + v.Detail + ")"
	}
	fmt.Fprintln(f.Writer, line)
}

func (f *OutputFormatter) transactionLog(log []domain.LogEntry) {
	fmt.Fprintln(f.Writer, "log:")
	for _, e := range log {
		storeID := e.StoreID
		if storeID == "" {
			storeID = "-"
		}
		fmt.Fprintf(f.Writer, "  %s %-10s %-18s %s\n",
			e.Timestamp.Format(time.RFC3339), storeID, e.Step, e.Detail)
	}
}
