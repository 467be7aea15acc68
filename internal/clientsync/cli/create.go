package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/commonassist/casehub/internal/clientsync/app"
	"github.com/commonassist/casehub/internal/clientsync/domain"
)

// CreateOptions holds flags for the create command.
type CreateOptions struct {
	*RootOptions
	ID          string
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	Risk        string
	Status      string
	CaseManager string
	IntakeDate  string
	Attrs       []string
}

// NewCreateCommand creates the create command.
func NewCreateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CreateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a client in every registered store",
		Long: `Create a client record and fan it out to all registered stores in one
coordinated attempt. The master store is written first; if any store fails,
every store's transaction is rolled back and no row persists anywhere.

Example:
  clientsync create --first-name Ana --last-name Ruiz --risk high
  clientsync create --first-name Ana --last-name Ruiz --attr bedroom_count=2`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ID, "id", "", "client id (minted when empty, pass for idempotent retries)")
	cmd.Flags().StringVar(&opts.FirstName, "first-name", "", "first name (required)")
	cmd.Flags().StringVar(&opts.LastName, "last-name", "", "last name (required)")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email address")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&opts.Risk, "risk", "", "risk level (low|medium|high)")
	cmd.Flags().StringVar(&opts.Status, "status", "", "case status (active|inactive|completed)")
	cmd.Flags().StringVar(&opts.CaseManager, "case-manager", "", "case manager id")
	cmd.Flags().StringVar(&opts.IntakeDate, "intake", "", "intake date (YYYY-MM-DD)")
	cmd.Flags().StringArrayVar(&opts.Attrs, "attr", nil, "per-module attribute column=value (repeatable)")
	_ = cmd.MarkFlagRequired("first-name")
	_ = cmd.MarkFlagRequired("last-name")

	return cmd
}

func runCreate(opts *CreateOptions, cmd *cobra.Command) error {
	rec := domain.ClientRecord{
		ID:            opts.ID,
		FirstName:     opts.FirstName,
		LastName:      opts.LastName,
		Email:         opts.Email,
		Phone:         opts.Phone,
		RiskLevel:     domain.RiskLevel(opts.Risk),
		CaseStatus:    domain.CaseStatus(opts.Status),
		CaseManagerID: opts.CaseManager,
	}

	if opts.IntakeDate != "" {
		t, err := parseDate(opts.IntakeDate)
		if err != nil {
			return fmt.Errorf("invalid intake date: %w", err)
		}
		rec.IntakeDate = t
	}

	extra, err := parseAttrs(opts.Attrs)
	if err != nil {
		return err
	}
	rec.Extra = extra

	application, err := app.New(app.LoadConfig())
	if err != nil {
		return err
	}
	defer func() { _ = application.Close() }()

	res, err := application.Sync().CreateClient(cmd.Context(), rec)
	if err != nil {
		return err
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if err := formatter.SyncResult("create", res); err != nil {
		return err
	}
	if !res.OverallSuccess {
		return fmt.Errorf("create failed in: %s", strings.Join(res.ModulesFailed(), ", "))
	}
	return nil
}

// parseAttrs turns repeated column=value flags into an Extra map.
func parseAttrs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	m := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid attribute %q, want column=value", p)
		}
		m[k] = v
	}
	return m, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
