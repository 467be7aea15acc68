package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/commonassist/casehub/internal/clientsync/app"
	"github.com/commonassist/casehub/internal/clientsync/domain"
)

// UpdateOptions holds flags for the update command.
type UpdateOptions struct {
	*RootOptions
	FirstName   string
	LastName    string
	Email       string
	Phone       string
	Risk        string
	Status      string
	CaseManager string
	IntakeDate  string
	Attrs       []string
	Clear       []string
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpdateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update <client-id>",
		Short: "Update client fields in every store that carries them",
		Long: `Apply a partial update to one client across all registered stores.
Only the given flags are written; stores whose schema has no column for any
changed field are skipped, not failed.

Example:
  clientsync update 01JD3YAFY6 --risk low
  clientsync update 01JD3YAFY6 --phone 555-0199 --attr benefit_type=food
  clientsync update 01JD3YAFY6 --clear case_manager_id`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&opts.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email address")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&opts.Risk, "risk", "", "risk level (low|medium|high)")
	cmd.Flags().StringVar(&opts.Status, "status", "", "case status (active|inactive|completed)")
	cmd.Flags().StringVar(&opts.CaseManager, "case-manager", "", "case manager id")
	cmd.Flags().StringVar(&opts.IntakeDate, "intake", "", "intake date (YYYY-MM-DD)")
	cmd.Flags().StringArrayVar(&opts.Attrs, "attr", nil, "per-module attribute column=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Clear, "clear", nil, "per-module attribute column to set NULL (repeatable)")

	return cmd
}

func runUpdate(opts *UpdateOptions, clientID string, cmd *cobra.Command) error {
	patch, err := buildPatch(opts, cmd)
	if err != nil {
		return err
	}

	application, err := app.New(app.LoadConfig())
	if err != nil {
		return err
	}
	defer func() { _ = application.Close() }()

	res, err := application.Sync().UpdateClient(cmd.Context(), clientID, patch)
	if err != nil {
		return err
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	if err := formatter.UpdateResult(res); err != nil {
		return err
	}
	if !res.OverallSuccess {
		return fmt.Errorf("update failed: %s", strings.Join(res.Errors, "; "))
	}
	return nil
}

// buildPatch maps only the flags that were actually set, so an empty string
// remains expressible as a value.
func buildPatch(opts *UpdateOptions, cmd *cobra.Command) (domain.ClientPatch, error) {
	patch := domain.ClientPatch{}
	flags := cmd.Flags()

	if flags.Changed("first-name") {
		patch.FirstName = &opts.FirstName
	}
	if flags.Changed("last-name") {
		patch.LastName = &opts.LastName
	}
	if flags.Changed("email") {
		patch.Email = &opts.Email
	}
	if flags.Changed("phone") {
		patch.Phone = &opts.Phone
	}
	if flags.Changed("risk") {
		rl := domain.RiskLevel(opts.Risk)
		patch.RiskLevel = &rl
	}
	if flags.Changed("status") {
		cs := domain.CaseStatus(opts.Status)
		patch.CaseStatus = &cs
	}
	if flags.Changed("case-manager") {
		patch.CaseManagerID = &opts.CaseManager
	}
	if flags.Changed("intake") {
		t, err := parseDate(opts.IntakeDate)
		if err != nil {
			return patch, fmt.Errorf("invalid intake date: %w", err)
		}
		patch.IntakeDate = &t
	}

	extra, err := parseAttrs(opts.Attrs)
	if err != nil {
		return patch, err
	}
	for _, col := range opts.Clear {
		if extra == nil {
			extra = make(map[string]any, len(opts.Clear))
		}
		extra[col] = nil
	}
	patch.Extra = extra

	return patch, nil
}
