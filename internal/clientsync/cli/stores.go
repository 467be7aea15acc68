package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/commonassist/casehub/internal/clientsync/app"
)

// NewStoresCommand creates the stores command group.
func NewStoresCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stores",
		Short: "Inspect and manage the registered stores",
	}

	cmd.AddCommand(newStoresListCommand(rootOpts))
	cmd.AddCommand(newStoresInitCommand(rootOpts))
	cmd.AddCommand(newStoresSnapshotCommand(rootOpts))
	cmd.AddCommand(newStoresSnapshotsCommand(rootOpts))

	return cmd
}

func newStoresListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "list",
		Short:        "List registered stores with live reachability and column counts",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.New(app.LoadConfig())
			if err != nil {
				return err
			}
			defer func() { _ = application.Close() }()

			type storeRow struct {
				ID      string `json:"id"`
				Module  string `json:"module"`
				Driver  string `json:"driver"`
				Table   string `json:"table"`
				Master  bool   `json:"master"`
				Status  string `json:"status"`
				Columns int    `json:"columns"`
			}

			ctx := cmd.Context()
			rows := make([]storeRow, 0, len(application.Registry().List()))
			for _, st := range application.Registry().List() {
				conn := application.Conns()[st.ID]
				row := storeRow{ID: st.ID, Module: st.Module, Driver: conn.Driver(), Table: st.Table, Master: st.Master}
				if err := conn.Ping(ctx); err != nil {
					row.Status = "unreachable: " + err.Error()
				} else {
					row.Status = "ok"
					cols, err := conn.Columns(ctx, st.Table)
					if err != nil {
						row.Status = "introspect failed: " + err.Error()
					} else if cols.Empty() {
						row.Status = "missing client table"
					} else {
						row.Columns = len(cols)
					}
				}
				rows = append(rows, row)
			}

			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if rootOpts.Format == "json" {
				return formatter.JSON(rows)
			}
			fmt.Fprintf(formatter.Writer, "%-12s %-10s %-8s %-10s %-7s %-8s %s\n",
				"ID", "MODULE", "DRIVER", "TABLE", "MASTER", "COLUMNS", "STATUS")
			for _, r := range rows {
				master := ""
				if r.Master {
					master = "yes"
				}
				fmt.Fprintf(formatter.Writer, "%-12s %-10s %-8s %-10s %-7s %-8d %s\n",
					r.ID, r.Module, r.Driver, r.Table, master, r.Columns, r.Status)
			}
			return nil
		},
	}
}

func newStoresInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "init",
		Short:        "Apply the baseline schema to the master store",
		Long:         "Apply the embedded baseline migrations to the master store. Dependent store schemas belong to their modules and are never touched.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.New(app.LoadConfig())
			if err != nil {
				return err
			}
			defer func() { _ = application.Close() }()

			if err := application.MigrateMaster(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "master store %s initialized\n", application.Registry().Master().ID)
			return nil
		},
	}
}

func newStoresSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "snapshot <store-id>",
		Short:        "Take an on-demand snapshot of one store",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.New(app.LoadConfig())
			if err != nil {
				return err
			}
			defer func() { _ = application.Close() }()

			key, err := application.Audit().Snapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}

func newStoresSnapshotsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:          "snapshots [store-id]",
		Short:        "List stored snapshots, newest last",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			application, err := app.New(app.LoadConfig())
			if err != nil {
				return err
			}
			defer func() { _ = application.Close() }()

			storeID := ""
			if len(args) == 1 {
				storeID = args[0]
			}
			infos, err := application.Audit().ListSnapshots(cmd.Context(), storeID)
			if err != nil {
				return err
			}

			formatter := &OutputFormatter{Format: rootOpts.Format, Writer: cmd.OutOrStdout()}
			if rootOpts.Format == "json" {
				return formatter.JSON(infos)
			}
			for _, info := range infos {
				fmt.Fprintf(formatter.Writer, "%s\t%d\t%s\n",
					info.Key, info.Size, info.LastModified.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
}
