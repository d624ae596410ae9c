package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/fastprodman/studentportal/internal/repos/pending"
	"github.com/fastprodman/studentportal/internal/services/reconcile"
)

// admin is the slice of the reconcile engine the CLI drives.
type admin interface {
	SyncAll(ctx context.Context) (reconcile.SyncReport, error)
	ReconcileAccount(ctx context.Context, accountID uint64) (reconcile.Result, error)
	ReconcileByEmail(ctx context.Context, email string) (reconcile.Result, error)
	Pending(ctx context.Context) (pending.Snapshot, error)
	PendingCounts(ctx context.Context, email string) (pending.Counts, error)
}

type opener func(ctx context.Context) (admin, func(), error)

var errPartialSync = errors.New("some accounts failed to sync")

func newRootCmd(open opener, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "portalctl",
		Short:         "Inspect and reconcile pending entitlements",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// withEngine opens the engine only once flags are known to be valid.
	withEngine := func(fn func(cmd *cobra.Command, e admin) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			e, closeFn, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			return fn(cmd, e)
		}
	}

	root.AddCommand(&cobra.Command{
		Use:   "sync-all",
		Short: "Reconcile every account",
		Args:  cobra.NoArgs,
		RunE: withEngine(func(cmd *cobra.Command, e admin) error {
			report, err := e.SyncAll(cmd.Context())
			if err != nil {
				return fmt.Errorf("sync all: %w", err)
			}

			err = printJSON(out, report)
			if err != nil {
				return err
			}
			if len(report.Failed) > 0 {
				return fmt.Errorf("%w: %d of %d", errPartialSync, len(report.Failed), report.Accounts)
			}

			return nil
		}),
	})

	var (
		email     string
		accountID uint64
	)

	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile one account by email or id",
		Args:  cobra.NoArgs,
		PreRunE: func(*cobra.Command, []string) error {
			if (email == "") == (accountID == 0) {
				return errors.New("exactly one of --email or --account is required")
			}

			return nil
		},
		RunE: withEngine(func(cmd *cobra.Command, e admin) error {
			var (
				res reconcile.Result
				err error
			)
			if email != "" {
				res, err = e.ReconcileByEmail(cmd.Context(), email)
			} else {
				res, err = e.ReconcileAccount(cmd.Context(), accountID)
			}
			if err != nil {
				return err
			}

			return printJSON(out, res)
		}),
	}
	syncCmd.Flags().StringVar(&email, "email", "", "account email")
	syncCmd.Flags().Uint64Var(&accountID, "account", 0, "account id")
	root.AddCommand(syncCmd)

	var pendingEmail string

	pendingCmd := &cobra.Command{
		Use:   "pending",
		Short: "List staged rows, or count them for one email",
		Args:  cobra.NoArgs,
		RunE: withEngine(func(cmd *cobra.Command, e admin) error {
			if pendingEmail != "" {
				counts, err := e.PendingCounts(cmd.Context(), pendingEmail)
				if err != nil {
					return err
				}

				return printJSON(out, counts)
			}

			snap, err := e.Pending(cmd.Context())
			if err != nil {
				return err
			}

			return printJSON(out, snap)
		}),
	}
	pendingCmd.Flags().StringVar(&pendingEmail, "email", "", "only count rows staged for this email")
	root.AddCommand(pendingCmd)

	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	err := enc.Encode(v)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	return nil
}
