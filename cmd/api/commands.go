package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"boardportal/config"
	"boardportal/export"
	"boardportal/resolution"
)

func sweepCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire every overdue resolution once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) error {
				res := rt.evaluator.Sweep(ctx)
				out := cmd.OutOrStdout()
				if opts.json {
					failed := make(map[string]string, len(res.Failed))
					for id, err := range res.Failed {
						failed[id] = err.Error()
					}
					return printJSON(out, map[string]any{
						"scanned": res.Scanned,
						"expired": res.Expired,
						"skipped": res.Skipped,
						"failed":  failed,
					})
				}
				fmt.Fprintf(out, "scanned %d, expired %d, skipped %d, failed %d\n",
					res.Scanned, len(res.Expired), res.Skipped, len(res.Failed))
				for _, id := range res.Expired {
					fmt.Fprintf(out, "expired %s\n", id)
				}
				if len(res.Failed) > 0 {
					return fmt.Errorf("%d resolutions could not be expired", len(res.Failed))
				}
				return nil
			})
		},
	}
}

func reconcileCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Fold records written to lower tiers back into the primary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) error {
				rec, err := resolution.NewReconciler(rt.log.Named("reconcile"), rt.repo.Backends()...)
				if err != nil {
					return err
				}
				report, err := rec.Run(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.json {
					errs := make([]string, 0, len(report.Errors))
					for _, e := range report.Errors {
						errs = append(errs, e.Error())
					}
					return printJSON(out, map[string]any{
						"copied":     report.Copied,
						"signatures": report.Signatures,
						"statuses":   report.Statuses,
						"conflicts":  report.Conflicts,
						"errors":     errs,
					})
				}
				fmt.Fprintf(out, "copied %d, signatures %d, statuses %d, conflicts %d, errors %d\n",
					report.Copied, report.Signatures, report.Statuses, report.Conflicts, len(report.Errors))
				return nil
			})
		},
	}
}

type listRow struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	MeetingDate string `json:"meeting_date"`
	DeadlineAt  string `json:"deadline_at"`
	Signed      int    `json:"signed"`
	Panel       int    `json:"panel"`
	Overdue     bool   `json:"overdue"`
}

func listCmd(opts *options) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List resolutions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) error {
				now := time.Now()
				rows := make([]listRow, 0)
				for _, r := range rt.service.List(ctx) {
					if status != "" && string(r.Status) != status {
						continue
					}
					rows = append(rows, listRow{
						ID:          r.ID,
						Status:      string(r.Status),
						MeetingDate: r.MeetingDate.UTC().Format(time.DateOnly),
						DeadlineAt:  r.DeadlineAt.UTC().Format(time.RFC3339),
						Signed:      r.SignedCount(),
						Panel:       len(r.Signatories),
						Overdue:     r.Overdue(now),
					})
				}
				out := cmd.OutOrStdout()
				if opts.json {
					return printJSON(out, rows)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(out)
				tw.AppendHeader(table.Row{"ID", "Status", "Meeting", "Deadline", "Signed", "Overdue"})
				for _, r := range rows {
					tw.AppendRow(table.Row{r.ID, r.Status, r.MeetingDate, r.DeadlineAt, fmt.Sprintf("%d/%d", r.Signed, r.Panel), r.Overdue})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	return cmd
}

func exportCmd(opts *options) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the audit workbook (xlsx)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, opts, func(ctx context.Context, rt *runtime) error {
				items := rt.service.List(ctx)
				sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt.Before(items[j].CreatedAt) })
				data, err := export.Workbook(items)
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d resolutions to %s\n", len(items), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "resolutions.xlsx", "output file")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage configuration"}
	var path string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteDefault(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&path, "path", config.DefaultPath, "destination")
	cfg.AddCommand(initCmd)
	return cfg
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
