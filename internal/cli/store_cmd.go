package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/alexanderramin/dayplan/internal/cli/formatter"
	"github.com/alexanderramin/dayplan/internal/diagnostic"
	"github.com/alexanderramin/dayplan/internal/domain"
	"github.com/spf13/cobra"
)

func newDiagnoseCmd(a *App) *cobra.Command {
	var deep, asJSON bool

	cmd := &cobra.Command{
		Use:         "diagnose",
		Short:       "Check plannerData and repair what is broken",
		Annotations: map[string]string{annotationSkipLoad: "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.open(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			rep := p.Load(ctx)
			if deep {
				if deepRep, ran := p.Diagnostic.DeepValidate(ctx); ran {
					rep = mergeReports(rep, deepRep)
				}
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), rep)
			}
			fmt.Fprint(cmd.OutOrStdout(), formatter.FormatReport("Planner diagnostic", rep))
			return nil
		},
	}

	cmd.Flags().BoolVar(&deep, "deep", false, "Also remove null entries")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func mergeReports(first, second diagnostic.Report) diagnostic.Report {
	return diagnostic.Report{
		Success: first.Success && second.Success,
		Issues:  append(append([]string{}, first.Issues...), second.Issues...),
		Fixed:   append(append([]string{}, first.Fixed...), second.Fixed...),
		Data:    second.Data,
	}
}

func newGetCmd(a *App) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "get <collection>",
		Short: "Show a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.open(cmd)
			if err != nil {
				return err
			}
			v, err := p.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			records, skipped := domain.RecordsFromAny(v)
			if asJSON || records == nil || skipped > 0 {
				return printJSON(cmd.OutOrStdout(), v)
			}
			fmt.Fprint(cmd.OutOrStdout(), formatter.FormatRecords(args[0], records))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw value as JSON")
	return cmd
}

func newSaveCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save <collection> <record-json>",
		Short: "Insert a record, or update it when its id exists",
		Example: `  dayplan save tasks '{"title":"Buy milk","priority":"high","dueDate":"2026-11-01"}'
  dayplan save plannerData.blocks '{"title":"Focus","startTime":"09:00","endTime":"10:30"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var rec domain.Record
			if err := json.Unmarshal([]byte(args[1]), &rec); err != nil || rec == nil {
				return errors.New("record must be a JSON object")
			}
			p, err := a.open(cmd)
			if err != nil {
				return err
			}
			saved, err := p.SaveRecord(cmd.Context(), args[0], rec)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", formatter.StyleGreen.Render("Saved"), saved.ID())
			return nil
		},
	}
	return cmd
}

func newDeleteCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <collection> <id>",
		Short: "Delete a record and the records derived from it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.open(cmd)
			if err != nil {
				return err
			}
			if _, err := p.DeleteRecord(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", formatter.StyleGreen.Render("Deleted"), args[1])
			return nil
		},
	}
}

func newResetCmd(a *App) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset <collection>",
		Short: "Overwrite a collection with its default value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !domain.IsValidCollection(domain.Collection(args[0])) {
				return fmt.Errorf("unknown collection %q", args[0])
			}
			if !yes {
				if !a.interactive() {
					return errors.New("reset discards data; pass --yes to confirm")
				}
				ok, err := a.confirm(fmt.Sprintf("Reset %s?", args[0]), "Every record in it will be lost.")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), formatter.Dim("Reset cancelled."))
					return nil
				}
			}
			p, err := a.open(cmd)
			if err != nil {
				return err
			}
			if err := p.ResetCollection(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", formatter.StyleGreen.Render("Reset"), args[0])
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newFlushCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Commit every pending write",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.open(cmd)
			if err != nil {
				return err
			}
			n := len(p.Cache.Pending())
			if err := p.FlushAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Flushed %d pending write(s)\n", n)
			return nil
		},
	}
}

func newStatusCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show storage usage and the stored collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := a.open(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			used, err := p.Store.Size(ctx)
			if err != nil {
				return err
			}
			keys, err := p.Store.Keys(ctx)
			if err != nil {
				return err
			}
			sort.Strings(keys)

			rows := make([][]string, 0, len(keys))
			for _, k := range keys {
				if !domain.IsValidCollection(domain.Collection(k)) {
					continue
				}
				raw, _ := p.Store.GetRaw(ctx, k)
				rows = append(rows, []string{k, fmt.Sprintf("%d", len(raw))})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, formatter.Header("Storage"))
			fmt.Fprintf(out, "%s %d / %d bytes\n", formatter.Dim("used:"), used, p.Config.QuotaBytes)
			fmt.Fprintf(out, "%s %d\n\n", formatter.Dim("pending writes:"), len(p.Cache.Pending()))
			fmt.Fprint(out, formatter.RenderTable([]string{"COLLECTION", "BYTES"}, rows))
			return nil
		},
	}
}
