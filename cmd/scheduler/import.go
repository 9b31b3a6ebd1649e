package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/example/course-scheduler/internal/application"
	"github.com/example/course-scheduler/internal/sheet"
)

type importOptions struct {
	file          string
	sheetName     string
	directory     string
	semester      string
	commit        bool
	skipInvalid   bool
	demoteInvalid bool
	format        string
}

func newImportCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &importOptions{}

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Build a change set from a registrar export",
		Long: `Reads a course export (.csv or .xlsx), reconciles it with the stored
schedules of the semester and prints the resulting changes. With --commit
every change is applied.`,
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.format != "text" && opts.format != "json" {
				return fmt.Errorf("invalid format %q: must be text or json", opts.format)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.file, "file", "", "course export to import (.csv or .xlsx)")
	cmd.Flags().StringVar(&opts.sheetName, "sheet", "", "worksheet name for .xlsx exports (default: active sheet)")
	cmd.Flags().StringVar(&opts.directory, "directory", "", "optional staff directory export")
	cmd.Flags().StringVar(&opts.semester, "semester", "", "semester the export belongs to, e.g. \"Fall 2024\"")
	cmd.Flags().BoolVar(&opts.commit, "commit", false, "apply every change after building")
	cmd.Flags().BoolVar(&opts.skipInvalid, "skip-invalid", false, "skip failing rows instead of aborting the import")
	cmd.Flags().BoolVar(&opts.demoteInvalid, "demote-invalid-instructors", false, "import rows with malformed instructors as Staff")
	cmd.Flags().StringVar(&opts.format, "format", "text", "output format (text|json)")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("semester")

	return cmd
}

func runImport(cmd *cobra.Command, rootOpts *rootOptions, opts *importOptions) error {
	ctx := cmd.Context()

	rows, err := readExport(opts.file, opts.sheetName, sheet.Read)
	if err != nil {
		return err
	}
	var directory []application.DirectoryRow
	if opts.directory != "" {
		directory, err = readExport(opts.directory, "", sheet.ReadDirectory)
		if err != nil {
			return err
		}
	}

	rt, err := newRuntime(ctx, rootOpts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer rt.Close()

	options := application.BuildOptions{OnRowError: application.AbortImport}
	if opts.skipInvalid {
		options.OnRowError = application.SkipRow
	}
	if opts.demoteInvalid {
		options.InstructorFallback = application.DemoteToStaff
	}

	tx, err := rt.service.BuildTransaction(ctx, application.BuildParams{
		Semester:      opts.semester,
		Rows:          rows,
		DirectoryRows: directory,
		Options:       options,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var result *application.CommitResult
	if opts.commit {
		committed, err := rt.service.Commit(ctx, tx.ID)
		if err != nil {
			var failed *application.CommitFailedError
			if errors.As(err, &failed) {
				return fmt.Errorf("%w (%d batches applied before batch %d failed)", err, failed.AppliedBatches, failed.Batch)
			}
			return err
		}
		result = &committed
	}

	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(importReport{Transaction: tx, Commit: result})
	}
	printTransaction(out, tx)
	if result != nil {
		printCommit(out, *result)
	}
	return nil
}

type importReport struct {
	Transaction application.Transaction   `json:"transaction"`
	Commit      *application.CommitResult `json:"commit,omitempty"`
}

func readExport[T any](path, sheetName string, read func(string, io.Reader, string) ([]T, error)) ([]T, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, err := read(path, f, sheetName)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

func printTransaction(w io.Writer, tx application.Transaction) {
	fmt.Fprintf(w, "transaction %s (%s): %d changes, %d issues, %d warnings\n",
		tx.ID, tx.Semester, len(tx.Changes), len(tx.Issues), len(tx.Warnings))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, change := range tx.Changes {
		group := "-"
		if change.GroupKey != nil {
			group = *change.GroupKey
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", change.Action, change.Collection, change.Label, group)
		for _, entry := range change.Diff {
			fmt.Fprintf(tw, "\t\t  %s: %q -> %q\t\n", entry.Key, entry.FromDisplay(), entry.ToDisplay())
		}
		if len(change.Suggestions) > 0 {
			labels := make([]string, len(change.Suggestions))
			for i, s := range change.Suggestions {
				labels[i] = s.Label
			}
			fmt.Fprintf(tw, "\t\t  similar: %s\t\n", strings.Join(labels, ", "))
		}
	}
	_ = tw.Flush()

	for _, issue := range tx.Issues {
		state := "skipped"
		if !issue.Skipped {
			state = "imported"
		}
		fmt.Fprintf(w, "row %d [%s, %s]: %s\n", issue.Row, issue.Kind, state, issue.Message)
	}
	for _, warning := range tx.Warnings {
		fmt.Fprintf(w, "warning: %s conflict on %s between %s and %s\n",
			warning.Type, warning.Day, warning.ScheduleID, warning.WithScheduleID)
	}
}

func printCommit(w io.Writer, result application.CommitResult) {
	fmt.Fprintf(w, "committed: %d added, %d modified, %d deleted in %d batches\n",
		result.Added, result.Modified, result.Deleted, result.Batches)
	for _, dropped := range result.Dropped {
		fmt.Fprintf(w, "dropped reference %s in %s of change %s\n", dropped.PendingID, dropped.Field, dropped.ChangeID)
	}
}
