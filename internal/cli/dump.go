package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/kinship/internal/ir"
	"github.com/roach88/kinship/internal/store"
)

// DumpOptions holds flags for the dump command.
type DumpOptions struct {
	*RootOptions
	Database   string
	Collection string
	Type       string
	Deleted    bool
	Log        bool
}

// DumpDocument is one stored document as printed by dump.
type DumpDocument struct {
	ID         string         `json:"id" yaml:"id"`
	Collection string         `json:"collection" yaml:"collection"`
	Type       string         `json:"type" yaml:"type"`
	Rev        int64          `json:"rev" yaml:"rev"`
	Deleted    bool           `json:"deleted" yaml:"deleted"`
	Fields     map[string]any `json:"fields" yaml:"fields"`
}

// DumpLogEntry is one write log row as printed by dump --log.
type DumpLogEntry struct {
	Seq     int64  `json:"seq" yaml:"seq"`
	ID      string `json:"id" yaml:"id"`
	Rev     int64  `json:"rev" yaml:"rev"`
	Deleted bool   `json:"deleted" yaml:"deleted"`
	Through int64  `json:"through" yaml:"through"`
}

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DumpOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the documents in a store",
		Long: `Print the documents held in a SQLite document store, or its write log.

Tombstones are hidden unless --deleted is given. The database defaults to
database.path from the configuration and must already exist.

Example:
  kinship dump --db ./kinship.db
  kinship dump --collection people --format yaml
  kinship dump --log --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Database == "" {
				opts.Database = opts.Config.Database.Path
			}
			return runDump(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default database.path)")
	cmd.Flags().StringVar(&opts.Collection, "collection", "", "only documents of this collection")
	cmd.Flags().StringVar(&opts.Type, "type", "", "only documents of this type")
	cmd.Flags().BoolVar(&opts.Deleted, "deleted", false, "include deleted documents")
	cmd.Flags().BoolVar(&opts.Log, "log", false, "print the write log instead of documents")

	return cmd
}

func runDump(ctx context.Context, opts *DumpOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.Logger.With("db", opts.Database)

	// Open would create a missing database; dumping one is always a mistake.
	if _, err := os.Stat(opts.Database); err != nil {
		_ = formatter.Error(ErrCodeStore, fmt.Sprintf("database not found: %s", opts.Database), nil)
		return WrapExitError(ExitCommandError, "database not found", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	if opts.Log {
		return dumpLog(ctx, st, formatter)
	}

	docs, err := st.Scan(ctx, store.Filter{
		Collection: opts.Collection,
		Type:       opts.Type,
		Deleted:    opts.Deleted,
	})
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read documents", err)
	}
	logger.Debug("documents read", "count", len(docs))

	if formatter.Structured() {
		out := make([]DumpDocument, len(docs))
		for i, d := range docs {
			fields, _ := ir.ToAny(d.Fields).(map[string]any)
			out[i] = DumpDocument{
				ID:         d.ID,
				Collection: d.Collection,
				Type:       d.Type,
				Rev:        d.Rev,
				Deleted:    d.Deleted,
				Fields:     fields,
			}
		}
		return formatter.Success(map[string]any{
			"documents": out,
			"total":     len(out),
		})
	}

	if len(docs) == 0 {
		fmt.Fprintln(formatter.Writer, "No documents found.")
		return nil
	}

	w := newTabWriter(formatter.Writer)
	fmt.Fprintln(w, "ID\tTYPE\tCOLLECTION\tREV\tDELETED\tFIELDS")
	for _, d := range docs {
		body, err := ir.MarshalCanonical(d.Fields)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to render document "+d.ID, err)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%t\t%s\n",
			d.ID,
			d.Type,
			d.Collection,
			d.Rev,
			d.Deleted,
			body,
		)
	}
	return w.Flush()
}

func dumpLog(ctx context.Context, st *store.Store, formatter *OutputFormatter) error {
	entries, err := st.WriteLog(ctx)
	if err != nil {
		_ = formatter.Error(ErrCodeStore, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read write log", err)
	}

	if formatter.Structured() {
		out := make([]DumpLogEntry, len(entries))
		for i, e := range entries {
			out[i] = DumpLogEntry(e)
		}
		return formatter.Success(map[string]any{
			"writes": out,
			"total":  len(out),
		})
	}

	if len(entries) == 0 {
		fmt.Fprintln(formatter.Writer, "No writes logged.")
		return nil
	}

	w := newTabWriter(formatter.Writer)
	fmt.Fprintln(w, "SEQ\tID\tREV\tDELETED\tTHROUGH")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%d\t%t\t%d\n", e.Seq, e.ID, e.Rev, e.Deleted, e.Through)
	}
	return w.Flush()
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
