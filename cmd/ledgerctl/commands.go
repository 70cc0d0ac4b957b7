package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/FACorreiaa/ledger-ingest/internal/domain/categorization"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/catalog"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/codex"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/journal"
	"github.com/FACorreiaa/ledger-ingest/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/ledger-ingest/internal/domain/import/service"
	"github.com/FACorreiaa/ledger-ingest/pkg/money"
)

type globalFlags struct {
	threshold int
	noTax     bool
	sheet     string
	currency  string
	verbose   bool
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Ingest bank statements into categorized, balanced journals",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return flags.validate()
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.IntVar(&flags.threshold, "threshold", 85, "auto-confirm confidence threshold (0-100)")
	pf.BoolVar(&flags.noTax, "no-tax", false, "do not split inclusive tax out of journal amounts")
	pf.StringVar(&flags.sheet, "sheet", "", "worksheet to read from spreadsheet files")
	pf.StringVar(&flags.currency, "currency", money.DefaultCurrency, "ISO-4217 currency for display")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "log pipeline detail to stderr")

	root.AddCommand(newPreviewCmd(flags), newImportCmd(flags), newExportCmd(flags))
	return root
}

// pipeline wires an in-memory store with an ephemeral codex key.
type pipeline struct {
	svc    *importservice.ImportService
	cs     *categorization.Service
	tenant uuid.UUID
}

func newPipeline(cmd *cobra.Command, flags *globalFlags) (*pipeline, error) {
	level := slog.LevelWarn
	if flags.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	cat, err := catalog.Default()
	if err != nil {
		return nil, err
	}
	store := repository.NewMemoryStore()
	master, err := codex.GenerateMasterKey()
	if err != nil {
		return nil, err
	}
	keys, err := codex.NewKeyRing(master)
	if err != nil {
		return nil, err
	}
	cs, err := categorization.NewService(store, codex.New(store, keys, keys, logger), cat, logger)
	if err != nil {
		return nil, err
	}
	svc := importservice.NewImportService(store, cat, importservice.DefaultConfig(), logger).
		WithCategorizationService(cs)
	return &pipeline{svc: svc, cs: cs, tenant: uuid.New()}, nil
}

func (p *pipeline) Close() { _ = p.cs.Close() }

func (f *globalFlags) validate() error {
	if f.threshold < 0 || f.threshold > 100 {
		return fmt.Errorf("--threshold must be between 0 and 100, got %d", f.threshold)
	}
	if !money.Known(f.currency) {
		return fmt.Errorf("unknown currency %q", f.currency)
	}
	return nil
}

func (f *globalFlags) options() importservice.Options {
	opts := importservice.DefaultOptions()
	opts.AutoConfirmThreshold = f.threshold
	opts.ExtractTax = !f.noTax
	opts.Sheet = f.sheet
	return opts
}

func readStatement(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, filepath.Base(path), nil
}

func newPreviewCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "preview FILE",
		Short: "Show detection diagnostics and the first normalized rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, name, err := readStatement(args[0])
			if err != nil {
				return err
			}
			p, err := newPipeline(cmd, flags)
			if err != nil {
				return err
			}
			defer p.Close()

			res, err := p.svc.Preview(cmd.Context(), p.tenant, data, name, flags.options())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			d := res.Diagnostics
			fmt.Fprintf(out, "format:   %s %s\n", d.Format, d.Kind)
			fmt.Fprintf(out, "bank:     %s\n", d.Bank)
			fmt.Fprintf(out, "header:   row %d (confidence %d%%)\n", d.HeaderRow, d.LayoutConfidence)
			fmt.Fprintf(out, "rows:     %d transactions, %d excluded\n\n", res.Total, len(res.RowErrors))

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LINE\tDATE\tDESCRIPTION\tAMOUNT\tDIRECTION")
			for _, tx := range res.Sample {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", tx.SourceLine, tx.Date, tx.Description, money.Format(tx.Amount, flags.currency), tx.Direction)
			}
			return tw.Flush()
		},
	}
}

func newImportCmd(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Run the whole pipeline and print the allocation summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := runImport(cmd, flags, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(res.Summary)
			}
			return printSummary(out, res, flags.currency)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func newExportCmd(flags *globalFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export FILE",
		Short: "Run the pipeline and write auto-confirmed journal lines as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := runImport(cmd, flags, args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}
			if err := journal.ExportCSV(w, res.Journals); err != nil {
				return err
			}
			if output != "" && output != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d journal entries to %s\n", len(res.Journals), output)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file, - for stdout")
	return cmd
}

func runImport(cmd *cobra.Command, flags *globalFlags, path string) (*importservice.Result, error) {
	data, name, err := readStatement(path)
	if err != nil {
		return nil, err
	}
	p, err := newPipeline(cmd, flags)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	return p.svc.Upload(cmd.Context(), p.tenant, data, name, flags.options())
}

func printSummary(out io.Writer, res *importservice.Result, currency string) error {
	s := res.Summary
	fmt.Fprintf(out, "import %s\n", res.ImportID)
	fmt.Fprintf(out, "  parsed %d, excluded %d, duplicates %d, imported %d\n", s.Parsed, s.Excluded, s.Duplicates, s.Imported)
	fmt.Fprintf(out, "  auto-confirmed %d, needs review %d, mean confidence %.1f\n", s.AutoConfirmed, s.NeedsReview, s.MeanConfidence)
	fmt.Fprintf(out, "  money in %s, money out %s\n\n",
		money.Format(s.Balance.CreditTotal, currency), money.Format(s.Balance.DebitTotal, currency))

	categories := make([]string, 0, len(s.ByCategory))
	for c := range s.ByCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tROWS")
	for _, c := range categories {
		fmt.Fprintf(tw, "%s\t%d\n", c, s.ByCategory[c])
	}
	if s.Journal != nil && s.Journal.Entries > 0 {
		fmt.Fprintln(tw, "\nPERIOD\tENTRIES\tIN\tOUT\tNET VAT")
		for _, m := range s.Journal.Months() {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", m.Period, m.Entries,
				money.Format(m.MoneyIn, currency), money.Format(m.MoneyOut, currency), money.Format(m.NetVAT(), currency))
		}
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(tw, "warning: line %d: %s\n", w.Line, w.Message)
	}
	return tw.Flush()
}
