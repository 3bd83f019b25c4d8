package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/docingest/internal/admission"
	"github.com/sells-group/docingest/internal/batch"
	"github.com/sells-group/docingest/internal/cost"
	"github.com/sells-group/docingest/internal/export"
	"github.com/sells-group/docingest/internal/gate"
	"github.com/sells-group/docingest/internal/model"
	"github.com/sells-group/docingest/internal/validate"
	"github.com/sells-group/docingest/pkg/extraction"
)

var (
	ingestExportPath   string
	ingestEstimateOnly bool
	ingestModel        string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <dir>",
	Short: "Process a directory of documents",
	Long:  "Reads every file in the directory, runs the full pipeline (admission, validation, extraction, confidence gating), and prints a per-item report.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		items, err := loadItems(args[0])
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return eris.Errorf("no files found in %s", args[0])
		}

		modelName := cfg.Anthropic.Model
		if ingestModel != "" {
			modelName = ingestModel
		}

		rates := cost.DefaultRates()
		if cfg.Pricing.RatesPath != "" {
			rates, err = cost.LoadRates(cfg.Pricing.RatesPath)
			if err != nil {
				return err
			}
		}
		calc := cost.NewCalculator(rates)

		if ingestEstimateOnly {
			estimate := calc.EstimateBatch(len(items), cfg.Batch.AvgTokensPerItem, modelName)
			fmt.Printf("%d items, estimated cost $%.4f (%s)\n", len(items), estimate, modelName)
			return nil
		}

		ledger, err := initLedger(ctx)
		if err != nil {
			return err
		}
		defer ledger.Close() //nolint:errcheck

		quotas := make(map[string]admission.Quota, len(cfg.Limits.Quotas))
		for action, q := range cfg.Limits.Quotas {
			quotas[action] = admission.Quota{MaxRequests: q.MaxRequests, Window: q.Window()}
		}

		extractor := extraction.NewClaude(
			extraction.StaticTokenProvider{SubjectID: cfg.Limits.SubjectID, Bearer: cfg.Anthropic.Key},
			extraction.ClaudeOptions{
				Model:             modelName,
				MaxTokens:         int64(cfg.Anthropic.MaxTokens),
				RequestsPerSecond: cfg.Anthropic.RequestsPerSecond,
				Burst:             cfg.Anthropic.Burst,
			},
		)

		opts := batch.DefaultOptions()
		opts.Concurrency = cfg.Batch.Concurrency
		opts.WindowDelay = time.Duration(cfg.Batch.WindowDelayMs) * time.Millisecond
		opts.MaxRetries = cfg.Batch.MaxRetries
		opts.AttemptTimeout = time.Duration(cfg.Batch.AttemptTimeoutS) * time.Second
		opts.SubjectID = cfg.Limits.SubjectID
		opts.Model = modelName
		opts.AvgTokensPerItem = cfg.Batch.AvgTokensPerItem

		scheduler, err := batch.New(opts,
			admission.NewLimiter(quotas),
			validate.New(),
			gate.New(),
			extractor,
			ledger,
			calc,
		)
		if err != nil {
			return err
		}

		onProgress := func(completed, total int, current string) {
			fmt.Fprintf(os.Stderr, "\r[%d/%d] %s\x1b[K", completed, total, current)
		}

		report := scheduler.ProcessBatch(ctx, items, onProgress)
		fmt.Fprintln(os.Stderr)

		printReport(os.Stdout, report)

		if ingestExportPath != "" {
			if err := exportReport(ingestExportPath, report); err != nil {
				return err
			}
			fmt.Printf("exported %d records to %s\n", len(export.Exportable(report.Items)), ingestExportPath)
		}

		return nil
	},
}

func init() {
	ingestCmd.Flags().StringVar(&ingestExportPath, "export", "", "write gated records to this file (.csv or .xlsx)")
	ingestCmd.Flags().BoolVar(&ingestEstimateOnly, "estimate-only", false, "print the cost estimate and exit without processing")
	ingestCmd.Flags().StringVar(&ingestModel, "model", "", "override the configured extraction model")
	rootCmd.AddCommand(ingestCmd)
}

// mimeByExt maps supported file extensions to their declared MIME type.
// The validator re-checks the payload against this declaration.
var mimeByExt = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
	".text": "text/plain",
	".csv":  "text/csv",
}

// loadItems reads every regular file in dir. Files with an unrecognized
// extension are kept with an empty MIME type so the validator rejects
// them with a proper per-item error instead of silently dropping them.
func loadItems(dir string) ([]model.Item, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "read directory %s", dir)
	}

	var items []model.Item
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			zap.L().Warn("skipping unreadable file", zap.String("path", path), zap.Error(err))
			continue
		}
		items = append(items, model.Item{
			Name:     entry.Name(),
			MIMEType: mimeByExt[strings.ToLower(filepath.Ext(entry.Name()))],
			Size:     int64(len(data)),
			Data:     data,
		})
	}
	return items, nil
}

func printReport(w *os.File, report model.Report) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ITEM\tSTATE\tATTEMPTS\tDETAIL")
	for _, res := range report.Items {
		detail := ""
		switch {
		case res.Skipped:
			detail = res.SkipReason
		case res.ErrMessage != "":
			detail = res.ErrMessage
		case res.Decision != nil && res.Decision.NeedsReview:
			detail = fmt.Sprintf("needs review (confidence %.2f < %.2f)",
				res.Decision.Confidence, res.Decision.Threshold)
		case res.Record != nil:
			detail = fmt.Sprintf("%s %s $%.2f", res.Record.Date, res.Record.Vendor, res.Record.Amount)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", res.Name, res.State, res.Attempts, detail)
	}
	tw.Flush() //nolint:errcheck

	fmt.Fprintf(w, "\nbatch %s: %d total, %d ok, %d failed, %d skipped, %d need review, ~$%.4f, took %s\n",
		report.BatchID, report.Total, report.Successful, report.Failed,
		report.Skipped, report.NeedsReview, report.EstimatedCost,
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
}

func exportReport(path string, report model.Report) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return export.SaveXLSX(path, report.Items)
	case ".csv":
		return export.SaveCSV(path, report.Items)
	default:
		return eris.Errorf("unsupported export format %q, want .csv or .xlsx", filepath.Ext(path))
	}
}
