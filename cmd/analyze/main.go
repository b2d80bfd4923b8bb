package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/retro-lab/drawing-analyzer/constants"
	"github.com/retro-lab/drawing-analyzer/internal/async"
	"github.com/retro-lab/drawing-analyzer/internal/chain"
	"github.com/retro-lab/drawing-analyzer/internal/common"
	"github.com/retro-lab/drawing-analyzer/internal/extract"
	"github.com/retro-lab/drawing-analyzer/internal/history"
	"github.com/retro-lab/drawing-analyzer/internal/steel"
)

// printError prints an error message to stderr, falling back to stdout
// if stderr fails.
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

// fileResult is one finished analysis, printable as JSON or text.
type fileResult struct {
	Path       string             `json:"path,omitempty"`
	Task       constants.TaskKind `json:"task"`
	Provider   string             `json:"provider"`
	Model      string             `json:"model,omitempty"`
	Method     string             `json:"method,omitempty"`
	Attempts   int                `json:"attempts"`
	Pages      int                `json:"pages,omitempty"`
	DurationMS int64              `json:"duration_ms"`
	Text       string             `json:"text,omitempty"`
	Record     *extract.Record    `json:"record,omitempty"`
	Steel      *steel.Result      `json:"steel,omitempty"`
}

func main() {
	var (
		taskName  = pflag.String("task", "ocr", "task to run: ocr, translate, extract or steel")
		output    = pflag.String("output", "text", "output format: json or text")
		fromLang  = pflag.String("from", "ru", "source language for translation")
		toLang    = pflag.String("to", "en", "target language for translation")
		workers   = pflag.Int("workers", 4, "concurrent workers in directory mode")
		queueSize = pflag.Int("queue-size", 64, "job buffer size in directory mode")
		recent    = pflag.Int("recent", 0, "print the last N history entries and exit")
	)
	pflag.String("languages", "", "OCR language list, e.g. rus+eng")
	pflag.String("history-dsn", "", "run history DSN (postgres://, sqlite://path; empty disables)")
	pflag.String("log-level", "", "log level: debug, info, warn or error")
	common.BindFlag("tesseract.languages", pflag.Lookup("languages"))
	common.BindFlag("history.dsn", pflag.Lookup("history-dsn"))
	common.BindFlag("log.level", pflag.Lookup("log-level"))
	pflag.Parse()

	kind, err := taskFromName(*taskName)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(2)
	}
	if *output != "json" && *output != "text" {
		printError("Error: --output must be json or text\n")
		os.Exit(2)
	}

	cfg, err := common.LoadConfig()
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	var level slog.Level
	_ = level.UnmarshalText([]byte(cfg.Log.Level))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := history.Open(ctx, history.Config{
		DSN:      cfg.History.DSN,
		MaxConns: cfg.History.MaxConns,
		MinConns: cfg.History.MinConns,
	}, logger)
	if err != nil {
		logger.Error("failed to open history store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("close history store", "error", cerr)
		}
	}()

	if *recent > 0 {
		if err := printHistory(ctx, store, *recent, *output); err != nil {
			logger.Error("failed to read history", "error", err)
			os.Exit(1)
		}
		return
	}

	if pflag.NArg() != 1 {
		printError("Usage: analyze [flags] <file-or-directory>\n       analyze --task steel [flags] <grade>\n       analyze --recent N\n")
		os.Exit(2)
	}
	target := pflag.Arg(0)

	svc, err := chain.NewService(cfg, store, logger)
	if err != nil {
		logger.Error("failed to build analysis service", "error", err)
		os.Exit(1)
	}

	progress := func(e chain.Entry) {
		logger.Debug("chain.progress", "message", e.Message)
	}
	langs := parseLanguages(cfg.Tesseract.Languages)

	// Steel lookup takes the grade itself as the argument, not a path.
	if kind == constants.TaskSteelLookup {
		res, rerr := lookupSteel(ctx, svc, target, progress)
		if rerr != nil {
			logger.Error("steel lookup failed", "grade", target, "error", rerr)
			os.Exit(exitCode(rerr))
		}
		printResult(res, *output, true)
		return
	}

	info, err := os.Stat(target)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(2)
	}

	if !info.IsDir() {
		res, rerr := runFile(ctx, svc, kind, target, langs, *fromLang, *toLang, progress)
		if rerr != nil {
			logger.Error("analysis failed", "path", target, "error", rerr)
			os.Exit(exitCode(rerr))
		}
		printResult(res, *output, true)
		return
	}

	code := runDirectory(ctx, logger, svc, kind, target, langs, *fromLang, *toLang, *output, *workers, *queueSize)
	os.Exit(code)
}

// runDirectory fans the task out over every supported file under root
// on a bounded worker pool. Returns the process exit code.
func runDirectory(ctx context.Context, logger *slog.Logger, svc *chain.Service, kind constants.TaskKind, root string, langs []string, from, to, output string, workers, queueSize int) int {
	var (
		mu        sync.Mutex
		processed int
		failures  int
	)
	handler := func(jobCtx context.Context, job async.Job) error {
		progress := func(e chain.Entry) {
			logger.Debug("chain.progress", "path", job.Path, "message", e.Message)
		}
		res, err := runFile(jobCtx, svc, kind, job.Path, langs, from, to, progress)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			failures++
			return err
		}
		processed++
		printResult(res, output, false)
		return nil
	}

	queue := async.NewQueue(handler, logger,
		async.WithWorkers(workers),
		async.WithQueueSize(queueSize),
	)
	queue.Start(ctx)

	scanned := 0
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !constants.ExtAllowed(filepath.Ext(d.Name())) {
			return nil
		}
		scanned++
		return queue.Enqueue(ctx, async.Job{Path: path})
	})
	queue.Shutdown(context.Background())

	if walkErr != nil {
		logger.Error("directory walk failed", "dir", root, "error", walkErr)
		return 1
	}

	logger.Info("batch analysis complete",
		"dir", root,
		"files", scanned,
		"processed", processed,
		"failures", failures)
	if output == "text" {
		fmt.Printf("Analysis complete!\n")
		fmt.Printf("- Files: %d\n", scanned)
		fmt.Printf("- Processed: %d\n", processed)
		fmt.Printf("- Failures: %d\n", failures)
	}

	switch {
	case ctx.Err() != nil:
		return 130
	case failures > 0:
		return 1
	}
	return 0
}

// runFile executes one task against one file. OCR goes through the
// full drawing analysis; text tasks feed the file contents to the
// matching chain.
func runFile(ctx context.Context, svc *chain.Service, kind constants.TaskKind, path string, langs []string, from, to string, progress func(chain.Entry)) (fileResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileResult{}, common.InvalidInput(fmt.Sprintf("read input: %v", err))
	}

	if kind == constants.TaskOCR {
		analysis, err := svc.AnalyzeDrawing(ctx, chain.DrawingRequest{Data: data, Languages: langs}, progress)
		if err != nil {
			return fileResult{}, err
		}
		pages := analysis.Info.Pages
		if analysis.OCR.Pages > 0 {
			pages = analysis.OCR.Pages
		}
		return fileResult{
			Path:       path,
			Task:       kind,
			Provider:   analysis.OCR.ProviderID,
			Model:      analysis.OCR.Model,
			Method:     string(analysis.Evaluation.Method),
			Attempts:   analysis.OCR.Attempts,
			Pages:      pages,
			DurationMS: analysis.Duration.Milliseconds(),
			Text:       analysis.Text,
			Record:     &analysis.Record,
		}, nil
	}

	out, err := svc.Run(ctx, kind, extract.Input{
		Text:     string(data),
		FromLang: from,
		ToLang:   to,
	}, progress)
	if err != nil {
		return fileResult{}, err
	}

	res := fileResult{
		Path:       path,
		Task:       kind,
		Provider:   out.ProviderID,
		Model:      out.Model,
		Attempts:   out.Attempts,
		DurationMS: out.Duration.Milliseconds(),
	}
	switch kind {
	case constants.TaskTranslate:
		res.Text = out.Record.RawText
	default:
		res.Record = &out.Record
	}
	return res, nil
}

func lookupSteel(ctx context.Context, svc *chain.Service, grade string, progress func(chain.Entry)) (fileResult, error) {
	out, err := svc.Run(ctx, constants.TaskSteelLookup, extract.Input{Text: grade}, progress)
	if err != nil {
		return fileResult{}, err
	}
	verdict, err := steel.DecodeResult(out.Record.RawText)
	if err != nil {
		return fileResult{}, fmt.Errorf("decode steel result: %w", err)
	}
	return fileResult{
		Task:       constants.TaskSteelLookup,
		Provider:   out.ProviderID,
		Model:      out.Model,
		Attempts:   out.Attempts,
		DurationMS: out.Duration.Milliseconds(),
		Steel:      &verdict,
	}, nil
}

// printResult writes one result to stdout. Single-file runs pretty
// print JSON; directory runs emit one compact document per line.
func printResult(res fileResult, output string, pretty bool) {
	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		if pretty {
			enc.SetIndent("", "  ")
		}
		if err := enc.Encode(res); err != nil {
			printError("Error: encode result: %v\n", err)
		}
		return
	}

	if res.Path != "" {
		fmt.Printf("%s\n", res.Path)
	}
	fmt.Printf("- Task: %s\n", res.Task)
	fmt.Printf("- Provider: %s\n", res.Provider)
	if res.Model != "" {
		fmt.Printf("- Model: %s\n", res.Model)
	}
	if res.Method != "" {
		fmt.Printf("- Recommended method: %s\n", res.Method)
	}
	if res.Pages > 0 {
		fmt.Printf("- Pages: %d\n", res.Pages)
	}
	fmt.Printf("- Attempts: %d\n", res.Attempts)
	fmt.Printf("- Duration: %dms\n", res.DurationMS)
	if res.Steel != nil {
		printSteel(res.Steel)
	}
	if res.Record != nil {
		printRecord(res.Record)
	}
	if res.Text != "" {
		fmt.Printf("Text:\n%s\n", res.Text)
	}
}

func printSteel(v *steel.Result) {
	if !v.Found {
		fmt.Printf("- Grade: %s (no match)\n", v.Grade)
		return
	}
	fmt.Printf("- Grade: %s\n", v.Grade)
	if v.GOST != "" {
		fmt.Printf("- GOST: %s\n", v.GOST)
	}
	if v.ASTM != "" {
		fmt.Printf("- ASTM: %s\n", v.ASTM)
	}
	if v.ISO != "" {
		fmt.Printf("- ISO: %s\n", v.ISO)
	}
	if v.GBT != "" {
		fmt.Printf("- GB/T: %s\n", v.GBT)
	}
	if v.Description != "" {
		fmt.Printf("- Description: %s\n", v.Description)
	}
}

func printRecord(rec *extract.Record) {
	if len(rec.Materials) > 0 {
		fmt.Printf("- Materials: %s\n", strings.Join(rec.Materials, ", "))
	}
	if len(rec.Standards) > 0 {
		fmt.Printf("- Standards: %s\n", strings.Join(rec.Standards, ", "))
	}
	if len(rec.RoughnessValues) > 0 {
		parts := make([]string, 0, len(rec.RoughnessValues))
		for _, v := range rec.RoughnessValues {
			parts = append(parts, fmt.Sprintf("Ra %g", v))
		}
		fmt.Printf("- Roughness: %s\n", strings.Join(parts, ", "))
	}
	if len(rec.Fits) > 0 {
		fmt.Printf("- Fits: %s\n", strings.Join(rec.Fits, ", "))
	}
	if len(rec.HeatTreatments) > 0 {
		fmt.Printf("- Heat treatments: %s\n", strings.Join(rec.HeatTreatments, ", "))
	}
}

// printHistory lists the most recent run records, newest first.
func printHistory(ctx context.Context, store history.Store, n int, output string) error {
	entries, err := store.Recent(ctx, n)
	if err != nil {
		return err
	}
	if output == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Printf("No recorded runs.\n")
		return nil
	}
	for _, e := range entries {
		who := e.Provider
		if who == "" {
			who = e.FailureClass
		}
		fmt.Printf("%s  %-18s %-9s  %-20s attempts=%d  %dms\n",
			e.ID, e.Task, e.Status, who, e.Attempts, e.DurationMS)
	}
	return nil
}

func taskFromName(name string) (constants.TaskKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ocr":
		return constants.TaskOCR, nil
	case "translate":
		return constants.TaskTranslate, nil
	case "extract":
		return constants.TaskStructuredExtract, nil
	case "steel":
		return constants.TaskSteelLookup, nil
	}
	return "", fmt.Errorf("unknown task %q (want ocr, translate, extract or steel)", name)
}

func parseLanguages(raw string) []string {
	var langs []string
	for _, part := range strings.Split(raw, "+") {
		if p := strings.TrimSpace(part); p != "" {
			langs = append(langs, p)
		}
	}
	return langs
}

// exitCode maps a run error onto the process exit code: 2 rejected
// input, 3 fatal provider error, 4 every provider failed, 130
// interrupted, 1 anything else.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case common.IsCancelled(err):
		return 130
	case common.IsInvalidInput(err):
		return 2
	case common.IsFatal(err):
		return 3
	case common.IsExhausted(err):
		return 4
	}
	return 1
}
