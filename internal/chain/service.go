package chain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/retro-lab/drawing-analyzer/constants"
	"github.com/retro-lab/drawing-analyzer/internal/agent"
	"github.com/retro-lab/drawing-analyzer/internal/common"
	"github.com/retro-lab/drawing-analyzer/internal/docinfo"
	"github.com/retro-lab/drawing-analyzer/internal/extract"
	"github.com/retro-lab/drawing-analyzer/internal/glossary"
	"github.com/retro-lab/drawing-analyzer/internal/history"
	"github.com/retro-lab/drawing-analyzer/internal/pattern"
	"github.com/retro-lab/drawing-analyzer/internal/provider/groq"
	"github.com/retro-lab/drawing-analyzer/internal/provider/openrouter"
	"github.com/retro-lab/drawing-analyzer/internal/provider/pdftext"
	"github.com/retro-lab/drawing-analyzer/internal/provider/tesseract"
	"github.com/retro-lab/drawing-analyzer/internal/steel"
)

// historyWriteTimeout bounds the history append after a run finishes.
const historyWriteTimeout = 5 * time.Second

// Service is the pipeline entry point the HTTP API and the CLI call
// into. It owns one provider chain per task kind, resolved once at
// construction: cloud providers without credentials and a missing
// local Tesseract install are left out so the remaining tiers still
// run. Every run outcome is appended to the history store.
type Service struct {
	log      *slog.Logger
	orch     *Orchestrator
	store    history.Store
	patterns *pattern.Extractor
	selector *agent.Agent

	// OCR keeps two orders of the same providers; the method-selection
	// agent picks one per run.
	ocrDefault []extract.Provider
	ocrLocal   []extract.Provider
	translate  []extract.Provider
	extractors []extract.Provider
	steelChain []extract.Provider

	cloudKeys   bool
	tesseractOK bool
}

// NewService wires the provider stack from configuration.
func NewService(cfg *common.Config, store history.Store, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if store == nil {
		store = history.NopStore{}
	}

	patterns := pattern.NewExtractor(logger)
	terms := glossary.New()

	table := steel.DefaultTable()
	if cfg.Steel.TablePath != "" {
		t, err := steel.LoadTable(cfg.Steel.TablePath)
		if err != nil {
			return nil, fmt.Errorf("load steel table: %w", err)
		}
		table = t
	}

	var orc *openrouter.Client
	if c := openrouter.NewClient(openrouter.Config{
		APIKey:      cfg.OpenRouter.APIKey,
		BaseURL:     cfg.OpenRouter.BaseURL,
		VisionModel: cfg.OpenRouter.VisionModel,
		AppURL:      cfg.OpenRouter.AppURL,
		AppTitle:    cfg.OpenRouter.AppTitle,
	}, logger); c.Configured() {
		orc = c
	}

	var grc *groq.Client
	if c := groq.NewClient(groq.Config{
		APIKey:  cfg.Groq.APIKey,
		BaseURL: cfg.Groq.BaseURL,
	}, logger); c.Configured() {
		grc = c
	}

	pdf := pdftext.NewExtractor(logger)

	var tess *tesseract.Engine
	if tesseract.Available() {
		tess = tesseract.NewEngine(tesseract.Config{
			DPI:            cfg.Tesseract.DPI,
			TessdataPrefix: cfg.Tesseract.TessdataDir,
		}, logger)
	}

	var analyst agent.Analyst
	if grc != nil {
		analyst = grc
	}

	s := &Service{
		log:         logger.With("component", "chain"),
		orch:        NewOrchestrator(logger, cfg.Timeouts, patterns),
		store:       store,
		patterns:    patterns,
		selector:    agent.New(agent.Config{TesseractAvailable: tess != nil}, analyst, logger),
		cloudKeys:   orc != nil || grc != nil,
		tesseractOK: tess != nil,
	}

	var cloudTier, localTier []extract.Provider
	if orc != nil {
		cloudTier = append(cloudTier, orc.Vision())
	}
	if grc != nil {
		cloudTier = append(cloudTier, grc.OCR())
	}
	localTier = append(localTier, pdf)
	if tess != nil {
		localTier = append(localTier, tess)
	}
	s.ocrDefault = append(append([]extract.Provider{}, cloudTier...), localTier...)
	s.ocrLocal = append(append([]extract.Provider{}, localTier...), cloudTier...)

	if grc != nil {
		s.translate = append(s.translate, grc.Translator(terms))
	}
	if orc != nil {
		s.translate = append(s.translate, orc.Translator(terms))
	}
	s.translate = append(s.translate, terms.Translator())

	if orc != nil {
		s.extractors = append(s.extractors, orc.Extractor())
	}
	s.extractors = append(s.extractors, patterns.Provider())

	if orc != nil {
		s.steelChain = append(s.steelChain, orc.SteelLookup())
	}
	s.steelChain = append(s.steelChain, table.Provider())

	logger.Info("chain.service_ready",
		"openrouter", orc != nil,
		"groq", grc != nil,
		"tesseract", tess != nil,
		"steel_grades", table.Len(),
		"glossary_terms", terms.Len(),
	)
	return s, nil
}

// OCRAvailable reports whether any recognition tier beyond the PDF
// text layer resolved at construction.
func (s *Service) OCRAvailable() bool { return s.cloudKeys || s.tesseractOK }

// TranslationAvailable reports whether an AI translation tier
// resolved. The glossary terminal always exists but only substitutes
// known terms.
func (s *Service) TranslationAvailable() bool { return s.cloudKeys }

// Run executes one pipeline task end to end: resolve the chain for
// the kind, run it under the configured per-attempt timeout, append
// the outcome to history. onProgress may be nil.
func (s *Service) Run(ctx context.Context, kind constants.TaskKind, in extract.Input, onProgress func(Entry)) (Outcome, error) {
	return s.run(ctx, kind, s.chainFor(kind), in, onProgress)
}

func (s *Service) chainFor(kind constants.TaskKind) []extract.Provider {
	switch kind {
	case constants.TaskOCR:
		return s.ocrDefault
	case constants.TaskTranslate:
		return s.translate
	case constants.TaskStructuredExtract:
		return s.extractors
	case constants.TaskSteelLookup:
		return s.steelChain
	default:
		return nil
	}
}

// ocrChain maps a method recommendation onto a tier order. The agent
// reorders the chain; it never adds or removes providers.
func (s *Service) ocrChain(method agent.Method) []extract.Provider {
	if method == agent.MethodTesseract {
		return s.ocrLocal
	}
	return s.ocrDefault
}

func (s *Service) run(ctx context.Context, kind constants.TaskKind, providers []extract.Provider, in extract.Input, onProgress func(Entry)) (Outcome, error) {
	started := time.Now()

	// the observer runs on this goroutine, in trail append order
	var trailLines, attempts int
	observe := func(e Entry) {
		trailLines++
		if strings.HasPrefix(e.Message, "trying provider") {
			attempts++
		}
		if onProgress != nil {
			onProgress(e)
		}
	}

	out, err := s.orch.Run(ctx, Task{Kind: kind}, providers, in, observe)
	if err != nil {
		out.Attempts = attempts
	}
	s.append(ctx, kind, in, started, trailLines, out, err)
	return out, err
}

// append records the run outcome. History is observability only; a
// store failure is logged, never propagated.
func (s *Service) append(ctx context.Context, kind constants.TaskKind, in extract.Input, started time.Time, trailLines int, out Outcome, runErr error) {
	finished := time.Now()

	payload := in.Bytes
	if len(payload) == 0 {
		payload = []byte(in.Text)
	}
	sum := sha256.Sum256(payload)

	entry := history.Entry{
		ID:          history.NewID(),
		StartedAt:   started,
		FinishedAt:  finished,
		Task:        kind,
		Status:      constants.RunStatusSucceeded,
		Provider:    out.ProviderID,
		Model:       out.Model,
		InputBytes:  int64(len(payload)),
		InputSHA256: hex.EncodeToString(sum[:]),
		Attempts:    out.Attempts,
		TrailLines:  trailLines,
		DurationMS:  finished.Sub(started).Milliseconds(),
	}
	if runErr != nil {
		entry.Status = constants.RunStatusFailed
		if common.IsCancelled(runErr) {
			entry.Status = constants.RunStatusCancelled
		}
		entry.Provider = ""
		entry.Model = ""
		entry.FailureClass = string(common.ClassOf(runErr))
	}

	// a cancelled run still gets its history row
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
	defer cancel()
	if err := s.store.Record(ctx, entry); err != nil {
		s.log.Warn("chain.history_failed", "task", string(kind), "err", err)
	}
}

// DrawingRequest is one uploaded drawing to analyze.
type DrawingRequest struct {
	Data      []byte
	Languages []string
}

// Analysis is the composite result of the drawing flow: OCR over the
// document, structured extraction over the recognized text, and a
// deterministic merge of the two records.
type Analysis struct {
	Record     extract.Record
	Text       string
	Info       docinfo.Info
	Evaluation agent.Evaluation
	OCR        Outcome
	Extract    Outcome
	Duration   time.Duration
}

// AnalyzeDrawing runs the full drawing flow. The method-selection
// agent picks the OCR tier order first. Extraction runs only when
// recognition produced text; an extraction failure other than
// cancellation degrades to pattern-only findings so a recognized
// drawing always yields a record.
func (s *Service) AnalyzeDrawing(ctx context.Context, req DrawingRequest, onProgress func(Entry)) (Analysis, error) {
	started := time.Now()
	info := docinfo.Probe(req.Data)
	ev := s.selector.Evaluate(ctx, req.Data, req.Languages)

	in := extract.Input{
		Bytes:     req.Data,
		MIME:      info.MIME,
		Languages: req.Languages,
	}
	ocrOut, err := s.run(ctx, constants.TaskOCR, s.ocrChain(ev.Method), in, onProgress)
	if err != nil {
		return Analysis{Info: info, Evaluation: ev, Duration: time.Since(started)}, err
	}

	analysis := Analysis{
		Record:     ocrOut.Record,
		Text:       ocrOut.Record.RawText,
		Info:       info,
		Evaluation: ev,
		OCR:        ocrOut,
	}

	text := strings.TrimSpace(ocrOut.Record.RawText)
	if text != "" {
		extOut, err := s.run(ctx, constants.TaskStructuredExtract, s.extractors, extract.Input{Text: text}, onProgress)
		switch {
		case err == nil:
			analysis.Extract = extOut
			analysis.Record = extract.Merge(extOut.Record, ocrOut.Record)
		case common.IsCancelled(err):
			analysis.Duration = time.Since(started)
			return analysis, err
		default:
			s.log.Warn("chain.extract_degraded",
				"class", string(common.ClassOf(err)),
				"err", err,
			)
			analysis.Record = extract.Merge(s.patterns.Extract(text), ocrOut.Record)
		}
	}

	analysis.Duration = time.Since(started)
	return analysis, nil
}
