// Package agent decides how a drawing should be recognized before the
// OCR chain runs: raster OCR first for large simple files, vision
// models first for complex ones. The verdict reorders the chain; it
// never adds or removes providers.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/retro-lab/drawing-analyzer/internal/docinfo"
)

// Method is an OCR tier the agent can put first.
type Method string

const (
	MethodLLM       Method = "llm_groq"
	MethodTesseract Method = "tesseract"
)

// Decision thresholds in seconds of estimated processing time.
const (
	timeThresholdFast = 5.0
	timeThresholdSlow = 30.0
)

// complexityThreshold is the score above which model quality outweighs
// Tesseract speed.
const complexityThreshold = 0.7

// Per-method estimate caps.
const (
	llmTimeCap       = 120.0
	tesseractTimeCap = 60.0
)

// aiConsultSizeLimitMB bounds the documents worth a model consult;
// larger files are judged by the size heuristic alone.
const aiConsultSizeLimitMB = 5.0

// FileStats describes the probed input.
type FileStats struct {
	SizeMB              float64 `json:"size_mb"`
	Pages               int     `json:"pages"`
	ComplexityReasoning string  `json:"complexity_reasoning"`
}

// Estimates holds the per-method time estimates in seconds.
type Estimates struct {
	LLM       float64 `json:"llm_groq"`
	Tesseract float64 `json:"tesseract"`
}

// Evaluation is the agent's verdict for one document. EstimatedTime is
// the estimate of the recommended method.
type Evaluation struct {
	Method        Method    `json:"recommended_method"`
	EstimatedTime float64   `json:"estimated_time"`
	Complexity    float64   `json:"complexity"`
	Reasoning     string    `json:"reasoning"`
	FileStats     FileStats `json:"file_stats"`
	Estimates     Estimates `json:"method_estimates"`
}

// Analyst scores a document sample for OCR difficulty. *groq.Client
// satisfies it; a nil Analyst disables the consult.
type Analyst interface {
	AnalyzeComplexity(ctx context.Context, mime string, sample []byte) (float64, string, error)
}

// Config for the agent.
type Config struct {
	// TesseractAvailable reports whether a local tesseract install was
	// found. Without it the raster tier cannot be recommended.
	TesseractAvailable bool
}

type Agent struct {
	cfg     Config
	analyst Analyst
	log     *slog.Logger
}

func New(cfg Config, analyst Analyst, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{cfg: cfg, analyst: analyst, log: logger}
}

// Evaluate probes the document and recommends which OCR tier should go
// first. It is total: probe or consult problems degrade to defaults,
// never to an error.
func (a *Agent) Evaluate(ctx context.Context, data []byte, languages []string) Evaluation {
	info := docinfo.Probe(data)
	complexity, complexityReasoning := a.estimateComplexity(ctx, data, info)

	llmTime := estimateLLMTime(info.SizeMB, info.Pages, complexity)
	tessTime := estimateTesseractTime(info.SizeMB, info.Pages)

	method, reasoning := a.selectMethod(llmTime, tessTime, complexity, len(data), info.Pages, languages)

	estimated := llmTime
	if method == MethodTesseract {
		estimated = tessTime
	}

	a.log.Info("agent.evaluated",
		"method", string(method),
		"reasoning", reasoning,
		"complexity", complexity,
		"pages", info.Pages,
		"size_mb", info.SizeMB,
		"llm_s", llmTime,
		"tesseract_s", tessTime,
	)

	return Evaluation{
		Method:        method,
		EstimatedTime: estimated,
		Complexity:    complexity,
		Reasoning:     reasoning,
		FileStats: FileStats{
			SizeMB:              info.SizeMB,
			Pages:               info.Pages,
			ComplexityReasoning: complexityReasoning,
		},
		Estimates: Estimates{LLM: llmTime, Tesseract: tessTime},
	}
}

// estimateComplexity scores the document in [0,1]. Small documents get
// a model consult when an analyst is wired; everything else falls back
// to a size and page-count heuristic.
func (a *Agent) estimateComplexity(ctx context.Context, data []byte, info docinfo.Info) (float64, string) {
	if a.analyst == nil {
		return 0.5, "No API key - using default complexity"
	}

	if info.SizeMB < aiConsultSizeLimitMB {
		score, reasoning, err := a.analyst.AnalyzeComplexity(ctx, info.MIME, data)
		if err != nil {
			a.log.Debug("agent.consult_failed", "error", err)
			return 0.5, "AI analysis unavailable"
		}
		return clamp01(score), reasoning
	}

	complexity := 0.5
	switch {
	case info.SizeMB > 10:
		complexity += 0.2
	case info.SizeMB < 1:
		complexity -= 0.1
	}
	switch {
	case info.Pages > 20:
		complexity += 0.2
	case info.Pages > 10:
		complexity += 0.1
	}
	return complexity, fmt.Sprintf("Heuristic: size=%.1fMB, pages=%d", info.SizeMB, info.Pages)
}

// selectMethod applies the decision rules in priority order and returns
// the winning tier with the reasoning shown to the caller.
func (a *Agent) selectMethod(llmTime, tessTime, complexity float64, size, pages int, languages []string) (Method, string) {
	if !a.cfg.TesseractAvailable {
		return MethodLLM, "Tesseract not available, using LLM"
	}

	if size > 10*1024*1024 {
		return MethodTesseract, "Large file (>10MB) - Tesseract is faster"
	}
	if pages > 20 {
		return MethodTesseract, fmt.Sprintf("Many pages (%d) - Tesseract is faster", pages)
	}
	if complexity > complexityThreshold {
		return MethodLLM, fmt.Sprintf("High complexity (%.2f) - LLM provides better quality", complexity)
	}
	if tessTime < timeThresholdFast && llmTime > timeThresholdSlow {
		return MethodTesseract, fmt.Sprintf("Tesseract much faster (%.1fs vs %.1fs)", tessTime, llmTime)
	}
	if llmTime < timeThresholdFast {
		return MethodLLM, fmt.Sprintf("Both methods fast, LLM preferred for quality (%.1fs)", llmTime)
	}
	if len(languages) > 2 {
		return MethodLLM, fmt.Sprintf("Multiple languages (%d) - LLM handles better", len(languages))
	}
	if tessTime < llmTime*0.7 {
		return MethodTesseract, fmt.Sprintf("Tesseract faster (%.1fs vs %.1fs)", tessTime, llmTime)
	}
	return MethodLLM, fmt.Sprintf("LLM preferred for quality (%.1fs vs %.1fs)", llmTime, tessTime)
}

func estimateLLMTime(sizeMB float64, pages int, complexity float64) float64 {
	estimated := 2.0 * float64(pages) * (1.0 + complexity*0.5) * (1.0 + sizeMB*0.1)
	return math.Min(estimated, llmTimeCap)
}

func estimateTesseractTime(sizeMB float64, pages int) float64 {
	estimated := 0.5 * float64(pages) * (1.0 + sizeMB*0.05)
	return math.Min(estimated, tesseractTimeCap)
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
