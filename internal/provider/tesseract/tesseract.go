// Package tesseract runs the locally installed Tesseract engine over
// rasterized drawing pages through the gosseract client. It is the
// terminal OCR provider: no network, no credentials, image input only.
package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/otiai10/gosseract/v2"

	"github.com/retro-lab/drawing-analyzer/internal/common"
	"github.com/retro-lab/drawing-analyzer/internal/extract"
)

// ProviderID identifies the local OCR engine in chain configuration
// and progress entries.
const ProviderID = "tesseract"

var pdfMagic = []byte("%PDF-")

// Config controls the local engine.
type Config struct {
	// DPI is forwarded as user_defined_dpi so scans without embedded
	// resolution metadata are not rejected. Zero leaves detection to
	// the engine.
	DPI int

	// TessdataPrefix points at a traineddata directory. Empty uses the
	// install default.
	TessdataPrefix string
}

// Engine is an extract.Provider backed by a per-attempt gosseract
// client. Clients are not reused across attempts; gosseract clients
// are not safe for concurrent use and creation is cheap next to the
// recognition itself.
type Engine struct {
	dpi           int
	tessdata      string
	log           *slog.Logger
	clientFactory func() *gosseract.Client
}

// NewEngine constructs the local OCR provider.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		dpi:           cfg.DPI,
		tessdata:      cfg.TessdataPrefix,
		log:           logger,
		clientFactory: gosseract.NewClient,
	}
}

// Available reports whether a local Tesseract installation can be
// found on PATH. Chains leave the engine out when it cannot.
func Available() bool {
	_, err := exec.LookPath("tesseract")
	return err == nil
}

func (e *Engine) ID() string { return ProviderID }

// Attempt recognizes text on a single rasterized page. PDF bytes are
// refused as transient so the chain can fall through; rendering PDF
// pages to rasters is out of scope here and scanned PDFs are covered
// by the vision providers earlier in the chain.
func (e *Engine) Attempt(ctx context.Context, in extract.Input, report extract.ProgressFunc) (extract.Result, error) {
	if isPDF(in) {
		return extract.Result{}, common.Transient(ProviderID, "pdf input requires a rasterized page", nil)
	}
	if err := ctx.Err(); err != nil {
		return extract.Result{}, common.ClassifyContext(ProviderID, err)
	}

	start := time.Now()
	langs := languageCodes(in.Languages)

	c := e.clientFactory()
	defer c.Close()

	if e.tessdata != "" {
		if err := c.SetTessdataPrefix(e.tessdata); err != nil {
			return extract.Result{}, common.Transient(ProviderID, "set tessdata prefix", err)
		}
	}
	if err := c.SetImageFromBytes(in.Bytes); err != nil {
		return extract.Result{}, common.Transient(ProviderID, "set image", err)
	}
	if err := c.SetLanguage(langs...); err != nil {
		return extract.Result{}, common.Transient(ProviderID, "set languages", err)
	}
	if e.dpi > 0 {
		if err := c.SetVariable(gosseract.SettableVariable("user_defined_dpi"), fmt.Sprint(e.dpi)); err != nil {
			return extract.Result{}, common.Transient(ProviderID, "set dpi", err)
		}
	}

	text, err := c.Text()
	if err != nil {
		return extract.Result{}, common.Transient(ProviderID, "recognize text", err)
	}
	if err := ctx.Err(); err != nil {
		return extract.Result{}, common.ClassifyContext(ProviderID, err)
	}

	plain := strings.TrimSpace(text)
	if plain == "" {
		return extract.Result{}, common.Transient(ProviderID, "no text recognized", nil)
	}

	conf := wordConfidence(c)
	e.log.Debug("tesseract.recognized",
		"languages", strings.Join(langs, "+"),
		"chars", len(plain),
		"confidence", conf,
		"duration", time.Since(start))

	return extract.Result{
		Record:     extract.TextRecord(plain),
		Model:      ProviderID,
		Confidence: conf,
		Pages:      1,
		Duration:   time.Since(start),
	}, nil
}

// wordConfidence averages per-word recognition confidence, scaled to
// 0..1. Recognition already succeeded at this point, so a bounding box
// failure only costs the score.
func wordConfidence(c *gosseract.Client) float32 {
	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}
	var sum float64
	for _, b := range boxes {
		sum += b.Confidence / 100.0
	}
	return float32(sum / float64(len(boxes)))
}

func isPDF(in extract.Input) bool {
	if strings.EqualFold(strings.TrimSpace(in.MIME), "application/pdf") {
		return true
	}
	return bytes.HasPrefix(in.Bytes, pdfMagic)
}

// languageCodes maps request language tags onto traineddata names.
// Unknown tags pass through lowercased so any installed pack can be
// addressed directly.
func languageCodes(langs []string) []string {
	if len(langs) == 0 {
		return []string{"rus", "eng"}
	}
	out := make([]string, 0, len(langs))
	seen := map[string]struct{}{}
	for _, l := range langs {
		code := strings.ToLower(strings.TrimSpace(l))
		switch code {
		case "ru", "rus", "russian":
			code = "rus"
		case "en", "eng", "english":
			code = "eng"
		case "":
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	if len(out) == 0 {
		return []string{"rus", "eng"}
	}
	return out
}
