// Package pdftext extracts the embedded text layer of digitally
// produced PDFs. Scanned drawings carry no text layer and fall through
// to the raster OCR providers.
package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/retro-lab/drawing-analyzer/internal/common"
	"github.com/retro-lab/drawing-analyzer/internal/extract"
)

// ProviderID identifies the text-layer extractor in chain
// configuration and progress entries.
const ProviderID = "pdftext"

// Text shorter than this after stripping separators is treated as an
// absent text layer; drawings ship at least a title block worth of
// characters when the layer exists.
const minMeaningfulText = 50

const pageSeparator = "\n\n--- Page Break ---\n\n"

var pdfMagic = []byte("%PDF-")

// Extractor is an extract.Provider reading PDF text layers in-process.
type Extractor struct {
	log *slog.Logger
}

func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{log: logger}
}

func (x *Extractor) ID() string { return ProviderID }

// Attempt pulls plain text from every page. Unparseable files and
// files without a meaningful text layer are transient so the chain can
// continue with raster OCR; per-page extraction errors skip the page
// rather than failing the document.
func (x *Extractor) Attempt(ctx context.Context, in extract.Input, report extract.ProgressFunc) (extract.Result, error) {
	if !isPDF(in) {
		return extract.Result{}, common.Transient(ProviderID, "input is not a pdf", nil)
	}

	start := time.Now()
	reader, err := pdf.NewReader(bytes.NewReader(in.Bytes), int64(len(in.Bytes)))
	if err != nil {
		return extract.Result{}, common.Transient(ProviderID, "parse pdf", err)
	}

	var builder strings.Builder
	pageCount := reader.NumPage()
	extracted := 0

	for pageNum := 1; pageNum <= pageCount; pageNum++ {
		if err := ctx.Err(); err != nil {
			return extract.Result{}, common.ClassifyContext(ProviderID, err)
		}

		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			x.log.Debug("pdftext.page_skipped", "page", pageNum, "error", err)
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString(pageSeparator)
		}
		builder.WriteString(content)
		extracted++
	}

	text := strings.TrimSpace(builder.String())
	if !hasTextLayer(text) {
		return extract.Result{}, common.Transient(ProviderID,
			fmt.Sprintf("no text layer (%d pages)", pageCount), nil)
	}

	x.log.Debug("pdftext.extracted",
		"pages", pageCount,
		"pages_with_text", extracted,
		"chars", len(text),
		"duration", time.Since(start))

	return extract.Result{
		Record:   extract.TextRecord(text),
		Model:    ProviderID,
		Pages:    pageCount,
		Duration: time.Since(start),
	}, nil
}

// hasTextLayer distinguishes a real text layer from the stray
// characters a scanned PDF sometimes carries.
func hasTextLayer(text string) bool {
	stripped := strings.ReplaceAll(text, "--- Page Break ---", "")
	return len(strings.TrimSpace(stripped)) >= minMeaningfulText
}

func isPDF(in extract.Input) bool {
	if strings.EqualFold(strings.TrimSpace(in.MIME), "application/pdf") {
		return true
	}
	return bytes.HasPrefix(in.Bytes, pdfMagic)
}
