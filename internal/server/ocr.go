package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/retro-lab/drawing-analyzer/constants"
	"github.com/retro-lab/drawing-analyzer/internal/agent"
	"github.com/retro-lab/drawing-analyzer/internal/chain"
	"github.com/retro-lab/drawing-analyzer/internal/common"
	"github.com/retro-lab/drawing-analyzer/internal/docinfo"
	"github.com/retro-lab/drawing-analyzer/internal/extract"
)

type ocrResponse struct {
	Success        bool           `json:"success"`
	Text           string         `json:"text"`
	FileType       string         `json:"file_type"`
	Pages          int            `json:"pages"`
	Metadata       extract.Record `json:"metadata"`
	ProcessingInfo processingInfo `json:"processing_info"`
}

type processingInfo struct {
	MethodUsed      string          `json:"method_used"`
	EstimatedTime   float64         `json:"estimated_time"`
	ActualTime      float64         `json:"actual_time"`
	Reasoning       string          `json:"reasoning"`
	FileStats       agent.FileStats `json:"file_stats"`
	MethodEstimates agent.Estimates `json:"method_estimates"`
}

// handleOCR runs the full drawing flow over a multipart upload:
// method selection, the OCR chain, structured extraction, merge.
func (s *Server) handleOCR(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		s.fail(w, r, common.InvalidInput("upload too large or malformed multipart body"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.fail(w, r, common.InvalidInput("missing file field"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.fail(w, r, common.InvalidInput("unreadable upload"))
		return
	}
	if docinfo.Sniff(data) == constants.FormatUnknown {
		s.fail(w, r, common.InvalidInput("unsupported file format"))
		return
	}

	rawLanguages := r.FormValue("languages")
	if strings.TrimSpace(rawLanguages) != "" {
		validator := common.NewValidator()
		validator.Field("languages", rawLanguages, common.Languages)
		if err := common.ValidateAndReturnError(validator); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	languages := splitLanguages(rawLanguages, s.languages)
	s.log.Info("server.ocr_upload",
		"request_id", common.RequestIDFromContext(r.Context()),
		"file", header.Filename,
		"bytes", len(data),
		"languages", strings.Join(languages, "+"),
	)

	analysis, err := s.svc.AnalyzeDrawing(r.Context(), chain.DrawingRequest{
		Data:      data,
		Languages: languages,
	}, nil)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	pages := analysis.Info.Pages
	if analysis.OCR.Pages > 0 {
		pages = analysis.OCR.Pages
	}

	s.respond(w, http.StatusOK, ocrResponse{
		Success:  true,
		Text:     analysis.Text,
		FileType: fileType(analysis.Info),
		Pages:    pages,
		Metadata: analysis.Record,
		ProcessingInfo: processingInfo{
			MethodUsed:      analysis.OCR.ProviderID,
			EstimatedTime:   analysis.Evaluation.EstimatedTime,
			ActualTime:      analysis.Duration.Seconds(),
			Reasoning:       analysis.Evaluation.Reasoning,
			FileStats:       analysis.Evaluation.FileStats,
			MethodEstimates: analysis.Evaluation.Estimates,
		},
	})
}

func fileType(info docinfo.Info) string {
	switch {
	case info.IsPDF():
		return "pdf"
	case info.IsRaster():
		return "image"
	default:
		return "unknown"
	}
}

// splitLanguages parses the "rus+eng" form value.
func splitLanguages(raw, fallback string) []string {
	if strings.TrimSpace(raw) == "" {
		raw = fallback
	}
	parts := strings.Split(raw, "+")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
