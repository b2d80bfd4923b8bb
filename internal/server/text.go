package server

import (
	"net/http"

	"github.com/retro-lab/drawing-analyzer/constants"
	"github.com/retro-lab/drawing-analyzer/internal/extract"
	"github.com/retro-lab/drawing-analyzer/internal/steel"
)

type translateRequest struct {
	Text     string `json:"text"`
	FromLang string `json:"from_lang"`
	ToLang   string `json:"to_lang"`
}

type translateResponse struct {
	Success        bool   `json:"success"`
	OriginalText   string `json:"originalText"`
	TranslatedText string `json:"translatedText"`
	From           string `json:"from"`
	To             string `json:"to"`
	Provider       string `json:"provider"`
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req translateRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.FromLang == "" {
		req.FromLang = "ru"
	}
	if req.ToLang == "" {
		req.ToLang = "en"
	}

	out, err := s.svc.Run(r.Context(), constants.TaskTranslate, extract.Input{
		Text:     req.Text,
		FromLang: req.FromLang,
		ToLang:   req.ToLang,
	}, nil)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.respond(w, http.StatusOK, translateResponse{
		Success:        true,
		OriginalText:   req.Text,
		TranslatedText: out.Record.RawText,
		From:           req.FromLang,
		To:             req.ToLang,
		Provider:       out.ProviderID,
	})
}

type extractRequest struct {
	Text string `json:"text"`
}

type extractResponse struct {
	Success  bool           `json:"success"`
	Record   extract.Record `json:"record"`
	Provider string         `json:"provider"`
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	out, err := s.svc.Run(r.Context(), constants.TaskStructuredExtract,
		extract.Input{Text: req.Text}, nil)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.respond(w, http.StatusOK, extractResponse{
		Success:  true,
		Record:   out.Record,
		Provider: out.ProviderID,
	})
}

type steelRequest struct {
	Grade string `json:"grade"`
}

type steelResponse struct {
	Success  bool         `json:"success"`
	Result   steel.Result `json:"result"`
	Provider string       `json:"provider"`
}

func (s *Server) handleSteel(w http.ResponseWriter, r *http.Request) {
	var req steelRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	out, err := s.svc.Run(r.Context(), constants.TaskSteelLookup,
		extract.Input{Text: req.Grade}, nil)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	// both steel tiers carry their verdict as a JSON document in rawText
	result, err := steel.DecodeResult(out.Record.RawText)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.respond(w, http.StatusOK, steelResponse{
		Success:  true,
		Result:   result,
		Provider: out.ProviderID,
	})
}
