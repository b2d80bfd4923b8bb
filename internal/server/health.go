package server

import "net/http"

type healthResponse struct {
	Status   string          `json:"status"`
	Services map[string]bool `json:"services"`
}

// handleHealth reports which capability tiers resolved at startup.
// The process serving the request is proof of liveness; the booleans
// tell a probe whether AI tiers have credentials.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, healthResponse{
		Status: "ok",
		Services: map[string]bool{
			"ocr":         s.svc.OCRAvailable(),
			"translation": s.svc.TranslationAvailable(),
			"cloud":       s.cloud != nil,
		},
	})
}
