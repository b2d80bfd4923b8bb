package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/retro-lab/drawing-analyzer/internal/common"
)

// cloudFolderTimeout caps one folder listing including subfolder
// fetches. Listings past it answer 504 rather than holding the client.
const cloudFolderTimeout = 45 * time.Second

type cloudFolderRequest struct {
	URL      string `json:"url"`
	MaxFiles int    `json:"max_files"`
}

func (s *Server) handleCloudFolder(w http.ResponseWriter, r *http.Request) {
	if s.cloud == nil {
		s.fail(w, r, common.InvalidInput("cloud access is not configured"))
		return
	}
	var req cloudFolderRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	validator := common.NewValidator()
	validator.Field("url", req.URL, common.Required, common.PublicFolderURL)
	if err := common.ValidateAndReturnError(validator); err != nil {
		s.fail(w, r, err)
		return
	}
	maxFiles := req.MaxFiles
	if maxFiles <= 0 {
		maxFiles = s.maxFiles
	}

	ctx, cancel := context.WithTimeout(r.Context(), cloudFolderTimeout)
	defer cancel()

	listing, err := s.cloud.ListFolder(ctx, req.URL, maxFiles)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && r.Context().Err() == nil {
			s.log.Warn("server.cloud_folder_timeout",
				"request_id", common.RequestIDFromContext(r.Context()),
				"url", req.URL,
			)
			s.respond(w, http.StatusGatewayTimeout, errorResponse{
				Error: "folder listing timed out, try a smaller folder",
			})
			return
		}
		s.fail(w, r, err)
		return
	}

	s.log.Info("server.cloud_folder",
		"request_id", common.RequestIDFromContext(r.Context()),
		"files", len(listing.Files),
	)
	s.respond(w, http.StatusOK, listing)
}

type cloudFileRequest struct {
	URL      string `json:"url"`
	FileName string `json:"fileName"`
}

func (s *Server) handleCloudFile(w http.ResponseWriter, r *http.Request) {
	if s.cloud == nil {
		s.fail(w, r, common.InvalidInput("cloud access is not configured"))
		return
	}
	var req cloudFileRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	validator := common.NewValidator()
	validator.Field("url", req.URL, common.Required, common.PublicFolderURL)
	if err := common.ValidateAndReturnError(validator); err != nil {
		s.fail(w, r, err)
		return
	}

	data, err := s.cloud.DownloadFile(r.Context(), req.URL)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	name := attachmentName(req.FileName, req.URL)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.log.Warn("server.cloud_file_write", "err", err)
	}
}

// attachmentName picks a safe download name: the requested one with
// header-breaking characters stripped, else the URL's last path
// element, else a constant.
func attachmentName(requested, rawURL string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '"', '\\', '\n', '\r', '/':
			return -1
		}
		return r
	}, requested)
	name = strings.TrimSpace(name)
	if name != "" {
		return name
	}
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" {
			return base
		}
	}
	return "download"
}
