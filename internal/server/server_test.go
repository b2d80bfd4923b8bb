package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retro-lab/drawing-analyzer/constants"
	"github.com/retro-lab/drawing-analyzer/internal/agent"
	"github.com/retro-lab/drawing-analyzer/internal/chain"
	"github.com/retro-lab/drawing-analyzer/internal/cloud"
	"github.com/retro-lab/drawing-analyzer/internal/common"
	"github.com/retro-lab/drawing-analyzer/internal/docinfo"
	"github.com/retro-lab/drawing-analyzer/internal/extract"
	"github.com/retro-lab/drawing-analyzer/internal/steel"
)

type stubPipeline struct {
	run           func(context.Context, constants.TaskKind, extract.Input, func(chain.Entry)) (chain.Outcome, error)
	analyze       func(context.Context, chain.DrawingRequest, func(chain.Entry)) (chain.Analysis, error)
	ocrOK         bool
	translationOK bool
}

func (s *stubPipeline) Run(ctx context.Context, kind constants.TaskKind, in extract.Input, onProgress func(chain.Entry)) (chain.Outcome, error) {
	if s.run == nil {
		return chain.Outcome{}, common.InvalidInput("no run stub")
	}
	return s.run(ctx, kind, in, onProgress)
}

func (s *stubPipeline) AnalyzeDrawing(ctx context.Context, req chain.DrawingRequest, onProgress func(chain.Entry)) (chain.Analysis, error) {
	if s.analyze == nil {
		return chain.Analysis{}, common.InvalidInput("no analyze stub")
	}
	return s.analyze(ctx, req, onProgress)
}

func (s *stubPipeline) OCRAvailable() bool         { return s.ocrOK }
func (s *stubPipeline) TranslationAvailable() bool { return s.translationOK }

func newTestServer(svc Pipeline, cloudClient *cloud.Client) *Server {
	return New(svc, cloudClient, common.DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func doJSON(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func pngUpload() []byte {
	return append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, make([]byte, 32)...)
}

func multipartBody(t *testing.T, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if data != nil {
		fw, err := mw.CreateFormFile("file", "drawing.png")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealthReportsServiceAvailability(t *testing.T) {
	svc := &stubPipeline{ocrOK: true, translationOK: false}
	h := newTestServer(svc, cloud.NewClient(cloud.Config{}, nil)).Handler()

	rec := doJSON(h, http.MethodGet, "/api/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var got healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "ok", got.Status)
	assert.True(t, got.Services["ocr"])
	assert.False(t, got.Services["translation"])
	assert.True(t, got.Services["cloud"])
}

func TestTranslateRoundTrip(t *testing.T) {
	var gotIn extract.Input
	svc := &stubPipeline{run: func(_ context.Context, kind constants.TaskKind, in extract.Input, _ func(chain.Entry)) (chain.Outcome, error) {
		assert.Equal(t, constants.TaskTranslate, kind)
		gotIn = in
		return chain.Outcome{Record: extract.TextRecord("steel 45"), ProviderID: "glossary"}, nil
	}}
	h := newTestServer(svc, nil).Handler()

	rec := doJSON(h, http.MethodPost, "/api/translate", `{"text":"сталь 45"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "сталь 45", gotIn.Text)
	assert.Equal(t, "ru", gotIn.FromLang)
	assert.Equal(t, "en", gotIn.ToLang)

	var got translateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Success)
	assert.Equal(t, "сталь 45", got.OriginalText)
	assert.Equal(t, "steel 45", got.TranslatedText)
	assert.Equal(t, "glossary", got.Provider)
}

func TestTranslateRejectsMalformedBody(t *testing.T) {
	h := newTestServer(&stubPipeline{}, nil).Handler()

	rec := doJSON(h, http.MethodPost, "/api/translate", `{"text":`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var got errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.False(t, got.Success)
	assert.Equal(t, string(common.FailureInvalidInput), got.Class)
}

func TestExtractReturnsRecordWithProvenance(t *testing.T) {
	rec45 := extract.NewRecord()
	rec45.Materials = []string{"45"}
	rec45.Standards = []string{"ГОСТ 1050-2013"}
	svc := &stubPipeline{run: func(_ context.Context, kind constants.TaskKind, in extract.Input, _ func(chain.Entry)) (chain.Outcome, error) {
		assert.Equal(t, constants.TaskStructuredExtract, kind)
		return chain.Outcome{Record: rec45, ProviderID: "pattern-rules"}, nil
	}}
	h := newTestServer(svc, nil).Handler()

	rec := doJSON(h, http.MethodPost, "/api/extract", `{"text":"Сталь 45 ГОСТ 1050-2013"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var got extractResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []string{"45"}, got.Record.Materials)
	assert.Equal(t, "pattern-rules", got.Provider)
}

func TestExtractEmptyTextIsBadRequest(t *testing.T) {
	svc := &stubPipeline{run: func(context.Context, constants.TaskKind, extract.Input, func(chain.Entry)) (chain.Outcome, error) {
		return chain.Outcome{}, common.InvalidInput("empty text input")
	}}
	h := newTestServer(svc, nil).Handler()

	rec := doJSON(h, http.MethodPost, "/api/extract", `{"text":""}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var got errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, string(common.FailureInvalidInput), got.Class)
	assert.Equal(t, "empty text input", got.Error)
}

func TestSteelLookupDecodesTableVerdict(t *testing.T) {
	verdict := steel.Result{Grade: "40Х", Found: true}
	verdict.ASTM = "AISI 5140"
	svc := &stubPipeline{run: func(_ context.Context, kind constants.TaskKind, in extract.Input, _ func(chain.Entry)) (chain.Outcome, error) {
		assert.Equal(t, constants.TaskSteelLookup, kind)
		assert.Equal(t, "40X", in.Text)
		return chain.Outcome{Record: extract.TextRecord(verdict.Encode()), ProviderID: steel.ProviderID}, nil
	}}
	h := newTestServer(svc, nil).Handler()

	rec := doJSON(h, http.MethodPost, "/api/steel", `{"grade":"40X"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var got steelResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Result.Found)
	assert.Equal(t, "40Х", got.Result.Grade)
	assert.Equal(t, "AISI 5140", got.Result.ASTM)
	assert.Equal(t, steel.ProviderID, got.Provider)
}

func TestOCRProcessReturnsAnalysis(t *testing.T) {
	var gotReq chain.DrawingRequest
	svc := &stubPipeline{analyze: func(_ context.Context, req chain.DrawingRequest, _ func(chain.Entry)) (chain.Analysis, error) {
		gotReq = req
		rec := extract.TextRecord("Сталь 45")
		rec.Materials = []string{"45"}
		return chain.Analysis{
			Record: rec,
			Text:   "Сталь 45",
			Info:   docinfo.Info{Format: constants.FormatPNG, MIME: "image/png", Pages: 1},
			Evaluation: agent.Evaluation{
				Method:        agent.MethodLLM,
				EstimatedTime: 2.5,
				Reasoning:     "Both methods fast, LLM preferred for quality (2.5s)",
				FileStats:     agent.FileStats{SizeMB: 0.1, Pages: 1},
				Estimates:     agent.Estimates{LLM: 2.5, Tesseract: 0.5},
			},
			OCR:      chain.Outcome{ProviderID: "openrouter-vision", Model: "qwen/qwen3-vl-32b-instruct", Pages: 1},
			Duration: 1200 * time.Millisecond,
		}, nil
	}}
	h := newTestServer(svc, nil).Handler()

	body, contentType := multipartBody(t, pngUpload(), map[string]string{"languages": "rus+eng"})
	req := httptest.NewRequest(http.MethodPost, "/api/ocr/process", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, pngUpload(), gotReq.Data)
	assert.Equal(t, []string{"rus", "eng"}, gotReq.Languages)

	var got ocrResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Success)
	assert.Equal(t, "Сталь 45", got.Text)
	assert.Equal(t, "image", got.FileType)
	assert.Equal(t, 1, got.Pages)
	assert.Equal(t, []string{"45"}, got.Metadata.Materials)
	assert.Equal(t, "openrouter-vision", got.ProcessingInfo.MethodUsed)
	assert.InDelta(t, 2.5, got.ProcessingInfo.EstimatedTime, 1e-9)
	assert.InDelta(t, 1.2, got.ProcessingInfo.ActualTime, 1e-9)
	assert.Contains(t, got.ProcessingInfo.Reasoning, "LLM preferred")
}

func TestOCRDefaultsLanguagesFromConfig(t *testing.T) {
	var gotReq chain.DrawingRequest
	svc := &stubPipeline{analyze: func(_ context.Context, req chain.DrawingRequest, _ func(chain.Entry)) (chain.Analysis, error) {
		gotReq = req
		return chain.Analysis{}, nil
	}}
	h := newTestServer(svc, nil).Handler()

	body, contentType := multipartBody(t, pngUpload(), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/ocr/process", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"rus", "eng"}, gotReq.Languages)
}

func TestOCRRejectsUnknownFormat(t *testing.T) {
	h := newTestServer(&stubPipeline{}, nil).Handler()

	body, contentType := multipartBody(t, []byte("plain text, not a drawing"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/ocr/process", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var got errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "unsupported file format", got.Error)
}

func TestOCRRejectsMissingFileField(t *testing.T) {
	h := newTestServer(&stubPipeline{}, nil).Handler()

	body, contentType := multipartBody(t, nil, map[string]string{"languages": "rus"})
	req := httptest.NewRequest(http.MethodPost, "/api/ocr/process", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOCRRejectsMalformedLanguages(t *testing.T) {
	h := newTestServer(&stubPipeline{}, nil).Handler()

	body, contentType := multipartBody(t, pngUpload(), map[string]string{"languages": "Russian,English"})
	req := httptest.NewRequest(http.MethodPost, "/api/ocr/process", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var got errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, string(common.FailureInvalidInput), got.Class)
}

func TestOCRFailureCarriesTaxonomyClass(t *testing.T) {
	svc := &stubPipeline{analyze: func(context.Context, chain.DrawingRequest, func(chain.Entry)) (chain.Analysis, error) {
		return chain.Analysis{}, common.Exhausted(common.Transient("tesseract", "no text recognized", nil))
	}}
	h := newTestServer(svc, nil).Handler()

	body, contentType := multipartBody(t, pngUpload(), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/ocr/process", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	var got errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, string(common.FailureExhausted), got.Class)
}

func TestCloudFolderRequiresClient(t *testing.T) {
	h := newTestServer(&stubPipeline{}, nil).Handler()

	rec := doJSON(h, http.MethodPost, "/api/cloud/folder", `{"url":"https://cloud.mail.ru/public/AAA/bbb"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCloudFolderListsFiles(t *testing.T) {
	page := `<html><body><script>window.__INITIAL_STATE__ = {"folders":{"folder":{"list":[{"type":"file","name":"plan.pdf","size":2048,"weblink":"AAA/plan"}],"weblink":"AAA/bbb"}}};</script></body></html>`
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/public/AAA/bbb" {
			fmt.Fprint(w, page)
			return
		}
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	cc := cloud.NewClient(cloud.Config{BaseURL: upstream.URL}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := newTestServer(&stubPipeline{}, cc).Handler()

	rec := doJSON(h, http.MethodPost, "/api/cloud/folder",
		fmt.Sprintf(`{"url":%q}`, upstream.URL+"/public/AAA/bbb"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got cloud.Listing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Files, 1)
	assert.Equal(t, "plan.pdf", got.Files[0].Name)
	assert.Equal(t, upstream.URL+"/public/AAA/plan", got.Files[0].URL)
}

func TestCloudFolderRejectsBadURL(t *testing.T) {
	cc := cloud.NewClient(cloud.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := newTestServer(&stubPipeline{}, cc).Handler()

	rec := doJSON(h, http.MethodPost, "/api/cloud/folder", `{"url":"https://example.com/not-a-share"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var got errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, string(common.FailureInvalidInput), got.Class)
}

func TestCloudFileStreamsAttachment(t *testing.T) {
	payload := []byte("%PDF-1.4 content")
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/public/AAA/plan" {
			w.Write(payload)
			return
		}
		http.NotFound(w, r)
	}))
	defer upstream.Close()

	cc := cloud.NewClient(cloud.Config{BaseURL: upstream.URL}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := newTestServer(&stubPipeline{}, cc).Handler()

	rec := doJSON(h, http.MethodPost, "/api/cloud/file",
		fmt.Sprintf(`{"url":%q,"fileName":"plan.pdf"}`, upstream.URL+"/public/AAA/plan"))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="plan.pdf"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, payload, rec.Body.Bytes())
}

func TestCloudFileRejectsMissingURL(t *testing.T) {
	cc := cloud.NewClient(cloud.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := newTestServer(&stubPipeline{}, cc).Handler()

	rec := doJSON(h, http.MethodPost, "/api/cloud/file", `{"fileName":"plan.pdf"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var got errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, string(common.FailureInvalidInput), got.Class)
}

func TestClientDisconnectCancelsRun(t *testing.T) {
	observed := make(chan struct{})
	svc := &stubPipeline{run: func(ctx context.Context, _ constants.TaskKind, _ extract.Input, _ func(chain.Entry)) (chain.Outcome, error) {
		<-ctx.Done()
		close(observed)
		return chain.Outcome{}, common.Cancelled(ctx.Err())
	}}
	srv := httptest.NewServer(newTestServer(svc, nil).Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/api/translate",
		strings.NewReader(`{"text":"сталь"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err = srv.Client().Do(req)
	require.Error(t, err)

	select {
	case <-observed:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline context not cancelled on client disconnect")
	}
}

func TestHTTPStatusByFailureClass(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", common.InvalidInput("empty"), http.StatusBadRequest},
		{"transient", common.Transient("groq", "rate limit", nil), http.StatusBadGateway},
		{"exhausted", common.Exhausted(nil), http.StatusBadGateway},
		{"fatal", common.Fatal("openrouter", "bad key", nil), http.StatusInternalServerError},
		{"cancelled", common.Cancelled(context.Canceled), statusClientClosedRequest},
		{"plain error", fmt.Errorf("boom"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, httpStatus(tc.err))
		})
	}
}

func TestAttachmentNameSanitizes(t *testing.T) {
	assert.Equal(t, "plan.pdf", attachmentName("plan.pdf", ""))
	assert.Equal(t, "evil.pdf", attachmentName("evil\"\r\n.pdf", ""))
	assert.Equal(t, "plan", attachmentName("", "https://cloud.mail.ru/public/AAA/plan"))
	assert.Equal(t, "download", attachmentName("", "::bad::"))
}
