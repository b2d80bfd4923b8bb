package openrouter

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retro-lab/drawing-analyzer/internal/common"
	"github.com/retro-lab/drawing-analyzer/internal/extract"
)

// scriptedServer replays one canned handler per request, in order.
type scriptedServer struct {
	t        *testing.T
	mu       sync.Mutex
	models   []string
	handlers []func(w http.ResponseWriter)
	srv      *httptest.Server
}

func newScriptedServer(t *testing.T, handlers ...func(w http.ResponseWriter)) *scriptedServer {
	s := &scriptedServer{t: t, handlers: handlers}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Model string `json:"model"`
		}
		_ = json.Unmarshal(body, &req)

		s.mu.Lock()
		s.models = append(s.models, req.Model)
		idx := len(s.models) - 1
		s.mu.Unlock()

		require.Less(t, idx, len(s.handlers), "more requests than scripted responses")
		s.handlers[idx](w)
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *scriptedServer) requestedModels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.models...)
}

func chatReply(content string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		resp := map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": content}}},
			"usage":   map[string]any{"prompt_tokens": 100, "completion_tokens": 20, "total_tokens": 120},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func httpStatus(code int, body string) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(code)
		_, _ = w.Write([]byte(body))
	}
}

func testClient(t *testing.T, srv *scriptedServer, visionModel, textModel string) *Client {
	return NewClient(Config{
		APIKey:      "sk-test",
		BaseURL:     srv.srv.URL,
		VisionModel: visionModel,
		TextModel:   textModel,
	}, slog.New(slog.DiscardHandler))
}

func TestVisionFallsThroughRefusalToNextModel(t *testing.T) {
	srv := newScriptedServer(t,
		chatReply("I'm not able to process images directly."),
		chatReply("Сталь 45 ГОСТ 1050-2013"),
	)
	c := testClient(t, srv, "first/model", "")

	var progress []string
	res, err := c.Vision().Attempt(context.Background(),
		extract.Input{Bytes: []byte{0xFF, 0xD8}, MIME: "image/jpeg", Languages: []string{"rus", "eng"}},
		func(m string) { progress = append(progress, m) })

	require.NoError(t, err)
	assert.Equal(t, "Сталь 45 ГОСТ 1050-2013", res.Record.RawText)
	assert.Equal(t, visionCascade[0], res.Model)
	assert.Equal(t, 120, res.Usage.TotalTokens)
	assert.Equal(t, []string{"first/model", visionCascade[0]}, srv.requestedModels())
	require.Len(t, progress, 1)
	assert.Contains(t, progress[0], "first/model failed")
}

func TestVisionUnauthorizedIsFatal(t *testing.T) {
	srv := newScriptedServer(t, httpStatus(http.StatusUnauthorized, `{"error":{"message":"bad key"}}`))
	c := testClient(t, srv, "", "")

	_, err := c.Vision().Attempt(context.Background(),
		extract.Input{Bytes: []byte{0xFF}}, nil)

	require.Error(t, err)
	assert.True(t, common.IsFatal(err))
	assert.Len(t, srv.requestedModels(), 1)
}

func TestVisionMissingKeyIsFatalWithoutRequest(t *testing.T) {
	srv := newScriptedServer(t)
	c := NewClient(Config{APIKey: "none", BaseURL: srv.srv.URL}, slog.New(slog.DiscardHandler))
	c.cfg.APIKey = ""

	_, err := c.Vision().Attempt(context.Background(), extract.Input{Bytes: []byte{0xFF}}, nil)

	require.Error(t, err)
	assert.True(t, common.IsFatal(err))
	assert.Empty(t, srv.requestedModels())
}

func TestVisionExhaustedCascadeIsTransient(t *testing.T) {
	handlers := make([]func(w http.ResponseWriter), len(visionCascade))
	for i := range handlers {
		handlers[i] = httpStatus(http.StatusInternalServerError, "upstream down")
	}
	srv := newScriptedServer(t, handlers...)
	c := testClient(t, srv, "", "")

	_, err := c.Vision().Attempt(context.Background(), extract.Input{Bytes: []byte{0xFF}}, nil)

	require.Error(t, err)
	assert.True(t, common.IsTransient(err))
	assert.Len(t, srv.requestedModels(), len(visionCascade))
}

func TestExtractorParsesRepairedReply(t *testing.T) {
	reply := "Вот результат анализа:\n```json\n" +
		`{"materials":["Сталь 45"],"standards":["ГОСТ 1050-2013"],"raValues":[3.2,"1,6"],` +
		`"fits":["H7/f7"],"heatTreatment":["закалка HRC 45-50"],"notes":"лишнее"}` +
		"\n```"
	srv := newScriptedServer(t, chatReply(reply))
	c := testClient(t, srv, "", "")

	res, err := c.Extractor().Attempt(context.Background(),
		extract.Input{Text: "Сталь 45 ГОСТ 1050-2013 Ra 3.2"}, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"Сталь 45"}, res.Record.Materials)
	assert.Equal(t, []string{"ГОСТ 1050-2013"}, res.Record.Standards)
	assert.Equal(t, []float64{3.2, 1.6}, res.Record.RoughnessValues)
	assert.Equal(t, []string{"закалка HRC 45-50"}, res.Record.HeatTreatments)
	// rawText was absent from the reply, so the input text is kept
	assert.Equal(t, "Сталь 45 ГОСТ 1050-2013 Ra 3.2", res.Record.RawText)
}

func TestExtractorFallsThroughUnparseableReply(t *testing.T) {
	valid, _ := json.Marshal(map[string]any{
		"materials": []string{"40Х"}, "standards": []string{}, "roughnessValues": []float64{},
		"fits": []string{}, "heatTreatments": []string{}, "rawText": "Вал из 40Х",
	})
	srv := newScriptedServer(t,
		chatReply("рассказ о чертеже без JSON"),
		chatReply(string(valid)),
	)
	c := testClient(t, srv, "", "model/one")

	res, err := c.Extractor().Attempt(context.Background(), extract.Input{Text: "Вал из 40Х"}, nil)

	require.NoError(t, err)
	assert.Equal(t, []string{"40Х"}, res.Record.Materials)
	assert.Equal(t, []string{"model/one", textCascade[0]}, srv.requestedModels())
}

type staticGlossary struct{}

func (staticGlossary) Apply(s string) string { return "glossed: " + s }

func TestTranslatorAppliesGlossaryBeforeModel(t *testing.T) {
	var sawPrompt string
	srv := &scriptedServer{t: t}
	srv.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.Unmarshal(body, &req)
		sawPrompt = req.Messages[0].Content
		chatReply("Steel 45 GOST 1050-2013")(w)
	}))
	t.Cleanup(srv.srv.Close)
	c := testClient(t, srv, "", "")

	res, err := c.Translator(staticGlossary{}).Attempt(context.Background(),
		extract.Input{Text: "сталь 45"}, nil)

	require.NoError(t, err)
	assert.Equal(t, "Steel 45 GOST 1050-2013", res.Record.RawText)
	assert.Contains(t, sawPrompt, "glossed: сталь 45")
}

func TestSanitizeRecordJSON(t *testing.T) {
	in := `{
		"raValues": [3.2, "6,3", null],
		"heat_treatment": "закалка",
		"materials": ["Сталь 45", 40, ""],
		"fits": null,
		"rawText": null,
		"extra": {"x": 1}
	}`

	out, changed, err := SanitizeRecordJSON([]byte(in))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))

	assert.ElementsMatch(t, []any{3.2, 6.3}, m["roughnessValues"])
	assert.Equal(t, []any{"закалка"}, m["heatTreatments"])
	assert.Equal(t, []any{"Сталь 45", "40"}, m["materials"])
	assert.Equal(t, []any{}, m["fits"])
	assert.Equal(t, []any{}, m["standards"])
	assert.Equal(t, "", m["rawText"])
	assert.NotContains(t, m, "extra")
	assert.NotEmpty(t, changed)
}

func TestSanitizeRecordJSONRejectsNonObject(t *testing.T) {
	_, _, err := SanitizeRecordJSON([]byte(`["a"]`))
	assert.Error(t, err)
}
