package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/lorallama/internal/model"
	"github.com/samcharles93/lorallama/internal/tensor"
	"github.com/samcharles93/lorallama/internal/weights"
)

func tinyConfig() model.Config {
	cfg := model.Config{
		VocabSize:  7,
		HiddenDim:  4,
		NumLayers:  1,
		NumHeads:   2,
		NumKVHeads: 1,
		FFNDim:     6,
		MaxSeqLen:  8,
		LoRARank:   1,
	}
	cfg.ApplyDefaults()
	return cfg
}

type testProvider struct {
	m   *LoadedModel
	err error
}

func (p testProvider) Model(_ context.Context, id string) (*LoadedModel, error) {
	if p.err != nil {
		return nil, p.err
	}
	if id != "" && id != p.m.Name {
		return nil, ErrModelNotFound
	}
	return p.m, nil
}

func (p testProvider) List() ([]string, error) { return []string{p.m.Name}, nil }

func newTestEcho(t *testing.T) (*echo.Echo, *model.Model) {
	t.Helper()
	m, err := model.Random(tinyConfig(), 1)
	require.NoError(t, err)
	provider := testProvider{m: &LoadedModel{Name: "tiny", Model: m, Tensors: len(model.Layout(m.Config))}}
	e := echo.New()
	NewServer(provider, nil).Register(e)
	return e, m
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ResponseError {
	t.Helper()
	var body struct {
		Error ResponseError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestForward(t *testing.T) {
	t.Parallel()
	e, m := newTestEcho(t)

	rec := doJSON(t, e, http.MethodPost, "/v1/forward", `{"model":"tiny","tokens":[1,2,3],"top_k":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ForwardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.ID, "fwd-"))
	assert.Equal(t, resp.ID, rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "tiny", resp.Model)
	assert.Equal(t, []int{3, 7}, resp.Shape)
	require.Len(t, resp.Logits, 3)
	require.Len(t, resp.Top, 3)
	assert.Len(t, resp.Top[0], 2)

	want, err := m.Forward([]int{1, 2, 3})
	require.NoError(t, err)
	for r, row := range resp.Logits {
		assert.InDeltaSlice(t, want.Data()[r*7:(r+1)*7], row, 1e-6)
	}
}

func TestForwardOmitLogits(t *testing.T) {
	t.Parallel()
	e, _ := newTestEcho(t)
	rec := doJSON(t, e, http.MethodPost, "/v1/forward", `{"tokens":[0],"omit_logits":true,"top_k":1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp ForwardResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Logits)
	assert.Len(t, resp.Top, 1)
}

func TestForwardBadRequests(t *testing.T) {
	t.Parallel()
	e, _ := newTestEcho(t)
	for name, body := range map[string]string{
		"malformed":     `{"tokens":`,
		"unknown_field": `{"tokens":[1],"temperature":1}`,
		"empty":         `{"tokens":[]}`,
		"out_of_vocab":  `{"tokens":[1,7]}`,
		"negative":      `{"tokens":[-1]}`,
		"past_max_seq":  `{"tokens":[1,2],"start_pos":7}`,
		"top_k":         `{"tokens":[1],"top_k":-1}`,
	} {
		rec := doJSON(t, e, http.MethodPost, "/v1/forward", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "%s: %s", name, rec.Body.String())
		assert.Equal(t, "invalid_request_error", decodeError(t, rec).Type, name)
	}
}

func TestForwardUnknownModel(t *testing.T) {
	t.Parallel()
	e, _ := newTestEcho(t)
	rec := doJSON(t, e, http.MethodPost, "/v1/forward", `{"model":"other","tokens":[1]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found_error", decodeError(t, rec).Type)
}

func TestForwardBrokenCheckpointIsServerError(t *testing.T) {
	t.Parallel()
	cfg := tinyConfig()
	provider := NewCachedModelProvider(ProviderConfig{
		DefaultModelPath: "/models/broken",
		Load: func(string) (*model.Model, error) {
			tensors := model.InitTensors(cfg, false, 1)
			tensors["norm.weight"] = tensor.Zeros(cfg.HiddenDim + 1)
			return model.FromStore(cfg, weights.NewMapStore(tensors))
		},
	})
	e := echo.New()
	NewServer(provider, nil).Register(e)

	rec := doJSON(t, e, http.MethodPost, "/v1/forward", `{"tokens":[1,2]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code, rec.Body.String())
	body := decodeError(t, rec)
	assert.Equal(t, "server_error", body.Type)
	assert.Contains(t, body.Message, "norm.weight")
}

func TestGetModel(t *testing.T) {
	t.Parallel()
	e, m := newTestEcho(t)

	rec := doJSON(t, e, http.MethodGet, "/v1/models/tiny", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var info ModelInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "tiny", info.ID)
	assert.Equal(t, m.Config, info.Config)
	assert.Equal(t, len(model.Layout(m.Config)), info.Tensors)

	rec = doJSON(t, e, http.MethodGet, "/v1/models/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListModelsAndHealth(t *testing.T) {
	t.Parallel()
	e, _ := newTestEcho(t)

	rec := doJSON(t, e, http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list ModelList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, []string{"tiny"}, list.Data)

	rec = doJSON(t, e, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}
