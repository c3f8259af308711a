package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/janpfeifer/must"
	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samcharles93/starvec/internal/model"
)

func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 12, 9))
	for y := 0; y < 9; y++ {
		for x := 0; x < 12; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// newTestEcho saves a tiny random model under a models directory and serves
// it through the default loader.
func newTestEcho(t *testing.T, cfg ServerConfig) (*echo.Echo, *Server) {
	t.Helper()
	dir := t.TempDir()
	m := must.M1(model.New(model.TinyConfig(), model.TaskIm2SVG, "float32"))
	require.NoError(t, m.Save(filepath.Join(dir, "tiny")))

	provider := NewCachedModelProvider(ProviderConfig{ModelsPath: dir})
	server := NewServer(provider, cfg)
	t.Cleanup(server.Close)
	e := echo.New()
	server.Register(e)
	return e, server
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return v
}

type errorEnvelope struct {
	Error ResponseError `json:"error"`
}

func im2svgBody(t *testing.T, data []byte, extra string) string {
	t.Helper()
	return `{"image":"` + base64.StdEncoding.EncodeToString(data) + `"` + extra + `}`
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t, ServerConfig{})
	rec := doJSON(t, e, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestIndexPage(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t, ServerConfig{})
	rec := doJSON(t, e, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<form")
}

func TestIm2SVGJSON(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t, ServerConfig{})
	rec := doJSON(t, e, http.MethodPost, "/v1/im2svg", im2svgBody(t, pngBytes(t, color.RGBA{200, 0, 0, 255}), ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[Im2SVGResponse](t, rec)
	assert.True(t, strings.HasPrefix(resp.ID, "svg_"), resp.ID)
	assert.Equal(t, "im2svg", resp.Object)
	assert.Equal(t, "tiny", resp.Model)
	assert.NotZero(t, resp.CreatedAt)
	assert.Contains(t, resp.SVG, "<svg")
	assert.LessOrEqual(t, resp.Tokens, model.TinyConfig().MaxLength)
	assert.Contains(t, []string{"eos", "max_length", "capacity"}, resp.StopReason)
	assert.False(t, resp.Cached)

	raw, err := base64.StdEncoding.DecodeString(resp.PNG)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())
}

func TestIm2SVGCacheHit(t *testing.T) {
	t.Parallel()

	e, server := newTestEcho(t, ServerConfig{})
	body := im2svgBody(t, pngBytes(t, color.Black), `,"max_length":5`)

	first := decodeBody[Im2SVGResponse](t, doJSON(t, e, http.MethodPost, "/v1/im2svg", body))
	second := decodeBody[Im2SVGResponse](t, doJSON(t, e, http.MethodPost, "/v1/im2svg", body))
	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.SVG, second.SVG)
	assert.Equal(t, first.Tokens, second.Tokens)
	assert.NotEqual(t, first.ID, second.ID)
	assert.LessOrEqual(t, first.Tokens, 5)
	assert.Equal(t, uint64(1), server.cache.hits.Load())

	// A different bound is a different conversion.
	third := decodeBody[Im2SVGResponse](t, doJSON(t, e, http.MethodPost, "/v1/im2svg",
		im2svgBody(t, pngBytes(t, color.Black), `,"max_length":2`)))
	assert.False(t, third.Cached)
	assert.LessOrEqual(t, third.Tokens, 2)

	uncached := decodeBody[Im2SVGResponse](t, doJSON(t, e, http.MethodPost, "/v1/im2svg",
		im2svgBody(t, pngBytes(t, color.Black), `,"max_length":5,"no_cache":true`)))
	assert.False(t, uncached.Cached)
	assert.Equal(t, first.SVG, uncached.SVG)
}

func TestIm2SVGMultipart(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t, ServerConfig{})
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("image", "in.png")
	require.NoError(t, err)
	_, err = part.Write(pngBytes(t, color.White))
	require.NoError(t, err)
	require.NoError(t, w.WriteField("max_length", "3"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/im2svg", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decodeBody[Im2SVGResponse](t, rec)
	assert.LessOrEqual(t, resp.Tokens, 3)
	assert.Contains(t, resp.SVG, "<svg")
}

func TestIm2SVGBadRequests(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t, ServerConfig{})
	cases := []struct {
		name  string
		body  string
		param string
	}{
		{"bad base64", `{"image":"!!!"}`, "image"},
		{"not an image", im2svgBody(t, []byte("hello"), ""), "image"},
		{"missing image", `{}`, "image"},
		{"unknown field", `{"image":"","bogus":1}`, ""},
		{"not json", `{`, ""},
	}
	for _, tc := range cases {
		rec := doJSON(t, e, http.MethodPost, "/v1/im2svg", tc.body)
		require.Equal(t, http.StatusBadRequest, rec.Code, tc.name)
		env := decodeBody[errorEnvelope](t, rec)
		assert.Equal(t, "invalid_request_error", env.Error.Type, tc.name)
		assert.Equal(t, tc.param, env.Error.Param, tc.name)
		assert.NotEmpty(t, env.Error.Message, tc.name)
	}
}

func TestIm2SVGUnknownModel(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t, ServerConfig{})
	rec := doJSON(t, e, http.MethodPost, "/v1/im2svg", im2svgBody(t, pngBytes(t, color.White), `,"model":"missing"`))
	require.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeBody[errorEnvelope](t, rec)
	assert.Equal(t, "not_found_error", env.Error.Type)
	assert.Equal(t, "model", env.Error.Param)
}

func TestIm2SVGRateLimited(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t, ServerConfig{RateLimit: 0.001, RateBurst: 1})
	body := im2svgBody(t, pngBytes(t, color.White), `,"max_length":1`)
	require.Equal(t, http.StatusOK, doJSON(t, e, http.MethodPost, "/v1/im2svg", body).Code)

	rec := doJSON(t, e, http.MethodPost, "/v1/im2svg", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limit_error", decodeBody[errorEnvelope](t, rec).Error.Type)
}

func TestRasterize(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t, ServerConfig{})
	rec := doJSON(t, e, http.MethodPost, "/v1/svg/rasterize", `{"svg":"<svg><rect","size":32}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[RasterizeResponse](t, rec)
	assert.Equal(t, `<svg xmlns="http://www.w3.org/2000/svg"/>`, resp.SVG)
	assert.False(t, resp.Placeholder)

	raw, err := base64.StdEncoding.DecodeString(resp.PNG)
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())

	rec = doJSON(t, e, http.MethodPost, "/v1/svg/rasterize", `{"svg":"<svg/>","size":100000}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "size", decodeBody[errorEnvelope](t, rec).Error.Param)
}

func TestListModels(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t, ServerConfig{})
	list := decodeBody[ModelList](t, doJSON(t, e, http.MethodGet, "/v1/models", ""))
	require.Len(t, list.Data, 1)
	assert.Equal(t, "tiny", list.Data[0].ID)
	assert.False(t, list.Data[0].Loaded)

	require.Equal(t, http.StatusOK, doJSON(t, e, http.MethodPost, "/v1/im2svg",
		im2svgBody(t, pngBytes(t, color.White), `,"max_length":1`)).Code)

	list = decodeBody[ModelList](t, doJSON(t, e, http.MethodGet, "/v1/models", ""))
	require.Len(t, list.Data, 1)
	info := list.Data[0]
	assert.True(t, info.Loaded)
	assert.Equal(t, "im2svg", info.Task)
	assert.Equal(t, "float32", info.Precision)
	require.NotNil(t, info.Config)
	assert.Equal(t, model.TinyConfig().Decoder.VocabSize, info.Config.Decoder.VocabSize)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	e, _ := newTestEcho(t, ServerConfig{})
	body := im2svgBody(t, pngBytes(t, color.White), `,"max_length":1`)
	doJSON(t, e, http.MethodPost, "/v1/im2svg", body)
	doJSON(t, e, http.MethodPost, "/v1/im2svg", body)
	doJSON(t, e, http.MethodPost, "/v1/im2svg", `{"image":"!!!"}`)

	rec := doJSON(t, e, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	text := rec.Body.String()
	assert.Contains(t, text, `starvec_api_requests_total{endpoint="im2svg",status="200"} 2`)
	assert.Contains(t, text, `starvec_api_requests_total{endpoint="im2svg",status="400"} 1`)
	assert.Contains(t, text, "starvec_api_cache_hits_total 1")
	assert.Contains(t, text, "starvec_api_cache_misses_total 1")
	assert.Contains(t, text, "starvec_api_generation_duration_seconds_bucket")
}
