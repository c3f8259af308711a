// Package api serves image-to-SVG conversion over HTTP.
package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/samcharles93/starvec/internal/inference"
	"github.com/samcharles93/starvec/internal/logger"
	"github.com/samcharles93/starvec/internal/model"
	"github.com/samcharles93/starvec/internal/svgpost"
	"github.com/samcharles93/starvec/internal/version"
	"github.com/samcharles93/starvec/internal/vision"
	"github.com/samcharles93/starvec/internal/webui"
)

const (
	defaultMaxBodyBytes = 16 << 20
	maxRasterSize       = 2048
)

type ServerConfig struct {
	CacheTTL  time.Duration
	CacheSize uint64
	// RateLimit bounds conversions per second on /v1/im2svg. Zero disables
	// the limit.
	RateLimit    float64
	RateBurst    int
	MaxBodyBytes int64
	// Defaults apply to every conversion. A zero MaxLength uses the model
	// config.
	Defaults inference.Defaults
	Logger   logger.Logger
}

type Server struct {
	provider ModelProvider
	cfg      ServerConfig
	log      logger.Logger
	cache    *resultCache
	registry *prometheus.Registry
	metrics  *metrics
	limiter  *rate.Limiter
	now      func() time.Time
}

func NewServer(provider ModelProvider, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(cfg.RateBurst, 1))
	}
	reg := prometheus.NewRegistry()
	return &Server{
		provider: provider,
		cfg:      cfg,
		log:      cfg.Logger,
		cache:    newResultCache(cfg.CacheTTL, cfg.CacheSize),
		registry: reg,
		metrics:  newMetrics(reg),
		limiter:  limiter,
		now:      time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/", echo.WrapHandler(webui.Handler()))
	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	e.GET("/v1/models", s.handleListModels)
	e.POST("/v1/im2svg", s.handleIm2SVG)
	e.POST("/v1/svg/rasterize", s.handleRasterize)
}

// Close stops the result cache janitor.
func (s *Server) Close() {
	s.cache.stop()
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.String(),
		"cached":  s.cache.len(),
	})
}

func (s *Server) handleListModels(c *echo.Context) error {
	models, err := s.provider.ListModels(c.Request().Context())
	if err != nil {
		return s.fail(c, "models", err)
	}
	s.metrics.requests.WithLabelValues("models", "200").Inc()
	return c.JSON(http.StatusOK, ModelList{Object: "list", Data: models})
}

func (s *Server) handleIm2SVG(c *echo.Context) error {
	if !s.limiter.Allow() {
		s.metrics.rejected.Inc()
		return s.fail(c, "im2svg", fmt.Errorf("conversion rate limit exceeded: %w", ErrBusy))
	}
	req, data, err := s.readIm2SVG(c)
	if err != nil {
		return s.fail(c, "im2svg", err)
	}

	ctx := logger.WithContext(c.Request().Context(), s.log)
	var resp Im2SVGResponse
	err = s.provider.WithModel(ctx, req.Model, func(id string, m *model.Model) error {
		genReq := inference.ResolveOptions(req.options(), s.defaultsFor(m))
		convert := func() (*conversion, error) {
			return s.convert(ctx, id, m, genReq, data)
		}

		var (
			conv   *conversion
			cached bool
			err    error
		)
		if req.NoCache {
			conv, err = convert()
		} else {
			conv, cached, err = s.cache.get(conversionKey(id, genReq, data), convert)
		}
		if err != nil {
			return err
		}
		if cached {
			s.metrics.cacheHits.Inc()
		}
		resp = Im2SVGResponse{
			ID:          newSVGID(),
			Object:      "im2svg",
			CreatedAt:   s.now().Unix(),
			Model:       id,
			SVG:         conv.SVG,
			PNG:         conv.PNG,
			Tokens:      conv.Tokens,
			StopReason:  conv.StopReason,
			Placeholder: conv.Placeholder,
			DurationMS:  float64(conv.Duration.Microseconds()) / 1000,
			Cached:      cached,
		}
		return nil
	})
	if err != nil {
		return s.fail(c, "im2svg", err)
	}
	s.metrics.requests.WithLabelValues("im2svg", "200").Inc()
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) defaultsFor(m *model.Model) inference.Defaults {
	d := s.cfg.Defaults
	if d.MaxLength <= 0 {
		d.MaxLength = m.Config().MaxLength
	}
	return d
}

// convert runs one image through the model and the postprocessor.
func (s *Server) convert(ctx context.Context, id string, m *model.Model, req inference.Request, data []byte) (*conversion, error) {
	if m.Task() != model.TaskIm2SVG {
		return nil, fmt.Errorf("%w: model %s serves %s", model.ErrTaskMismatch, id, m.Task())
	}
	s.metrics.cacheMisses.Inc()

	img, err := m.Processor().ProcessBytes(data)
	if err != nil {
		return nil, newInvalidParam("image", "decode image: "+err.Error())
	}
	start := time.Now()
	gens, err := m.Im2SVG(ctx, vision.Batch{img}, req.MaxLength, model.WithSampler(req.Sampler))
	if err != nil {
		return nil, err
	}
	gen := gens[0]
	doc, raster := m.ProcessAndRasterizeSVG(gen.Text)
	png, err := encodePNG(raster)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	s.metrics.generation.WithLabelValues(id).Observe(elapsed.Seconds())
	s.metrics.tokens.WithLabelValues(id).Add(float64(len(gen.Tokens)))
	s.metrics.stopReasons.WithLabelValues(gen.StopReason.String()).Inc()
	logger.FromContext(ctx).Debug("converted image",
		"model", id,
		"tokens", len(gen.Tokens),
		"stop_reason", gen.StopReason.String(),
		"duration", elapsed,
	)
	return &conversion{
		SVG:         doc,
		PNG:         png,
		Tokens:      len(gen.Tokens),
		StopReason:  gen.StopReason.String(),
		Placeholder: doc == svgpost.Placeholder,
		Duration:    elapsed,
	}, nil
}

func (s *Server) handleRasterize(c *echo.Context) error {
	var req RasterizeRequest
	if err := decodeJSON(c, &req, s.cfg.MaxBodyBytes); err != nil {
		return s.fail(c, "rasterize", err)
	}
	if req.Size < 0 || req.Size > maxRasterSize {
		return s.fail(c, "rasterize", newInvalidParam("size", fmt.Sprintf("size must be between 1 and %d", maxRasterSize)))
	}
	res := svgpost.NewFinalizer(svgpost.Options{Size: req.Size}).Finalize(req.SVG)
	png, err := encodePNG(res.Raster)
	if err != nil {
		return s.fail(c, "rasterize", err)
	}
	s.metrics.requests.WithLabelValues("rasterize", "200").Inc()
	return c.JSON(http.StatusOK, RasterizeResponse{
		SVG:          res.SVG,
		PNG:          png,
		Placeholder:  res.Placeholder,
		RenderFailed: res.RenderFailed,
	})
}

func (s *Server) fail(c *echo.Context, endpoint string, err error) error {
	status, _, _ := classify(err)
	s.metrics.requests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "endpoint", endpoint, "error", err)
	}
	return writeErr(c, err)
}

// readIm2SVG accepts a JSON body or a multipart form with an "image" file.
func (s *Server) readIm2SVG(c *echo.Context) (Im2SVGRequest, []byte, error) {
	r := c.Request()
	if strings.HasPrefix(r.Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		return s.readMultipart(c.Response(), r)
	}
	var req Im2SVGRequest
	if err := decodeJSON(c, &req, s.cfg.MaxBodyBytes); err != nil {
		return req, nil, err
	}
	data, err := decodeImageData(req.Image)
	if err != nil {
		return req, nil, err
	}
	return req, data, nil
}

func (s *Server) readMultipart(w http.ResponseWriter, r *http.Request) (Im2SVGRequest, []byte, error) {
	var req Im2SVGRequest
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxBodyBytes); err != nil {
		return req, nil, newInvalidRequest("invalid multipart form: " + err.Error())
	}
	f, _, err := r.FormFile("image")
	if err != nil {
		return req, nil, newInvalidParam("image", "image file is required")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return req, nil, newInvalidParam("image", "read image: "+err.Error())
	}

	req.Model = r.FormValue("model")
	req.NoCache = r.FormValue("no_cache") == "true"
	if v := r.FormValue("max_length"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, nil, newInvalidParam("max_length", "max_length must be an integer")
		}
		req.MaxLength = &n
	}
	if v := r.FormValue("temperature"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, nil, newInvalidParam("temperature", "temperature must be a number")
		}
		req.Temperature = &t
	}
	if v := r.FormValue("seed"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, nil, newInvalidParam("seed", "seed must be an integer")
		}
		req.Seed = &seed
	}
	return req, data, nil
}

func (r Im2SVGRequest) options() inference.Options {
	return inference.Options{
		MaxLength:     r.MaxLength,
		Seed:          r.Seed,
		Temperature:   r.Temperature,
		TopK:          r.TopK,
		TopP:          r.TopP,
		MinP:          r.MinP,
		RepeatPenalty: r.RepeatPenalty,
	}
}

func encodePNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := svgpost.EncodePNG(&buf, img); err != nil {
		return "", fmt.Errorf("encode png: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
