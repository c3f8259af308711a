package api

import "github.com/samcharles93/starvec/internal/model"

// Im2SVGRequest is the JSON body of POST /v1/im2svg. Image is base64 or a
// data URL. Sampling fields are optional; omitting them decodes greedily.
type Im2SVGRequest struct {
	Model         string   `json:"model,omitempty"`
	Image         string   `json:"image"`
	MaxLength     *int     `json:"max_length,omitempty"`
	Seed          *int64   `json:"seed,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	MinP          *float64 `json:"min_p,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
	NoCache       bool     `json:"no_cache,omitempty"`
}

type Im2SVGResponse struct {
	ID         string `json:"id"`
	Object     string `json:"object"`
	CreatedAt  int64  `json:"created_at"`
	Model      string `json:"model"`
	SVG        string `json:"svg"`
	PNG        string `json:"png"`
	Tokens     int    `json:"tokens"`
	StopReason string `json:"stop_reason"`
	// Placeholder reports that no <svg> element could be recovered from the
	// generated text.
	Placeholder bool    `json:"placeholder,omitempty"`
	DurationMS  float64 `json:"duration_ms"`
	Cached      bool    `json:"cached"`
}

type RasterizeRequest struct {
	SVG  string `json:"svg"`
	Size int    `json:"size,omitempty"`
}

type RasterizeResponse struct {
	SVG          string `json:"svg"`
	PNG          string `json:"png"`
	Placeholder  bool   `json:"placeholder,omitempty"`
	RenderFailed bool   `json:"render_failed,omitempty"`
}

type ModelInfo struct {
	ID        string        `json:"id"`
	Object    string        `json:"object"`
	Path      string        `json:"path,omitempty"`
	Loaded    bool          `json:"loaded"`
	Task      string        `json:"task,omitempty"`
	Precision string        `json:"precision,omitempty"`
	Config    *model.Config `json:"config,omitempty"`
}

type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}

type ResponseError struct {
	Message string `json:"message,omitempty"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Param   string `json:"param,omitempty"`
}
