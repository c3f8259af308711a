package api

import (
	"bytes"
	"encoding/base64"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
)

func writeError(c *echo.Context, status int, errType, msg, param, code string) error {
	return c.JSON(status, map[string]any{
		"error": ResponseError{
			Message: msg,
			Type:    errType,
			Code:    code,
			Param:   param,
		},
	})
}

func writeErr(c *echo.Context, err error) error {
	status, errType, param := classify(err)
	return writeError(c, status, errType, err.Error(), param, "")
}

// decodeJSON reads a single JSON object from the request body, rejecting
// unknown fields.
func decodeJSON(c *echo.Context, dst any, limit int64) error {
	body := io.LimitReader(c.Request().Body, limit+1)
	raw, err := io.ReadAll(body)
	if err != nil {
		return newInvalidRequest("read body: " + err.Error())
	}
	if int64(len(raw)) > limit {
		return newInvalidRequest("request body too large")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return newInvalidRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

// decodeImageData accepts raw base64 or a data URL.
func decodeImageData(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, newInvalidParam("image", "image is required")
	}
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 || !strings.Contains(s[:i], ";base64") {
			return nil, newInvalidParam("image", "image data URL must be base64 encoded")
		}
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, newInvalidParam("image", "image is not valid base64")
	}
	return data, nil
}

func newSVGID() string {
	return "svg_" + uuid.NewString()
}
