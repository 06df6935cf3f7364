package api

import (
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"
)

// writeJSON encodes v with goccy and writes it, bypassing the default
// serializer.
func writeJSON(c *echo.Context, status int, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	res.WriteHeader(status)
	_, err = res.Write(b)
	return err
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return writeJSON(c, status, map[string]any{
		"error": ErrorBody{
			Message: msg,
			Type:    errType,
		},
	})
}
