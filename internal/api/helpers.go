package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/pangolog/pkg/pango"
)

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ErrorBody{Message: msg, Type: errType},
	})
}

// writeLogError maps errors from opening or reading a log to responses.
func writeLogError(c *echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrLogNotFound):
		return writeNotFound(c, err.Error())
	case errors.Is(err, pango.ErrInvalidSourceID):
		return writeNotFound(c, err.Error())
	case errors.Is(err, pango.ErrBadMagic),
		errors.Is(err, pango.ErrMalformedMetadata),
		errors.Is(err, pango.ErrUnknownPacketType),
		errors.Is(err, pango.ErrUnknownType):
		return writeError(c, http.StatusUnprocessableEntity, "invalid_log_error", err.Error())
	default:
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func sourceParam(c *echo.Context) (pango.SourceID, error) {
	n, err := strconv.ParseUint(c.Param("src"), 10, 32)
	if err != nil {
		return 0, errors.New("source id must be a non-negative integer")
	}
	return pango.SourceID(n), nil
}

// parseUintParam returns 0 for anything that is not a plain decimal.
func parseUintParam(v string) uint64 {
	if v == "" {
		return 0
	}
	var n uint64
	for _, r := range v {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + uint64(r-'0')
	}
	return n
}
