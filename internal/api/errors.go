package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"schoolchat/internal/router"
	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

var errRateLimited = echo.NewHTTPError(http.StatusTooManyRequests, "Too many requests, please try again later")

// Response is the envelope of every /api/v1 reply.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Result  interface{} `json:"result"`
}

func ok(c echo.Context, code int, message string, result interface{}) error {
	return c.JSON(code, Response{Success: true, Message: message, Result: result})
}

// newHTTPErrorHandler renders every error as a Response with success=false.
func newHTTPErrorHandler(logger *slog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code, message, result := classify(err)
		if code >= http.StatusInternalServerError {
			logger.Error("request_failed",
				"method", c.Request().Method,
				"path", c.Path(),
				"error", err,
			)
		}
		if c.Echo().Debug && result == nil {
			result = err.Error()
		}

		if c.Response().Committed {
			return
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, Response{Message: message, Result: result})
		}
		if err != nil {
			logger.Debug("error_response_failed", "error", err)
		}
	}
}

func classify(err error) (int, string, interface{}) {
	if rej, ok := router.AsRejection(err); ok {
		var verr *types.ValidationError
		if errors.As(rej.Err, &verr) {
			return http.StatusBadRequest, rej.Message, verr.Fields
		}
		return rejectionStatus(rej), rej.Message, nil
	}

	var verr *types.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, verr.Error(), verr.Fields
	}

	var herr *echo.HTTPError
	if errors.As(err, &herr) {
		if inner, ok := herr.Internal.(*echo.HTTPError); ok {
			herr = inner
		}
		return herr.Code, fmt.Sprint(herr.Message), nil
	}

	if errors.Is(err, interfaces.ErrNotFound) {
		return http.StatusNotFound, "Not found", nil
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError), nil
}

func rejectionStatus(rej *router.RejectionError) int {
	switch rej.Stage {
	case router.StageValidation, router.StageModeration:
		return http.StatusBadRequest
	case router.StageAuth:
		if errors.Is(rej.Err, interfaces.ErrForbidden) {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case router.StageForbidden:
		return http.StatusForbidden
	case router.StageNotFound:
		return http.StatusNotFound
	case router.StageRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
