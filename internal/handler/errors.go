package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/personal-health-manager/internal/apperr"
)

// MsgUnexpected is the message of every unhandled 500.
const MsgUnexpected = "An unexpected error occurred"

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// ErrorHandler renders every error returned by handlers or middleware as
//
//	{"error": {"code": ..., "message": ..., "details": ...}}
//
// Typed *apperr.Error values keep their status, code and message.  Echo HTTP
// errors become HTTP_<status>.  Anything else is a generic 500 whose cause is
// only shown when debug is set.
func ErrorHandler(debug bool, log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status, body := render(err, debug)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}
		if status == http.StatusUnauthorized {
			c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(status)
		} else {
			werr = c.JSON(status, errorEnvelope{Error: body})
		}
		if werr != nil {
			log.Error().Err(werr).Msg("write error response")
		}
	}
}

func render(err error, debug bool) (int, errorBody) {
	if ae, ok := apperr.As(err); ok {
		body := errorBody{Code: ae.Code(), Message: ae.Message, Details: ae.Details}
		if ae.Status() >= http.StatusInternalServerError && body.Details == nil && debug && ae.Err != nil {
			body.Details = ae.Err.Error()
		}
		return ae.Status(), body
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		if he.Code >= http.StatusInternalServerError {
			return he.Code, internalBody(err, debug)
		}
		return he.Code, errorBody{
			Code:    fmt.Sprintf("HTTP_%d", he.Code),
			Message: fmt.Sprint(he.Message),
		}
	}
	return http.StatusInternalServerError, internalBody(err, debug)
}

func internalBody(err error, debug bool) errorBody {
	body := errorBody{Code: "INTERNAL_SERVER_ERROR", Message: MsgUnexpected}
	if debug {
		body.Details = err.Error()
	}
	return body
}
