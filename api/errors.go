package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

const internalErrorMessage = "서버에서 에러가 발생했습니다."

// BadRequestError is returned when a request body cannot be decoded.
type BadRequestError struct {
	Message string
	Err     error
}

func (e *BadRequestError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *BadRequestError) Unwrap() error { return e.Err }

type errorResponse struct {
	ErrorMessage string `json:"errorMessage"`
}

// ErrorHandler is installed as echo's HTTPErrorHandler. It maps errors
// returned by handlers to a status code and {"errorMessage": ...} body.
// Internal details are logged, never sent to the client.
func ErrorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		status, msg := classifyError(err)

		entry := logger.WithError(err).WithFields(log.Fields{
			"method":     c.Request().Method,
			"path":       c.Request().URL.Path,
			"status":     status,
			"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
		})
		if status >= http.StatusInternalServerError {
			entry.Error("request failed")
		} else {
			entry.Info("request rejected")
		}

		if c.Response().Committed {
			return
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, errorResponse{ErrorMessage: msg})
		}
		if err != nil {
			logger.WithError(err).Error("write error response")
		}
	}
}

func classifyError(err error) (int, string) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, validationErr.Message
	}
	var badReq *BadRequestError
	if errors.As(err, &badReq) {
		return http.StatusBadRequest, badReq.Message
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) && httpErr.Code < http.StatusInternalServerError {
		return httpErr.Code, fmt.Sprint(httpErr.Message)
	}
	return http.StatusInternalServerError, internalErrorMessage
}
