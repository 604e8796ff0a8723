package api

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/exef-io/exef/common"
	"github.com/exef-io/exef/flow"
)

// ErrorResponse is the uniform error body of the API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ErrForbidden is returned when the access resolver denies an identity.
var ErrForbidden = errors.New("brak uprawnień do tego zasobu")

// statusOf maps domain errors onto HTTP status codes. Unrecognised errors
// are internal failures.
func statusOf(err error) int {
	switch {
	case errors.Is(err, flow.ErrSourceNotFound),
		errors.Is(err, flow.ErrTaskNotFound),
		errors.Is(err, flow.ErrDocumentNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, flow.ErrWrongDirection):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// domainError converts a domain error into an echo HTTP error with the
// matching status and the error's own message.
func domainError(err error) *echo.HTTPError {
	return echo.NewHTTPError(statusOf(err), err.Error())
}

// errorHandler renders every error as an ErrorResponse. Internal failures
// carry a generic message unless debug mode is on.
func (s *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	message := err.Error()

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if msg, ok := he.Message.(string); ok {
			message = msg
		}
	}

	if code == http.StatusInternalServerError {
		common.Logger.WithError(err).WithField("path", c.Path()).Error("request failed")
		if !s.cfg.Server.Debug {
			message = "wystąpił błąd wewnętrzny"
		}
	}

	if c.Response().Committed {
		return
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, ErrorResponse{Error: http.StatusText(code), Message: message})
}

// bind decodes and validates a request body. Malformed JSON is a 400;
// validation failures are a 422 with the offending fields named.
func (s *Server) bind(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "nieprawidłowe ciało żądania")
	}
	if err := s.validate.Struct(v); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) {
			fields := make([]byte, 0, 64)
			for i, fe := range invalid {
				if i > 0 {
					fields = append(fields, ", "...)
				}
				fields = append(fields, fe.Field()...)
			}
			return echo.NewHTTPError(http.StatusUnprocessableEntity,
				"nieprawidłowe pola: "+string(fields))
		}
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return nil
}
