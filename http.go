package identity

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// HTTPStatus maps an error category to the status the transport should
// render.
func HTTPStatus(err error) int {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return http.StatusInternalServerError
	}

	switch rich.Category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ErrorBody is the JSON envelope every failed request renders.
type ErrorBody struct {
	Message  string `json:"message"`
	Category string `json:"category"`
	TextCode string `json:"text_code,omitempty"`
}

// NewErrorHandler builds the app-level fiber error handler. Internal
// categories are logged with their metadata but rendered opaque.
func NewErrorHandler(logger Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = defLogger{}
	}

	return func(c *fiber.Ctx, err error) error {
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(fiber.Map{
					"error": ErrorBody{Message: fe.Message, Category: "internal"},
				})
			}
			rich = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred")
		}

		status := HTTPStatus(rich)
		body := ErrorBody{
			Message:  rich.Message,
			Category: string(rich.Category),
			TextCode: rich.TextCode,
		}

		if status >= http.StatusInternalServerError {
			logger.Error(
				"request failed: %s category=%s meta=%s",
				rich.Message, rich.Category, print.MaybePrettyJSON(rich.Metadata),
			)
			body.Message = "An unexpected server error occurred"
		} else {
			logger.Debug(
				"request rejected: %s category=%s path=%s",
				rich.Message, rich.Category, c.OriginalURL(),
			)
		}

		return c.Status(status).JSON(fiber.Map{"error": body})
	}
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid request body").
			WithCode(goerrors.CodeBadRequest)
	}
	return nil
}
