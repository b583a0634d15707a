package server

import (
	"errors"
	"reflect"
	"strings"

	"bloodbooth/internal/middleware"
	"bloodbooth/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper. Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

// Pagination holds parsed limit/offset query parameters.
type Pagination struct {
	Limit  int
	Offset int
}

const (
	defaultPaginationLimit = 20
	maxPaginationLimit     = 100
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON field names so messages match the request body.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// parsePagination extracts limit and offset query parameters with the given default limit.
func parsePagination(c *fiber.Ctx, defaultLimit int) Pagination {
	limit := c.QueryInt("limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxPaginationLimit {
		limit = maxPaginationLimit
	}

	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	return Pagination{
		Limit:  limit,
		Offset: offset,
	}
}

// bindBody parses and validates a JSON body. Missing required fields are reported with
// missingMsg. On failure it writes a 400 response and returns errResponseWritten.
func bindBody(c *fiber.Ctx, dst any, missingMsg string) error {
	if err := c.BodyParser(dst); err != nil {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
		return errResponseWritten
	}

	// Whitespace-only values count as missing.
	trimStrings(dst)

	err := validate.Struct(dst)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		_ = models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError(err.Error()))
		return errResponseWritten
	}

	msg := ""
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
		if fe.Tag() == "required" {
			msg = missingMsg
		}
	}
	if msg == "" {
		msg = "Invalid " + strings.Join(fields, ", ")
	}
	_ = models.RespondWithError(c, fiber.StatusBadRequest, models.NewValidationError(msg, fields...))
	return errResponseWritten
}

// trimStrings trims every exported string field of the struct dst points to.
func trimStrings(dst any) {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return
	}
	v = v.Elem()
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if f.Kind() == reflect.String && f.CanSet() {
			f.SetString(strings.TrimSpace(f.String()))
		}
	}
}

// statusForError maps an application error code to its HTTP status.
func statusForError(err error) int {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		return fiber.StatusInternalServerError
	}
	switch appErr.Code {
	case models.CodeValidation, models.CodeInvalidAction, models.CodeIllegalTransition:
		return fiber.StatusBadRequest
	case models.CodeRateLimitExceeded:
		return fiber.StatusTooManyRequests
	case models.CodeNotFound:
		return fiber.StatusNotFound
	case models.CodeConflict:
		return fiber.StatusConflict
	case models.CodeUnauthorized:
		return fiber.StatusUnauthorized
	case models.CodeForbidden:
		return fiber.StatusForbidden
	default:
		return fiber.StatusInternalServerError
	}
}

// respondError writes err with the status its code maps to. Unexpected errors are logged
// and rendered as a generic internal error.
func respondError(c *fiber.Ctx, err error) error {
	status := statusForError(err)
	if status == fiber.StatusInternalServerError {
		middleware.Logger.ErrorContext(c.UserContext(), "request failed",
			"path", c.Path(), "error", err.Error())
		if !models.HasCode(err, models.CodeInternal) {
			err = models.NewInternalError(err)
		}
	}
	return models.RespondWithError(c, status, err)
}

// callerID returns the authenticated user id, or "" for anonymous requests.
func callerID(c *fiber.Ctx) string {
	id, _ := c.Locals("userID").(string)
	return id
}
