package handlers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	futils "github.com/gofiber/fiber/v2/utils"
)

// ErrorKind is the machine-readable error name returned to clients.
type ErrorKind string

const (
	KindInvalidURL            ErrorKind = "InvalidURL"
	KindInvalidFromFormat     ErrorKind = "InvalidFromFormat"
	KindInvalidToFormat       ErrorKind = "InvalidToFormat"
	KindUnsupportedFromFormat ErrorKind = "UnsupportedFromFormat"
	KindUnsupportedToFormat   ErrorKind = "UnsupportedToFormat"
	KindFetchFailed           ErrorKind = "FetchFailed"
	KindInternalServerError   ErrorKind = "InternalServerError"
)

// APIError is rendered verbatim as the JSON error body.
type APIError struct {
	Code    int       `json:"code"`
	Kind    ErrorKind `json:"error"`
	Message string    `json:"message"`
}

func (e *APIError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// NewAPIError builds an APIError.
func NewAPIError(code int, kind ErrorKind, message string) *APIError {
	return &APIError{Code: code, Kind: kind, Message: message}
}

func errInvalidURL() *APIError {
	return NewAPIError(fiber.StatusBadRequest, KindInvalidURL, "Please specify a valid URL")
}

func errInvalidFrom() *APIError {
	return NewAPIError(fiber.StatusBadRequest, KindInvalidFromFormat, "Please specify a format to convert from")
}

func errInvalidTo() *APIError {
	return NewAPIError(fiber.StatusBadRequest, KindInvalidToFormat, "Please specify a format to convert to")
}

func errUnsupportedFrom(from string) *APIError {
	return NewAPIError(fiber.StatusBadRequest, KindUnsupportedFromFormat, "Sorry, we don't currently support "+from)
}

func errUnsupportedTo(to string) *APIError {
	return NewAPIError(fiber.StatusBadRequest, KindUnsupportedToFormat, "Sorry, we don't currently support "+to)
}

func errFetchFailed() *APIError {
	return NewAPIError(fiber.StatusBadGateway, KindFetchFailed, "Sorry, we couldn't fetch that URL")
}

func errConversionFailed() *APIError {
	return NewAPIError(fiber.StatusInternalServerError, KindInternalServerError, "Oops, we couldn't convert that PDF, please try again")
}

// AsAPIError maps any handler error to the body clients receive. Plain fiber
// errors keep their status and get a kind derived from the status text.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		kind := ErrorKind(strings.ReplaceAll(futils.StatusMessage(fe.Code), " ", ""))
		if kind == "" {
			kind = KindInternalServerError
		}
		return NewAPIError(fe.Code, kind, fe.Message)
	}
	return NewAPIError(fiber.StatusInternalServerError, KindInternalServerError, "Internal Server Error")
}

// WriteError renders err with its status code.
func WriteError(c *fiber.Ctx, err error) error {
	apiErr := AsAPIError(err)
	return c.Status(apiErr.Code).JSON(apiErr)
}
