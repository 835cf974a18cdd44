package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
)

// DataResponse writes the envelope with the given HTTP status.
func DataResponse(c echo.Context, status, code int, message string, data interface{}) error {
	if message == "" {
		message = http.StatusText(status)
	}
	return c.JSON(status, APIResponse{
		Success: status < http.StatusBadRequest,
		Code:    code,
		Message: message,
		Data:    data,
	})
}

// SuccessResponse writes success response.
func SuccessResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusOK, CodeOK, "", data)
}

// MessageResponse writes a success response with a human readable message.
func MessageResponse(c echo.Context, message string, data interface{}) error {
	return DataResponse(c, http.StatusOK, CodeOK, message, data)
}

// CreatedResponse writes created response.
func CreatedResponse(c echo.Context, data interface{}) error {
	return DataResponse(c, http.StatusCreated, CodeOK, "", data)
}

// BadRequestResponse writes validation errors.
func BadRequestResponse(c echo.Context, errs []ValidationError) error {
	msg := "validation failed"
	if len(errs) > 0 && errs[0].Message != "" {
		msg = errs[0].Message
	}
	return DataResponse(c, http.StatusBadRequest, CodeValidation, msg, errs)
}

// InternalServerErrorResponse writes internal server error.
func InternalServerErrorResponse(c echo.Context) error {
	return DataResponse(c, http.StatusInternalServerError, CodeUnknown, "Something went wrong", nil)
}

// AppErrorResponse writes application error response.
func AppErrorResponse(c echo.Context, err error) error {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return DataResponse(c, appErr.Status, appErr.Code, appErr.Message, nil)
	}
	return InternalServerErrorResponse(c)
}
