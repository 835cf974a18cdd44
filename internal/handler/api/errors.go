package api

import (
	"errors"
	"net/http"

	"PollPulse/internal/domain/models"
	xhttp "PollPulse/pkg/http"
)

var errRateLimited = xhttp.TooManyRequestsError("too many vote attempts, slow down")

// toAppError maps domain errors onto HTTP statuses; anything else is a 500.
func toAppError(err error) error {
	var app *xhttp.AppError
	if errors.As(err, &app) {
		return app
	}
	if errors.Is(err, models.ErrInvalidPollID) {
		return xhttp.BadRequestError(models.CodeValidation, err.Error())
	}

	var de *models.DomainError
	if !errors.As(err, &de) {
		return xhttp.InternalError("Something went wrong").WithError(err)
	}
	status := http.StatusBadRequest
	switch de.Code {
	case models.CodePollNotFound:
		status = http.StatusNotFound
	case models.CodePollExpired:
		status = http.StatusGone
	case models.CodeDuplicateVote:
		status = http.StatusConflict
	case models.CodePollClosed:
		status = http.StatusForbidden
	}
	return xhttp.NewAppError(de.Code, de.Message, status).WithError(err)
}
