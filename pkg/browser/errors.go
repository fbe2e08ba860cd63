package browser

import (
	"context"
	"errors"
	"strings"

	"github.com/go-rod/rod"

	"dev/bravebird/form-submitter/pkg/models"
)

// sessionLostMarkers are driver messages seen when the tab or browser went away
var sessionLostMarkers = []string{
	"session with given id not found",
	"no target with given id",
	"target closed",
	"session closed",
	"browser has disconnected",
	"use of closed network connection",
	"websocket: close",
	"-32001",
}

// isSessionLost reports whether err means the browser window or CDP session is gone
func isSessionLost(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range sessionLostMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// classify turns a raw driver error from op into a SubmissionError
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var se *models.SubmissionError
	if errors.As(err, &se) {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return models.TimeoutError(op, err)
	case isSessionLost(err):
		return models.SessionLost(op, err)
	}

	var notFound *rod.ElementNotFoundError
	if errors.As(err, &notFound) {
		return models.ElementNotFound("", false, err)
	}

	// The element exists but is not ready to take input yet
	var notInteractable *rod.NotInteractableError
	var invisible *rod.InvisibleShapeError
	var covered *rod.CoveredError
	if errors.As(err, &notInteractable) || errors.As(err, &invisible) || errors.As(err, &covered) {
		return models.ElementNotFound("", true, err)
	}

	var navErr *rod.NavigationError
	if op == "navigate" || errors.As(err, &navErr) {
		return models.NewError(models.KindNavigation, op, err)
	}
	return models.NewError(models.KindUnknown, op, err)
}
