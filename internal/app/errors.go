package app

import (
	"errors"

	"labportal/client/internal/apperr"
)

var messages = map[apperr.Kind]string{
	apperr.KindInvalidCredentials:    "Invalid name or password",
	apperr.KindBlockedAccount:        "Your account is blocked",
	apperr.KindDuplicateRegistration: "A user with this name or email already exists",
	apperr.KindNetwork:               "The server could not be reached, try again",
	apperr.KindOperationInProgress:   "Still working on your previous request",
	apperr.KindUnauthorized:          "You are not allowed to do that",
}

// Describe turns err into the line shown to the user. Cancellations and nil yield "".
func Describe(err error) string {
	if !apperr.UserVisible(err) {
		return ""
	}
	var e *apperr.Error
	if !errors.As(err, &e) {
		return err.Error()
	}
	if e.Kind == apperr.KindValidation {
		return e.Message
	}
	if msg, ok := messages[e.Kind]; ok {
		return msg
	}
	return e.Message
}
