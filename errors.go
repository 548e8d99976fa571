package kyc

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidInput           = "INVALID_INPUT"
	TextCodeInvalidAccount         = "INVALID_ACCOUNT"
	TextCodeUnauthorized           = "UNAUTHORIZED_TOKEN"
	TextCodeNotFound               = "REQUEST_NOT_FOUND"
	TextCodeInvalidTransition      = "INVALID_TRANSITION"
	TextCodeConcurrentModification = "CONCURRENT_MODIFICATION"
	TextCodePersistenceFailure     = "PERSISTENCE_FAILURE"
)

// HasTextCode reports whether err carries the given text code.
func HasTextCode(err error, code string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// TextCode returns the text code carried by err, or "" for plain errors.
func TextCode(err error) string {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}

func errInvalidInput(message string, metadata map[string]any) error {
	err := goerrors.New(message, goerrors.CategoryBadInput).
		WithTextCode(TextCodeInvalidInput).
		WithCode(goerrors.CodeBadRequest)
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

func errInvalidAccount(account string) error {
	return goerrors.New("unknown account", goerrors.CategoryNotFound).
		WithTextCode(TextCodeInvalidAccount).
		WithCode(goerrors.CodeNotFound).
		WithMetadata(map[string]any{"account": account})
}

// errUnauthorized never says why a token failed; callers must re-issue.
func errUnauthorized() error {
	return goerrors.New("invalid, expired or already used access token", goerrors.CategoryAuth).
		WithTextCode(TextCodeUnauthorized).
		WithCode(http.StatusUnauthorized)
}

func errNotFound(kind, id string) error {
	return goerrors.New(kind+" not found", goerrors.CategoryNotFound).
		WithTextCode(TextCodeNotFound).
		WithCode(goerrors.CodeNotFound).
		WithMetadata(map[string]any{"id": id})
}

func errInvalidTransition(requestID string, from RequestStatus, action ActionType) error {
	return goerrors.New("invalid request status transition", goerrors.CategoryValidation).
		WithTextCode(TextCodeInvalidTransition).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(map[string]any{
			"request_id": requestID,
			"from":       from.String(),
			"action":     string(action),
		})
}

func errConcurrentModification(requestID string, expected RequestStatus) error {
	return goerrors.New("request was modified concurrently", goerrors.CategoryConflict).
		WithTextCode(TextCodeConcurrentModification).
		WithCode(goerrors.CodeConflict).
		WithMetadata(map[string]any{
			"request_id": requestID,
			"expected":   expected.String(),
		})
}

func errPersistence(err error, message string) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, message).
		WithTextCode(TextCodePersistenceFailure).
		WithCode(http.StatusInternalServerError)
}

var domainTextCodes = map[string]struct{}{
	TextCodeInvalidInput:           {},
	TextCodeInvalidAccount:         {},
	TextCodeUnauthorized:           {},
	TextCodeNotFound:               {},
	TextCodeInvalidTransition:      {},
	TextCodeConcurrentModification: {},
	TextCodePersistenceFailure:     {},
}

// asRichError passes domain errors through untouched and wraps anything else,
// including rich errors raised by the repository layer, as a persistence failure.
func asRichError(err error, message string) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if _, ok := domainTextCodes[richErr.TextCode]; ok {
			return richErr
		}
	}
	return errPersistence(err, message)
}
