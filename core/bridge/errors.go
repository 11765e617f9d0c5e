package bridge

import (
	"context"
	"errors"
	"net/http"

	"github.com/cordum/devserver/core/assets"
	"github.com/cordum/devserver/core/infra/queue"
	"github.com/cordum/devserver/core/infra/schema"
	"github.com/cordum/devserver/core/localserver"
)

// Error codes returned to the web view.
const (
	CodeInvalidInput     = "INVALID_INPUT"
	CodeInvalidURL       = "INVALID_URL"
	CodeDownloadFailed   = "DOWNLOAD_FAILED"
	CodeChecksumMismatch = "CHECKSUM_MISMATCH"
	CodeExtractFailed    = "EXTRACT_FAILED"
	CodeIOFailed         = "IO_FAILED"
	CodeNotFound         = "NOT_FOUND"
	CodeBindFailed       = "BIND_FAILED"
	CodeUnknownMethod    = "UNKNOWN_METHOD"
	CodeUnavailable      = "UNAVAILABLE"
	CodeTimeout          = "TIMEOUT"
	CodeInternal         = "INTERNAL"
)

var errInvalidInput = errors.New("invalid_input")

// APIError is the error body of a failed call.
type APIError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

type errorEnvelope struct {
	Error APIError `json:"error"`
}

func mapError(err error) (int, APIError) {
	body := APIError{Message: err.Error()}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errInvalidInput), errors.Is(err, schema.ErrInvalid):
		status, body.Code = http.StatusBadRequest, CodeInvalidInput
	case errors.Is(err, assets.ErrInvalidURL):
		status, body.Code = http.StatusBadRequest, CodeInvalidURL
	case errors.Is(err, assets.ErrDownloadFailed):
		status, body.Code = http.StatusBadGateway, CodeDownloadFailed
	case errors.Is(err, assets.ErrChecksumMismatch):
		status, body.Code = http.StatusUnprocessableEntity, CodeChecksumMismatch
		var mismatch *assets.ChecksumMismatchError
		if errors.As(err, &mismatch) {
			body.Expected, body.Actual = mismatch.Expected, mismatch.Actual
		}
	case errors.Is(err, assets.ErrExtractFailed):
		status, body.Code = http.StatusUnprocessableEntity, CodeExtractFailed
	case errors.Is(err, assets.ErrNotFound):
		status, body.Code = http.StatusNotFound, CodeNotFound
	case errors.Is(err, localserver.ErrBindFailed):
		status, body.Code = http.StatusServiceUnavailable, CodeBindFailed
	case errors.Is(err, assets.ErrIOFailed):
		status, body.Code = http.StatusInternalServerError, CodeIOFailed
	case errors.Is(err, queue.ErrClosed):
		status, body.Code = http.StatusServiceUnavailable, CodeUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		status, body.Code = http.StatusGatewayTimeout, CodeTimeout
	default:
		body.Code = CodeInternal
	}
	return status, body
}

func writeError(w http.ResponseWriter, err error) {
	status, body := mapError(err)
	writeJSON(w, status, errorEnvelope{Error: body})
}
