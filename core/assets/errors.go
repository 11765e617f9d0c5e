package assets

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidURL       = errors.New("invalid_url")
	ErrDownloadFailed   = errors.New("download_failed")
	ErrChecksumMismatch = errors.New("checksum_mismatch")
	ErrExtractFailed    = errors.New("extract_failed")
	ErrIOFailed         = errors.New("io_failed")
	ErrNotFound         = errors.New("asset_not_found")
)

// ChecksumMismatchError reports the expected and computed digests.
type ChecksumMismatchError struct {
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected %s, got %s", e.Expected, e.Actual)
}

func (e *ChecksumMismatchError) Is(target error) bool {
	return target == ErrChecksumMismatch
}
