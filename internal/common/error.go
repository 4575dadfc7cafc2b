package common

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrRunAlreadyStarted  = fmt.Errorf("run has already started")
	ErrBadListing         = fmt.Errorf("truncated listing page has no entries and no marker")
	ErrCheckpointNotFound = fmt.Errorf("checkpoint not found")
)

// TransientFetchError marks a fetch failure worth retrying: transport
// errors, timeouts, 5xx and throttling responses.
type TransientFetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransientFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("transient fetch failure: %s: %s", e.URL, e.Err)
	}

	return fmt.Sprintf("transient fetch failure: %s: status %d", e.URL, e.StatusCode)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// PermanentFetchError marks a fetch failure retrying cannot cure.
type PermanentFetchError struct {
	URL        string
	StatusCode int
}

func (e *PermanentFetchError) Error() string {
	return fmt.Sprintf("permanent fetch failure: %s: status %d", e.URL, e.StatusCode)
}

type ChecksumError struct {
	Path string
	Want string
	Got  string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: %s: want %s, got %s", e.Path, e.Want, e.Got)
}

type ArchiveError struct {
	Path   string
	Reason string
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("bad archive: %s: %s", e.Path, e.Reason)
}

type SchemaError struct {
	Path    string
	Reason  string
	Missing []string
}

func (e *SchemaError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("bad schema: %s: missing columns: %s", e.Path, strings.Join(e.Missing, ", "))
	}

	return fmt.Sprintf("bad schema: %s: %s", e.Path, e.Reason)
}

type SizeMismatchError struct {
	Path string
	Want int64
	Got  int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch: %s: want %d bytes, got %d", e.Path, e.Want, e.Got)
}

const (
	TransferTimeout TransferKind = iota
	TransferHTTPStatus
	TransferSizeMismatch
	TransferIO
)

type TransferKind int

func (k TransferKind) String() string {
	return [...]string{"Timeout", "HTTPStatus", "SizeMismatch", "IO"}[k]
}

type TransferError struct {
	Kind TransferKind
	URL  string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer failed (%s): %s: %s", e.Kind, e.URL, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// DiscoveryError reports an exhausted retry budget on one listing page.
// The pages collected before it are returned alongside as a partial
// manifest.
type DiscoveryError struct {
	Symbol string
	Page   int
	Err    error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery of %s failed on page %d: %s", e.Symbol, e.Page, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// StatusError maps an unexpected HTTP status to the fetch taxonomy.
func StatusError(url string, code int) error {
	if code >= http.StatusInternalServerError || code == http.StatusTooManyRequests {
		return &TransientFetchError{URL: url, StatusCode: code}
	}

	return &PermanentFetchError{URL: url, StatusCode: code}
}

// Retryable reports whether another attempt may change the outcome.
func Retryable(err error) bool {
	var permanentErr *PermanentFetchError
	if errors.As(err, &permanentErr) {
		return false
	}

	return !errors.Is(err, ErrBadListing)
}
