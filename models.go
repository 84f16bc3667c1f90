package eventqueue

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/overtonx/eventqueue/storage"
)

type Method string

const (
	MethodGet  Method = "GET"
	MethodPost Method = "POST"
)

// API paths of the marketing backend.
const (
	PathEvent       = "/api/v1/event"
	PathBulkEvent   = "/api/v1/event/bulk"
	PathSingleEvent = "/api/v1/event/single"
	PathIdentify    = "/api/v1/identify"
)

const statusOK = 200

var (
	// ErrInvalidRequest is returned by Enqueue for requests that can never be sent.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrIdentityUnavailable marks a cycle that could not resolve the device identifier.
	ErrIdentityUnavailable = errors.New("device identity unavailable")
	// ErrDispatchFailed wraps every non-200 transport result.
	ErrDispatchFailed = errors.New("dispatch failed")
	// ErrQueueRunning is returned when Run is called on a queue that is already running.
	ErrQueueRunning = errors.New("queue already running")
)

// Status is the state of the queue's single-flight gate.
type Status int32

const (
	StatusAvailable Status = iota
	StatusBusy
)

func (s Status) String() string {
	switch s {
	case StatusAvailable:
		return "AVAILABLE"
	case StatusBusy:
		return "BUSY"
	default:
		return "UNKNOWN"
	}
}

// QueuedRequest is one pending outbound API call. It is treated as an immutable value:
// retry bookkeeping produces a new value instead of mutating the one read from the store.
type QueuedRequest struct {
	ID     int64
	Key    string
	URL    string
	Method Method
	Body   string
	// RetriesLeft is the pending retry count; a request reaching 0 is dropped.
	RetriesLeft int
	// NextRetryAt is epoch millis, 0 means eligible immediately.
	NextRetryAt int64
	CreatedAt   int64
}

// NewRequest creates a request to be passed to Queue.Enqueue.
func NewRequest(method Method, rawURL, body string) (QueuedRequest, error) {
	req := QueuedRequest{
		URL:    rawURL,
		Method: method,
		Body:   body,
	}
	if err := validateRequest(req); err != nil {
		return QueuedRequest{}, err
	}
	return req, nil
}

// WithRetries returns a copy of r with the given retry budget.
func (r QueuedRequest) WithRetries(n int) QueuedRequest {
	r.RetriesLeft = n
	return r
}

// retried returns the value re-inserted after a failed attempt.
func (r QueuedRequest) retried(next time.Time) QueuedRequest {
	r.ID = 0
	r.RetriesLeft--
	r.NextRetryAt = next.UnixMilli()
	return r
}

// deferred returns the unchanged request scheduled no earlier than next.
func (r QueuedRequest) deferred(next time.Time) QueuedRequest {
	r.ID = 0
	r.NextRetryAt = next.UnixMilli()
	return r
}

func (r QueuedRequest) record() storage.RequestRecord {
	return storage.RequestRecord{
		ID:          r.ID,
		Key:         r.Key,
		URL:         r.URL,
		Method:      string(r.Method),
		Body:        r.Body,
		RetriesLeft: r.RetriesLeft,
		NextRetryAt: r.NextRetryAt,
		CreatedAt:   r.CreatedAt,
	}
}

func requestFromRecord(rec storage.RequestRecord) QueuedRequest {
	return QueuedRequest{
		ID:          rec.ID,
		Key:         rec.Key,
		URL:         rec.URL,
		Method:      Method(rec.Method),
		Body:        rec.Body,
		RetriesLeft: rec.RetriesLeft,
		NextRetryAt: rec.NextRetryAt,
		CreatedAt:   rec.CreatedAt,
	}
}

// FailedEvent is an event payload demoted from single-event retry to batch resubmission.
type FailedEvent struct {
	ID     int64
	Params map[string]any
}

// Outcome is the result of one dispatch cycle.
type Outcome struct {
	Request    QueuedRequest
	StatusCode int
	Body       string
	Err        error
}

// Success is true only for HTTP 200.
func (o Outcome) Success() bool {
	return o.Err == nil && o.StatusCode == statusOK
}

func validateRequest(req QueuedRequest) error {
	switch req.Method {
	case MethodGet, MethodPost:
	default:
		return fmt.Errorf("%w: unsupported method %q", ErrInvalidRequest, req.Method)
	}
	if req.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: url must be absolute", ErrInvalidRequest)
	}
	if req.RetriesLeft < 0 {
		return fmt.Errorf("%w: negative retry count", ErrInvalidRequest)
	}
	return nil
}
