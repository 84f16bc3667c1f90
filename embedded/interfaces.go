package embedded

import (
	"context"
	"time"
)

// Transport performs the network call. A status code of 0 means the request never reached the server.
type Transport interface {
	Send(ctx context.Context, method, url string, headers map[string]string, body string) (statusCode int, responseBody string)
}

// DeviceIdentity supplies identity fields that are merged into outgoing requests.
type DeviceIdentity interface {
	// DeviceID returns false while the identifier is not resolvable yet.
	DeviceID(ctx context.Context) (string, bool)
	PushToken(ctx context.Context) (string, error)
	// Reinitialize restarts the push provider after a failed token lookup.
	Reinitialize(ctx context.Context) error
}

type Connectivity interface {
	IsConnected() bool
}

// Profile exposes the user attributes watched by auto-identify.
type Profile interface {
	Email() string
	PushEnabled() bool
}

// Preferences is a small persistent key-value store.
type Preferences interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

type MetricsCollector interface {
	IncrementCounter(name string, tags map[string]string)
	RecordDuration(name string, duration time.Duration, tags map[string]string)
	RecordGauge(name string, value float64, tags map[string]string)
}

type Worker interface {
	Start(ctx context.Context)
	Stop()
	Name() string
}
