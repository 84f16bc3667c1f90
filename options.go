package eventqueue

import (
	"time"

	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const (
	defaultRetries          = 3
	defaultRetryInterval    = 5 * time.Minute
	defaultMaxCyclesPerRun  = 1000
	defaultErrorBackoff     = time.Second
	defaultFeederPageSize   = 50
	defaultFeederMaxPages   = 100
	defaultBatchKey         = "events"
	defaultPriorityEndpoint = PathSingleEvent
)

//
// Queue Options
//

type Option func(*Queue)

func WithLogger(logger *zap.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

func WithMetrics(metrics MetricsCollector) Option {
	return func(q *Queue) {
		if metrics != nil {
			q.metrics = metrics
		}
	}
}

func WithConnectivity(connectivity Connectivity) Option {
	return func(q *Queue) {
		if connectivity != nil {
			q.connectivity = connectivity
		}
	}
}

// WithTxManager makes outcome handling atomic across remove and re-insert.
func WithTxManager(manager TxManager) Option {
	return func(q *Queue) {
		if manager != nil {
			q.txManager = manager
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		if now != nil {
			q.now = now
		}
	}
}

func WithRetryInterval(interval time.Duration) Option {
	return func(q *Queue) {
		if interval > 0 {
			q.retryInterval = interval
		}
	}
}

func WithDefaultRetries(retries int) Option {
	return func(q *Queue) {
		if retries > 0 {
			q.defaultRetries = retries
		}
	}
}

// WithPriorityEndpoint sets the path of the single-event endpoint whose failures are demoted.
func WithPriorityEndpoint(path string) Option {
	return func(q *Queue) {
		if path != "" {
			q.priorityPath = path
		}
	}
}

// WithErrorBackoff sets how long Run waits before the next drain after a storage error.
func WithErrorBackoff(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.errorBackoff = d
		}
	}
}

// WithMaxCyclesPerDrain bounds how many requests one Drain call dispatches.
func WithMaxCyclesPerDrain(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxCycles = n
		}
	}
}

//
// Dispatcher Options
//

type DispatcherOption func(*Dispatcher)

func WithDispatcherLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

func WithDispatcherMetrics(metrics MetricsCollector) DispatcherOption {
	return func(d *Dispatcher) {
		if metrics != nil {
			d.metrics = metrics
		}
	}
}

func WithDeviceIdentity(identity DeviceIdentity) DispatcherOption {
	return func(d *Dispatcher) {
		d.identity = identity
	}
}

// WithAPIKey enables basic auth with the key as user name.
func WithAPIKey(apiKey string) DispatcherOption {
	return func(d *Dispatcher) {
		d.apiKey = apiKey
	}
}

func WithAutoIdentifier(identifier *AutoIdentifier) DispatcherOption {
	return func(d *Dispatcher) {
		d.identifier = identifier
	}
}

func WithPropagator(propagator propagation.TextMapPropagator) DispatcherOption {
	return func(d *Dispatcher) {
		if propagator != nil {
			d.propagator = propagator
		}
	}
}

// WithBatchKey names the array field holding sub-events in bulk bodies.
func WithBatchKey(key string) DispatcherOption {
	return func(d *Dispatcher) {
		if key != "" {
			d.batchKey = key
		}
	}
}

//
// BatchFeeder Options
//

type FeederOption func(*BatchFeeder)

func WithFeederPageSize(size int) FeederOption {
	return func(f *BatchFeeder) {
		if size > 0 {
			f.pageSize = size
		}
	}
}

func WithFeederMaxPages(pages int) FeederOption {
	return func(f *BatchFeeder) {
		if pages > 0 {
			f.maxPages = pages
		}
	}
}

// WithFeederBatchKey names the array field of the bulk envelope.
func WithFeederBatchKey(key string) FeederOption {
	return func(f *BatchFeeder) {
		if key != "" {
			f.batchKey = key
		}
	}
}

func WithFeederLogger(logger *zap.Logger) FeederOption {
	return func(f *BatchFeeder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

func WithFeederMetrics(metrics MetricsCollector) FeederOption {
	return func(f *BatchFeeder) {
		if metrics != nil {
			f.metrics = metrics
		}
	}
}

//
// Worker Options
//

type WorkerOption func(*PeriodicWorker)

// WithRunOnStart executes the work function once before the first tick.
func WithRunOnStart() WorkerOption {
	return func(w *PeriodicWorker) {
		w.runOnStart = true
	}
}
