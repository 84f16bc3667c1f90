package eventqueue

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// Dispatcher runs one request to completion: enrich, send, interpret.
// It never touches the stores; the Queue applies the returned Outcome.
type Dispatcher struct {
	transport  Transport
	identity   DeviceIdentity
	identifier *AutoIdentifier
	// enqueue is bound by the owning Queue and used for auto-identify requests.
	enqueue    func(ctx context.Context, req QueuedRequest) error
	apiKey     string
	batchKey   string
	propagator propagation.TextMapPropagator
	logger     *zap.Logger
	metrics    MetricsCollector
}

// NewDispatcher создает диспетчер поверх транспорта.
func NewDispatcher(transport Transport, opts ...DispatcherOption) (*Dispatcher, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}

	d := &Dispatcher{
		transport:  transport,
		batchKey:   defaultBatchKey,
		propagator: otel.GetTextMapPropagator(),
		logger:     zap.NewNop(),
		metrics:    NewNopMetricsCollector(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch sends req once and reports the result. A missing device identifier
// fails the cycle without calling the transport.
func (d *Dispatcher) Dispatch(ctx context.Context, req QueuedRequest) Outcome {
	fields := []zap.Field{
		zap.Int64("request_id", req.ID),
		zap.String("url", req.URL),
		zap.Int("retries_left", req.RetriesLeft),
	}

	d.autoIdentify(ctx)

	id := d.resolveIdentity(ctx)
	if d.identity != nil && !id.HasDeviceID {
		d.logger.Info("Device identity not resolvable yet, request will be retried", fields...)
		d.metrics.IncrementCounter("eventqueue.dispatch.failed", map[string]string{"reason": "identity"})
		return Outcome{Request: req, Err: ErrIdentityUnavailable}
	}

	body := req.Body
	if d.identity != nil {
		enriched, err := enrichBody(req.Body, id, d.batchKey)
		if err != nil {
			// Тело не JSON-объект, отправляем как есть
			d.logger.Debug("Body not enriched", append(fields, zap.Error(err))...)
		} else {
			body = enriched
		}
	}

	headers := d.buildHeaders(ctx, req)

	d.logger.Debug("Dispatching request", fields...)
	start := time.Now()
	status, respBody := d.transport.Send(ctx, string(req.Method), req.URL, headers, body)
	d.metrics.RecordDuration("eventqueue.dispatch.duration", time.Since(start), nil)

	outcome := Outcome{Request: req, StatusCode: status, Body: respBody}
	if status != statusOK {
		outcome.Err = fmt.Errorf("%w: status %d", ErrDispatchFailed, status)
		d.metrics.IncrementCounter("eventqueue.dispatch.failed", map[string]string{"reason": "status"})
		d.logger.Warn("Request failed", append(fields, zap.Int("status_code", status))...)
		return outcome
	}

	d.metrics.IncrementCounter("eventqueue.dispatch.success", nil)
	d.logger.Debug("Request delivered", append(fields, zap.Int("status_code", status))...)
	return outcome
}

// autoIdentify errors are logged only, the current cycle goes on.
func (d *Dispatcher) autoIdentify(ctx context.Context) {
	if d.identifier == nil || d.enqueue == nil {
		return
	}
	if err := d.identifier.Check(ctx, d.enqueue); err != nil {
		d.logger.Warn("Auto-identify failed", zap.Error(err))
	}
}

func (d *Dispatcher) resolveIdentity(ctx context.Context) identity {
	if d.identity == nil {
		return identity{}
	}

	var id identity
	id.DeviceID, id.HasDeviceID = d.identity.DeviceID(ctx)
	if id.DeviceID == "" {
		id.HasDeviceID = false
	}

	token, err := d.identity.PushToken(ctx)
	if err != nil {
		d.logger.Warn("Push token lookup failed, reinitializing provider", zap.Error(err))
		if rerr := d.identity.Reinitialize(ctx); rerr != nil {
			d.logger.Warn("Push provider reinitialization failed", zap.Error(rerr))
			return id
		}
		token, err = d.identity.PushToken(ctx)
		if err != nil {
			d.logger.Warn("Push token still unavailable, sending without it", zap.Error(err))
			return id
		}
	}
	id.PushToken = token
	return id
}

func (d *Dispatcher) buildHeaders(ctx context.Context, req QueuedRequest) map[string]string {
	headers := map[string]string{
		headerAccept: contentTypeJSON,
	}
	if req.Method == MethodPost {
		headers[headerContentType] = contentTypeJSON
	}
	if req.Key != "" {
		headers[headerIdempotencyKey] = req.Key
	}
	if d.apiKey != "" {
		headers[headerAuthorization] = basicAuth(d.apiKey)
	}
	d.propagator.Inject(ctx, HeaderCarrier(headers))
	return headers
}
