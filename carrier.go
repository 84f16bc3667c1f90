package eventqueue

import (
	"encoding/base64"

	"go.opentelemetry.io/otel/propagation"
)

const (
	headerAuthorization  = "Authorization"
	headerContentType    = "Content-Type"
	headerAccept         = "Accept"
	headerIdempotencyKey = "Idempotency-Key"

	contentTypeJSON = "application/json"
)

// HeaderCarrier lets an OpenTelemetry propagator write trace context into outgoing request headers.
type HeaderCarrier map[string]string

var _ propagation.TextMapCarrier = HeaderCarrier(nil)

func (c HeaderCarrier) Get(key string) string {
	return c[key]
}

func (c HeaderCarrier) Set(key, value string) {
	c[key] = value
}

func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// basicAuth builds the Authorization value for an API key used as user name with an empty password.
func basicAuth(apiKey string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(apiKey+":"))
}
