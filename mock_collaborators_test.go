package eventqueue

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockDeviceIdentity is a mock implementation of the DeviceIdentity interface.
type MockDeviceIdentity struct {
	mock.Mock
}

func (m *MockDeviceIdentity) DeviceID(ctx context.Context) (string, bool) {
	args := m.Called(ctx)
	return args.String(0), args.Bool(1)
}

func (m *MockDeviceIdentity) PushToken(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockDeviceIdentity) Reinitialize(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type sentRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// recordingTransport keeps every call and answers with respond (200 when nil).
type recordingTransport struct {
	mu      sync.Mutex
	sent    []sentRequest
	respond func(ctx context.Context, req sentRequest) (int, string)
}

func (t *recordingTransport) Send(ctx context.Context, method, url string, headers map[string]string, body string) (int, string) {
	req := sentRequest{Method: method, URL: url, Headers: headers, Body: body}
	t.mu.Lock()
	t.sent = append(t.sent, req)
	respond := t.respond
	t.mu.Unlock()

	if respond == nil {
		return statusOK, ""
	}
	return respond(ctx, req)
}

func (t *recordingTransport) requests() []sentRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]sentRequest, len(t.sent))
	copy(out, t.sent)
	return out
}

func respondWith(status int) func(context.Context, sentRequest) (int, string) {
	return func(context.Context, sentRequest) (int, string) {
		return status, ""
	}
}

type staticProfile struct {
	email       string
	pushEnabled bool
}

func (p *staticProfile) Email() string     { return p.email }
func (p *staticProfile) PushEnabled() bool { return p.pushEnabled }

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingTxManager struct {
	calls int
}

func (m *countingTxManager) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	return fn(ctx)
}
