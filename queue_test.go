package eventqueue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/overtonx/eventqueue/storage"
	"github.com/overtonx/eventqueue/storage/sqlstore"
)

const testBaseURL = "https://api.example.com"

func newTestStore(t *testing.T) *sqlstore.SQLStore {
	t.Helper()
	store, err := sqlstore.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestQueue(t *testing.T, store *sqlstore.SQLStore, transport Transport, clock *testClock, opts ...Option) *Queue {
	t.Helper()
	dispatcher, err := NewDispatcher(transport)
	require.NoError(t, err)

	q, err := New(store, store, dispatcher, append([]Option{WithClock(clock.Now)}, opts...)...)
	require.NoError(t, err)
	return q
}

func mustRequest(t *testing.T, method Method, path, body string) QueuedRequest {
	t.Helper()
	req, err := NewRequest(method, testBaseURL+path, body)
	require.NoError(t, err)
	return req
}

func pending(t *testing.T, store *sqlstore.SQLStore, at time.Time) *storage.RequestRecord {
	t.Helper()
	rec, err := store.NextEligible(context.Background(), at)
	require.NoError(t, err)
	return rec
}

func TestNew_RequiresDependencies(t *testing.T) {
	store := newTestStore(t)
	dispatcher, err := NewDispatcher(&recordingTransport{})
	require.NoError(t, err)

	_, err = New(nil, store, dispatcher)
	assert.Error(t, err)
	_, err = New(store, nil, dispatcher)
	assert.Error(t, err)
	_, err = New(store, store, nil)
	assert.Error(t, err)
}

func TestQueue_Enqueue_AssignsDefaults(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	clock := newTestClock()
	q := newTestQueue(t, store, &recordingTransport{}, clock)

	require.NoError(t, q.Enqueue(ctx, mustRequest(t, MethodPost, PathEvent, `{"name":"open"}`)))

	rec := pending(t, store, clock.Now())
	require.NotNil(t, rec)
	assert.Equal(t, defaultRetries, rec.RetriesLeft)
	assert.Equal(t, int64(0), rec.NextRetryAt)
	assert.NotEmpty(t, rec.Key)
	assert.Equal(t, clock.Now().UnixMilli(), rec.CreatedAt)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestQueue_Enqueue_Invalid(t *testing.T) {
	store := newTestStore(t)
	q := newTestQueue(t, store, &recordingTransport{}, newTestClock())

	err := q.Enqueue(context.Background(), QueuedRequest{Method: "PUT", URL: testBaseURL})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	err = q.Enqueue(context.Background(), QueuedRequest{Method: MethodGet, URL: "/relative"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestQueue_Enqueue_StoreFailure(t *testing.T) {
	requests := new(storage.MockRequestStore)
	failed := new(storage.MockFailedEventStore)
	dispatcher, err := NewDispatcher(&recordingTransport{})
	require.NoError(t, err)
	q, err := New(requests, failed, dispatcher)
	require.NoError(t, err)

	requests.On("InsertRequest", mock.Anything, mock.Anything).Return(int64(0), storage.ErrStorageFull).Once()

	err = q.Enqueue(context.Background(), mustRequest(t, MethodPost, PathEvent, `{}`))
	assert.ErrorIs(t, err, storage.ErrStorageFull)
	requests.AssertExpectations(t)
}

func TestQueue_Success_RemovesRequest(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	transport := &recordingTransport{}
	q := newTestQueue(t, store, transport, newTestClock())

	require.NoError(t, q.Enqueue(ctx, mustRequest(t, MethodPost, PathEvent, `{"name":"open"}`)))
	require.NoError(t, q.Enqueue(ctx, mustRequest(t, MethodGet, PathEvent, "")))

	n, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, left)

	sent := transport.requests()
	require.Len(t, sent, 2)
	assert.Equal(t, "POST", sent[0].Method)
	assert.Equal(t, "GET", sent[1].Method)
	assert.Equal(t, StatusAvailable, q.Status())
}

func TestQueue_ServerError_ReschedulesWithBackoff(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	clock := newTestClock()
	transport := &recordingTransport{respond: respondWith(500)}
	q := newTestQueue(t, store, transport, clock)

	require.NoError(t, q.Enqueue(ctx, mustRequest(t, MethodPost, PathEvent, `{"name":"open"}`).WithRetries(3)))
	original := pending(t, store, clock.Now())
	require.NotNil(t, original)

	n, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "rescheduled request must not be retried before its timestamp")

	assert.Nil(t, pending(t, store, clock.Now()))

	rec := pending(t, store, clock.Now().Add(6*time.Minute))
	require.NotNil(t, rec)
	assert.NotEqual(t, original.ID, rec.ID)
	assert.Equal(t, original.Key, rec.Key)
	assert.Equal(t, 2, rec.RetriesLeft)
	assert.Equal(t, clock.Now().UnixMilli()+300000, rec.NextRetryAt)
}

func TestQueue_BackoffElapsed_RetriesAgain(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	clock := newTestClock()
	transport := &recordingTransport{respond: respondWith(503)}
	q := newTestQueue(t, store, transport, clock)

	require.NoError(t, q.Enqueue(ctx, mustRequest(t, MethodPost, PathEvent, `{}`)))
	_, err := q.Drain(ctx)
	require.NoError(t, err)

	clock.Advance(defaultRetryInterval + time.Millisecond)
	n, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec := pending(t, store, clock.Now().Add(defaultRetryInterval+time.Second))
	require.NotNil(t, rec)
	assert.Equal(t, 1, rec.RetriesLeft)
	assert.Len(t, transport.requests(), 2)
}

func TestQueue_RetryExhaustion_Drops(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	clock := newTestClock()
	transport := &recordingTransport{respond: respondWith(500)}
	q := newTestQueue(t, store, transport, clock)

	require.NoError(t, q.Enqueue(ctx, mustRequest(t, MethodPost, PathBulkEvent, `{"events":[]}`).WithRetries(1)))

	n, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, left)

	clock.Advance(time.Hour)
	n, err = q.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, transport.requests(), 1)
}

func TestQueue_SingleEventFailure_IsDemoted(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	transport := &recordingTransport{respond: respondWith(0)}
	q := newTestQueue(t, store, transport, newTestClock())

	require.NoError(t, q.Enqueue(ctx, mustRequest(t, MethodPost, PathSingleEvent, `{"name":"purchase","amount":12}`)))

	n, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, left, "demoted request must not stay on the main queue")

	events, err := store.DrainBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, map[string]any{"name": "purchase", "amount": json.Number("12")}, events[0].Params)
}

func TestQueue_DemotionFailure_RequeuesOriginal(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	failed := new(storage.MockFailedEventStore)
	clock := newTestClock()
	transport := &recordingTransport{respond: respondWith(0)}

	dispatcher, err := NewDispatcher(transport)
	require.NoError(t, err)
	q, err := New(store, failed, dispatcher, WithClock(clock.Now))
	require.NoError(t, err)

	failed.On("InsertFailedEvent", mock.Anything, mock.Anything).Return(int64(0), storage.ErrStorageFull).Once()

	require.NoError(t, q.Enqueue(ctx, mustRequest(t, MethodPost, PathSingleEvent, `{"name":"purchase"}`)))
	original := pending(t, store, clock.Now())
	require.NotNil(t, original)

	n, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "re-queued original must wait one retry interval")

	rec := pending(t, store, clock.Now().Add(defaultRetryInterval+time.Second))
	require.NotNil(t, rec)
	assert.Equal(t, original.Key, rec.Key)
	assert.Equal(t, original.Body, rec.Body)
	assert.Equal(t, original.RetriesLeft, rec.RetriesLeft)
	failed.AssertExpectations(t)
}

func TestQueue_SingleEventWithInvalidBody_UsesRetryBudget(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	clock := newTestClock()
	q := newTestQueue(t, store, &recordingTransport{respond: respondWith(500)}, clock)

	require.NoError(t, q.Enqueue(ctx, mustRequest(t, MethodPost, PathSingleEvent, `not json`)))
	_, err := q.Drain(ctx)
	require.NoError(t, err)

	rec := pending(t, store, clock.Now().Add(time.Hour))
	require.NotNil(t, rec)
	assert.Equal(t, defaultRetries-1, rec.RetriesLeft)

	events, err := store.DrainBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestQueue_CustomPriorityEndpoint(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	q := newTestQueue(t, store, &recordingTransport{respond: respondWith(500)}, newTestClock(),
		WithPriorityEndpoint("/api/v2/track"))

	require.NoError(t, q.Enqueue(ctx, mustRequest(t, MethodPost, "/api/v2/track?src=sdk", `{"name":"x"}`)))
	require.NoError(t, q.Enqueue(ctx, mustRequest(t, MethodPost, PathSingleEvent, `{"name":"y"}`)))
	_, err := q.Drain(ctx)
	require.NoError(t, err)

	events, err := store.DrainBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "x", events[0].Params["name"])

	left, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), left)
}

func TestQueue_AtMostOneInflight(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	var inflight, maxInflight, calls atomic.Int32
	transport := &recordingTransport{respond: func(context.Context, sentRequest) (int, string) {
		n := inflight.Add(1)
		for {
			m := maxInflight.Load()
			if n <= m || maxInflight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		inflight.Add(-1)
		calls.Add(1)
		return statusOK, ""
	}}
	q := newTestQueue(t, store, transport, newTestClock())

	const total = 20
	for i := 0; i < total; i++ {
		require.NoError(t, q.Enqueue(ctx, mustRequest(t, MethodPost, PathEvent, `{}`)))
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.NotifyConnectivityChanged()
			_, err := q.Drain(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	_, err := q.Drain(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(1), maxInflight.Load())
	assert.Equal(t, int32(total), calls.Load())
	left, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, left)
}

func TestQueue_NoConnectivity_SkipsCycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	transport := &recordingTransport{}
	var online atomic.Bool
	q := newTestQueue(t, store, transport, newTestClock(),
		WithConnectivity(ConnectivityFunc(online.Load)))

	require.NoError(t, q.Enqueue(ctx, mustRequest(t, MethodPost, PathEvent, `{}`)))

	ran, err := q.SyncOnce(ctx)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Empty(t, transport.requests())
	assert.Equal(t, StatusAvailable, q.Status())

	online.Store(true)
	ran, err = q.SyncOnce(ctx)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Len(t, transport.requests(), 1)
}

func TestQueue_ClearAllDuringDispatch_DoesNotResurrect(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	var q *Queue
	transport := &recordingTransport{respond: func(ctx context.Context, _ sentRequest) (int, string) {
		assert.NoError(t, q.ClearAll(ctx))
		return 500, ""
	}}
	q = newTestQueue(t, store, transport, newTestClock())

	require.NoError(t, q.Enqueue(ctx, mustRequest(t, MethodPost, PathEvent, `{}`)))

	_, err := q.Drain(ctx)
	require.NoError(t, err)

	left, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, left)
}

func TestQueue_ContextCancelledDuringDispatch_LeavesRequest(t *testing.T) {
	store := newTestStore(t)
	clock := newTestClock()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := &recordingTransport{respond: func(context.Context, sentRequest) (int, string) {
		cancel()
		return 0, ""
	}}
	q := newTestQueue(t, store, transport, clock)

	require.NoError(t, q.Enqueue(ctx, mustRequest(t, MethodPost, PathEvent, `{}`)))

	_, err := q.Drain(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	rec := pending(t, store, clock.Now())
	require.NotNil(t, rec)
	assert.Equal(t, defaultRetries, rec.RetriesLeft)
	assert.Equal(t, int64(0), rec.NextRetryAt)
}

func TestQueue_OutcomeRunsInTransaction(t *testing.T) {
	ctx := context.Background()
	requests := new(storage.MockRequestStore)
	failed := new(storage.MockFailedEventStore)
	tx := &countingTxManager{}
	clock := newTestClock()

	dispatcher, err := NewDispatcher(&recordingTransport{respond: respondWith(500)})
	require.NoError(t, err)
	q, err := New(requests, failed, dispatcher, WithTxManager(tx), WithClock(clock.Now))
	require.NoError(t, err)

	rec := &storage.RequestRecord{ID: 7, Key: "k", URL: testBaseURL + PathEvent, Method: "POST", Body: "{}", RetriesLeft: 3}
	insertErr := errors.New("disk I/O error")

	requests.On("NextEligible", mock.Anything, clock.Now()).Return(rec, nil).Once()
	requests.On("RemoveRequest", mock.Anything, int64(7)).Return(true, nil).Once()
	requests.On("InsertRequest", mock.Anything, mock.MatchedBy(func(r storage.RequestRecord) bool {
		return r.ID == 0 && r.RetriesLeft == 2 && r.Key == "k"
	})).Return(int64(0), insertErr).Once()

	_, err = q.Drain(ctx)
	assert.ErrorIs(t, err, insertErr)
	assert.Equal(t, 1, tx.calls)
	assert.Len(t, q.trigger, 1, "a failed outcome must re-arm the queue")
	requests.AssertExpectations(t)
}

func TestQueue_Run_RetriesAfterOutcomeError(t *testing.T) {
	requests := new(storage.MockRequestStore)
	failed := new(storage.MockFailedEventStore)
	transport := &recordingTransport{}

	dispatcher, err := NewDispatcher(transport)
	require.NoError(t, err)
	q, err := New(requests, failed, dispatcher, WithErrorBackoff(10*time.Millisecond))
	require.NoError(t, err)

	rec := &storage.RequestRecord{ID: 3, Key: "k", URL: testBaseURL + PathEvent, Method: "POST", Body: "{}", RetriesLeft: 3}
	requests.On("NextEligible", mock.Anything, mock.Anything).Return(rec, nil).Twice()
	requests.On("RemoveRequest", mock.Anything, int64(3)).Return(false, errors.New("database is locked")).Once()
	requests.On("RemoveRequest", mock.Anything, int64(3)).Return(true, nil).Once()
	requests.On("NextEligible", mock.Anything, mock.Anything).Return(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return len(transport.requests()) == 2 && q.Status() == StatusAvailable
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	requests.AssertNumberOfCalls(t, "RemoveRequest", 2)
}

func TestQueue_SQLTransactionManager(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	clock := newTestClock()
	transport := &recordingTransport{respond: respondWith(500)}
	q := newTestQueue(t, store, transport, clock,
		WithTxManager(manager.Must(trmsql.NewDefaultFactory(store.DB()))))

	require.NoError(t, q.Enqueue(ctx, mustRequest(t, MethodPost, PathEvent, `{}`)))
	require.NoError(t, q.Enqueue(ctx, mustRequest(t, MethodPost, PathSingleEvent, `{"name":"x"}`)))

	n, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec := pending(t, store, clock.Now().Add(time.Hour))
	require.NotNil(t, rec)
	assert.Equal(t, 2, rec.RetriesLeft)

	events, err := store.DrainBatch(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestQueue_CycleLimit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	q := newTestQueue(t, store, &recordingTransport{}, newTestClock(), WithMaxCyclesPerDrain(2))

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(ctx, mustRequest(t, MethodPost, PathEvent, `{}`)))
	}

	n, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueue_Run(t *testing.T) {
	store := newTestStore(t)
	transport := &recordingTransport{}
	q := newTestQueue(t, store, transport, newTestClock())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	require.NoError(t, q.Enqueue(ctx, mustRequest(t, MethodPost, PathEvent, `{}`)))
	require.NoError(t, q.Enqueue(ctx, mustRequest(t, MethodPost, PathEvent, `{}`)))

	assert.Eventually(t, func() bool {
		return len(transport.requests()) == 2
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, q.Run(ctx), ErrQueueRunning)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestQueue_AutoIdentifyEnqueuedDuringCycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	transport := &recordingTransport{}
	prefs := NewMemoryPreferences()
	identifier := NewAutoIdentifier(&staticProfile{email: "a@example.com", pushEnabled: true}, prefs, testBaseURL+PathIdentify, nil)

	dispatcher, err := NewDispatcher(transport, WithAutoIdentifier(identifier))
	require.NoError(t, err)
	q, err := New(store, store, dispatcher)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, mustRequest(t, MethodPost, PathEvent, `{"name":"open"}`)))

	n, err := q.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	sent := transport.requests()
	require.Len(t, sent, 2)
	assert.Equal(t, testBaseURL+PathEvent, sent[0].URL)
	assert.Equal(t, testBaseURL+PathIdentify, sent[1].URL)
	assert.JSONEq(t, `{"email":"a@example.com","push_enabled":true}`, sent[1].Body)
}

func TestQueue_FailedEventsHandoff(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	q := newTestQueue(t, store, &recordingTransport{}, newTestClock())

	for _, name := range []string{"a", "b", "c"} {
		_, err := store.InsertFailedEvent(ctx, map[string]any{"name": name})
		require.NoError(t, err)
	}

	events, err := q.DrainFailedEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].Params["name"])

	require.NoError(t, q.ConfirmFailedEvents(ctx, []int64{events[0].ID, events[1].ID}))
	require.NoError(t, q.ConfirmFailedEvents(ctx, nil))

	events, err = q.DrainFailedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "c", events[0].Params["name"])
}

func TestQueue_DemotedEventKeepsExactNumbers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	transport := &recordingTransport{respond: func(_ context.Context, req sentRequest) (int, string) {
		if strings.HasSuffix(req.URL, PathSingleEvent) {
			return 0, ""
		}
		return statusOK, ""
	}}
	q := newTestQueue(t, store, transport, newTestClock())

	body := `{"name":"purchase","ts_ns":1734567890123456789,"order_id":9007199254740993}`
	require.NoError(t, q.Enqueue(ctx, mustRequest(t, MethodPost, PathSingleEvent, body)))
	_, err := q.Drain(ctx)
	require.NoError(t, err)

	events, err := q.DrainFailedEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, map[string]any{
		"name":     "purchase",
		"ts_ns":    json.Number("1734567890123456789"),
		"order_id": json.Number("9007199254740993"),
	}, events[0].Params)

	feeder, err := NewBatchFeeder(q, testBaseURL+PathBulkEvent)
	require.NoError(t, err)
	require.NoError(t, feeder.Resubmit(ctx))
	_, err = q.Drain(ctx)
	require.NoError(t, err)

	sent := transport.requests()
	require.Len(t, sent, 2)
	assert.True(t, strings.HasSuffix(sent[1].URL, PathBulkEvent))
	assert.Contains(t, sent[1].Body, `"order_id":9007199254740993`)
	assert.Contains(t, sent[1].Body, `"ts_ns":1734567890123456789`)
}

func TestQueue_ClearAll(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	q := newTestQueue(t, store, &recordingTransport{}, newTestClock())

	require.NoError(t, q.Enqueue(ctx, mustRequest(t, MethodPost, PathEvent, `{}`)))
	_, err := store.InsertFailedEvent(ctx, map[string]any{"name": "a"})
	require.NoError(t, err)

	require.NoError(t, q.ClearAll(ctx))

	left, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, left)
	events, err := store.DrainBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestQueue_ClearAll_CombinesErrors(t *testing.T) {
	requests := new(storage.MockRequestStore)
	failed := new(storage.MockFailedEventStore)
	dispatcher, err := NewDispatcher(&recordingTransport{})
	require.NoError(t, err)
	q, err := New(requests, failed, dispatcher)
	require.NoError(t, err)

	errRequests := errors.New("requests locked")
	errFailed := errors.New("failed events locked")
	requests.On("DeleteAllRequests", mock.Anything).Return(errRequests).Once()
	failed.On("DeleteAllFailedEvents", mock.Anything).Return(errFailed).Once()

	err = q.ClearAll(context.Background())
	assert.ErrorIs(t, err, errRequests)
	assert.ErrorIs(t, err, errFailed)
}
