package storage

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockRequestStore is a mock implementation of the RequestStore interface for testing.
type MockRequestStore struct {
	mock.Mock
}

func (m *MockRequestStore) InsertRequest(ctx context.Context, record RequestRecord) (int64, error) {
	args := m.Called(ctx, record)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRequestStore) NextEligible(ctx context.Context, now time.Time) (*RequestRecord, error) {
	args := m.Called(ctx, now)
	record, _ := args.Get(0).(*RequestRecord)
	return record, args.Error(1)
}

func (m *MockRequestStore) RemoveRequest(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockRequestStore) CountRequests(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRequestStore) DeleteAllRequests(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockFailedEventStore is a mock implementation of the FailedEventStore interface for testing.
type MockFailedEventStore struct {
	mock.Mock
}

func (m *MockFailedEventStore) InsertFailedEvent(ctx context.Context, params map[string]any) (int64, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockFailedEventStore) DrainBatch(ctx context.Context, pageSize int) ([]FailedEventRecord, error) {
	args := m.Called(ctx, pageSize)
	records, _ := args.Get(0).([]FailedEventRecord)
	return records, args.Error(1)
}

func (m *MockFailedEventStore) DeleteFailedEvents(ctx context.Context, ids []int64) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

func (m *MockFailedEventStore) DeleteAllFailedEvents(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
