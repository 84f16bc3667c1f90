package eventqueue

import (
	"context"

	"github.com/overtonx/eventqueue/embedded"
)

type (
	Transport        = embedded.Transport
	DeviceIdentity   = embedded.DeviceIdentity
	Connectivity     = embedded.Connectivity
	Profile          = embedded.Profile
	Preferences      = embedded.Preferences
	MetricsCollector = embedded.MetricsCollector
	Worker           = embedded.Worker
)

// TxManager runs fn inside a single storage transaction.
// *manager.Manager from go-transaction-manager satisfies it.
type TxManager interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

type nopTxManager struct{}

func (nopTxManager) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// ConnectivityFunc adapts a plain function to Connectivity.
type ConnectivityFunc func() bool

func (f ConnectivityFunc) IsConnected() bool {
	return f()
}

type alwaysConnected struct{}

func (alwaysConnected) IsConnected() bool { return true }
