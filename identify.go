package eventqueue

import (
	"context"
	"fmt"
	"strconv"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	prefLastEmail       = "eventqueue.identify.email"
	prefLastPushEnabled = "eventqueue.identify.push_enabled"
)

// AutoIdentifier enqueues an identify call whenever the profile email or the push
// permission differs from what was last sent.
type AutoIdentifier struct {
	profile     Profile
	prefs       Preferences
	identifyURL string
	logger      *zap.Logger
}

func NewAutoIdentifier(profile Profile, prefs Preferences, identifyURL string, logger *zap.Logger) *AutoIdentifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AutoIdentifier{
		profile:     profile,
		prefs:       prefs,
		identifyURL: identifyURL,
		logger:      logger,
	}
}

// Check compares the profile with the last sent values and enqueues an identify request on change.
// Preferences are updated only after the request was enqueued.
func (a *AutoIdentifier) Check(ctx context.Context, enqueue func(context.Context, QueuedRequest) error) error {
	email := a.profile.Email()
	pushEnabled := strconv.FormatBool(a.profile.PushEnabled())

	lastEmail, _ := a.prefs.Get(prefLastEmail)
	lastPush, hasPush := a.prefs.Get(prefLastPushEnabled)

	emailChanged := email != "" && email != lastEmail
	pushChanged := !hasPush || lastPush != pushEnabled
	if !emailChanged && !pushChanged {
		return nil
	}

	payload := map[string]any{"push_enabled": a.profile.PushEnabled()}
	if email != "" {
		payload["email"] = email
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal identify body: %w", err)
	}

	req, err := NewRequest(MethodPost, a.identifyURL, string(body))
	if err != nil {
		return fmt.Errorf("failed to build identify request: %w", err)
	}
	if err := enqueue(ctx, req); err != nil {
		return fmt.Errorf("failed to enqueue identify request: %w", err)
	}

	a.logger.Info("Identify request enqueued",
		zap.Bool("email_changed", emailChanged),
		zap.Bool("push_changed", pushChanged),
	)

	if err := a.prefs.Set(prefLastEmail, email); err != nil {
		return fmt.Errorf("failed to persist identify email: %w", err)
	}
	if err := a.prefs.Set(prefLastPushEnabled, pushEnabled); err != nil {
		return fmt.Errorf("failed to persist identify push state: %w", err)
	}
	return nil
}
