package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tourbooking/booking-flow/internal/config"
	"github.com/tourbooking/booking-flow/internal/metrics"
)

var (
	// ErrCheckoutUnavailable means the checkout script is not loaded
	ErrCheckoutUnavailable = errors.New("payment checkout is not available")

	// ErrCheckoutInProgress means a checkout is already open for the token
	ErrCheckoutInProgress = errors.New("checkout already open for this token")

	// ErrUnknownCheckoutToken means no checkout is waiting for a result with the token
	ErrUnknownCheckoutToken = errors.New("no checkout is waiting for this token")
)

// CheckoutOutcome is how the checkout popup finished
type CheckoutOutcome string

const (
	CheckoutOutcomeSuccess CheckoutOutcome = "success"
	CheckoutOutcomePending CheckoutOutcome = "pending"
	CheckoutOutcomeError   CheckoutOutcome = "error"
	CheckoutOutcomeClose   CheckoutOutcome = "close"
)

// IsValid reports whether o is a known outcome
func (o CheckoutOutcome) IsValid() bool {
	switch o {
	case CheckoutOutcomeSuccess, CheckoutOutcomePending, CheckoutOutcomeError, CheckoutOutcomeClose:
		return true
	}
	return false
}

// CheckoutResult is the result object the Snap popup hands to its callbacks
type CheckoutResult struct {
	OrderID           string `json:"order_id,omitempty"`
	TransactionID     string `json:"transaction_id,omitempty"`
	TransactionStatus string `json:"transaction_status,omitempty"`
	StatusCode        string `json:"status_code,omitempty"`
	StatusMessage     string `json:"status_message,omitempty"`
	PaymentType       string `json:"payment_type,omitempty"`
	GrossAmount       string `json:"gross_amount,omitempty"`
	TransactionTime   string `json:"transaction_time,omitempty"`
}

// CheckoutCallbacks receive the popup outcome. Exactly one of them runs per Pay.
type CheckoutCallbacks struct {
	OnSuccess func(ctx context.Context, result CheckoutResult)
	OnPending func(ctx context.Context, result CheckoutResult)
	OnError   func(ctx context.Context, result CheckoutResult)
	OnClose   func(ctx context.Context)
}

// CheckoutScript opens the third-party payment popup for a token
type CheckoutScript interface {
	Ready() bool
	Pay(ctx context.Context, token string, callbacks CheckoutCallbacks) error
}

// ============================================================================
// SCRIPT LOADER
// ============================================================================

// ScriptLoader owns the checkout script lifecycle: fetched once on Load, dropped on Close
type ScriptLoader struct {
	cfg    config.CheckoutConfig
	client *http.Client
	logger *logrus.Logger

	mu        sync.Mutex
	ready     bool
	loadCount int
}

// NewScriptLoader creates a loader for the configured checkout script
func NewScriptLoader(cfg config.CheckoutConfig, logger *logrus.Logger) *ScriptLoader {
	return &ScriptLoader{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{Timeout: cfg.LoadTimeout},
	}
}

// Load fetches the script unless it is already loaded
func (l *ScriptLoader) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ready {
		return nil
	}
	if l.cfg.ScriptURL == "" || l.cfg.ClientKey == "" {
		return fmt.Errorf("%w: script URL or client key not configured", ErrCheckoutUnavailable)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.ScriptURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build script request: %w", err)
	}
	req.Header.Set("X-Client-Key", l.cfg.ClientKey)

	l.loadCount++
	resp, err := l.client.Do(req)
	if err != nil {
		l.logger.WithError(err).WithField("script_url", l.cfg.ScriptURL).Warn("Failed to load checkout script")
		return fmt.Errorf("%w: %v", ErrCheckoutUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		l.logger.WithFields(logrus.Fields{
			"script_url":  l.cfg.ScriptURL,
			"status_code": resp.StatusCode,
		}).Warn("Checkout script returned non-200 status")
		return fmt.Errorf("%w: script returned status %d", ErrCheckoutUnavailable, resp.StatusCode)
	}

	l.ready = true
	l.logger.WithField("script_url", l.cfg.ScriptURL).Info("Checkout script loaded")
	return nil
}

// Close drops the loaded script
func (l *ScriptLoader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ready {
		l.logger.Info("Checkout script removed")
	}
	l.ready = false
}

// Ready reports whether the script is loaded
func (l *ScriptLoader) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

// ScriptURL is the script address the browser should inject
func (l *ScriptLoader) ScriptURL() string {
	return l.cfg.ScriptURL
}

// ClientKey is the public key the browser passes as data-client-key
func (l *ScriptLoader) ClientKey() string {
	return l.cfg.ClientKey
}

// ============================================================================
// SNAP CHECKOUT
// ============================================================================

// readiness is satisfied by ScriptLoader
type readiness interface {
	Ready() bool
}

// SnapCheckout keeps the callbacks of open popups until the browser reports their outcome
type SnapCheckout struct {
	script readiness
	logger *logrus.Logger

	mu      sync.Mutex
	pending map[string]CheckoutCallbacks
}

// NewSnapCheckout creates a checkout bridge gated on the script being loaded
func NewSnapCheckout(script readiness, logger *logrus.Logger) *SnapCheckout {
	return &SnapCheckout{
		script:  script,
		logger:  logger,
		pending: make(map[string]CheckoutCallbacks),
	}
}

// Ready reports whether a popup can be opened
func (c *SnapCheckout) Ready() bool {
	return c.script != nil && c.script.Ready()
}

// Pay opens the popup for token
func (c *SnapCheckout) Pay(ctx context.Context, token string, callbacks CheckoutCallbacks) error {
	if !c.Ready() {
		return ErrCheckoutUnavailable
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, open := c.pending[token]; open {
		return ErrCheckoutInProgress
	}
	c.pending[token] = callbacks

	c.logger.WithField("snap_token", maskToken(token)).Info("Checkout opened")
	return nil
}

// Dispatch runs the callback matching outcome for token, at most once
func (c *SnapCheckout) Dispatch(ctx context.Context, token string, outcome CheckoutOutcome, result CheckoutResult) error {
	if !outcome.IsValid() {
		return fmt.Errorf("unknown checkout outcome: %s", outcome)
	}

	c.mu.Lock()
	callbacks, ok := c.pending[token]
	delete(c.pending, token)
	c.mu.Unlock()

	if !ok {
		return ErrUnknownCheckoutToken
	}

	metrics.CheckoutCallbacks.WithLabelValues(string(outcome)).Inc()
	c.logger.WithFields(logrus.Fields{
		"snap_token":         maskToken(token),
		"outcome":            outcome,
		"transaction_status": result.TransactionStatus,
	}).Info("Checkout finished")

	switch outcome {
	case CheckoutOutcomeSuccess:
		if callbacks.OnSuccess != nil {
			callbacks.OnSuccess(ctx, result)
		}
	case CheckoutOutcomePending:
		if callbacks.OnPending != nil {
			callbacks.OnPending(ctx, result)
		}
	case CheckoutOutcomeError:
		if callbacks.OnError != nil {
			callbacks.OnError(ctx, result)
		}
	case CheckoutOutcomeClose:
		if callbacks.OnClose != nil {
			callbacks.OnClose(ctx)
		}
	}
	return nil
}

// maskToken keeps tokens out of logs
func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****" + token[len(token)-4:]
}
