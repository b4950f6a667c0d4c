// Package alert fans notifications out to operator channels
package alert

import (
	"context"
	"kimchi_arb/internal/core"
	"sync"
	"time"
)

type AlertLevel string

const (
	Info     AlertLevel = "INFO"
	Warning  AlertLevel = "WARNING"
	Error    AlertLevel = "ERROR"
	Critical AlertLevel = "CRITICAL"
)

const defaultSendTimeout = 10 * time.Second

type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

type AlertChannel interface {
	Send(ctx context.Context, alert AlertPayload) error
	Name() string
}

// AlertManager is the best-effort notifier. Sends run in the background;
// failures are logged and never reach the caller.
type AlertManager struct {
	channels    []AlertChannel
	logger      core.ILogger
	sendTimeout time.Duration
	mu          sync.RWMutex
	inflight    sync.WaitGroup
}

func NewAlertManager(logger core.ILogger) *AlertManager {
	return &AlertManager{
		channels:    make([]AlertChannel, 0),
		logger:      logger.WithField("component", "alert_manager"),
		sendTimeout: defaultSendTimeout,
	}
}

// SetSendTimeout bounds each channel delivery
func (am *AlertManager) SetSendTimeout(d time.Duration) {
	if d > 0 {
		am.sendTimeout = d
	}
}

func (am *AlertManager) AddChannel(ch AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("Added alert channel", "name", ch.Name())
}

// Notify implements core.INotifier
func (am *AlertManager) Notify(ctx context.Context, text string) {
	am.Alert(ctx, "", text, Info, nil)
}

func (am *AlertManager) Alert(ctx context.Context, title, message string, level AlertLevel, fields map[string]string) {
	payload := AlertPayload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	am.logger.Info("Triggering alert", "title", title, "level", level)

	// delivery outlives the tick that raised it
	base := context.WithoutCancel(ctx)

	am.mu.RLock()
	defer am.mu.RUnlock()

	for _, ch := range am.channels {
		am.inflight.Add(1)
		go func(c AlertChannel) {
			defer am.inflight.Done()
			defer func() {
				if r := recover(); r != nil {
					am.logger.Error("Alert channel panicked", "channel", c.Name(), "panic", r)
				}
			}()

			timeoutCtx, cancel := context.WithTimeout(base, am.sendTimeout)
			defer cancel()

			if err := c.Send(timeoutCtx, payload); err != nil {
				am.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}

// Wait blocks until in-flight deliveries finish or the timeout elapses.
// Used on shutdown so the final report is not lost.
func (am *AlertManager) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		am.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
