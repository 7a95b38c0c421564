package infrastructure

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/yourusername/wistia-offline-go/internal/domain"
	"go.uber.org/zap"
)

const notifyTimeout = 5 * time.Second

// NotificationService sends desktop notifications when downloads finish
type NotificationService struct {
	config *domain.NotificationConfig
	logger *zap.Logger
	run    func(ctx context.Context, name string, args ...string) error
}

// NewNotificationService creates a new notification service
func NewNotificationService(config *domain.NotificationConfig, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		config: config,
		logger: logger,
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}
}

// Observe reports terminal download outcomes. It has the signature of a state observer
// and returns immediately; the notifier command runs in the background.
func (n *NotificationService) Observe(hashedID string, state domain.DownloadState, _ *float64) {
	switch state.Kind {
	case domain.StateDownloaded:
		go n.Send("Download Completed", fmt.Sprintf("Available offline: %s", truncateString(hashedID, 30)))
	case domain.StateFailed:
		go n.Send("Download Failed", fmt.Sprintf("Failed: %s (%s)", truncateString(hashedID, 30), state.Reason))
	}
}

// Send sends a notification
func (n *NotificationService) Send(title, message string) error {
	if !n.config.Enabled {
		n.logger.Debug("Notifications disabled, skipping",
			zap.String("title", title),
			zap.String("message", message))
		return nil
	}

	name, args, ok := n.command(title, message)
	if !ok {
		n.logger.Warn("Unknown notification method", zap.String("method", n.config.Method))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	if err := n.run(ctx, name, args...); err != nil {
		n.logger.Error("Failed to send notification",
			zap.String("method", n.config.Method),
			zap.Error(err))
		return err
	}

	n.logger.Debug("Notification sent",
		zap.String("title", title),
		zap.String("message", message))
	return nil
}

// command builds the notifier invocation for the configured method
func (n *NotificationService) command(title, message string) (string, []string, bool) {
	switch n.config.Method {
	case "osascript":
		script := fmt.Sprintf(`display notification %q with title %q`, message, title)
		if n.config.Sound {
			script += ` sound name "Glass"`
		}
		return "osascript", []string{"-e", script}, true
	case "notify-send":
		args := []string{"--app-name=wistia-offline", title, message}
		return "notify-send", args, true
	default:
		return "", nil, false
	}
}

// truncateString truncates a string to the specified length
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
