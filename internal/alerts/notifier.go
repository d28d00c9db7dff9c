package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"github.com/saagar210/Echolocate/internal/config"
	"github.com/saagar210/Echolocate/internal/logging"
)

const defaultWebhookTimeout = 5 * time.Second

// Notifier delivers generated alerts to the desktop and to webhooks.
// Delivery is best-effort: failures are logged and never propagated.
type Notifier struct {
	desktopEnabled bool
	webhookURL     string
	client         *http.Client
	logger         *logging.Logger

	// run executes the platform notification command, replaceable in
	// tests.
	run func(ctx context.Context, name string, args ...string) error
}

// NewNotifier creates a notifier from the alert delivery configuration.
func NewNotifier(cfg config.AlertsConfig, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.Default()
	}
	timeout := cfg.WebhookTimeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	return &Notifier{
		desktopEnabled: cfg.DesktopNotifications,
		webhookURL:     cfg.WebhookURL,
		client:         &http.Client{Timeout: timeout},
		logger:         logger.WithComponent("alerts"),
		run: func(ctx context.Context, name string, args ...string) error {
			return exec.CommandContext(ctx, name, args...).Run()
		},
	}
}

// Notify delivers each alert per its flags. Desktop notifications go out
// for alerts with NotifyDesktop set; webhooks fire for the rule's own
// URL, falling back to the globally configured one.
func (n *Notifier) Notify(ctx context.Context, alerts []GeneratedAlert) {
	for i := range alerts {
		alert := &alerts[i]

		if n.desktopEnabled && alert.NotifyDesktop {
			if err := n.notifyDesktop(ctx, alert); err != nil {
				n.logger.Warn("Failed to send desktop notification", "error", err)
			}
		}

		url := alert.WebhookURL
		if url == "" {
			url = n.webhookURL
		}
		if url != "" {
			if err := n.postWebhook(ctx, url, alert); err != nil {
				n.logger.Warn("Failed to deliver alert webhook", "url", url, "error", err)
			}
		}
	}
}

func (n *Notifier) notifyDesktop(ctx context.Context, alert *GeneratedAlert) error {
	title := notificationTitle(alert.Alert.Severity)

	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q", alert.Alert.Message, title)
		return n.run(ctx, "osascript", "-e", script)
	case "linux":
		return n.run(ctx, "notify-send", title, alert.Alert.Message)
	default:
		n.logger.Debug("Desktop notifications unsupported on this platform", "goos", runtime.GOOS)
		return nil
	}
}

func (n *Notifier) postWebhook(ctx context.Context, url string, alert *GeneratedAlert) error {
	body, err := json.Marshal(alert.Alert)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func notificationTitle(severity string) string {
	switch severity {
	case "critical":
		return "Echolocate - Critical Alert"
	case "warning":
		return "Echolocate - Warning"
	default:
		return "Echolocate"
	}
}
