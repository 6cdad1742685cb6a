package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"caseline/internal/config"
)

// Webhook posts notifications as JSON to the configured endpoints.
type Webhook struct {
	Hooks  []config.Webhook
	Client *http.Client
}

func (w Webhook) Send(ctx context.Context, n Notification) error {
	var failed []string
	for _, hook := range w.Hooks {
		if strings.TrimSpace(hook.URL) == "" || !hook.Subscribed(n.Kind) {
			continue
		}
		if err := w.post(ctx, hook, n); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", hook.URL, err))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("webhook delivery failed: %s", strings.Join(failed, "; "))
	}
	return nil
}

func (w Webhook) post(ctx context.Context, hook config.Webhook, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, hook.Timeout())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Caseline-Event", n.Kind)
	req.Header.Set("X-Caseline-Delivery", n.ID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Caseline-Secret", hook.Secret)
	}
	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
