package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"permitline/internal/config"
	"permitline/internal/events"
	"permitline/internal/obs"
)

const defaultWebhookTimeout = 5 * time.Second

type webhookSink struct {
	hook    config.Webhook
	filter  eventFilter
	client  *http.Client
	logger  *zap.Logger
	metrics *obs.Metrics
}

// StartWebhooks subscribes one sink per configured webhook to the hub. Sinks
// stop when ctx ends.
func StartWebhooks(ctx context.Context, hub *events.Hub, hooks []config.Webhook, logger *zap.Logger, metrics *obs.Metrics) {
	if hub == nil {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, hook := range hooks {
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		timeout := hook.Timeout
		if timeout <= 0 {
			timeout = defaultWebhookTimeout
		}
		sink := &webhookSink{
			hook:    hook,
			filter:  newEventFilter(hook.Events),
			client:  &http.Client{Timeout: timeout},
			logger:  logger.With(zap.String("webhook", hook.URL)),
			metrics: metrics,
		}
		ch := hub.Subscribe(ctx, "")
		go sink.run(ctx, ch)
	}
}

func (s *webhookSink) run(ctx context.Context, ch <-chan events.Envelope) {
	for env := range ch {
		if !s.filter.match(env.Event) {
			continue
		}
		if err := s.post(ctx, env); err != nil {
			s.metrics.WebhookFailed(s.hook.URL)
			s.logger.Warn("webhook delivery failed",
				zap.String("event", env.Event), zap.String("delivery", env.ID), zap.Error(err))
		}
	}
}

func (s *webhookSink) post(ctx context.Context, env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Permitline-Event", env.Event)
	req.Header.Set("X-Permitline-Delivery", env.ID)
	if strings.TrimSpace(s.hook.Secret) != "" {
		req.Header.Set("X-Permitline-Secret", s.hook.Secret)
	}
	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(names []string) eventFilter {
	if len(names) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(names))
	for _, evt := range names {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
