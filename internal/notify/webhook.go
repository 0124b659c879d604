// Package notify forwards engine lifecycle events to an external webhook.
package notify

import (
	"bytes"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/mocklab/backend/internal/engine/bus"
	"github.com/mocklab/backend/internal/infrastructure/logging"
)

// Webhook POSTs lifecycle, completion and bundle events as JSON to a
// configured URL. Per-tick data events are deliberately excluded; they are
// served by the WebSocket feed. Delivery is best-effort: transient failures
// are retried, persistent failures are logged and dropped.
type Webhook struct {
	url         string
	client      *retryablehttp.Client
	logger      *logging.Logger
	events      chan bus.Event
	unsubscribe func()
	quit        chan struct{}
	done        chan struct{}
}

// NewWebhook creates a notifier and subscribes it to the bus
func NewWebhook(url string, retryMax int, b *bus.Bus, logger *logging.Logger) *Webhook {
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = nil

	w := &Webhook{
		url:    url,
		client: client,
		logger: logger,
		events: make(chan bus.Event, 64),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	w.unsubscribe = b.Subscribe(w.enqueue,
		bus.ServiceInstantiated,
		bus.ServiceStarted,
		bus.ServiceStopped,
		bus.SimulationComplete,
		bus.BundleCreated,
	)

	go w.deliver()
	return w
}

// enqueue hands the event to the delivery goroutine. The bus is
// synchronous, so a full queue drops the event rather than stalling the
// publisher.
func (w *Webhook) enqueue(ev bus.Event) {
	select {
	case w.events <- ev:
	default:
		w.logger.Warn("webhook queue full, dropping event", zap.String("type", string(ev.Type)))
	}
}

func (w *Webhook) deliver() {
	defer close(w.done)
	for {
		select {
		case ev := <-w.events:
			w.post(ev)
		case <-w.quit:
			// drain events queued before shutdown
			for {
				select {
				case ev := <-w.events:
					w.post(ev)
				default:
					return
				}
			}
		}
	}
}

func (w *Webhook) post(ev bus.Event) {
	body, err := sonic.Marshal(ev)
	if err != nil {
		w.logger.Error("webhook event serialization failed",
			zap.String("type", string(ev.Type)),
			zap.Error(err),
		)
		return
	}

	resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(body))
	if err != nil {
		w.logger.Warn("webhook delivery failed",
			zap.String("type", string(ev.Type)),
			zap.Error(err),
		)
		return
	}
	resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		w.logger.Warn("webhook rejected event",
			zap.String("type", string(ev.Type)),
			zap.Int("status", resp.StatusCode),
		)
	}
}

// Close unsubscribes from the bus and waits for queued events to drain.
// The event channel is never closed: the bus invokes handlers outside its
// lock, so an in-flight Publish may still call enqueue after Close returns.
func (w *Webhook) Close() {
	w.unsubscribe()
	close(w.quit)
	<-w.done
}
