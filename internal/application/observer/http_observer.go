package observer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// HTTPObserver POSTs the serialized Result to a configured webhook URL on
// every event. Delivery failures are logged and swallowed per §4.7/§7
// ("Observer delivery failure: logged; suppressed") — they never propagate
// back into the scheduler.
type HTTPObserver struct {
	url        string
	method     string
	headers    map[string]string
	client     *http.Client
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
}

// HTTPObserverOption configures an HTTPObserver.
type HTTPObserverOption func(*HTTPObserver)

func WithHTTPMethod(method string) HTTPObserverOption {
	return func(o *HTTPObserver) { o.method = method }
}

func WithHTTPHeaders(headers map[string]string) HTTPObserverOption {
	return func(o *HTTPObserver) { o.headers = headers }
}

func WithHTTPRetries(maxRetries int, delay time.Duration) HTTPObserverOption {
	return func(o *HTTPObserver) { o.maxRetries = maxRetries; o.retryDelay = delay }
}

func WithHTTPTimeout(timeout time.Duration) HTTPObserverOption {
	return func(o *HTTPObserver) { o.client = &http.Client{Timeout: timeout} }
}

func WithHTTPLogger(logger *slog.Logger) HTTPObserverOption {
	return func(o *HTTPObserver) { o.logger = logger }
}

// NewHTTPObserver returns an HTTPObserver posting to url.
func NewHTTPObserver(url string, opts ...HTTPObserverOption) *HTTPObserver {
	o := &HTTPObserver{
		url:        url,
		method:     http.MethodPost,
		client:     &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		retryDelay: time.Second,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *HTTPObserver) Name() string { return "http:" + o.url }

func (o *HTTPObserver) Filter(Event) bool { return true }

func (o *HTTPObserver) OnEvent(e Event) {
	body, err := json.Marshal(e.Doc)
	if err != nil {
		o.logger.Error("http observer: marshal result", "dispatch_id", e.DispatchID, "error", err)
		return
	}

	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(o.retryDelay)
		}
		if lastErr = o.deliver(body); lastErr == nil {
			return
		}
	}
	o.logger.Warn("http observer: delivery failed after retries",
		"dispatch_id", e.DispatchID, "url", o.url, "error", lastErr)
}

func (o *HTTPObserver) deliver(body []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), o.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, o.method, o.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
