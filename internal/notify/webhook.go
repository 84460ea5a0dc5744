package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/itchyny/gojq"
	"go.uber.org/zap"

	"github.com/relmatic/mergeflow/internal/flowerr"
	"github.com/relmatic/mergeflow/internal/logfields"
	"github.com/relmatic/mergeflow/internal/retry"
)

const DefaultHTTPClientTimeout = time.Minute

// defDeliveryTimeout bounds the delivery of a single event including
// retries. Progression must not stall on a dead webhook receiver.
const defDeliveryTimeout = 2 * time.Minute

// Webhook POSTs events as JSON to a configured URL. An optional filter
// query selects which events are delivered; it must evaluate to a single
// boolean per event. Failed deliveries are retried until the delivery
// timeout expires.
type Webhook struct {
	url             string
	filter          *gojq.Query
	client          *http.Client
	retryer         *retry.Retryer
	logger          *zap.Logger
	deliveryTimeout time.Duration
}

func NewWebhook(url, filterQuery string, retryer *retry.Retryer) (*Webhook, error) {
	if url == "" {
		return nil, errors.New("notifier: missing field: 'webhook_url'")
	}

	var filter *gojq.Query

	if filterQuery != "" {
		var err error

		filter, err = gojq.Parse(filterQuery)
		if err != nil {
			return nil, fmt.Errorf("notifier: parsing filter query %q: %w", filterQuery, err)
		}
	}

	return &Webhook{
		url:    url,
		filter: filter,
		client: &http.Client{
			Timeout: DefaultHTTPClientTimeout,
		},
		retryer:         retryer,
		logger:          zap.L().Named(loggerName),
		deliveryTimeout: defDeliveryTimeout,
	}, nil
}

func (w *Webhook) Notify(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	if w.filter != nil {
		match, err := w.matches(ctx, payload)
		if err != nil {
			return err
		}

		if !match {
			w.logger.Debug(
				"event does not match filter query, not delivered",
				zap.String("notify_url", w.url),
				zap.String("notification_status", event.Status),
				logfields.Event("notification_filtered"),
			)

			return nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, w.deliveryTimeout)
	defer cancel()

	return w.retryer.Run(ctx, func(ctx context.Context) error {
		return w.send(ctx, payload)
	}, []zap.Field{
		zap.String("notify_url", w.url),
		logfields.Event("notification_delivered"),
	})
}

// matches evaluates the filter query against the JSON representation of the
// event and demands a single boolean result.
func (w *Webhook) matches(ctx context.Context, payload []byte) (bool, error) {
	var event any

	if err := json.Unmarshal(payload, &event); err != nil {
		return false, fmt.Errorf("unmarshaling event json failed: %w", err)
	}

	result, errs := goJQIterToSlice(w.filter.RunWithContext(ctx, event))
	if len(errs) != 0 {
		return false, fmt.Errorf("filter query returned errors, query: %q, errors: %s", w.filter.String(), errString(errs))
	}

	if len(result) != 1 {
		return false, fmt.Errorf("filter query returned %d results, expected 1, query: %q", len(result), w.filter.String())
	}

	boolVal, ok := result[0].(bool)
	if !ok {
		return false, fmt.Errorf(
			"filter query returned non-bool result: %+v (%T), query: %q",
			result[0], result[0], w.filter.String(),
		)
	}

	return boolVal, nil
}

func (w *Webhook) send(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return flowerr.NewRetryableAnytimeError(err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		w.logger.Warn(
			"reading http response body failed",
			zap.String("notify_url", w.url),
			zap.Int("http_response_code", resp.StatusCode),
			logfields.Event("webhook_reading_response_body_failed"),
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return flowerr.NewRetryableAnytimeError(&ErrorHTTPRequest{
			Body:   body,
			Status: resp.StatusCode,
		})
	}

	return nil
}

func goJQIterToSlice(iter gojq.Iter) ([]any, []error) {
	var result []any
	var errs []error

	for {
		res, ok := iter.Next()
		if !ok {
			return result, errs
		}

		if err, isErr := res.(error); isErr {
			errs = append(errs, err)
			continue
		}

		result = append(result, res)
	}
}

func errString(errs []error) string {
	var result strings.Builder

	for i, err := range errs {
		if i > 0 {
			result.WriteString("; ")
		}

		result.WriteString(fmt.Sprintf("error %d: %s", i, err))
	}

	return result.String()
}
