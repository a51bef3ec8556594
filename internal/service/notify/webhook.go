package notify

import (
	"context"
	"errors"
	"fmt"

	"OIWatch/internal/domain/models"
	pkghttp "OIWatch/pkg/http"
)

// DeliveryError reports a non-2xx answer from a notification endpoint.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery rejected with status %d", e.StatusCode)
}

func (e *DeliveryError) Is(target error) bool { return target == models.ErrDelivery }

// WebhookNotifier posts {payloadKey: message} as JSON to a URL.
type WebhookNotifier struct {
	url        string
	payloadKey string
	client     *pkghttp.Client
}

type WebhookOption func(*WebhookNotifier)

// WithPayloadKey sets the JSON key of the message, "text" by default.
func WithPayloadKey(key string) WebhookOption {
	return func(w *WebhookNotifier) {
		if key != "" {
			w.payloadKey = key
		}
	}
}

func WithWebhookClient(c *pkghttp.Client) WebhookOption {
	return func(w *WebhookNotifier) {
		if c != nil {
			w.client = c
		}
	}
}

func NewWebhookNotifier(url string, opts ...WebhookOption) *WebhookNotifier {
	w := &WebhookNotifier{
		url:        url,
		payloadKey: "text",
		client:     pkghttp.NewClient(pkghttp.WithTimeout(defaultTimeout)),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *WebhookNotifier) Send(ctx context.Context, message string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	err := w.client.SendAndParse(ctx, &pkghttp.RequestOptions{
		Method: pkghttp.MethodPost,
		URL:    w.url,
		Body:   map[string]string{w.payloadKey: message},
	}, nil)

	var se *pkghttp.StatusError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &se):
		return &DeliveryError{StatusCode: se.StatusCode, Body: se.Body}
	default:
		return fmt.Errorf("%w: webhook: %v", models.ErrDelivery, err)
	}
}
