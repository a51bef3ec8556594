// Package notify delivers alert messages to webhooks, Telegram and fan-outs of both.
package notify

import (
	"context"
	"errors"
	"net/http"
	"time"

	drepo "OIWatch/internal/domain/repository"
)

const defaultTimeout = 10 * time.Second

func newHTTPClient() *http.Client { return &http.Client{Timeout: defaultTimeout} }

// MultiNotifier sends to every notifier and joins their errors.
type MultiNotifier struct {
	notifiers []drepo.Notifier
}

func NewMultiNotifier(ns ...drepo.Notifier) *MultiNotifier {
	out := make([]drepo.Notifier, 0, len(ns))
	for _, n := range ns {
		if n != nil {
			out = append(out, n)
		}
	}
	return &MultiNotifier{notifiers: out}
}

func (m *MultiNotifier) Len() int { return len(m.notifiers) }

func (m *MultiNotifier) Send(ctx context.Context, message string) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Send(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
