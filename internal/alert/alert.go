// Package alert posts job failures to an ops webhook.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// Notifier delivers failure notifications. A nil *Notifier is a valid
// no-op sink, used when alerting is disabled.
type Notifier struct {
	http   *resty.Client
	logger *slog.Logger
}

// New creates a webhook notifier with retry.
func New(webhookURL string, timeout time.Duration, logger *slog.Logger) *Notifier {
	httpClient := resty.New().
		SetBaseURL(webhookURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Notifier{http: httpClient, logger: logger}
}

type payload struct {
	Source string `json:"source"`
	Job    string `json:"job"`
	Text   string `json:"text"`
	Time   string `json:"time"`
}

// JobFailure reports a background job error. Delivery problems are logged,
// never propagated: an unreachable webhook must not take the scheduler down
// with it.
func (n *Notifier) JobFailure(ctx context.Context, job string, jobErr error) {
	if n == nil {
		return
	}

	body := payload{
		Source: "sportfolios-server",
		Job:    job,
		Text:   fmt.Sprintf("job %s failed: %v", job, jobErr),
		Time:   time.Now().UTC().Format(time.RFC3339),
	}

	resp, err := n.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("")
	if err != nil {
		n.logger.Warn("alert delivery failed", "job", job, "error", err)
		return
	}
	if resp.IsError() {
		n.logger.Warn("alert delivery rejected", "job", job, "status", resp.StatusCode())
	}
}
