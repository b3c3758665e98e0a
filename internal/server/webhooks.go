package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"phaseline/internal/config"
	"phaseline/internal/domain"
	"phaseline/internal/logging"
	"phaseline/internal/metrics"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100

	SignatureHeader = "X-Phaseline-Signature"
)

// AuditFeed is the ascending audit stream webhooks are fed from.
type AuditFeed interface {
	After(ctx context.Context, cursor int64, limit int) ([]domain.AuditLogEntry, error)
	LatestSeq(ctx context.Context) (int64, error)
}

type WebhookOptions struct {
	Feed     AuditFeed
	Hooks    []config.WebhookConfig
	Logger   *zap.Logger
	Interval time.Duration
}

// subscriber is one webhook and the last sequence it acknowledged. Only the
// dispatch goroutine touches it after start.
type subscriber struct {
	hook    config.WebhookConfig
	label   string
	actions actionMatcher
	client  *http.Client
	cursor  int64
}

// StartWebhookDispatcher delivers audit entries appended after it starts to
// every enabled webhook until ctx is done. Delivery is at least once: a failed
// post is retried on the next tick and holds back later entries for that hook.
func StartWebhookDispatcher(ctx context.Context, opts WebhookOptions) {
	if opts.Feed == nil {
		return
	}
	logger := logging.OrNop(opts.Logger)
	head, err := opts.Feed.LatestSeq(ctx)
	headKnown := err == nil
	if !headKnown {
		logger.Warn("webhook: read audit head failed, retrying", zap.Error(err))
	}
	var subs []*subscriber
	for _, hook := range opts.Hooks {
		if !hook.IsEnabled() || strings.TrimSpace(hook.URL) == "" {
			continue
		}
		timeout := defaultWebhookTimeout
		if hook.TimeoutSeconds > 0 {
			timeout = time.Duration(hook.TimeoutSeconds) * time.Second
		}
		label := hook.ID
		if label == "" {
			label = hook.URL
		}
		subs = append(subs, &subscriber{
			hook:    hook,
			label:   label,
			actions: newActionMatcher(hook.Events),
			client:  &http.Client{Timeout: timeout},
			cursor:  head,
		})
	}
	if len(subs) == 0 {
		return
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultWebhookInterval
	}
	logger.Info("webhook dispatcher started", zap.Int("webhooks", len(subs)), zap.Int64("from_seq", head), zap.Bool("head_known", headKnown))
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// nothing is delivered until the head is known
				if !headKnown {
					head, err := opts.Feed.LatestSeq(ctx)
					if err != nil {
						logger.Warn("webhook: read audit head failed, retrying", zap.Error(err))
						continue
					}
					for _, s := range subs {
						s.cursor = head
					}
					headKnown = true
					logger.Info("webhook: audit head read", zap.Int64("from_seq", head))
				}
				for _, s := range subs {
					s.drain(ctx, opts.Feed, logger)
				}
			}
		}
	}()
}

// drain posts every pending matching entry in order, stopping at the first failure.
func (s *subscriber) drain(ctx context.Context, feed AuditFeed, logger *zap.Logger) {
	entries, err := feed.After(ctx, s.cursor, defaultWebhookBatch)
	if err != nil {
		logger.Error("webhook: fetch audit entries failed", zap.String("webhook", s.label), zap.Error(err))
		return
	}
	for _, entry := range entries {
		if s.actions.Match(entry.Action) {
			if err := s.deliver(ctx, entry); err != nil {
				metrics.WebhookDeliveries.WithLabelValues(s.label, "failed").Inc()
				logger.Warn("webhook: delivery failed",
					zap.String("webhook", s.label),
					zap.Int64("seq", entry.Seq),
					zap.String("action", entry.Action),
					zap.Error(err))
				return
			}
			metrics.WebhookDeliveries.WithLabelValues(s.label, "success").Inc()
		}
		s.cursor = entry.Seq
	}
}

func (s *subscriber) deliver(ctx context.Context, entry domain.AuditLogEntry) error {
	body, err := json.Marshal(auditEntryResponse(entry))
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.hook.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Phaseline-Event", entry.Action)
	req.Header.Set("X-Phaseline-Delivery", strconv.FormatInt(entry.Seq, 10))
	req.Header.Set("X-Phaseline-Org", entry.OrgID)
	if secret := strings.TrimSpace(s.hook.Secret); secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, body))
	}
	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("receiver answered %d: %s", res.StatusCode, strings.TrimSpace(string(snippet)))
	}
	io.Copy(io.Discard, res.Body)
	return nil
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// actionMatcher matches audit actions against glob patterns such as
// "phase.*" or "governance.stage_rejected". No patterns matches everything.
type actionMatcher []string

func newActionMatcher(patterns []string) actionMatcher {
	var m actionMatcher
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			m = append(m, p)
		}
	}
	return m
}

func (m actionMatcher) Match(action string) bool {
	if len(m) == 0 {
		return true
	}
	for _, p := range m {
		if ok, err := path.Match(p, action); err == nil && ok {
			return true
		}
	}
	return false
}
