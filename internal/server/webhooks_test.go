package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"phaseline/internal/config"
	"phaseline/internal/domain"
)

type memFeed struct {
	mu      sync.Mutex
	entries []domain.AuditLogEntry
	// headFailures makes the first LatestSeq calls fail.
	headFailures int
	headCalls    int
}

func (f *memFeed) add(action string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq := int64(len(f.entries) + 1)
	f.entries = append(f.entries, domain.AuditLogEntry{Seq: seq, OrgID: "acme", Action: action, EntityType: "project", EntityID: "p1"})
}

func (f *memFeed) After(_ context.Context, cursor int64, limit int) ([]domain.AuditLogEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.AuditLogEntry
	for _, e := range f.entries {
		if e.Seq > cursor && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *memFeed) LatestSeq(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headCalls++
	if f.headCalls <= f.headFailures {
		return 0, errors.New("database is locked")
	}
	return int64(len(f.entries)), nil
}

func (f *memFeed) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headCalls
}

type delivery struct {
	action    string
	signature string
	body      []byte
}

func TestWebhookDeliversNewMatchingEntries(t *testing.T) {
	received := make(chan delivery, 10)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received <- delivery{action: r.Header.Get("X-Phaseline-Event"), signature: r.Header.Get(SignatureHeader), body: body}
	}))
	defer receiver.Close()

	feed := &memFeed{}
	feed.add("project.created") // before start, never delivered
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartWebhookDispatcher(ctx, WebhookOptions{
		Feed:     feed,
		Hooks:    []config.WebhookConfig{{ID: "lms", URL: receiver.URL, Secret: "s3cret", Events: []string{"phase.*"}}},
		Logger:   zap.NewNop(),
		Interval: 10 * time.Millisecond,
	})
	feed.add("project.updated")
	feed.add("phase.started")

	select {
	case d := <-received:
		if d.action != "phase.started" {
			t.Fatalf("expected phase.started, got %s", d.action)
		}
		if d.signature != Sign("s3cret", d.body) {
			t.Fatalf("signature mismatch: %s", d.signature)
		}
		var entry AuditEntryResponse
		if err := json.Unmarshal(d.body, &entry); err != nil {
			t.Fatalf("decode delivery: %v", err)
		}
		if entry.Seq != 3 || entry.OrgID != "acme" {
			t.Fatalf("unexpected delivered entry: %+v", entry)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no delivery")
	}
	select {
	case d := <-received:
		t.Fatalf("unexpected extra delivery %s", d.action)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebhookRetriesFailedDelivery(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	delivered := make(chan struct{}, 1)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		select {
		case delivered <- struct{}{}:
		default:
		}
	}))
	defer receiver.Close()

	core, logs := observer.New(zap.WarnLevel)
	feed := &memFeed{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartWebhookDispatcher(ctx, WebhookOptions{
		Feed:     feed,
		Hooks:    []config.WebhookConfig{{URL: receiver.URL}},
		Logger:   zap.New(core),
		Interval: 10 * time.Millisecond,
	})
	feed.add("phase.completed")

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatalf("delivery was not retried")
	}
	if logs.FilterMessage("webhook: delivery failed").Len() == 0 {
		t.Fatalf("expected failed delivery to be logged")
	}
}

func TestWebhookWaitsForAuditHead(t *testing.T) {
	received := make(chan string, 10)
	receiver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get("X-Phaseline-Event")
	}))
	defer receiver.Close()

	core, logs := observer.New(zap.WarnLevel)
	feed := &memFeed{headFailures: 2}
	feed.add("project.created")
	feed.add("phase.started")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	StartWebhookDispatcher(ctx, WebhookOptions{
		Feed:     feed,
		Hooks:    []config.WebhookConfig{{URL: receiver.URL}},
		Logger:   zap.New(core),
		Interval: 10 * time.Millisecond,
	})
	deadline := time.Now().Add(2 * time.Second)
	for feed.calls() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("audit head never re-read")
		}
		time.Sleep(5 * time.Millisecond)
	}
	feed.add("phase.completed")

	select {
	case action := <-received:
		if action != "phase.completed" {
			t.Fatalf("history replayed: got %s first", action)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no delivery")
	}
	if logs.FilterMessage("webhook: read audit head failed, retrying").Len() != 2 {
		t.Fatalf("expected two logged head failures, got %v", logs.All())
	}
}

func TestActionMatcher(t *testing.T) {
	m := newActionMatcher([]string{"phase.*", " governance.stage_rejected "})
	for action, want := range map[string]bool{
		"phase.started":             true,
		"phase.skipped":             true,
		"governance.stage_rejected": true,
		"governance.stage_approved": false,
		"project.created":           false,
	} {
		if got := m.Match(action); got != want {
			t.Fatalf("Match(%q) = %v, want %v", action, got, want)
		}
	}
	if !newActionMatcher(nil).Match("anything") || !newActionMatcher([]string{"*"}).Match("project.archived") {
		t.Fatalf("empty and wildcard matchers must match everything")
	}
	if newActionMatcher([]string{"[phase"}).Match("phase.started") {
		t.Fatalf("malformed pattern must not match")
	}
}
