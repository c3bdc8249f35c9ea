package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gotradegate/tradegate/internal/model"
	"github.com/gotradegate/tradegate/internal/pkg/logger"
)

// EventRepo is the optional durable sink behind the audit pipeline.
type EventRepo interface {
	Insert(ctx context.Context, event *model.SecurityEvent) error
	List(ctx context.Context, actor string, limit int, from, to *time.Time) ([]*model.SecurityEvent, error)
}

// AuditService is the security-event pipeline: a buffered channel feeds one
// consumer goroutine that writes a JSONL file, the optional repo, and any
// subscribed listeners. Log never blocks; when the channel is full the
// event is dropped to protect the request path.
type AuditService struct {
	eventChan chan *model.SecurityEvent
	logFile   *os.File
	buffer    *eventBuffer
	repo      EventRepo

	mu        sync.RWMutex
	listeners []func(*model.SecurityEvent)
	done      chan struct{}
}

func NewAuditService(logDir string, bufferSize int, repo EventRepo) (*AuditService, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, err
	}
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	// Daily file, picked at boot. Long-lived deployments rotate via the
	// durable repo; the file is the always-available fallback.
	filename := filepath.Join(logDir, "security-"+time.Now().UTC().Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	svc := &AuditService{
		eventChan: make(chan *model.SecurityEvent, bufferSize),
		logFile:   f,
		buffer:    newEventBuffer(bufferSize),
		repo:      repo,
		done:      make(chan struct{}),
	}
	go svc.consume()
	return svc, nil
}

// LogSecurityEvent satisfies the guard's AuditSink. Details are redacted
// before they leave the request path.
func (s *AuditService) LogSecurityEvent(actor, name string, details map[string]any, severity string) {
	s.Log(&model.SecurityEvent{
		ID:        uuid.New().String(),
		Actor:     actor,
		Name:      name,
		Severity:  severity,
		Details:   RedactDetails(details),
		CreatedAt: time.Now().UTC(),
	})
}

// Log enqueues an event. Full buffer drops the event with a warning; the
// audit trail must never stall a security decision.
func (s *AuditService) Log(event *model.SecurityEvent) {
	if event == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	s.buffer.Add(event)
	select {
	case s.eventChan <- event:
	default:
		logger.Warn("Security event buffer full, dropping event", "name", event.Name)
	}
}

// List queries recent events, preferring the durable repo and falling back
// to the in-memory ring.
func (s *AuditService) List(ctx context.Context, actor string, limit int, from, to *time.Time) ([]*model.SecurityEvent, error) {
	if s.repo != nil {
		events, err := s.repo.List(ctx, actor, limit, from, to)
		if err == nil {
			return events, nil
		}
		logger.LogError(ctx, err, "Event repo query failed, serving from ring buffer")
	}
	return s.buffer.List(actor, limit), nil
}

// Subscribe registers a listener invoked off the request path for every
// event, in arrival order. Used by the WebSocket stream.
func (s *AuditService) Subscribe(fn func(*model.SecurityEvent)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *AuditService) consume() {
	defer close(s.done)
	encoder := json.NewEncoder(s.logFile)
	for event := range s.eventChan {
		if s.repo != nil {
			if err := s.repo.Insert(context.Background(), event); err != nil {
				logger.Error("Failed to persist security event", "error", err)
			}
		}
		if err := encoder.Encode(event); err != nil {
			logger.Error("Failed to write security event file", "error", err)
		}
		s.mu.RLock()
		listeners := s.listeners
		s.mu.RUnlock()
		for _, fn := range listeners {
			fn(event)
		}
	}
}

func (s *AuditService) Close() {
	close(s.eventChan)
	<-s.done
	s.logFile.Close()
}

// RedactDetails masks credential material in event details before
// persistence. Nested maps and slices are walked; the input is not
// mutated.
func RedactDetails(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if isSensitiveKey(k) {
			out[k] = "***"
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch raw := v.(type) {
	case map[string]any:
		return RedactDetails(raw)
	case []any:
		out := make([]any, len(raw))
		for i, item := range raw {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}

func isSensitiveKey(key string) bool {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "api_key",
		"api_secret",
		"secret",
		"signature",
		"token",
		"bearer",
		"jwt",
		"password",
		"admin_key",
		"private_key":
		return true
	default:
		return false
	}
}

// eventBuffer is a fixed-size ring holding the most recent events for
// queries when no durable repo is wired.
type eventBuffer struct {
	mu        sync.Mutex
	maxSize   int
	records   []*model.SecurityEvent
	nextIndex int
}

func newEventBuffer(maxSize int) *eventBuffer {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &eventBuffer{
		maxSize: maxSize,
		records: make([]*model.SecurityEvent, 0, maxSize),
	}
}

func (b *eventBuffer) Add(event *model.SecurityEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) < b.maxSize {
		b.records = append(b.records, event)
		return
	}
	b.records[b.nextIndex] = event
	b.nextIndex = (b.nextIndex + 1) % b.maxSize
}

// List returns the newest events first, optionally filtered by actor.
func (b *eventBuffer) List(actor string, limit int) []*model.SecurityEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > b.maxSize {
		limit = b.maxSize
	}
	results := make([]*model.SecurityEvent, 0, limit)
	total := len(b.records)
	for i := 0; i < total; i++ {
		idx := (b.nextIndex + total - 1 - i) % total
		event := b.records[idx]
		if event == nil {
			continue
		}
		if actor != "" && event.Actor != actor {
			continue
		}
		results = append(results, event)
		if len(results) >= limit {
			break
		}
	}
	return results
}
