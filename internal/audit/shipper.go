// Package audit implements the academy audit trail: it enriches mutating
// actions with device and network context, appends them to an immutable store,
// and reads them back through role-scoped, filterable, paginated views.
//
// Written records may additionally be shipped to external destinations (file,
// webhook, kafka) through the Shipper interface so they can reach a SIEM or log
// aggregator independently of the primary store. Shipping is best effort: the
// store is the system of record, and a failed delivery never fails a write.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/academy-hub/audit-trail/internal/config"
	"github.com/academy-hub/audit-trail/internal/db/models"
	"github.com/academy-hub/audit-trail/internal/telemetry"
)

// LogEntry is the shipped form of an audit record. Only the masked address
// leaves the service.
type LogEntry struct {
	Timestamp   time.Time       `json:"timestamp"`
	RecordID    string          `json:"record_id"`
	Action      string          `json:"action"`
	ActorUserID string          `json:"actor_user_id"`
	ActorRole   string          `json:"actor_role"`
	BranchID    string          `json:"branch_id,omitempty"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id,omitempty"`
	SummaryKey  string          `json:"summary_key"`
	Summary     string          `json:"summary"`
	BeforeData  models.Document `json:"before_data,omitempty"`
	AfterData   models.Document `json:"after_data,omitempty"`
	Metadata    models.Document `json:"metadata,omitempty"`
	IPMasked    string          `json:"ip_masked,omitempty"`
	Device      string          `json:"device"`
	OS          string          `json:"os"`
	Browser     string          `json:"browser"`
	IsMobile    bool            `json:"is_mobile"`
}

// NewLogEntry builds the shipped form of rec with its rendered summary
func NewLogEntry(rec *models.AuditRecord, summary string) *LogEntry {
	return &LogEntry{
		Timestamp:   rec.CreatedAt,
		RecordID:    rec.ID,
		Action:      rec.Action,
		ActorUserID: rec.ActorUserID,
		ActorRole:   rec.ActorRole,
		BranchID:    deref(rec.BranchID),
		EntityType:  rec.EntityType,
		EntityID:    deref(rec.EntityID),
		SummaryKey:  rec.SummaryKey,
		Summary:     summary,
		BeforeData:  rec.BeforeData,
		AfterData:   rec.AfterData,
		Metadata:    rec.Metadata,
		IPMasked:    deref(rec.IPMasked),
		Device:      rec.DeviceName,
		OS:          rec.OSName,
		Browser:     rec.BrowserName,
		IsMobile:    rec.IsMobile,
	}
}

// Shipper defines the interface for audit record shipping
type Shipper interface {
	// Ship sends an entry to the destination
	Ship(ctx context.Context, entry *LogEntry) error
	// Close flushes and releases any resources
	Close() error
}

// MultiShipper ships to multiple destinations
type MultiShipper struct {
	shippers []namedShipper
	mu       sync.RWMutex
}

type namedShipper struct {
	kind string
	Shipper
}

// NewMultiShipper creates a multi-shipper from the configured destinations.
// Disabled entries are skipped.
func NewMultiShipper(configs []config.AuditShipperConfig) (*MultiShipper, error) {
	ms := &MultiShipper{shippers: make([]namedShipper, 0, len(configs))}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		var shipper Shipper
		var err error

		switch cfg.Type {
		case "webhook":
			if cfg.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook shipper")
			}
			shipper, err = NewWebhookShipper(cfg.Webhook)
		case "file":
			if cfg.File == nil {
				return nil, fmt.Errorf("file config is required for file shipper")
			}
			shipper, err = NewFileShipper(cfg.File)
		case "kafka":
			if cfg.Kafka == nil {
				return nil, fmt.Errorf("kafka config is required for kafka shipper")
			}
			shipper, err = NewKafkaShipper(cfg.Kafka)
		default:
			return nil, fmt.Errorf("unknown shipper type: %s", cfg.Type)
		}

		if err != nil {
			_ = ms.Close()
			return nil, fmt.Errorf("failed to create %s shipper: %w", cfg.Type, err)
		}

		ms.Add(cfg.Type, shipper)
	}

	return ms, nil
}

// Add registers an already constructed shipper under kind
func (ms *MultiShipper) Add(kind string, s Shipper) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.shippers = append(ms.shippers, namedShipper{kind: kind, Shipper: s})
}

// Len reports the number of active destinations
func (ms *MultiShipper) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.shippers)
}

// Ship sends an entry to every destination, continuing past failures. The
// returned error joins every destination failure.
func (ms *MultiShipper) Ship(ctx context.Context, entry *LogEntry) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var errs []error
	for _, s := range ms.shippers {
		if err := s.Ship(ctx, entry); err != nil {
			telemetry.AuditShipFailuresTotal.WithLabelValues(s.kind).Inc()
			slog.Warn("audit shipper error", "shipper", s.kind, "record_id", entry.RecordID, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.kind, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes all shippers
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var errs []error
	for _, s := range ms.shippers {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WebhookShipper posts entries to an HTTP endpoint, optionally in batches
type WebhookShipper struct {
	cfg           *config.AuditWebhookConfig
	client        *http.Client
	timeout       time.Duration
	flushInterval time.Duration
	batchCh       chan *LogEntry
	batch         []*LogEntry
	batchMu       sync.Mutex
	closeCh       chan struct{}
	doneCh        chan struct{}
	closeOnce     sync.Once

	// closeMu orders Ship's enqueue before Close's drain
	closeMu sync.RWMutex
	closed  bool
}

// ErrShipperClosed is returned by Ship after Close
var ErrShipperClosed = errors.New("audit shipper is closed")

// NewWebhookShipper creates a new webhook shipper
func NewWebhookShipper(cfg *config.AuditWebhookConfig) (*WebhookShipper, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook url is required")
	}

	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	flushInterval := time.Duration(cfg.FlushInterval) * time.Second
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}

	ws := &WebhookShipper{
		cfg:           cfg,
		client:        &http.Client{Timeout: timeout},
		timeout:       timeout,
		flushInterval: flushInterval,
		batchCh:       make(chan *LogEntry, 1000),
		batch:         make([]*LogEntry, 0, cfg.BatchSize),
		closeCh:       make(chan struct{}),
		doneCh:        make(chan struct{}),
	}

	if cfg.BatchSize > 0 {
		go ws.processBatches()
	} else {
		close(ws.doneCh)
	}

	return ws, nil
}

func (ws *WebhookShipper) processBatches() {
	defer close(ws.doneCh)

	ticker := time.NewTicker(ws.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry := <-ws.batchCh:
			ws.batchMu.Lock()
			ws.batch = append(ws.batch, entry)
			if len(ws.batch) >= ws.cfg.BatchSize {
				ws.flushBatch()
			}
			ws.batchMu.Unlock()
		case <-ticker.C:
			ws.batchMu.Lock()
			ws.flushBatch()
			ws.batchMu.Unlock()
		case <-ws.closeCh:
			ws.batchMu.Lock()
		drain:
			for {
				select {
				case entry := <-ws.batchCh:
					ws.batch = append(ws.batch, entry)
				default:
					break drain
				}
			}
			ws.flushBatch()
			ws.batchMu.Unlock()
			return
		}
	}
}

// flushBatch sends the current batch; callers hold batchMu
func (ws *WebhookShipper) flushBatch() {
	if len(ws.batch) == 0 {
		return
	}

	data, err := json.Marshal(ws.batch)
	if err != nil {
		slog.Error("failed to marshal audit batch", "error", err)
		ws.batch = ws.batch[:0]
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ws.timeout)
	defer cancel()

	if err := ws.sendRequest(ctx, data); err != nil {
		telemetry.AuditShipFailuresTotal.WithLabelValues("webhook").Add(float64(len(ws.batch)))
		slog.Warn("failed to send audit batch", "entries", len(ws.batch), "error", err)
	}

	ws.batch = ws.batch[:0]
}

// Ship sends an entry to the webhook, or queues it when batching is enabled
func (ws *WebhookShipper) Ship(ctx context.Context, entry *LogEntry) error {
	ws.closeMu.RLock()
	defer ws.closeMu.RUnlock()
	if ws.closed {
		return ErrShipperClosed
	}

	if ws.cfg.BatchSize > 0 {
		select {
		case ws.batchCh <- entry:
			return nil
		default:
			// queue full, send directly
		}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	return ws.sendRequest(ctx, data)
}

func (ws *WebhookShipper) sendRequest(ctx context.Context, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.cfg.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range ws.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// Close flushes any queued entries and stops the batch processor
func (ws *WebhookShipper) Close() error {
	ws.closeOnce.Do(func() {
		ws.closeMu.Lock()
		ws.closed = true
		ws.closeMu.Unlock()
		close(ws.closeCh)
	})
	<-ws.doneCh
	return nil
}

// FileShipper appends entries as JSON lines to a size-rotated file
type FileShipper struct {
	out *lumberjack.Logger
	mu  sync.Mutex
}

// NewFileShipper creates a new file shipper
func NewFileShipper(cfg *config.AuditFileConfig) (*FileShipper, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file path is required")
	}
	return &FileShipper{
		out: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		},
	}, nil
}

// Ship writes an entry to the file
func (fs *FileShipper) Ship(_ context.Context, entry *LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, err := fs.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// Close closes the file
func (fs *FileShipper) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.out.Close()
}

// messageWriter is the subset of *kafka.Writer the kafka shipper needs
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaShipper publishes entries to a topic keyed by record id, so every
// delivery of one record lands on the same partition.
type KafkaShipper struct {
	writer messageWriter
}

// NewKafkaShipper creates a kafka shipper for the configured brokers and topic
func NewKafkaShipper(cfg *config.AuditKafkaConfig) (*KafkaShipper, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka brokers and topic are required")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        cfg.Async,
		WriteTimeout: 10 * time.Second,
	}
	if cfg.BatchSize > 0 {
		w.BatchSize = cfg.BatchSize
	}
	if cfg.BatchTimeout > 0 {
		w.BatchTimeout = cfg.BatchTimeout
	}
	if cfg.Async {
		w.Completion = func(msgs []kafka.Message, err error) {
			if err != nil {
				telemetry.AuditShipFailuresTotal.WithLabelValues("kafka").Add(float64(len(msgs)))
				slog.Warn("async kafka delivery failed", "messages", len(msgs), "error", err)
			}
		}
	}

	return newKafkaShipper(w), nil
}

func newKafkaShipper(w messageWriter) *KafkaShipper {
	return &KafkaShipper{writer: w}
}

// Ship publishes one entry
func (ks *KafkaShipper) Ship(ctx context.Context, entry *LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	err = ks.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entry.RecordID),
		Value: data,
		Time:  entry.Timestamp,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(entry.Action)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish audit entry: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer
func (ks *KafkaShipper) Close() error {
	return ks.writer.Close()
}
