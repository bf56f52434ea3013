package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chathistory/config"
	"chathistory/models"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "chathistory/services"

	DefaultListLimit = 50
)

// StoredEntry is a stored entry and its position in the submitted batch.
type StoredEntry struct {
	Seq   int
	Entry models.ChatEntry
}

// Mirror receives every batch after its rows are stored.
type Mirror interface {
	MirrorEntries(ctx context.Context, batchID string, entries []StoredEntry) error
}

// SaveResult summarizes one ingest call.
type SaveResult struct {
	BatchID string
	Total   int
	Saved   int
	// Failed is only populated in best_effort mode.
	Failed []*InsertError
}

type ChatHistoryService struct {
	db      *sql.DB
	driver  string
	queries queries
	mode    string
	maxList int
	mirror  Mirror
	logger  *slog.Logger
	tracer  trace.Tracer
	meter   metric.Meter
	metrics *ingestMetrics
}

type Option func(*ChatHistoryService)

func WithInsertMode(mode string) Option {
	return func(s *ChatHistoryService) { s.mode = mode }
}

func WithMaxListLimit(limit int) Option {
	return func(s *ChatHistoryService) { s.maxList = limit }
}

func WithMirror(m Mirror) Option {
	return func(s *ChatHistoryService) { s.mirror = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *ChatHistoryService) { s.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *ChatHistoryService) { s.tracer = t }
}

func WithMeter(m metric.Meter) Option {
	return func(s *ChatHistoryService) { s.meter = m }
}

func NewChatHistoryService(db *sql.DB, driver string, opts ...Option) (*ChatHistoryService, error) {
	q, err := queriesFor(driver)
	if err != nil {
		return nil, err
	}

	s := &ChatHistoryService{
		db:      db,
		driver:  driver,
		queries: q,
		mode:    config.InsertModeSequential,
		maxList: 500,
		logger:  slog.Default(),
		tracer:  otel.Tracer(instrumentationName),
		meter:   otel.Meter(instrumentationName),
	}
	for _, opt := range opts {
		opt(s)
	}

	switch s.mode {
	case config.InsertModeSequential, config.InsertModeAtomic, config.InsertModeBestEffort:
	default:
		return nil, fmt.Errorf("unsupported insert mode %q", s.mode)
	}

	s.metrics, err = newIngestMetrics(s.meter)
	if err != nil {
		return nil, fmt.Errorf("failed to create instruments: %w", err)
	}
	return s, nil
}

// SaveChatHistory stores every entry of the JSON array raw as one row, in order.
//
// The connection is acquired before the payload is decoded, so an unreachable
// backend is reported even for a bad payload. Validation covers the whole
// batch before the first insert.
func (s *ChatHistoryService) SaveChatHistory(ctx context.Context, raw string) (SaveResult, error) {
	start := time.Now()
	result := SaveResult{BatchID: uuid.NewString()}
	logger := s.logger.With("batch_id", result.BatchID, "insert_mode", s.mode)

	ctx, span := s.tracer.Start(ctx, "chat_history.save", trace.WithAttributes(
		attribute.String("chat_history.batch_id", result.BatchID),
		attribute.String("chat_history.insert_mode", s.mode),
	))
	defer span.End()

	conn, err := s.acquire(ctx)
	if err != nil {
		logger.Error("storage connection failed", append([]any{"error", err}, dbErrorAttrs(err)...)...)
		s.finish(ctx, span, "connection_failed", result, start, err)
		return result, err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.Warn("failed to release connection", "error", err)
		}
	}()

	entries, err := ParseChatHistory(raw)
	if err != nil {
		logger.Info("rejected chat history payload", "error", err)
		s.finish(ctx, span, "invalid", result, start, err)
		return result, err
	}
	result.Total = len(entries)
	span.SetAttributes(attribute.Int("chat_history.entries", result.Total))

	var saved []StoredEntry
	switch s.mode {
	case config.InsertModeAtomic:
		saved, err = s.insertAtomic(ctx, conn, entries)
	case config.InsertModeBestEffort:
		saved, result.Failed, err = s.insertBestEffort(ctx, conn, entries, logger)
	default:
		saved, err = s.insertSequential(ctx, conn, entries)
	}
	result.Saved = len(saved)

	if len(saved) > 0 && s.mirror != nil {
		if mErr := s.mirror.MirrorEntries(ctx, result.BatchID, saved); mErr != nil {
			logger.Warn("failed to mirror chat history", "error", mErr)
		}
	}

	if err != nil {
		logger.Error("failed to save chat history",
			append([]any{"error", err, "saved", result.Saved, "total", result.Total}, dbErrorAttrs(err)...)...)
		s.finish(ctx, span, "insert_failed", result, start, err)
		return result, err
	}

	outcome := "saved"
	if len(result.Failed) > 0 {
		outcome = "partial"
	}
	logger.Info("chat history stored", "saved", result.Saved, "total", result.Total, "failed", len(result.Failed))
	s.finish(ctx, span, outcome, result, start, nil)
	return result, nil
}

// acquire takes a dedicated connection for the lifetime of one request.
func (s *ChatHistoryService) acquire(ctx context.Context) (*sql.Conn, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, &ConnectionError{Err: err}
	}
	return conn, nil
}

// insertSequential runs without a transaction: the first failure stops the
// loop and the rows before it stay committed.
func (s *ChatHistoryService) insertSequential(ctx context.Context, conn *sql.Conn, entries []models.ChatEntry) ([]StoredEntry, error) {
	stmt, err := conn.PrepareContext(ctx, s.queries.insert)
	if err != nil {
		return nil, &InsertError{Index: 0, Err: fmt.Errorf("prepare insert: %w", err)}
	}
	defer stmt.Close()

	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Sender, e.Message, nullString(e.TTSAudioLink)); err != nil {
			return numbered(entries[:i]), &InsertError{Index: i, Saved: i, Err: err}
		}
	}
	return numbered(entries), nil
}

func (s *ChatHistoryService) insertAtomic(ctx context.Context, conn *sql.Conn, entries []models.ChatEntry) ([]StoredEntry, error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, &InsertError{Index: 0, Err: fmt.Errorf("begin transaction: %w", err)}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.queries.insert)
	if err != nil {
		return nil, &InsertError{Index: 0, Err: fmt.Errorf("prepare insert: %w", err)}
	}
	defer stmt.Close()

	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Sender, e.Message, nullString(e.TTSAudioLink)); err != nil {
			return nil, &InsertError{Index: i, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, &InsertError{Index: -1, Err: err}
	}
	return numbered(entries), nil
}

// insertBestEffort attempts every entry. Only a failed prepare is returned as
// an error; row failures are collected.
func (s *ChatHistoryService) insertBestEffort(ctx context.Context, conn *sql.Conn, entries []models.ChatEntry, logger *slog.Logger) ([]StoredEntry, []*InsertError, error) {
	stmt, err := conn.PrepareContext(ctx, s.queries.insert)
	if err != nil {
		return nil, nil, &InsertError{Index: 0, Err: fmt.Errorf("prepare insert: %w", err)}
	}
	defer stmt.Close()

	saved := make([]StoredEntry, 0, len(entries))
	var failed []*InsertError
	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, e.Sender, e.Message, nullString(e.TTSAudioLink)); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return saved, failed, &InsertError{Index: i, Saved: len(saved), Err: ctxErr}
			}
			logger.Warn("skipping chat history entry", append([]any{"index", i, "error", err}, dbErrorAttrs(err)...)...)
			failed = append(failed, &InsertError{Index: i, Saved: len(saved), Err: err})
			continue
		}
		saved = append(saved, StoredEntry{Seq: i, Entry: e})
	}
	return saved, failed, nil
}

func (s *ChatHistoryService) finish(ctx context.Context, span trace.Span, outcome string, result SaveResult, start time.Time, err error) {
	span.SetAttributes(
		attribute.String("chat_history.outcome", outcome),
		attribute.Int("chat_history.saved", result.Saved),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	s.metrics.record(ctx, outcome, result.Saved, time.Since(start))
}

// ListChatHistory returns up to limit rows with id greater than afterID, oldest first.
func (s *ChatHistoryService) ListChatHistory(ctx context.Context, afterID int64, limit int) ([]models.ChatHistoryRow, error) {
	if afterID < 0 {
		afterID = 0
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > s.maxList {
		limit = s.maxList
	}

	ctx, span := s.tracer.Start(ctx, "chat_history.list", trace.WithAttributes(
		attribute.Int64("chat_history.after_id", afterID),
		attribute.Int("chat_history.limit", limit),
	))
	defer span.End()

	rows, err := s.db.QueryContext(ctx, s.queries.selectAfter, afterID, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("select chat history: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			s.logger.Warn("failed to close rows", "error", err)
		}
	}(rows)

	history := make([]models.ChatHistoryRow, 0, limit)
	for rows.Next() {
		var (
			row  models.ChatHistoryRow
			link sql.NullString
		)
		if err := rows.Scan(&row.ID, &row.Sender, &row.Message, &link); err != nil {
			return nil, fmt.Errorf("scan chat history row: %w", err)
		}
		if link.Valid {
			row.TTSAudioLink = &link.String
		}
		history = append(history, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return history, nil
}

// Ping checks that a connection to the backend can be made.
func (s *ChatHistoryService) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

// numbered pairs a prefix of the batch with its positions.
func numbered(entries []models.ChatEntry) []StoredEntry {
	out := make([]StoredEntry, len(entries))
	for i, e := range entries {
		out[i] = StoredEntry{Seq: i, Entry: e}
	}
	return out
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// IsConnectionError reports whether err came from acquiring the connection.
func IsConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}
