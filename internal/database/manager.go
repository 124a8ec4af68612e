package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	dbconfig "chatrelay/pkg/database"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

var (
	ErrManagerClosed  = errors.New("database manager is closed")
	ErrWriteQueueFull = errors.New("database write queue is full")
)

// Manager is the message transcript archive. All writes go through one
// goroutine because SQLite allows a single writer; reads run concurrently.
// The archive is write-only from the relay's point of view: it is never
// used to rebuild in-memory history.
type Manager struct {
	db           *sqlx.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

var _ interfaces.Archive = (*Manager)(nil)

// writeOperation is one queued write. result is nil for fire-and-forget
// writes.
type writeOperation struct {
	operation func(*sqlx.DB) error
	result    chan error
}

// NewManager opens the database, applies migrations, validates the schema
// and starts the writer.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate archive: %w", err)
	}
	if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("archive schema invalid: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, config.WriteBuffer),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	log.Info().Str("path", config.DatabasePath).Msg("Message archive opened")
	return manager, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			m.runWrite(op)

		case <-m.shutdown:
			// flush whatever was queued before Close
			for {
				select {
				case op := <-m.writeChannel:
					m.runWrite(op)
				default:
					log.Debug().Msg("Database write loop shutting down")
					return
				}
			}
		}
	}
}

// runWrite executes op, retrying once after the configured delay
func (m *Manager) runWrite(op writeOperation) {
	err := op.operation(m.db)
	if err != nil {
		log.Warn().Err(err).Dur("retry_in", m.config.WriteRetryDelay).Msg("Database write failed, retrying")
		time.Sleep(m.config.WriteRetryDelay)
		if err = op.operation(m.db); err != nil {
			log.Error().Err(err).Msg("Database write failed after retry")
		}
	}
	if op.result != nil {
		op.result <- err
	}
}

// executeWrite queues a write and waits for its result
func (m *Manager) executeWrite(ctx context.Context, operation func(*sqlx.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	result := make(chan error, 1)
	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
	case <-ctx.Done():
		m.mu.RUnlock()
		return ctx.Err()
	}
	m.mu.RUnlock()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

const insertMessage = `
	INSERT INTO messages (id, from_user, content, sent_at)
	VALUES (:id, :from_user, :content, :sent_at)
	ON CONFLICT(id) DO NOTHING
`

// Archive queues msg for storage without blocking. When the queue is full
// the message is dropped from the transcript and a warning is logged.
func (m *Manager) Archive(msg types.ChatMessage) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return
	}

	op := writeOperation{operation: func(db *sqlx.DB) error {
		_, err := db.NamedExec(insertMessage, msg)
		return err
	}}

	select {
	case m.writeChannel <- op:
	default:
		log.Warn().Err(ErrWriteQueueFull).Str("message_id", msg.ID).Msg("Message not archived")
	}
}

// flush waits until every write queued before the call has committed
func (m *Manager) flush(ctx context.Context) error {
	return m.executeWrite(ctx, func(*sqlx.DB) error { return nil })
}

// RecentMessages returns up to limit of the newest archived messages,
// oldest first. Messages queued by Archive before the call are included.
func (m *Manager) RecentMessages(ctx context.Context, limit int) ([]types.ChatMessage, error) {
	if err := m.flush(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT id, from_user, content, sent_at FROM (
			SELECT seq, id, from_user, content, sent_at
			FROM messages
			ORDER BY seq DESC
			LIMIT ?
		) ORDER BY seq ASC
	`

	messages := []types.ChatMessage{}
	if err := m.db.SelectContext(ctx, &messages, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query archived messages: %w", err)
	}
	return messages, nil
}

// CountMessages returns the number of archived messages, including those
// still queued when it was called
func (m *Manager) CountMessages(ctx context.Context) (int, error) {
	if err := m.flush(ctx); err != nil {
		return 0, err
	}

	var count int
	if err := m.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM messages"); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return count, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var one int
	if err := m.db.GetContext(ctx, &one, "SELECT 1 FROM messages LIMIT 1"); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close flushes queued writes and closes the database
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	log.Info().Msg("Message archive closed")
	return nil
}
