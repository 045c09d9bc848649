package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	"github.com/sirupsen/logrus"

	"mysql-triggers/internal/models"
	"mysql-triggers/internal/schema"
	"mysql-triggers/internal/translator"
	"mysql-triggers/internal/trigger"
)

// State is the lifecycle state of the dispatch loop.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StatePaused
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	}
	return "unknown"
}

// RecordSource delivers raw binlog events in commit order. The concrete
// implementation is internal/binlog.Reader; tests supply fakes.
type RecordSource interface {
	ReadEvent(ctx context.Context) (*replication.BinlogEvent, error)
	Position() mysql.Position
	Close()
}

// SourceOpener establishes a RecordSource at the given position, or at the
// current end of the stream when startAtEnd is set and pos is empty.
type SourceOpener func(pos mysql.Position, startAtEnd bool) (RecordSource, error)

// readTimeout bounds a single ReadEvent call so the loop can observe pause
// and stop requests while the stream is idle.
const readTimeout = time.Second

// Config configures an Engine.
type Config struct {
	Opener  SourceOpener
	Options Options
	MetaDB  *sql.DB // optional, for the translator's INFORMATION_SCHEMA fallback
	Logger  *logrus.Logger
}

// Engine is the trigger dispatch loop. It pulls raw records from a
// RecordSource, filters and translates them, matches them against the
// registered triggers and invokes the matched handlers, advancing its
// binlog position only after a record is fully dispatched.
type Engine struct {
	opener     SourceOpener
	registry   *trigger.Registry
	translator *translator.Translator
	logger     *logrus.Logger
	notifier   *notifier

	mu       sync.Mutex
	state    State
	opts     Options
	filter   *schema.Filter
	resumeCh chan struct{}
	cancel   context.CancelFunc
	doneCh   chan struct{}

	posMu sync.Mutex
	pos   mysql.Position
}

// New creates a stopped engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Opener == nil {
		return nil, fmt.Errorf("source opener is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		opener:     cfg.Opener,
		registry:   trigger.NewRegistry(),
		translator: translator.NewTranslator(cfg.MetaDB, logger),
		logger:     logger,
		notifier:   newNotifier(),
		state:      StateStopped,
		opts:       cfg.Options,
		filter:     schema.NewFilter(cfg.Options.IncludeSchema, cfg.Options.ExcludeSchema),
	}, nil
}

// On registers a listener for a notification kind. Listeners are invoked
// synchronously in registration order.
func (e *Engine) On(kind NotificationKind, fn Listener) {
	e.notifier.on(kind, fn)
}

// AddTrigger registers a trigger. It fails synchronously on a duplicate name
// or a malformed expression; the change applies from the next event onward.
func (e *Engine) AddTrigger(t trigger.Trigger) error {
	return e.registry.Add(t)
}

// RemoveTrigger unregisters the named trigger. An event whose matching
// snapshot was taken before the removal completes may still invoke it.
func (e *Engine) RemoveTrigger(name string) error {
	return e.registry.Remove(name)
}

// Set shallow-merges partial options into the effective configuration.
// Position-related fields take effect at the next Start; schema rules take
// effect from the next record.
func (e *Engine) Set(over Options) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opts = e.opts.merged(over)
	e.filter = schema.NewFilter(e.opts.IncludeSchema, e.opts.ExcludeSchema)
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Position returns the current binlog cursor. It only moves past a record
// once that record has been fully dispatched, so a restart from the returned
// position never skips a record.
func (e *Engine) Position() mysql.Position {
	e.posMu.Lock()
	defer e.posMu.Unlock()
	return e.pos
}

// Start merges over (if any) into the effective options, opens the source at
// the configured position and launches the dispatch loop. An explicit
// BinlogName/BinlogNextPos wins over StartAtEnd.
func (e *Engine) Start(over *Options) error {
	e.mu.Lock()
	if e.state != StateStopped {
		e.mu.Unlock()
		return fmt.Errorf("cannot start: engine is %s", e.state)
	}
	e.state = StateStarting
	if over != nil {
		e.opts = e.opts.merged(*over)
		e.filter = schema.NewFilter(e.opts.IncludeSchema, e.opts.ExcludeSchema)
	}
	opts := e.opts
	e.mu.Unlock()

	pos := mysql.Position{Name: opts.BinlogName, Pos: opts.BinlogNextPos}
	src, err := e.opener(pos, opts.StartAtEnd && pos.Name == "")
	if err != nil {
		e.mu.Lock()
		e.state = StateStopped
		e.mu.Unlock()
		e.notifier.emit(Notification{Kind: NotifyConnectionError, Err: err})
		return fmt.Errorf("failed to open replication source: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	e.mu.Lock()
	if e.state != StateStarting {
		// Stopped while the source was being opened.
		e.mu.Unlock()
		cancel()
		src.Close()
		return fmt.Errorf("engine stopped during start")
	}
	e.cancel = cancel
	e.doneCh = done
	e.state = StateRunning
	e.mu.Unlock()

	e.setPosition(src.Position())
	e.notifier.emit(Notification{Kind: NotifyStarted})

	go e.run(ctx, src, done)
	return nil
}

// Pause stops pulling and dispatching further records without touching the
// underlying connection. No-op unless running.
func (e *Engine) Pause() {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return
	}
	e.state = StatePaused
	e.resumeCh = make(chan struct{})
	e.mu.Unlock()
	e.notifier.emit(Notification{Kind: NotifyPaused})
}

// Resume continues dispatch from exactly the next unconsumed record. No-op
// unless paused.
func (e *Engine) Resume() {
	e.mu.Lock()
	if e.state != StatePaused {
		e.mu.Unlock()
		return
	}
	e.state = StateRunning
	close(e.resumeCh)
	e.resumeCh = nil
	e.mu.Unlock()
	e.notifier.emit(Notification{Kind: NotifyResumed})
}

// Stop shuts the dispatch loop down and releases the source connection before
// returning. Safe to call from any state; repeat calls are no-ops.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state == StateStopped || e.state == StateStopping {
		e.mu.Unlock()
		return
	}
	e.state = StateStopping
	cancel, done := e.cancel, e.doneCh
	if e.resumeCh != nil {
		close(e.resumeCh)
		e.resumeCh = nil
	}
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	e.finalize()
}

// finalize moves the engine to STOPPED exactly once and emits the stopped
// notification.
func (e *Engine) finalize() {
	e.mu.Lock()
	if e.state == StateStopped {
		e.mu.Unlock()
		return
	}
	e.state = StateStopped
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.doneCh = nil
	e.mu.Unlock()
	e.notifier.emit(Notification{Kind: NotifyStopped})
}

// run is the dispatch loop goroutine. It owns src and always releases it.
func (e *Engine) run(ctx context.Context, src RecordSource, done chan struct{}) {
	defer close(done)
	defer src.Close()

	for {
		if !e.waitWhilePaused(ctx) {
			return
		}

		readCtx, cancel := context.WithTimeout(ctx, readTimeout)
		ev, err := src.ReadEvent(readCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return // external stop
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue // idle stream, re-check pause/stop
			}
			e.logger.Errorf("Binlog stream failed: %v", err)
			e.notifier.emit(Notification{Kind: NotifyConnectionError, Err: err})
			e.finalize()
			return
		}

		// A record pulled just before a pause waits here; it is dispatched
		// on resume, never dropped or duplicated.
		if !e.waitWhilePaused(ctx) {
			return
		}

		if err := e.handleRecord(ev); err != nil {
			e.logger.Errorf("Unrecoverable stream error: %v", err)
			e.notifier.emit(Notification{Kind: NotifyStreamError, Err: err})
			e.finalize()
			return
		}
	}
}

// waitWhilePaused blocks while the engine is paused. It returns false when
// the loop should exit.
func (e *Engine) waitWhilePaused(ctx context.Context) bool {
	for {
		e.mu.Lock()
		switch e.state {
		case StateRunning:
			e.mu.Unlock()
			return true
		case StatePaused:
			ch := e.resumeCh
			e.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return false
			}
		default:
			e.mu.Unlock()
			return false
		}
	}
}

// handleRecord processes one raw record and advances the position past it.
// A non-nil error means the stream is structurally corrupt and the session
// must end.
func (e *Engine) handleRecord(ev *replication.BinlogEvent) error {
	switch evt := ev.Event.(type) {
	case *replication.RotateEvent:
		e.setPosition(mysql.Position{Name: string(evt.NextLogName), Pos: uint32(evt.Position)})
		e.logger.Infof("Binlog rotated to: %s", string(evt.NextLogName))
		return nil

	case *replication.RowsEvent:
		return e.handleRows(ev.Header, evt)

	case *replication.TableMapEvent:
		e.logger.Debugf("Table map for %s.%s (ID: %d)", string(evt.Schema), string(evt.Table), evt.TableID)

	case *replication.QueryEvent:
		e.logger.Debugf("Query event: %s", string(evt.Query))

	case *replication.XIDEvent:
		e.logger.Debugf("XID event: %d", evt.XID)

	default:
		e.logger.Debugf("Unhandled event type: %T", evt)
	}

	e.advance(ev.Header.LogPos)
	return nil
}

// handleRows runs the full dispatch pipeline for one rows record:
// event-kind filter, schema filter, translation, matching, handler
// invocation, position advancement, binlog notification.
func (e *Engine) handleRows(header *replication.EventHeader, evt *replication.RowsEvent) error {
	typ := statementTypeOf(header.EventType)
	if typ == "" {
		e.logger.Debugf("Unhandled row event type: %d", header.EventType)
		e.advance(header.LogPos)
		return nil
	}

	e.mu.Lock()
	opts := e.opts
	filter := e.filter
	e.mu.Unlock()

	if !opts.eventAllowed(eventKindName(header.EventType)) {
		e.advance(header.LogPos)
		return nil
	}

	if evt.Table == nil {
		return fmt.Errorf("%s record without table map", typ)
	}

	database, table := string(evt.Table.Schema), string(evt.Table.Table)
	if !filter.Allowed(database, table) {
		e.logger.Debugf("Schema filter rejected %s.%s", database, table)
		e.advance(header.LogPos)
		return nil
	}

	rowEv, err := e.translator.Translate(typ, evt, e.Position().Name, header.LogPos, header.Timestamp)
	if err != nil {
		// Recoverable: replication metadata may lag table alterations.
		// Skip the record and keep streaming.
		e.logger.Errorf("Skipping %s record for %s.%s: %v", typ, database, table, err)
		e.advance(header.LogPos)
		return nil
	}

	matched := trigger.Match(e.registry.Snapshot(), rowEv)
	e.invoke(matched, rowEv)

	e.advance(header.LogPos)
	e.notifier.emit(Notification{Kind: NotifyBinlog, Event: rowEv})

	e.logger.Debugf("Dispatched %s event for %s.%s to %d trigger(s)",
		rowEv.Type, database, table, len(matched))
	return nil
}

// invoke runs the matched handlers concurrently and waits for all of them.
// A failing or panicking handler is reported and does not affect the others.
func (e *Engine) invoke(matched []*trigger.Trigger, ev *models.RowEvent) {
	var wg sync.WaitGroup
	for _, t := range matched {
		wg.Add(1)
		go func(t *trigger.Trigger) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					e.notifier.emit(Notification{
						Kind:    NotifyTriggerError,
						Trigger: t.Name,
						Err:     fmt.Errorf("handler panic: %v", r),
					})
				}
			}()
			if err := t.Handler(ev); err != nil {
				e.notifier.emit(Notification{Kind: NotifyTriggerError, Trigger: t.Name, Err: err})
			}
		}(t)
	}
	wg.Wait()
}

func (e *Engine) setPosition(pos mysql.Position) {
	e.posMu.Lock()
	e.pos = pos
	e.posMu.Unlock()
}

// advance moves the cursor within the current binlog file.
func (e *Engine) advance(logPos uint32) {
	if logPos == 0 {
		return
	}
	e.posMu.Lock()
	e.pos.Pos = logPos
	e.posMu.Unlock()
}

// statementTypeOf classifies a raw event type as a row statement, or ""
// when it is not a row mutation.
func statementTypeOf(t replication.EventType) models.StatementType {
	switch t {
	case replication.WRITE_ROWS_EVENTv0, replication.WRITE_ROWS_EVENTv1, replication.WRITE_ROWS_EVENTv2:
		return models.StatementInsert
	case replication.UPDATE_ROWS_EVENTv0, replication.UPDATE_ROWS_EVENTv1, replication.UPDATE_ROWS_EVENTv2:
		return models.StatementUpdate
	case replication.DELETE_ROWS_EVENTv0, replication.DELETE_ROWS_EVENTv1, replication.DELETE_ROWS_EVENTv2:
		return models.StatementDelete
	}
	return ""
}
