package main

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/sirupsen/logrus"

	"mysql-triggers/internal/binlog"
	"mysql-triggers/internal/config"
	"mysql-triggers/internal/engine"
	"mysql-triggers/internal/models"
	"mysql-triggers/internal/natspub"
	"mysql-triggers/internal/script"
	"mysql-triggers/internal/trigger"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logger.SetLevel(logrus.InfoLevel)

	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(level)
	}

	logger.Info("Starting MySQL trigger service...")

	srcCfg := binlog.Config{
		Host:     cfg.MySQL.Host,
		Port:     cfg.MySQL.Port,
		User:     cfg.MySQL.User,
		Password: cfg.MySQL.Password,
		Flavor:   cfg.MySQL.Flavor,
		ServerID: cfg.MySQL.ServerID,
	}

	if err := newPreflight(srcCfg, logger).run(); err != nil {
		logger.Fatalf("MySQL preflight failed: %v", err)
	}

	// Metadata connection for servers that don't write column names into
	// the binlog.
	metaDB, err := sql.Open("mysql", srcCfg.DSN())
	if err != nil {
		logger.Fatalf("Failed to open metadata connection: %v", err)
	}
	defer metaDB.Close()
	metaDB.SetMaxOpenConns(1)
	metaDB.SetMaxIdleConns(1)

	opts := engine.Options{
		StartAtEnd:    cfg.Binlog.StartAtEnd,
		BinlogName:    cfg.Binlog.StartFile,
		BinlogNextPos: cfg.Binlog.StartPosition,
		IncludeEvents: cfg.Binlog.IncludeEvents,
		ExcludeEvents: cfg.Binlog.ExcludeEvents,
		IncludeSchema: cfg.Binlog.IncludeSchema,
		ExcludeSchema: cfg.Binlog.ExcludeSchema,
	}

	// A previously saved position wins over start_at_end but not over an
	// explicit start_file in the config.
	if opts.BinlogName == "" && cfg.Binlog.PositionFile != "" {
		if pos, ok := loadPosition(cfg.Binlog.PositionFile); ok {
			logger.Infof("Resuming from saved position %s:%d", pos.Name, pos.Pos)
			opts.BinlogName = pos.Name
			opts.BinlogNextPos = pos.Pos
		}
	}

	eng, err := engine.New(engine.Config{
		Opener: func(pos mysql.Position, startAtEnd bool) (engine.RecordSource, error) {
			return binlog.Open(srcCfg, pos, startAtEnd, logger)
		},
		Options: opts,
		MetaDB:  metaDB,
		Logger:  logger,
	})
	if err != nil {
		logger.Fatalf("Failed to create engine: %v", err)
	}

	var publisher *natspub.Publisher
	if cfg.NATS.URL != "" {
		publisher, err = natspub.NewPublisher(cfg.NATS.URL, cfg.NATS.MaxReconnect, cfg.NATS.ReconnectWait, logger)
		if err != nil {
			logger.Fatalf("Failed to create NATS publisher: %v", err)
		}
		defer publisher.Close()
	}

	for _, tc := range cfg.Triggers {
		handler, err := buildHandler(tc, publisher, logger)
		if err != nil {
			logger.Fatalf("Failed to build trigger %q: %v", tc.Name, err)
		}
		err = eng.AddTrigger(trigger.Trigger{
			Name:       tc.Name,
			Expression: tc.Expression,
			Statement:  models.StatementType(strings.ToUpper(tc.Statement)),
			Handler:    handler,
		})
		if err != nil {
			logger.Fatalf("Failed to register trigger %q: %v", tc.Name, err)
		}
		logger.Infof("Registered trigger %q on %q", tc.Name, tc.Expression)
	}

	eng.On(engine.NotifyBinlog, func(n engine.Notification) {
		if cfg.Binlog.PositionFile == "" {
			return
		}
		if err := savePosition(cfg.Binlog.PositionFile, eng.Position()); err != nil {
			logger.Warnf("Failed to save position: %v", err)
		}
	})
	eng.On(engine.NotifyTriggerError, func(n engine.Notification) {
		logger.Errorf("Trigger %q failed: %v", n.Trigger, n.Err)
	})
	eng.On(engine.NotifyConnectionError, func(n engine.Notification) {
		logger.Errorf("Replication connection error: %v", n.Err)
	})
	eng.On(engine.NotifyStreamError, func(n engine.Notification) {
		logger.Errorf("Replication stream error: %v", n.Err)
	})

	stopped := make(chan struct{}, 1)
	eng.On(engine.NotifyStopped, func(engine.Notification) {
		select {
		case stopped <- struct{}{}:
		default:
		}
	})

	if err := eng.Start(nil); err != nil {
		logger.Fatalf("Failed to start engine: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Infof("Received signal: %v, shutting down...", sig)
		eng.Stop()
	case <-stopped:
		// The engine stopped on its own (connection or stream failure).
	}

	pos := eng.Position()
	logger.Infof("MySQL trigger service stopped at %s:%d", pos.Name, pos.Pos)
}

// buildHandler composes a trigger handler from its config: an optional script
// stage followed by an optional NATS publish stage.
func buildHandler(tc config.TriggerConfig, publisher *natspub.Publisher, logger *logrus.Logger) (trigger.Handler, error) {
	var sh *script.Handler
	if tc.Script != "" {
		var err error
		sh, err = script.Load(tc.Script, logger)
		if err != nil {
			return nil, err
		}
	}
	if tc.Subject != "" && publisher == nil {
		return nil, fmt.Errorf("trigger publishes to %q but no NATS url is configured", tc.Subject)
	}

	subject := tc.Subject
	return func(ev *models.RowEvent) error {
		if sh != nil {
			out, err := sh.Run(ev)
			if errors.Is(err, script.ErrEventRejected) {
				logger.Debugf("Event for %s.%s dropped by script", ev.Database, ev.Table)
				return nil
			}
			if err != nil {
				return err
			}
			ev = out
		}
		if subject != "" {
			return publisher.Publish(subject, ev)
		}
		return nil
	}, nil
}

// loadPosition reads a "binlogname:pos" pair saved by a previous run.
func loadPosition(path string) (mysql.Position, bool) {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return mysql.Position{}, false
	}
	s := strings.TrimSpace(string(data))
	// The binlog name may itself contain colons; split on the last one.
	idx := strings.LastIndexByte(s, ':')
	if idx <= 0 || idx == len(s)-1 {
		return mysql.Position{}, false
	}
	pos, err := strconv.ParseUint(s[idx+1:], 10, 32)
	if err != nil {
		return mysql.Position{}, false
	}
	return mysql.Position{Name: s[:idx], Pos: uint32(pos)}, true
}

func savePosition(path string, pos mysql.Position) error {
	if pos.Name == "" {
		return nil
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%s:%d", pos.Name, pos.Pos)), 0644)
}
