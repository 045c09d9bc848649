package binlog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-mysql-org/go-mysql/mysql"
	"github.com/go-mysql-org/go-mysql/replication"
	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"
)

// Config holds the connection settings for the replication stream.
type Config struct {
	Host     string
	Port     uint16
	User     string
	Password string
	Flavor   string // mysql or mariadb
	ServerID uint32 // replication client identity
}

// ToSyncerConfig converts cfg to a go-mysql binlog syncer config.
func (cfg Config) ToSyncerConfig() replication.BinlogSyncerConfig {
	flavor := cfg.Flavor
	if flavor == "" {
		flavor = "mysql"
	}
	serverID := cfg.ServerID
	if serverID == 0 {
		serverID = 1
	}
	return replication.BinlogSyncerConfig{
		ServerID:   serverID,
		Flavor:     flavor,
		Host:       cfg.Host,
		Port:       cfg.Port,
		User:       cfg.User,
		Password:   cfg.Password,
		UseDecimal: true,
	}
}

// DSN returns a driver DSN for metadata queries against the same server.
func (cfg Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/", cfg.User, cfg.Password, cfg.Host, cfg.Port)
}

// Reader streams raw binlog events from a MySQL server, starting at a fixed
// position or at the current end of the binlog.
type Reader struct {
	syncer   *replication.BinlogSyncer
	streamer *replication.BinlogStreamer
	position mysql.Position
	logger   *logrus.Logger
}

// Open connects a replication client and starts streaming. When startAtEnd is
// set and no explicit position is given, the master's current position is
// queried first so only events after this moment are delivered. An explicit
// position always wins over startAtEnd.
func Open(cfg Config, pos mysql.Position, startAtEnd bool, logger *logrus.Logger) (*Reader, error) {
	if pos.Name == "" && startAtEnd {
		var err error
		pos, err = masterPosition(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve master position: %w", err)
		}
		logger.Infof("Tailing binlog from current master position %s:%d", pos.Name, pos.Pos)
	}

	syncer := replication.NewBinlogSyncer(cfg.ToSyncerConfig())
	streamer, err := syncer.StartSync(pos)
	if err != nil {
		syncer.Close()
		return nil, fmt.Errorf("failed to start binlog sync: %w", err)
	}

	logger.Infof("Started binlog sync from position: %s:%d", pos.Name, pos.Pos)

	return &Reader{
		syncer:   syncer,
		streamer: streamer,
		position: pos,
		logger:   logger,
	}, nil
}

// ReadEvent returns the next raw binlog event, honoring ctx cancellation.
func (r *Reader) ReadEvent(ctx context.Context) (*replication.BinlogEvent, error) {
	return r.streamer.GetEvent(ctx)
}

// Position returns the position the reader was opened at.
func (r *Reader) Position() mysql.Position {
	return r.position
}

// Close tears down the replication connection.
func (r *Reader) Close() {
	if r.syncer != nil {
		r.syncer.Close()
	}
}

// masterPosition asks the server for its current binlog file and offset.
func masterPosition(cfg Config) (mysql.Position, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return mysql.Position{}, fmt.Errorf("failed to open connection: %w", err)
	}
	defer db.Close()

	rows, err := db.Query("SHOW MASTER STATUS")
	if err != nil {
		return mysql.Position{}, fmt.Errorf("SHOW MASTER STATUS failed: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return mysql.Position{}, fmt.Errorf("SHOW MASTER STATUS returned no rows (is binlog enabled?)")
	}

	// Column count varies by server version; only File and Position matter.
	cols, err := rows.Columns()
	if err != nil {
		return mysql.Position{}, fmt.Errorf("SHOW MASTER STATUS failed: %w", err)
	}
	var (
		name string
		pos  uint32
	)
	dest := make([]interface{}, len(cols))
	dest[0], dest[1] = &name, &pos
	for i := 2; i < len(dest); i++ {
		dest[i] = new(sql.RawBytes)
	}
	if err := rows.Scan(dest...); err != nil {
		return mysql.Position{}, fmt.Errorf("failed to scan SHOW MASTER STATUS: %w", err)
	}
	return mysql.Position{Name: name, Pos: pos}, nil
}
