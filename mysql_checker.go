package main

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	"github.com/sirupsen/logrus"

	"mysql-triggers/internal/binlog"
)

// preflight verifies that the configured account can actually act as a
// replication client before the engine is started: connectivity, the
// required grants, and the binlog settings row events depend on.
type preflight struct {
	cfg    binlog.Config
	logger *logrus.Logger
}

func newPreflight(cfg binlog.Config, logger *logrus.Logger) *preflight {
	return &preflight{cfg: cfg, logger: logger}
}

func (p *preflight) run() error {
	db, err := sql.Open("mysql", p.cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to open MySQL connection: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to MySQL server: %w", err)
	}
	p.logger.Info("Successfully connected to MySQL server")

	if err := p.checkGrants(db); err != nil {
		return err
	}
	return p.checkBinlogSettings(db)
}

func (p *preflight) checkGrants(db *sql.DB) error {
	rows, err := db.Query("SHOW GRANTS FOR CURRENT_USER()")
	if err != nil {
		// MySQL 5.6 fallback
		rows, err = db.Query("SHOW GRANTS")
		if err != nil {
			return fmt.Errorf("failed to check grants: %w", err)
		}
	}
	defer rows.Close()

	var grants strings.Builder
	for rows.Next() {
		var grant string
		if err := rows.Scan(&grant); err != nil {
			return fmt.Errorf("failed to scan grant: %w", err)
		}
		if grants.Len() > 0 {
			grants.WriteString("; ")
		}
		grants.WriteString(grant)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating grants: %w", err)
	}

	grantsUpper := strings.ToUpper(grants.String())
	if strings.Contains(grantsUpper, "ALL PRIVILEGES") {
		p.logger.Info("All required permissions verified")
		return nil
	}

	var missing []string
	for _, priv := range []string{"REPLICATION SLAVE", "REPLICATION CLIENT", "SELECT"} {
		if !strings.Contains(grantsUpper, priv) {
			missing = append(missing, priv)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required permissions: %s. Current grants: %s",
			strings.Join(missing, ", "), grants.String())
	}

	p.logger.Info("All required permissions verified")
	return nil
}

func (p *preflight) checkBinlogSettings(db *sql.DB) error {
	var logBin string
	if err := db.QueryRow("SELECT @@log_bin").Scan(&logBin); err != nil {
		p.logger.Warn("Could not verify binlog status")
	} else if logBin == "0" || strings.EqualFold(logBin, "OFF") {
		return fmt.Errorf("binary logging (log_bin) is not enabled")
	} else {
		p.logger.Info("Binary logging is enabled")
	}

	var format string
	if err := db.QueryRow("SELECT @@binlog_format").Scan(&format); err != nil {
		p.logger.Warn("Could not verify binlog_format")
		return nil
	}
	if format != "ROW" {
		return fmt.Errorf("binlog_format is %q, row-level triggers require ROW", format)
	}
	p.logger.Info("binlog_format is set to ROW")

	var rowImage string
	if err := db.QueryRow("SELECT @@binlog_row_image").Scan(&rowImage); err == nil && format == "ROW" {
		if !strings.EqualFold(rowImage, "FULL") {
			p.logger.Warnf("binlog_row_image is %q; before/after images need FULL", rowImage)
		}
	}

	var rowMetadata string
	if err := db.QueryRow("SELECT @@binlog_row_metadata").Scan(&rowMetadata); err == nil {
		if !strings.EqualFold(rowMetadata, "FULL") {
			p.logger.Warnf("binlog_row_metadata is %q; column names will be fetched from INFORMATION_SCHEMA", rowMetadata)
		}
	}

	return nil
}
