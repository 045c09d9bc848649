package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	driver "github.com/go-sql-driver/mysql"
	"gopkg.in/yaml.v3"
)

// Config is the application configuration, loaded from YAML.
type Config struct {
	MySQL    MySQLConfig     `yaml:"mysql"`
	Binlog   BinlogConfig    `yaml:"binlog"`
	NATS     NATSConfig      `yaml:"nats"`
	Logging  LoggingConfig   `yaml:"logging"`
	Triggers []TriggerConfig `yaml:"triggers"`
}

// MySQLConfig identifies the server to replicate from. Either the discrete
// fields or a driver DSN may be given; a DSN wins and is normalized into the
// discrete fields at load time.
type MySQLConfig struct {
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     uint16 `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	ServerID uint32 `yaml:"server_id"`
	Flavor   string `yaml:"flavor"` // mysql, mariadb
}

// BinlogConfig controls where consumption starts and what gets dispatched.
type BinlogConfig struct {
	PositionFile  string              `yaml:"position_file"`
	StartAtEnd    bool                `yaml:"start_at_end"`
	StartFile     string              `yaml:"start_file"`
	StartPosition uint32              `yaml:"start_position"`
	IncludeEvents []string            `yaml:"include_events"`
	ExcludeEvents []string            `yaml:"exclude_events"`
	IncludeSchema map[string][]string `yaml:"include_schema"`
	ExcludeSchema map[string][]string `yaml:"exclude_schema"`
}

type NATSConfig struct {
	URL           string        `yaml:"url"`
	MaxReconnect  int           `yaml:"max_reconnect"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TriggerConfig declares one trigger to register at startup. At least one of
// Subject (NATS destination) or Script (JavaScript handler file) is required;
// with both, the script runs first and its result is published.
type TriggerConfig struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
	Statement  string `yaml:"statement"` // ALL, INSERT, UPDATE, DELETE
	Subject    string `yaml:"subject"`
	Script     string `yaml:"script"`
}

// LoadConfig reads, parses and normalizes the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.MySQL.DSN != "" {
		if err := config.MySQL.applyDSN(); err != nil {
			return nil, err
		}
	}

	// Set defaults
	if config.NATS.ReconnectWait == 0 {
		config.NATS.ReconnectWait = 2 * time.Second
	}
	if config.MySQL.Flavor == "" {
		config.MySQL.Flavor = "mysql"
	}
	if config.MySQL.Port == 0 {
		config.MySQL.Port = 3306
	}
	if config.MySQL.ServerID == 0 {
		config.MySQL.ServerID = 1
	}

	for i, t := range config.Triggers {
		if t.Name == "" {
			return nil, fmt.Errorf("trigger #%d: name is required", i+1)
		}
		if t.Expression == "" {
			return nil, fmt.Errorf("trigger %q: expression is required", t.Name)
		}
		if t.Subject == "" && t.Script == "" {
			return nil, fmt.Errorf("trigger %q: subject or script is required", t.Name)
		}
	}

	return &config, nil
}

// applyDSN normalizes a go-sql-driver DSN into the discrete connection fields.
func (c *MySQLConfig) applyDSN() error {
	parsed, err := driver.ParseDSN(c.DSN)
	if err != nil {
		return fmt.Errorf("failed to parse mysql dsn: %w", err)
	}

	host, portStr, err := net.SplitHostPort(parsed.Addr)
	if err != nil {
		host = parsed.Addr
		portStr = "3306"
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return fmt.Errorf("invalid port in mysql dsn: %w", err)
	}

	c.Host = host
	c.Port = uint16(port)
	c.User = parsed.User
	c.Password = parsed.Passwd
	return nil
}
