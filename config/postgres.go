package config

import (
	"context"
	"fmt"
	"time"
)

// PostgresConfig defines the configuration for connecting to a PostgreSQL database.
type PostgresConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	TimeZone string `mapstructure:"timezone"`

	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Parameter Store names holding the production connection credentials.
const (
	ParamDBHost     = "CROSSSCANNER_DB_HOST"
	ParamDBUser     = "CROSSSCANNER_DB_USER"
	ParamDBPassword = "CROSSSCANNER_DB_PASSWORD"
)

// DSN builds the connection string. In prod, host and credentials come from
// Parameter Store.
func (cfg *PostgresConfig) DSN(env string) string {
	host, user, password := cfg.Host, cfg.User, cfg.Password
	if env == "prod" {
		host = parameterOrEmpty(ParamDBHost)
		user = parameterOrEmpty(ParamDBUser)
		password = parameterOrEmpty(ParamDBPassword)
	}
	return cfg.dsn(host, user, password, cfg.DBName)
}

// AdminDSN points at the maintenance database, used to create cfg.DBName.
func (cfg *PostgresConfig) AdminDSN() string {
	return cfg.dsn(cfg.Host, cfg.User, cfg.Password, "postgres")
}

func (cfg *PostgresConfig) dsn(host, user, password, dbname string) string {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, cfg.Port, user, password, dbname, cfg.SSLMode,
	)

	if cfg.TimeZone != "" {
		dsn += fmt.Sprintf(" TimeZone=%s", cfg.TimeZone)
	}

	return dsn
}

func parameterOrEmpty(name string) string {
	v, err := ReadParameter(context.Background(), name, true)
	if err != nil {
		return ""
	}
	return v
}
