// Package database opens the MySQL pool holding the credential store and
// applies its embedded schema migrations.
package database

import (
	"context"
	"database/sql"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Config returns the driver settings for the credential store: utf8mb4, and
// DATETIME columns scanned into time.Time in UTC.
func Config(user, pass, host, port, name string) *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = user
	cfg.Passwd = pass
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, port)
	cfg.DBName = name
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	cfg.Timeout = 5 * time.Second
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg
}

// DSN renders Config as a go-sql-driver connection string.
func DSN(user, pass, host, port, name string) string {
	return Config(user, pass, host, port, name).FormatDSN()
}

// Open connects to MySQL and verifies the connection before returning the
// pool.
func Open(ctx context.Context, user, pass, host, port, name string) (*sql.DB, error) {
	connector, err := mysql.NewConnector(Config(user, pass, host, port, name))
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
