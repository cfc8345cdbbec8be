// Package dbtest opens throwaway SQLite databases for store tests.
package dbtest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/jrsteele09/go-pairing-server/internal/db"
)

var seq atomic.Int64

// Open returns an in-memory SQLite connection with the same PRAGMAs and
// schema as production. The connection is closed when the test finishes.
func Open(t *testing.T) *sql.DB {
	t.Helper()

	// Unique name per call; the shared-cache URI keeps the database alive for
	// the lifetime of the pool even if sql.DB recycles the connection.
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf(
		"file:test_%s_%d?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)",
		name, seq.Add(1),
	)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("dbtest.Open: sql.Open: %v", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		t.Fatalf("dbtest.Open: ping: %v", err)
	}

	if err := db.Migrate(context.Background(), conn); err != nil {
		conn.Close()
		t.Fatalf("dbtest.Open: migrate: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

// NewWriter returns a db.Worker backed by conn, closed when the test finishes.
func NewWriter(t *testing.T, conn *sql.DB) *db.Worker {
	t.Helper()

	w := db.NewWorker(conn)
	t.Cleanup(func() { w.Close() })
	return w
}
