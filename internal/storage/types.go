// Package storage is the durable store for registered users and their
// grade records, backed by SQLite.
//
// Only the coordinator writes through it.
package storage

import (
	"time"
)

// Config configures storage.
//
// Driver values:
//   - "sqlite" (default): SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means 5s
}

type User struct {
	ID       int64  `db:"id"`
	Username string `db:"username"`
	Channel  string `db:"channel"`
}
