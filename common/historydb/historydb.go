// Package historydb opens the SQLite file that records flow snapshots and
// prompt label changes per promotion.
package historydb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lyzr/flowdeploy/common/db"
	"github.com/lyzr/flowdeploy/common/logger"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// schema creates both history tables; every statement is idempotent
const schema = `
CREATE TABLE IF NOT EXISTS flow_history (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    data TEXT,
    user_id TEXT,
    is_component BOOLEAN,
    updated_at TEXT,
    icon TEXT,
    icon_bg_color TEXT,
    folder_id TEXT,
    endpoint_name TEXT,
    webhook BOOLEAN,
    gradient TEXT,
    tags TEXT,
    locked BOOLEAN,
    fs_path TEXT,
    access_type TEXT,
    mcp_enabled BOOLEAN,
    action_name TEXT,
    action_description TEXT,
    version TEXT NOT NULL,
    environment TEXT NOT NULL,
    created_at TEXT NOT NULL,
    is_exist BOOLEAN NOT NULL DEFAULT 1,
    old_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_flow_history_scope ON flow_history(environment, user_id, version);
CREATE INDEX IF NOT EXISTS idx_flow_history_name ON flow_history(environment, user_id, name);

CREATE TABLE IF NOT EXISTS fuse_history (
    id TEXT PRIMARY KEY,
    history TEXT NOT NULL,
    name TEXT,
    version INTEGER,
    label TEXT NOT NULL,
    operation TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fuse_history_label ON fuse_history(label, history);
`

// Open opens (creating if needed) the history file and migrates it
func Open(ctx context.Context, path string, log *logger.Logger) (*db.SQLStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(wal)", path)
	store, err := db.OpenSQL(ctx, "sqlite3", dsn, log)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	if err := Migrate(ctx, store); err != nil {
		store.Close()
		return nil, err
	}

	log.Info("history store ready", "path", path)
	return store, nil
}

// Migrate creates the history tables and indexes
func Migrate(ctx context.Context, q db.Querier) error {
	if _, err := q.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate history schema: %w", err)
	}
	return nil
}
