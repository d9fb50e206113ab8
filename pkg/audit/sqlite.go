package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS interactions (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	user       TEXT NOT NULL,
	config_id  TEXT NOT NULL,
	violation  INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	payload    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interactions_user ON interactions(user, seq);
`

// SQLiteLog 将审计记录写入 SQLite 的 interactions 表，按自增序号保证追加顺序。
type SQLiteLog struct {
	db *sql.DB
}

// NewSQLiteLog 打开（必要时创建）数据库并初始化表结构。
func NewSQLiteLog(path string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// SQLite 仅允许单写者
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return &SQLiteLog{db: db}, nil
}

// Append 实现 Log 接口。
func (l *SQLiteLog) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = NewID()
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO interactions (id, user, config_id, violation, created_at, payload) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.User, rec.PolicyID, rec.Violation, rec.Timestamp.UTC().Format(time.RFC3339Nano), string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// Fetch 实现 Log 接口。
func (l *SQLiteLog) Fetch(ctx context.Context, user string) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT payload FROM interactions WHERE user = ? ORDER BY seq`, user)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var rec Record
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, fmt.Errorf("decode audit record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close 关闭数据库连接。
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}
