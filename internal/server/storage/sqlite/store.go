package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"dhcptap/internal/server/storage"
	"dhcptap/pkg/model"
)

type Store struct {
	db  *sql.DB
	ins *sql.Stmt
}

var _ storage.Store = (*Store)(nil)

func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "./dhcp_events.sqlite"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 失败：%w", err)
	}
	// 单连接写入，避免 database is locked
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	ddl := `
CREATE TABLE IF NOT EXISTS dhcp_events (
	timestamp      TIMESTAMP,
	interface      TEXT,
	if_index       INTEGER,
	family         INTEGER,
	src_mac        TEXT,
	src_ip         TEXT,
	src_port       INTEGER,
	msg_type       TEXT,
	xid            INTEGER,
	client_hw_addr TEXT,
	hostname       TEXT,
	requested_ip   TEXT,
	payload_size   INTEGER,
	payload        BLOB
);
CREATE INDEX IF NOT EXISTS idx_dhcp_src_ip    ON dhcp_events(src_ip);
CREATE INDEX IF NOT EXISTS idx_dhcp_src_mac   ON dhcp_events(src_mac);
CREATE INDEX IF NOT EXISTS idx_dhcp_client_hw ON dhcp_events(client_hw_addr);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("建表失败：%w", err)
	}
	stmt, err := s.db.Prepare(`INSERT INTO dhcp_events (` + storage.Columns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`)
	if err != nil {
		return fmt.Errorf("准备插入语句失败：%w", err)
	}
	s.ins = stmt
	return nil
}

func (s *Store) Insert(ctx context.Context, ev *model.DHCPEvent) error {
	if ev == nil {
		return fmt.Errorf("event 为空")
	}
	if _, err := s.ins.ExecContext(ctx, storage.InsertArgs(ev)...); err != nil {
		return fmt.Errorf("插入失败：%w", err)
	}
	return nil
}

func (s *Store) QueryByIP(ctx context.Context, ip string, limit int) ([]model.DHCPEvent, error) {
	return s.query(ctx, `src_ip = ? OR requested_ip = ?`, ip, limit)
}

func (s *Store) QueryByMAC(ctx context.Context, mac string, limit int) ([]model.DHCPEvent, error) {
	return s.query(ctx, `src_mac = ? OR client_hw_addr = ?`, mac, limit)
}

func (s *Store) query(ctx context.Context, where, key string, limit int) ([]model.DHCPEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+storage.Columns+`
FROM dhcp_events
WHERE `+where+`
ORDER BY timestamp DESC
LIMIT ?;
`, key, key, storage.NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("查询失败：%w", err)
	}
	defer rows.Close()
	return storage.ScanEvents(rows)
}

func (s *Store) Close() error {
	var firstErr error
	if s.ins != nil {
		if err := s.ins.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
