// Package calllog 提供基于 SQLite 的本地账本：记录每次网关 RPC 调用的方法、结果和耗时，
// 以及客户端收到的最终消息，供 `prsm history` 查询。
// 存储位置: ~/.prsm/state/calls.db。
package calllog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/CRMbyRSM/PRSM/internal/config"
	"github.com/CRMbyRSM/PRSM/internal/gateway/events"
)

// 调用状态
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// FileName 是数据库文件名
const FileName = "calls.db"

// Config 账本配置
type Config struct {
	Dir        string // 数据库目录，默认 ~/.prsm/state
	MaxAgeDays int    // 记录保留天数，0 不清理
	MaxRecords int    // 每张表最多保留的记录数，0 不限制
}

// FromConfig 把配置文件里的 callLog 段转换成 Config
func FromConfig(c config.CallLogConfig) Config {
	dir := c.Dir
	if dir == "" {
		dir = config.StateDir()
	}
	return Config{Dir: dir, MaxAgeDays: c.MaxAgeDays, MaxRecords: c.MaxRecords}
}

// Call 是一次已结束的 RPC 调用
type Call struct {
	ID           int64  `json:"id"`
	Method       string `json:"method"`
	Status       string `json:"status"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	DurationMs   int64  `json:"durationMs"`
	CreatedAt    string `json:"createdAt"`
}

// MessageRecord 是一条入库的最终消息
type MessageRecord struct {
	ID         int64  `json:"id"`
	MessageID  string `json:"messageId"`
	SessionKey string `json:"sessionKey"`
	RunID      string `json:"runId,omitempty"`
	Role       string `json:"role"`
	Content    string `json:"content"`
	Thinking   string `json:"thinking,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

// Store 账本存储
type Store struct {
	cfg    Config
	dbPath string
	db     *sql.DB
	mu     sync.Mutex
}

// Open 创建目录、打开数据库并建表
func Open(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		cfg.Dir = config.StateDir()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create calllog dir: %w", err)
	}
	s := &Store{cfg: cfg, dbPath: filepath.Join(cfg.Dir, FileName)}
	db, err := sql.Open("sqlite", s.dbPath+"?_pragma=busy_timeout%3d5000&_pragma=journal_mode%3dwal")
	if err != nil {
		return nil, fmt.Errorf("open calllog db: %w", err)
	}
	db.SetMaxOpenConns(1)
	s.db = db
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS rpc_calls (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  method TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'ok',
  error_code TEXT NOT NULL DEFAULT '',
  error_message TEXT NOT NULL DEFAULT '',
  duration_ms INTEGER NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS messages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  message_id TEXT NOT NULL,
  session_key TEXT NOT NULL DEFAULT '',
  run_id TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL DEFAULT '',
  content TEXT NOT NULL DEFAULT '',
  thinking TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  UNIQUE(session_key, message_id)
);`,
		"CREATE INDEX IF NOT EXISTS idx_rpc_calls_created ON rpc_calls(created_at DESC);",
		"CREATE INDEX IF NOT EXISTS idx_rpc_calls_method ON rpc_calls(method);",
		"CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_key, created_at);",
	}
	for _, stmt := range ddl {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("calllog schema: %w", err)
		}
	}
	return nil
}

// Log 记录一次调用。CreatedAt 为空时取当前时间，Status 为空时按 ErrorMessage 推断
func (s *Store) Log(c *Call) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errClosed
	}
	if c.CreatedAt == "" {
		c.CreatedAt = timestamp(time.Now())
	}
	if c.Status == "" {
		c.Status = StatusOK
		if c.ErrorMessage != "" || c.ErrorCode != "" {
			c.Status = StatusError
		}
	}
	res, err := s.db.Exec(
		`INSERT INTO rpc_calls(method, status, error_code, error_message, duration_ms, created_at) VALUES(?,?,?,?,?,?)`,
		c.Method, c.Status, c.ErrorCode, c.ErrorMessage, c.DurationMs, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("log call: %w", err)
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

// LogMessage 保存一条最终消息。同一会话内重复的消息 ID 只保留第一次
func (s *Store) LogMessage(m events.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errClosed
	}
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO messages(message_id, session_key, run_id, role, content, thinking, created_at) VALUES(?,?,?,?,?,?,?)`,
		m.ID, m.SessionKey, m.RunID, m.Role, m.Text, m.Thinking, timestamp(ts),
	)
	if err != nil {
		return fmt.Errorf("log message: %w", err)
	}
	return nil
}

// QueryParams 调用查询条件
type QueryParams struct {
	Method string    // 按方法过滤
	Status string    // ok / error
	Since  time.Time // 起始时间，含
	Limit  int       // 默认 50
	Offset int
}

// Query 按时间倒序分页查询调用，同时返回满足条件的总数
func (s *Store) Query(p QueryParams) ([]Call, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, 0, errClosed
	}
	if p.Limit <= 0 {
		p.Limit = 50
	}

	var conds []string
	var args []any
	if p.Method != "" {
		conds = append(conds, "method=?")
		args = append(args, p.Method)
	}
	if p.Status != "" {
		conds = append(conds, "status=?")
		args = append(args, p.Status)
	}
	if !p.Since.IsZero() {
		conds = append(conds, "created_at>=?")
		args = append(args, timestamp(p.Since))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM rpc_calls"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count calls: %w", err)
	}

	rows, err := s.db.Query(
		"SELECT id, method, status, error_code, error_message, duration_ms, created_at FROM rpc_calls"+where+
			" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		append(args, p.Limit, p.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	calls := []Call{}
	for rows.Next() {
		var c Call
		if err := rows.Scan(&c.ID, &c.Method, &c.Status, &c.ErrorCode, &c.ErrorMessage, &c.DurationMs, &c.CreatedAt); err != nil {
			return nil, 0, err
		}
		calls = append(calls, c)
	}
	return calls, total, rows.Err()
}

// MessageQuery 消息查询条件
type MessageQuery struct {
	SessionKey string // 为空时查询全部会话
	Search     string // 内容包含的文本，忽略大小写
	Limit      int    // 默认 50，返回最后 Limit 条
}

// Messages 按时间正序返回满足条件的最后 Limit 条消息
func (s *Store) Messages(q MessageQuery) ([]MessageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, errClosed
	}
	if q.Limit <= 0 {
		q.Limit = 50
	}
	var conds []string
	var args []any
	if q.SessionKey != "" {
		conds = append(conds, "session_key=?")
		args = append(args, q.SessionKey)
	}
	if q.Search != "" {
		conds = append(conds, "LOWER(content) LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(strings.ToLower(q.Search))+"%")
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	rows, err := s.db.Query(
		"SELECT id, message_id, session_key, run_id, role, content, thinking, created_at FROM ("+
			"SELECT * FROM messages"+where+" ORDER BY created_at DESC, id DESC LIMIT ?"+
			") ORDER BY created_at ASC, id ASC",
		append(args, q.Limit)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	out := []MessageRecord{}
	for rows.Next() {
		var m MessageRecord
		if err := rows.Scan(&m.ID, &m.MessageID, &m.SessionKey, &m.RunID, &m.Role, &m.Content, &m.Thinking, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Stats 账本统计
type Stats struct {
	TotalCalls    int            `json:"totalCalls"`
	FailedCalls   int            `json:"failedCalls"`
	TotalMessages int            `json:"totalMessages"`
	ByMethod      map[string]int `json:"byMethod"`
	AvgDurationMs float64        `json:"avgDurationMs"`
	Earliest      string         `json:"earliest"`
	Latest        string         `json:"latest"`
}

// Stats 汇总调用和消息数量
func (s *Store) Stats() (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, errClosed
	}
	st := &Stats{ByMethod: make(map[string]int)}
	err := s.db.QueryRow(`SELECT COUNT(*),
  COALESCE(SUM(CASE WHEN status='error' THEN 1 ELSE 0 END),0),
  COALESCE(AVG(duration_ms),0),
  COALESCE(MIN(created_at),''),
  COALESCE(MAX(created_at),'')
FROM rpc_calls`).Scan(&st.TotalCalls, &st.FailedCalls, &st.AvgDurationMs, &st.Earliest, &st.Latest)
	if err != nil {
		return nil, fmt.Errorf("call stats: %w", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&st.TotalMessages); err != nil {
		return nil, fmt.Errorf("message stats: %w", err)
	}
	rows, err := s.db.Query("SELECT method, COUNT(*) FROM rpc_calls GROUP BY method")
	if err != nil {
		return nil, fmt.Errorf("method stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var method string
		var n int
		if err := rows.Scan(&method, &n); err != nil {
			return nil, err
		}
		st.ByMethod[method] = n
	}
	return st, rows.Err()
}

// Cleanup 按保留天数和最大条数清理两张表，返回删除总数。参数为 0 时用配置值
func (s *Store) Cleanup(maxAgeDays, maxRecords int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return 0, errClosed
	}
	if maxAgeDays == 0 {
		maxAgeDays = s.cfg.MaxAgeDays
	}
	if maxRecords == 0 {
		maxRecords = s.cfg.MaxRecords
	}

	var deleted int64
	exec := func(query string, args ...any) error {
		res, err := s.db.Exec(query, args...)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		n, _ := res.RowsAffected()
		deleted += n
		return nil
	}
	for _, table := range []string{"rpc_calls", "messages"} {
		if maxAgeDays > 0 {
			cutoff := timestamp(time.Now().AddDate(0, 0, -maxAgeDays))
			if err := exec("DELETE FROM "+table+" WHERE created_at < ?", cutoff); err != nil {
				return deleted, err
			}
		}
		if maxRecords > 0 {
			if err := exec("DELETE FROM "+table+" WHERE id NOT IN (SELECT id FROM "+table+" ORDER BY created_at DESC, id DESC LIMIT ?)", maxRecords); err != nil {
				return deleted, err
			}
		}
	}
	return deleted, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// DBPath 返回数据库文件路径
func (s *Store) DBPath() string { return s.dbPath }

var errClosed = errors.New("calllog: store closed")

func timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
