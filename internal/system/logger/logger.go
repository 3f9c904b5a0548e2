// Package logger 提供 slog 的文件输出：按日期和大小轮转，可选 stderr 双写。
// 日志文件位于 ~/.prsm/logs/，文件名形如 prsm-2026-01-02.log，
// 同一天超过大小上限时依次写入 prsm-2026-01-02.1.log、.2.log ……
package logger

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/CRMbyRSM/PRSM/internal/config"
)

const filePrefix = "prsm-"

// Config 日志管理器配置
type Config struct {
	Dir           string     // 日志目录，默认 ~/.prsm/logs
	Level         slog.Level // 最低日志级别
	MaxAgeDays    int        // 保留天数，0 不清理
	MaxSizeMB     int        // 单文件上限，超过后换下一个序号
	StderrEnabled bool       // 同时写 stderr
}

// FromConfig 把配置文件里的 log 段转换成 Config
func FromConfig(c config.LogConfig) Config {
	dir := c.Dir
	if dir == "" {
		dir = config.LogDir()
	}
	return Config{
		Dir:           dir,
		Level:         ParseLevel(c.Level),
		MaxAgeDays:    c.MaxAgeDays,
		MaxSizeMB:     c.MaxSizeMB,
		StderrEnabled: c.StderrEnabled,
	}
}

// ParseLevel 解析 debug/info/warn/error，无法识别时返回 info
func ParseLevel(s string) slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// Manager 管理日志文件生命周期，实现 io.Writer
type Manager struct {
	cfg     Config
	stderr  io.Writer
	now     func() time.Time
	mu      sync.Mutex
	file    *os.File
	size    int64
	curDate string
}

// New 创建目录并打开当天的日志文件
func New(cfg Config) (*Manager, error) {
	if cfg.Dir == "" {
		cfg.Dir = config.LogDir()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	m := &Manager{cfg: cfg, stderr: os.Stderr, now: time.Now}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.rotateLocked(0); err != nil {
		return nil, err
	}
	return m, nil
}

// NewSlogHandler 返回写入日志文件的文本 handler
func (m *Manager) NewSlogHandler() slog.Handler {
	return slog.NewTextHandler(m, &slog.HandlerOptions{Level: m.cfg.Level})
}

// NewLogger 返回基于文件的 slog.Logger
func (m *Manager) NewLogger() *slog.Logger {
	return slog.New(m.NewSlogHandler())
}

// Write 写入当前文件，必要时先轮转
func (m *Manager) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.needsRotateLocked(len(p)) {
		if err := m.rotateLocked(len(p)); err != nil {
			return 0, err
		}
	}
	n, err := m.file.Write(p)
	m.size += int64(n)
	if m.cfg.StderrEnabled && m.stderr != nil {
		_, _ = m.stderr.Write(p)
	}
	return n, err
}

// Close 关闭日志文件
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return err
}

// LogDir 返回日志目录
func (m *Manager) LogDir() string { return m.cfg.Dir }

// CurrentLogFile 返回正在写入的文件路径
func (m *Manager) CurrentLogFile() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file != nil {
		return m.file.Name()
	}
	return logFileName(m.cfg.Dir, m.now().Format(time.DateOnly), 0)
}

func (m *Manager) maxBytes() int64 {
	return int64(m.cfg.MaxSizeMB) * 1024 * 1024
}

func (m *Manager) needsRotateLocked(incoming int) bool {
	if m.file == nil || m.curDate != m.now().Format(time.DateOnly) {
		return true
	}
	return m.cfg.MaxSizeMB > 0 && m.size > 0 && m.size+int64(incoming) > m.maxBytes()
}

// rotateLocked 打开当天第一个还能容纳 incoming 字节的文件
func (m *Manager) rotateLocked(incoming int) error {
	if m.file != nil {
		_ = m.file.Close()
		m.file = nil
	}
	today := m.now().Format(time.DateOnly)
	path := logFileName(m.cfg.Dir, today, 0)
	var size int64
	for seq := 0; seq < 1000; seq++ {
		path = logFileName(m.cfg.Dir, today, seq)
		info, err := os.Stat(path)
		if err != nil {
			size = 0
			break
		}
		size = info.Size()
		if m.cfg.MaxSizeMB <= 0 || size == 0 || size+int64(incoming) <= m.maxBytes() {
			break
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	m.file = f
	m.size = size
	m.curDate = today
	return nil
}

// Cleanup 删除超过保留天数的日志文件，返回删除数量
func (m *Manager) Cleanup() (int, error) {
	return Cleanup(m.cfg.Dir, m.cfg.MaxAgeDays)
}

// Cleanup 删除 dir 中修改时间早于 maxAgeDays 天的日志文件
func Cleanup(dir string, maxAgeDays int) (int, error) {
	if maxAgeDays <= 0 {
		return 0, nil
	}
	files, err := ListLogFiles(dir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)
	removed := 0
	for _, f := range files {
		if f.ModTime.Before(cutoff) {
			if err := os.Remove(f.Path); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// LogFileInfo 描述单个日志文件
type LogFileInfo struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// ListLogFiles 列出 dir 中的日志文件，最新的在前。目录不存在时返回空
func ListLogFiles(dir string) ([]LogFileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var files []LogFileInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, LogFileInfo{
			Name:    name,
			Path:    filepath.Join(dir, name),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].ModTime.After(files[j].ModTime)
		}
		return files[i].Name > files[j].Name
	})
	return files, nil
}

// Latest 返回最新的日志文件路径
func Latest(dir string) (string, error) {
	files, err := ListLogFiles(dir)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", fmt.Errorf("no log files in %s", dir)
	}
	return files[0].Path, nil
}

// TotalSize 返回日志目录总字节数
func TotalSize(dir string) (int64, error) {
	files, err := ListLogFiles(dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, f := range files {
		total += f.Size
	}
	return total, nil
}

// TailFile 返回文件最后 n 个非空行，n<=0 时取 200
func TailFile(path string, n int) ([]string, error) {
	return scanFile(path, n, nil)
}

// QueryFile 返回包含 pattern 的行（忽略大小写），最多保留最后 n 行
func QueryFile(path, pattern string, n int) ([]string, error) {
	q := strings.ToLower(pattern)
	return scanFile(path, n, func(line string) bool {
		return strings.Contains(strings.ToLower(line), q)
	})
}

func scanFile(path string, n int, keep func(string) bool) ([]string, error) {
	if n <= 0 {
		n = 200
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, 0, n)
	start := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || (keep != nil && !keep(line)) {
			continue
		}
		if len(ring) < n {
			ring = append(ring, line)
			continue
		}
		ring[start] = line
		start = (start + 1) % n
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return append(ring[start:], ring[:start]...), nil
}

// FollowFile 把文件新增内容复制到 w，直到 ctx 结束
func FollowFile(ctx context.Context, path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	buf := make([]byte, 4096)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
		}
		if readErr != nil && readErr != io.EOF {
			return readErr
		}
		if readErr == io.EOF {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	}
}

func logFileName(dir, date string, seq int) string {
	if seq == 0 {
		return filepath.Join(dir, filePrefix+date+".log")
	}
	return filepath.Join(dir, fmt.Sprintf("%s%s.%d.log", filePrefix, date, seq))
}
