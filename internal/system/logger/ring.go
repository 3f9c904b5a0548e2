package logger

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Entry 是内存中保存的一条日志
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Ring 是固定容量的日志环形缓冲区，写满后覆盖最旧的记录
type Ring struct {
	mu      sync.RWMutex
	entries []Entry
	pos     int
	count   int
}

// NewRing 创建容量为 size 的缓冲区
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 500
	}
	return &Ring{entries: make([]Entry, size)}
}

// Add 追加一条记录
func (r *Ring) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[r.pos] = e
	r.pos = (r.pos + 1) % len(r.entries)
	if r.count < len(r.entries) {
		r.count++
	}
}

// Entries 按时间顺序返回缓冲区内容
func (r *Ring) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, r.count)
	if r.count < len(r.entries) {
		return append(out, r.entries[:r.count]...)
	}
	out = append(out, r.entries[r.pos:]...)
	return append(out, r.entries[:r.pos]...)
}

// RingHandler 把记录写入 Ring，同时转发给 inner（可为 nil）
type RingHandler struct {
	ring   *Ring
	inner  slog.Handler
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

// NewRingHandler 创建 handler。inner 为 nil 时只写缓冲区，level 决定最低级别
func NewRingHandler(ring *Ring, inner slog.Handler, level slog.Leveler) *RingHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &RingHandler{ring: ring, inner: inner, level: level}
}

// Enabled implements slog.Handler.
func (h *RingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level >= h.level.Level() {
		return true
	}
	return h.inner != nil && h.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *RingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.level.Level() {
		attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
		for _, a := range h.attrs {
			attrs[a.Key] = a.Value.Any()
		}
		r.Attrs(func(a slog.Attr) bool {
			attrs[h.prefix+a.Key] = a.Value.Any()
			return true
		})
		e := Entry{Time: r.Time, Level: r.Level.String(), Message: r.Message}
		if len(attrs) > 0 {
			e.Attrs = attrs
		}
		h.ring.Add(e)
	}
	if h.inner != nil && h.inner.Enabled(ctx, r.Level) {
		return h.inner.Handle(ctx, r)
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *RingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]slog.Attr{}, h.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	if h.inner != nil {
		next.inner = h.inner.WithAttrs(attrs)
	}
	return &next
}

// WithGroup implements slog.Handler.
func (h *RingHandler) WithGroup(name string) slog.Handler {
	if strings.TrimSpace(name) == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	if h.inner != nil {
		next.inner = h.inner.WithGroup(name)
	}
	return &next
}
