package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

// ErrConfigChanged is returned by SaveIfUnchanged when the file on disk no
// longer matches the snapshot the caller edited.
var ErrConfigChanged = errors.New("config changed on disk since it was loaded")

const defaultCacheTTL = 500 * time.Millisecond

// Cache 持有某个配置文件的快照及其 hash。快照过期后 Get 会重新读盘，
// SaveIfUnchanged 用 hash 做乐观锁，避免覆盖别处的修改。
type Cache struct {
	mu       sync.Mutex
	path     string
	snap     *Config
	hash     string
	loadedAt time.Time
	ttl      time.Duration
}

// OpenCache 读取 path 处的配置并建立缓存；文件不存在时快照为默认配置。
func OpenCache(path string, ttl time.Duration) (*Cache, error) {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	c := &Cache{path: path, ttl: ttl}
	if err := c.reloadLocked(); err != nil {
		return nil, err
	}
	return c, nil
}

// Path 返回缓存对应的配置文件路径
func (c *Cache) Path() string { return c.path }

// Get 返回当前快照。读盘失败时保留旧快照，并重新计时。
func (c *Cache) Get() *Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.loadedAt) >= c.ttl {
		if err := c.reloadLocked(); err != nil {
			c.loadedAt = time.Now()
		}
	}
	return c.snap
}

// Hash 返回快照的 SHA-256
func (c *Cache) Hash() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hash
}

// Invalidate 让下一次 Get 重新读盘
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.loadedAt = time.Time{}
	c.mu.Unlock()
}

// SaveIfUnchanged 仅当磁盘上的配置 hash 仍等于 expectedHash 时写入 cfg。
func (c *Cache) SaveIfUnchanged(cfg *Config, expectedHash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	onDisk, err := LoadFile(c.path)
	if err != nil {
		return err
	}
	if configHash(onDisk) != expectedHash {
		return ErrConfigChanged
	}
	if err := SaveFile(c.path, cfg); err != nil {
		return err
	}
	c.store(cfg)
	return nil
}

func (c *Cache) reloadLocked() error {
	cfg, err := LoadFile(c.path)
	if err != nil {
		return err
	}
	c.store(cfg)
	return nil
}

func (c *Cache) store(cfg *Config) {
	c.snap = cfg
	c.hash = configHash(cfg)
	c.loadedAt = time.Now()
}

// configHash 对 YAML 形式求摘要，字段顺序固定所以结果稳定
func configHash(cfg *Config) string {
	data, err := marshalConfigYAML(cfg)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
