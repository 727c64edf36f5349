package marketdata

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// Cache persists one columnar file per symbol under the cache directory:
// {SYMBOL}.msgpack holding every daily row ever retrieved for that symbol.
// Writes go through a .tmp file and an atomic rename, so a crash mid-write
// never leaves a partial cache file behind.
//
// Concurrency: readers may read freely; a potential writer must hold the
// symbol's lock (see Locks) and re-check coverage under it.
type Cache struct {
	dir string
	log zerolog.Logger
}

// NewCache creates a cache rooted at dir.
func NewCache(dir string, log zerolog.Logger) *Cache {
	return &Cache{
		dir: dir,
		log: log.With().Str("component", "symbol_cache").Logger(),
	}
}

func (c *Cache) path(symbol string) string {
	return filepath.Join(c.dir, symbol+".msgpack")
}

// Load reads a symbol's table. Returns (nil, nil) when the symbol has never
// been cached. A corrupt file is treated as a miss so it gets refetched and
// rewritten rather than poisoning every request.
func (c *Cache) Load(symbol string) (*Table, error) {
	data, err := os.ReadFile(c.path(symbol))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache for %s: %w", symbol, err)
	}

	var t Table
	if err := msgpack.Unmarshal(data, &t); err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Corrupt cache file, treating as miss")
		return nil, nil
	}
	if err := t.Validate(); err != nil {
		c.log.Warn().Err(err).Str("symbol", symbol).Msg("Invalid cache contents, treating as miss")
		return nil, nil
	}
	return &t, nil
}

// Store writes a symbol's table atomically (tmp file, then rename).
func (c *Cache) Store(symbol string, t *Table) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("refusing to cache invalid table for %s: %w", symbol, err)
	}

	data, err := msgpack.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode cache for %s: %w", symbol, err)
	}

	final := c.path(symbol)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cache tmp for %s: %w", symbol, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("rename cache for %s: %w", symbol, err)
	}
	return nil
}

// Wipe removes all cache files, including stragglers from interrupted
// writes. The cache directory itself is kept.
func (c *Cache) Wipe() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".msgpack") || strings.HasSuffix(name, ".msgpack.tmp") {
			if err := os.Remove(filepath.Join(c.dir, name)); err != nil {
				return err
			}
			removed++
		}
	}
	c.log.Info().Int("files", removed).Msg("Cache wiped")
	return nil
}

// FileCount reports the number of cached symbols (for the status endpoint).
func (c *Cache) FileCount() int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".msgpack") {
			n++
		}
	}
	return n
}

// Locks hands out one mutex per symbol. The map itself is guarded by a
// map-level mutex; callers acquire multiple symbols in sorted order only,
// which precludes deadlock.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocks creates an empty lock table.
func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*sync.Mutex)}
}

func (l *Locks) lock(symbol string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[symbol]
	if !ok {
		m = &sync.Mutex{}
		l.locks[symbol] = m
	}
	return m
}

// AcquireSorted locks the given symbols in sorted order and returns a
// release function that unlocks them in reverse.
func (l *Locks) AcquireSorted(symbols []string) func() {
	sorted := make([]string, len(symbols))
	copy(sorted, symbols)
	sort.Strings(sorted)

	held := make([]*sync.Mutex, 0, len(sorted))
	for _, s := range sorted {
		m := l.lock(s)
		m.Lock()
		held = append(held, m)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
