// Package cache remembers which task inputs produced which build outputs so
// unchanged files can be skipped on the next run.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ben-ranford/wxpack/internal/safeio"
)

// SchemaVersion is bumped whenever the on-disk layout changes.
const SchemaVersion uint16 = 2

const indexFileName = "index.mp"

// Entry records one processed input file.
type Entry struct {
	Digest string `msgpack:"digest"`
	// Dependencies maps every other file read while processing the input to
	// its content digest.
	Dependencies map[string]string `msgpack:"dependencies,omitempty"`
	// Resolutions lists the require requests answered while processing the
	// input. A request that now resolves elsewhere invalidates the entry.
	Resolutions []Resolution `msgpack:"resolutions,omitempty"`
	Outputs     []string     `msgpack:"outputs"`
}

// Resolution records the file a require request made from BaseDir resolved to.
type Resolution struct {
	Request string `msgpack:"request"`
	BaseDir string `msgpack:"base_dir"`
	Path    string `msgpack:"path"`
}

type payload struct {
	Schema       uint16           `msgpack:"schema"`
	ConfigDigest string           `msgpack:"config_digest"`
	Entries      map[string]Entry `msgpack:"entries"`
}

type Invalidation struct {
	Key    string
	Reason string
}

type Cache struct {
	mu           sync.Mutex
	dir          string
	configDigest string
	entries      map[string]Entry
	dirty        bool
	warnings     []string
}

// Digest returns the hex sha256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Key identifies an input file within a task.
func Key(task, path string) string {
	return task + ":" + filepath.ToSlash(path)
}

// Open loads the index stored in dir. A missing, unreadable or outdated index
// yields an empty cache; the reason is reported through Warnings.
func Open(dir, configDigest string) *Cache {
	c := &Cache{dir: dir, configDigest: configDigest, entries: make(map[string]Entry)}
	data, err := os.ReadFile(c.indexPath())
	if errors.Is(err, fs.ErrNotExist) {
		return c
	}
	if err != nil {
		c.warn("build cache unavailable: " + err.Error())
		return c
	}

	var stored payload
	if err := msgpack.Unmarshal(data, &stored); err != nil {
		c.warn("build cache discarded: " + err.Error())
		c.dirty = true
		return c
	}
	switch {
	case stored.Schema != SchemaVersion:
		c.warn(fmt.Sprintf("build cache discarded: schema %d, want %d", stored.Schema, SchemaVersion))
		c.dirty = true
	case stored.ConfigDigest != configDigest:
		c.warn("build cache discarded: configuration changed")
		c.dirty = true
	default:
		if stored.Entries != nil {
			c.entries = stored.Entries
		}
	}
	return c
}

func (c *Cache) indexPath() string {
	return filepath.Join(c.dir, indexFileName)
}

func (c *Cache) warn(message string) {
	c.warnings = append(c.warnings, message)
}

// Warnings drains the messages collected since the last call.
func (c *Cache) Warnings() []string {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.warnings
	c.warnings = nil
	return out
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Lookup reports whether key was processed from content with digest and
// every dependency and output it recorded is still in place. The returned
// invalidation explains a miss for an existing entry.
func (c *Cache) Lookup(key, digest string) (Entry, bool, *Invalidation) {
	if c == nil {
		return Entry{}, false, nil
	}
	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return Entry{}, false, nil
	}
	if entry.Digest != digest {
		return Entry{}, false, &Invalidation{Key: key, Reason: "content changed"}
	}
	for _, dep := range slices.Sorted(maps.Keys(entry.Dependencies)) {
		data, err := os.ReadFile(dep)
		if err != nil {
			return Entry{}, false, &Invalidation{Key: key, Reason: "dependency missing: " + dep}
		}
		if Digest(data) != entry.Dependencies[dep] {
			return Entry{}, false, &Invalidation{Key: key, Reason: "dependency changed: " + dep}
		}
	}
	for _, output := range entry.Outputs {
		if _, err := os.Stat(output); err != nil {
			return Entry{}, false, &Invalidation{Key: key, Reason: "output missing: " + output}
		}
	}
	return entry, true, nil
}

func (c *Cache) Record(key string, entry Entry) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry
	c.dirty = true
}

func (c *Cache) Forget(key string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.dirty = true
	}
}

// Reset drops every entry, in memory and on disk.
func (c *Cache) Reset() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
	c.dirty = false
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("remove build cache: %w", err)
	}
	return nil
}

// Save persists the index when it changed since it was opened.
func (c *Cache) Save() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	data, err := msgpack.Marshal(payload{Schema: SchemaVersion, ConfigDigest: c.configDigest, Entries: c.entries})
	if err != nil {
		return fmt.Errorf("encode build cache: %w", err)
	}
	if err := safeio.WriteFileAtomic(c.indexPath(), data, 0o600); err != nil {
		return fmt.Errorf("write build cache: %w", err)
	}
	c.dirty = false
	return nil
}
