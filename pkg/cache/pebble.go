// Package cache is the local pebble-backed mirror of confirmed records.
// It lets a freshly opened chat paint the last-known window before the
// first page fetch returns. It is a read cache, not a durable write
// queue: tentative records are never stored.
package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/pebble"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// Key layout:
//
//	chat:<chatID>:rec:<created_at padded>-<id>  -> record JSON
//	id:<id>                                     -> rec key (delete index)
type Cache struct {
	db   *pebble.DB
	path string
}

// Open opens (or creates) the cache at path.
func Open(path string) (*Cache, error) {
	if err := EnsureLayout(path); err != nil {
		return nil, err
	}
	db, err := pebble.Open(filepath.Join(path, "records"), &pebble.Options{})
	if err != nil {
		logger.Error("cache_open_failed", "path", path, "error", err)
		return nil, err
	}
	logger.Info("cache_opened", "path", path)
	return &Cache{db: db, path: path}, nil
}

// Close closes the underlying DB.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func recKey(chatID string, createdAt int64, id string) []byte {
	return []byte(fmt.Sprintf("chat:%s:rec:%020d-%s", chatID, createdAt, id))
}

func idKey(id string) []byte {
	return []byte("id:" + id)
}

// Put mirrors a batch of confirmed records. Tentative records are
// skipped. Writes are unsynced: losing them only costs a colder start.
func (c *Cache) Put(recs []models.MessageRecord) error {
	if c.db == nil {
		return fmt.Errorf("cache not opened")
	}
	b := c.db.NewBatch()
	defer b.Close()
	for _, r := range recs {
		if r.Tentative() || r.ID == "" {
			continue
		}
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal record %s: %w", r.ID, err)
		}
		// drop a previous version stored under a different timestamp key
		if old, closer, err := c.db.Get(idKey(r.ID)); err == nil {
			oldKey := append([]byte(nil), old...)
			closer.Close()
			if !bytes.Equal(oldKey, recKey(r.ChatID, r.CreatedAt, r.ID)) {
				_ = b.Delete(oldKey, nil)
			}
		}
		rk := recKey(r.ChatID, r.CreatedAt, r.ID)
		_ = b.Set(rk, data, nil)
		_ = b.Set(idKey(r.ID), rk, nil)
	}
	if err := b.Commit(pebble.NoSync); err != nil {
		logger.Error("cache_put_failed", "error", err)
		return err
	}
	return nil
}

// Delete removes the cached record with the given id, if present.
func (c *Cache) Delete(id string) error {
	if c.db == nil {
		return fmt.Errorf("cache not opened")
	}
	old, closer, err := c.db.Get(idKey(id))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil
		}
		return err
	}
	oldKey := append([]byte(nil), old...)
	closer.Close()
	b := c.db.NewBatch()
	defer b.Close()
	_ = b.Delete(oldKey, nil)
	_ = b.Delete(idKey(id), nil)
	return b.Commit(pebble.NoSync)
}

// Load returns every cached record for a chat, oldest first.
func (c *Cache) Load(chatID string) ([]models.MessageRecord, error) {
	if c.db == nil {
		return nil, fmt.Errorf("cache not opened")
	}
	prefix := []byte("chat:" + chatID + ":rec:")
	iter, err := c.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.MessageRecord
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var rec models.MessageRecord
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			logger.Warn("cache_record_unreadable", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, rec)
	}
	return out, iter.Error()
}

// SweepOlderThan removes every cached record created before cutoff
// (unix nanos) and returns how many were purged.
func (c *Cache) SweepOlderThan(cutoff int64) (int, error) {
	if c.db == nil {
		return 0, fmt.Errorf("cache not opened")
	}
	iter, err := c.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	b := c.db.NewBatch()
	defer b.Close()
	purged := 0
	prefix := []byte("chat:")
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		k := string(iter.Key())
		if !strings.HasPrefix(k, "chat:") {
			break
		}
		i := strings.Index(k, ":rec:")
		if i < 0 {
			continue
		}
		tail := k[i+len(":rec:"):]
		dash := strings.IndexByte(tail, '-')
		if dash < 0 {
			continue
		}
		ts, err := strconv.ParseInt(tail[:dash], 10, 64)
		if err != nil {
			continue
		}
		if ts >= cutoff {
			continue
		}
		id := tail[dash+1:]
		_ = b.Delete(append([]byte(nil), iter.Key()...), nil)
		_ = b.Delete(idKey(id), nil)
		purged++
	}
	if err := iter.Error(); err != nil {
		return 0, err
	}
	if err := b.Commit(pebble.NoSync); err != nil {
		return 0, err
	}
	if purged > 0 {
		logger.Info("cache_swept", "purged", purged)
	}
	return purged, nil
}

// SweepToSize drops the globally oldest records until the on-disk
// footprint fits within budget bytes, returning how many were purged.
// A zero or negative budget disables the check.
func (c *Cache) SweepToSize(budget int64) (int, error) {
	if c.db == nil {
		return 0, fmt.Errorf("cache not opened")
	}
	if budget <= 0 {
		return 0, nil
	}
	purged := 0
	for pass := 0; pass < 4; pass++ {
		over := c.SizeBytes() - budget
		if over <= 0 {
			break
		}
		n, err := c.dropOldest(over)
		if err != nil {
			return purged, err
		}
		if n == 0 {
			break
		}
		purged += n
		// deleted keys hold their space until the range is compacted
		if err := c.db.Compact([]byte("chat:"), []byte("id:\xff"), false); err != nil {
			logger.Debug("cache_compact_failed", "error", err)
			break
		}
	}
	if purged > 0 {
		logger.Info("cache_trimmed_to_budget", "purged", purged, "budget", budget)
	}
	return purged, nil
}

// dropOldest deletes records oldest-first until roughly wantFreed bytes
// of key+value payload are gone (or the cache is empty).
func (c *Cache) dropOldest(wantFreed int64) (int, error) {
	iter, err := c.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}
	type entry struct {
		key  []byte
		id   string
		ts   int64
		size int64
	}
	var entries []entry
	prefix := []byte("chat:")
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		k := string(iter.Key())
		if !strings.HasPrefix(k, "chat:") {
			break
		}
		i := strings.Index(k, ":rec:")
		if i < 0 {
			continue
		}
		tail := k[i+len(":rec:"):]
		dash := strings.IndexByte(tail, '-')
		if dash < 0 {
			continue
		}
		ts, err := strconv.ParseInt(tail[:dash], 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, entry{
			key:  append([]byte(nil), iter.Key()...),
			id:   tail[dash+1:],
			ts:   ts,
			size: int64(len(iter.Key()) + len(iter.Value())),
		})
	}
	if err := iter.Error(); err != nil {
		iter.Close()
		return 0, err
	}
	iter.Close()
	sort.Slice(entries, func(i, j int) bool { return entries[i].ts < entries[j].ts })

	b := c.db.NewBatch()
	defer b.Close()
	purged := 0
	var freed int64
	for _, e := range entries {
		if freed >= wantFreed {
			break
		}
		_ = b.Delete(e.key, nil)
		_ = b.Delete(idKey(e.id), nil)
		freed += e.size
		purged++
	}
	if purged == 0 {
		return 0, nil
	}
	if err := b.Commit(pebble.NoSync); err != nil {
		return 0, err
	}
	return purged, nil
}

// SizeBytes returns the best-effort on-disk size of the cache directory.
func (c *Cache) SizeBytes() int64 {
	var total int64
	_ = filepath.WalkDir(c.path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, ferr := d.Info(); ferr == nil {
			total += fi.Size()
		}
		return nil
	})
	return total
}
