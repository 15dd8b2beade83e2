package db

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"barn/types"
)

// CacheWidth and CacheDepth are the compile-time chain dimensions of the
// object cache: dbref mod CacheWidth selects a chain, and each chain holds
// up to CacheDepth resident holders before the least-recently-used clean
// holder is evicted.
const (
	CacheWidth = 15
	CacheDepth = 30
)

type holderState int

const (
	holderEmpty holderState = iota
	holderClean
	holderDirty
)

// cacheHolder is one resident slot in a chain. It never owns the Object
// directly -- *Store remains the sole arena -- it only tracks residency,
// pin count and dirty state the way the spec's holder model requires.
type cacheHolder struct {
	dbref   types.ObjID
	state   holderState
	pins    int
	touched uint64
}

// ObjectCache is the bounded, chained, write-back cache described by the
// core's object-cache component. It wraps a *Store (which remains the
// flat, GC-backed arena of live *Object values) with holder/pin/dirty
// bookkeeping and the two-file binary backing store used by sync/dump/
// backup. Faulting an object in when it is not already resident in the
// wrapped Store reads it from the data file via the index.
type ObjectCache struct {
	mu     sync.Mutex
	store  *Store
	chains [CacheWidth][]cacheHolder
	clock  uint64

	indexPath string
	dataPath  string
}

// NewObjectCache builds a cache over store backed by the given index/data
// file pair. The files need not exist yet; they are created on first sync.
func NewObjectCache(store *Store, indexPath, dataPath string) *ObjectCache {
	return &ObjectCache{store: store, indexPath: indexPath, dataPath: dataPath}
}

func chainFor(dbref types.ObjID) int {
	m := int64(dbref) % int64(CacheWidth)
	if m < 0 {
		m += CacheWidth
	}
	return int(m)
}

// holderIndex finds dbref's holder in its chain, or -1.
func (c *ObjectCache) holderIndex(chain []cacheHolder, dbref types.ObjID) int {
	for i := range chain {
		if chain[i].state != holderEmpty && chain[i].dbref == dbref {
			return i
		}
	}
	return -1
}

// evictLRUClean evicts and returns true if it freed a slot in chain by
// dropping the least-recently-touched unpinned, non-dirty holder. Dirty
// holders are never silently dropped -- they must be written back first.
func (c *ObjectCache) evictLRUClean(chain []cacheHolder) bool {
	best := -1
	for i := range chain {
		if chain[i].state == holderClean && chain[i].pins == 0 {
			if best == -1 || chain[i].touched < chain[best].touched {
				best = i
			}
		}
	}
	if best == -1 {
		return false
	}
	chain[best] = cacheHolder{}
	return true
}

// Retrieve faults dbref into the cache, pinning it, and returns the in-
// memory image. The caller must call Discard exactly once per Retrieve.
func (c *ObjectCache) Retrieve(dbref types.ObjID) (*Object, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj := c.store.GetUnsafe(dbref)
	if obj == nil || obj.Recycled {
		loaded, err := c.faultFromDiskLocked(dbref)
		if err != nil {
			return nil, err
		}
		if loaded == nil {
			return nil, fmt.Errorf("objnf: #%d", dbref)
		}
		obj = loaded
	}

	idx := chainFor(dbref)
	chain := c.chains[idx]
	hi := c.holderIndex(chain, dbref)
	c.clock++
	if hi == -1 {
		if len(chain) < CacheDepth {
			chain = append(chain, cacheHolder{})
			c.chains[idx] = chain
			hi = len(chain) - 1
		} else if c.evictLRUClean(chain) {
			for i := range chain {
				if chain[i].state == holderEmpty {
					hi = i
					break
				}
			}
		}
		if hi == -1 {
			// Chain saturated with pinned/dirty holders; track it anyway so
			// pin discipline stays correct even past the nominal depth.
			chain = append(chain, cacheHolder{})
			c.chains[idx] = chain
			hi = len(chain) - 1
		}
		chain[hi] = cacheHolder{dbref: dbref, state: holderClean}
	}
	chain[hi].pins++
	chain[hi].touched = c.clock
	return obj, nil
}

// Discard releases one pin on dbref. If the object is dead and this was
// the last pin, the store finalizes destruction.
func (c *ObjectCache) Discard(dbref types.ObjID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := chainFor(dbref)
	chain := c.chains[idx]
	hi := c.holderIndex(chain, dbref)
	if hi == -1 {
		return
	}
	if chain[hi].pins > 0 {
		chain[hi].pins--
	}
	// A holder whose object was marked dead (Recycled) by destroy() while
	// pinned is already finalized by Store.Recycle itself; once the last
	// pin drops there is nothing further to release here because the
	// Store, not the cache, owns the object arena.
}

// MarkDirty flags dbref's holder (creating one if it is not yet resident)
// so the next Sync writes it back.
func (c *ObjectCache) MarkDirty(dbref types.ObjID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := chainFor(dbref)
	chain := c.chains[idx]
	hi := c.holderIndex(chain, dbref)
	if hi == -1 {
		chain = append(chain, cacheHolder{dbref: dbref})
		c.chains[idx] = chain
		hi = len(chain) - 1
	}
	chain[hi].state = holderDirty
	chain[hi].touched = c.clock
}

// Check reports whether dbref exists, without faulting its image in.
func (c *ObjectCache) Check(dbref types.ObjID) bool {
	if c.store.Valid(dbref) {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _, ok := c.indexLookupLocked(dbref)
	return ok
}

// indexEntry is one record of the on-disk index file: dbref -> (offset, length).
type indexEntry struct {
	dbref  types.ObjID
	offset int64
	length int64
}

func (c *ObjectCache) readIndexLocked() ([]indexEntry, error) {
	f, err := os.Open(c.indexPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []indexEntry
	for {
		var rec [24]byte
		_, err := io.ReadFull(f, rec[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, indexEntry{
			dbref:  types.ObjID(int64(binary.BigEndian.Uint64(rec[0:8]))),
			offset: int64(binary.BigEndian.Uint64(rec[8:16])),
			length: int64(binary.BigEndian.Uint64(rec[16:24])),
		})
	}
	return entries, nil
}

func (c *ObjectCache) indexLookupLocked(dbref types.ObjID) (int64, int64, bool) {
	entries, err := c.readIndexLocked()
	if err != nil {
		return 0, 0, false
	}
	for _, e := range entries {
		if e.dbref == dbref {
			return e.offset, e.length, true
		}
	}
	return 0, 0, false
}

// faultFromDiskLocked reads dbref's image from the data file using the
// index, adds it to the wrapped Store, and returns it. Returns (nil, nil)
// when the index has no entry for dbref.
func (c *ObjectCache) faultFromDiskLocked(dbref types.ObjID) (*Object, error) {
	offset, length, ok := c.indexLookupLocked(dbref)
	if !ok {
		return nil, nil
	}

	f, err := os.Open(c.dataPath)
	if err != nil {
		return nil, fmt.Errorf("open data file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, offset); err != nil {
		return nil, fmt.Errorf("read object image: %w", err)
	}

	loader := &Database{Version: 17}
	obj, err := loader.readObject(bufio.NewReader(bytes.NewReader(buf)))
	if err != nil {
		return nil, fmt.Errorf("decode object image: %w", err)
	}
	if obj == nil {
		return nil, nil
	}
	if existing := c.store.GetUnsafe(dbref); existing == nil {
		_ = c.store.Add(obj)
	}
	return obj, nil
}

// Sync writes every resident object back to a fresh data file and index
// file, then atomically renames them over the canonical names. This
// matches the checkpoint discipline used elsewhere in the store: write to
// a temp pair, then rename both into place.
func (c *ObjectCache) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncLocked()
}

func (c *ObjectCache) syncLocked() error {
	if dir := filepath.Dir(c.dataPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	tmpData := c.dataPath + ".tmp"
	tmpIndex := c.indexPath + ".tmp"

	df, err := os.Create(tmpData)
	if err != nil {
		return fmt.Errorf("create data temp: %w", err)
	}
	defer df.Close()

	var index bytes.Buffer
	var offset int64
	for _, obj := range c.store.All() {
		var objBuf bytes.Buffer
		objWriter := NewWriter(&objBuf, c.store)
		if err := objWriter.writeObject(obj); err != nil {
			return fmt.Errorf("write object #%d: %w", obj.ID, err)
		}
		n, err := df.Write(objBuf.Bytes())
		if err != nil {
			return fmt.Errorf("write data file: %w", err)
		}
		var rec [24]byte
		binary.BigEndian.PutUint64(rec[0:8], uint64(int64(obj.ID)))
		binary.BigEndian.PutUint64(rec[8:16], uint64(offset))
		binary.BigEndian.PutUint64(rec[16:24], uint64(n))
		index.Write(rec[:])
		offset += int64(n)
	}

	if err := df.Sync(); err != nil {
		return fmt.Errorf("fsync data file: %w", err)
	}
	if err := df.Close(); err != nil {
		return err
	}

	if err := os.WriteFile(tmpIndex, index.Bytes(), 0644); err != nil {
		return fmt.Errorf("write index temp: %w", err)
	}

	if err := atomicRename(tmpData, c.dataPath); err != nil {
		return fmt.Errorf("rename data file: %w", err)
	}
	if err := atomicRename(tmpIndex, c.indexPath); err != nil {
		return fmt.Errorf("rename index file: %w", err)
	}

	for i := range c.chains {
		for j := range c.chains[i] {
			if c.chains[i][j].state == holderDirty {
				c.chains[i][j].state = holderClean
			}
		}
	}
	return nil
}

// Dump performs a full sync and fsyncs the canonical files, as distinct
// from the periodic incremental Sync callers may issue.
func (c *ObjectCache) Dump() error {
	if err := c.Sync(); err != nil {
		return err
	}
	for _, p := range []string{c.dataPath, c.indexPath} {
		f, err := os.Open(p)
		if err != nil {
			continue
		}
		_ = f.Sync()
		f.Close()
	}
	return nil
}

// Backup duplicates the current canonical data+index files under a
// "backup" sibling directory.
func (c *ObjectCache) Backup(backupDir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return err
	}
	for _, src := range []string{c.dataPath, c.indexPath} {
		dst := filepath.Join(backupDir, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("backup %s: %w", src, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
