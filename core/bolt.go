package core

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"
)

type BoltOptions struct {
	RegistryOptions

	Path      string
	IsTesting bool
	MmapSize  int
	Timeout   time.Duration
}

var (
	catalogBucket = []byte("tables")
	rowsBucket    = []byte("rows")
)

// tableMeta is the catalog record of a table, stored under its name.
type tableMeta struct {
	Name      string    `msgpack:"n"`
	CreatedAt time.Time `msgpack:"c"`
	MaxRowLen uint32    `msgpack:"mr"`
	Inserts   uint64    `msgpack:"i"`
}

type boltTable struct {
	name string
	key  []byte
}

// Bolt stores rows in a Bolt file, one nested bucket per table under "rows",
// keyed by a per-table sequence number.
type Bolt struct {
	opt    BoltOptions
	reg    *Registry[*boltTable]
	logger *slog.Logger

	mu  sync.RWMutex
	bdb *bbolt.DB
}

func NewBolt(opt BoltOptions) *Bolt {
	c := &Bolt{opt: opt, logger: envLogger(Env{})}
	c.reg = NewRegistry(c.allocTable, opt.RegistryOptions)
	return c
}

func (c *Bolt) Init(env Env) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = envLogger(env)
	if c.bdb != nil {
		return nil
	}

	bopt := &bbolt.Options{}
	*bopt = *bbolt.DefaultOptions
	bopt.Timeout = c.opt.Timeout
	if bopt.Timeout == 0 {
		bopt.Timeout = 10 * time.Second
	}
	if c.opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
		bopt.InitialMmapSize = 1024 * 1024 * 5
	} else {
		bopt.InitialMmapSize = 1024 * 1024 * 256
		bopt.FreelistType = bbolt.FreelistMapType
	}
	if c.opt.MmapSize != 0 {
		bopt.InitialMmapSize = c.opt.MmapSize
	}

	bdb, err := bbolt.Open(c.opt.Path, 0666, bopt)
	if err != nil {
		return fmt.Errorf("bolt core: %w", err)
	}
	err = bdb.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(catalogBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(rowsBucket)
		return err
	})
	if err != nil {
		bdb.Close()
		return fmt.Errorf("bolt core: preparing %s: %w", c.opt.Path, err)
	}
	c.bdb = bdb
	c.logger.Info("Bolt core initialized.", "path", c.opt.Path)
	return nil
}

func (c *Bolt) Deinit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bdb == nil {
		return nil
	}
	var result error
	if c.opt.IsTesting {
		// NoSync is on; make sure nothing is lost on a clean shutdown.
		if err := c.bdb.Sync(); err != nil {
			result = multierror.Append(result, fmt.Errorf("bolt core: sync: %w", err))
		}
	}
	if err := c.bdb.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("bolt core: close: %w", err))
	}
	c.bdb = nil
	c.reg.Each(func(name string, h TableHandle, refs int, _ *boltTable) {
		c.logger.Debug("Closing table", "table", name, "handle", h, "refs", refs)
	})
	c.reg.Reset()
	c.logger.Info("Bolt core deinitialized.")
	return result
}

func (c *Bolt) db() (*bbolt.DB, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.bdb == nil {
		return nil, ErrClosed
	}
	return c.bdb, nil
}

// Size returns the size of the Bolt file as of the last write.
func (c *Bolt) Size() int64 {
	bdb, err := c.db()
	if err != nil {
		return 0
	}
	var size int64
	_ = bdb.View(func(tx *bbolt.Tx) error {
		size = tx.Size()
		return nil
	})
	return size
}

// allocTable only reads. The bucket and catalog record are created by the
// first write, so opening a table never waits for a commit.
func (c *Bolt) allocTable(name string, h TableHandle) (*boltTable, error) {
	bdb, err := c.db()
	if err != nil {
		return nil, err
	}
	t := &boltTable{name: name, key: []byte(name)}
	var meta tableMeta
	err = bdb.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(catalogBucket).Get(t.key)
		if raw == nil {
			return nil
		}
		if err := msgpack.Unmarshal(raw, &meta); err != nil {
			return fmt.Errorf("corrupted catalog record %s: %w", hexstr(raw), err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if meta.CreatedAt.IsZero() {
		c.logger.Info("Open table", "table", name, "handle", h, "new", true)
	} else {
		c.logger.Info("Open table", "table", name, "handle", h, "created", meta.CreatedAt.Format(time.RFC3339), "inserts", meta.Inserts)
	}
	return t, nil
}

func ensureTable(tx *bbolt.Tx, t *boltTable) (*bbolt.Bucket, tableMeta, error) {
	var meta tableMeta
	cat := tx.Bucket(catalogBucket)
	if raw := cat.Get(t.key); raw != nil {
		if err := msgpack.Unmarshal(raw, &meta); err != nil {
			return nil, meta, fmt.Errorf("corrupted catalog record %s: %w", hexstr(raw), err)
		}
	} else {
		meta = tableMeta{Name: t.name, CreatedAt: time.Now().UTC()}
		if err := putMeta(cat, t, &meta); err != nil {
			return nil, meta, err
		}
	}
	b, err := tx.Bucket(rowsBucket).CreateBucketIfNotExists(t.key)
	return b, meta, err
}

func putMeta(cat *bbolt.Bucket, t *boltTable, meta *tableMeta) error {
	raw, err := msgpack.Marshal(meta)
	if err != nil {
		return err
	}
	return cat.Put(t.key, raw)
}

func tableBucket(tx *bbolt.Tx, t *boltTable) *bbolt.Bucket {
	return tx.Bucket(rowsBucket).Bucket(t.key)
}

func (c *Bolt) OpenTable(name string) TableHandle {
	h, err := c.reg.Open(name)
	if err != nil {
		c.logger.Error("cannot open table", "table", name, "err", err)
		return NoHandle
	}
	return h
}

func (c *Bolt) CloseTable(h TableHandle) {
	c.reg.Close(h)
}

func (c *Bolt) table(h TableHandle) (*bbolt.DB, *boltTable, error) {
	t, ok := c.reg.Lookup(h)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidHandle, h)
	}
	bdb, err := c.db()
	if err != nil {
		return nil, nil, err
	}
	return bdb, t, nil
}

func (c *Bolt) InsertRow(h TableHandle, row []byte) error {
	bdb, t, err := c.table(h)
	if err != nil {
		return err
	}
	var id uint64
	err = bdb.Batch(func(tx *bbolt.Tx) error {
		b, meta, err := ensureTable(tx, t)
		if err != nil {
			return err
		}
		id, err = b.NextSequence()
		if err != nil {
			return err
		}
		if err := b.Put(appendRowKey(nil, id), row); err != nil {
			return err
		}
		meta.Inserts++
		meta.MaxRowLen = max(meta.MaxRowLen, uint32(len(row)))
		return putMeta(tx.Bucket(catalogBucket), t, &meta)
	})
	if err != nil {
		return fmt.Errorf("%s: insert: %w", t.name, err)
	}
	c.logger.Debug("Inserting row", "table", t.name, "id", id, "len", len(row))
	return nil
}

// findRow positions cur on the first row equal to row.
func findRow(cur *bbolt.Cursor, row []byte) []byte {
	for k, v := cur.First(); k != nil; k, v = cur.Next() {
		if bytes.Equal(v, row) {
			return k
		}
	}
	return nil
}

func (c *Bolt) UpdateRow(h TableHandle, oldRow, newRow []byte) error {
	bdb, t, err := c.table(h)
	if err != nil {
		return err
	}
	err = bdb.Batch(func(tx *bbolt.Tx) error {
		b := tableBucket(tx, t)
		if b == nil {
			return ErrRowNotFound
		}
		k := findRow(b.Cursor(), oldRow)
		if k == nil {
			return ErrRowNotFound
		}
		return b.Put(slices.Clone(k), newRow)
	})
	if err != nil {
		return fmt.Errorf("%s: update: %w", t.name, err)
	}
	c.logger.Debug("Updating row", "table", t.name, "len", len(newRow))
	return nil
}

func (c *Bolt) DeleteRow(h TableHandle, row []byte) error {
	bdb, t, err := c.table(h)
	if err != nil {
		return err
	}
	err = bdb.Batch(func(tx *bbolt.Tx) error {
		b := tableBucket(tx, t)
		if b == nil {
			return ErrRowNotFound
		}
		cur := b.Cursor()
		if findRow(cur, row) == nil {
			return ErrRowNotFound
		}
		return cur.Delete()
	})
	if err != nil {
		return fmt.Errorf("%s: delete: %w", t.name, err)
	}
	c.logger.Debug("Deleting row", "table", t.name)
	return nil
}

func (c *Bolt) DeleteAllRows(h TableHandle) error {
	bdb, t, err := c.table(h)
	if err != nil {
		return err
	}
	err = bdb.Update(func(tx *bbolt.Tx) error {
		rows := tx.Bucket(rowsBucket)
		if err := rows.DeleteBucket(t.key); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		_, err := rows.CreateBucket(t.key)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: truncate: %w", t.name, err)
	}
	return nil
}

// DropTable removes the rows and the catalog record of a closed table.
func (c *Bolt) DropTable(name string) error {
	bdb, err := c.db()
	if err != nil {
		return err
	}
	key := []byte(name)
	return c.reg.Retire(name, func(*boltTable, bool) error {
		return bdb.Update(func(tx *bbolt.Tx) error {
			err := tx.Bucket(rowsBucket).DeleteBucket(key)
			if err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
			return tx.Bucket(catalogBucket).Delete(key)
		})
	})
}

func (c *Bolt) RowCount(h TableHandle) (uint64, error) {
	bdb, t, err := c.table(h)
	if err != nil {
		return 0, err
	}
	var n uint64
	err = bdb.View(func(tx *bbolt.Tx) error {
		if b := tableBucket(tx, t); b != nil {
			n = uint64(b.Stats().KeyN)
		}
		return nil
	})
	return n, err
}

func (c *Bolt) Scan(h TableHandle) (Cursor, error) {
	bdb, t, err := c.table(h)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Init round", "table", t.name)
	return &boltCursor{bdb: bdb, t: t}, nil
}

func (c *Bolt) TableCount() int {
	return c.reg.Len()
}

func (c *Bolt) Registry() *Registry[*boltTable] {
	return c.reg
}

// boltCursor opens a short read transaction per row. Holding one read
// transaction for the whole scan would deadlock a session that updates the
// rows it is scanning once Bolt needs to grow its mmap.
type boltCursor struct {
	bdb     *bbolt.DB
	t       *boltTable
	last    []byte
	started bool
	done    bool
}

func (c *boltCursor) Next(buf []byte) (int, error) {
	if c.done {
		return 0, ErrEndOfData
	}
	var n int
	err := c.bdb.View(func(tx *bbolt.Tx) error {
		b := tableBucket(tx, c.t)
		if b == nil {
			return ErrEndOfData
		}
		cur := b.Cursor()
		var k, v []byte
		if !c.started {
			k, v = cur.First()
		} else {
			k, v = cur.Seek(c.last)
			if k != nil && bytes.Equal(k, c.last) {
				k, v = cur.Next()
			}
		}
		if k == nil {
			return ErrEndOfData
		}
		if _, ok := rowKeyID(k); !ok {
			return fmt.Errorf("%s: corrupted row key %s", c.t.name, hexstr(k))
		}
		if len(v) > len(buf) {
			return &RowSizeError{Need: len(v), Have: len(buf)}
		}
		n = copy(buf, v)
		c.last = append(c.last[:0], k...)
		c.started = true
		return nil
	})
	if errors.Is(err, ErrEndOfData) {
		c.done = true
	}
	return n, err
}

func (c *boltCursor) Close() error {
	c.done = true
	return nil
}
