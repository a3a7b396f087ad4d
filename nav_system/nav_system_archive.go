package nav_system

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/gorustyt/navtile/common/logs"
	"github.com/gorustyt/navtile/common/rw"
	"github.com/gorustyt/navtile/config"
	"github.com/gorustyt/navtile/detour"
	"go.uber.org/zap"
)

var tilePrefix = []byte("tile/")

// zapBadger routes badger's own logging to zap.
type zapBadger struct{ s *zap.SugaredLogger }

func (l zapBadger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l zapBadger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l zapBadger) Infof(format string, args ...interface{})    { l.s.Debugf(format, args...) }
func (l zapBadger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }

// TileArchive keeps the data of tiles that left the active set so they can
// be restored without a rebuild.
type TileArchive struct {
	db     *badger.DB
	logger *zap.Logger
}

// OpenArchive opens the archive described by cfg. It returns nil, nil when
// the archive is disabled.
func OpenArchive(cfg config.ArchiveConfig, logger *zap.Logger) (*TileArchive, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, nil
	}
	logger = logs.OrNop(logger).Named("archive")
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
			return nil, fmt.Errorf("archive: create %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(zapBadger{s: logger.Sugar()})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	return &TileArchive{db: db, logger: logger}, nil
}

// keys sort by x, then y, then layer. Coordinates are offset so negative
// values sort first.
func archiveKey(k detour.TileKey) []byte {
	b := append([]byte(nil), tilePrefix...)
	b = binary.BigEndian.AppendUint32(b, uint32(k.X)^0x80000000)
	b = binary.BigEndian.AppendUint32(b, uint32(k.Y)^0x80000000)
	return append(b, k.Layer)
}

func parseArchiveKey(b []byte) (detour.TileKey, bool) {
	b, ok := bytes.CutPrefix(b, tilePrefix)
	if !ok || len(b) != 9 {
		return detour.TileKey{}, false
	}
	return detour.TileKey{
		X:     int32(binary.BigEndian.Uint32(b) ^ 0x80000000),
		Y:     int32(binary.BigEndian.Uint32(b[4:]) ^ 0x80000000),
		Layer: b[8],
	}, true
}

func encodeTileData(d detour.TileData) ([]byte, error) {
	var buf bytes.Buffer
	w := rw.NewWriter(&buf)
	w.WriteUInt32(uint32(len(d.Mesh)))
	w.WriteBytes(d.Mesh)
	w.WriteUInt32(uint32(len(d.Cache)))
	w.WriteBytes(d.Cache)
	return buf.Bytes(), w.Err()
}

func decodeTileData(b []byte) (detour.TileData, error) {
	r := rw.NewNavMeshDataBinReader(b)
	var d detour.TileData
	d.Mesh = r.ReadBytes(int(r.ReadUInt32()))
	d.Cache = r.ReadBytes(int(r.ReadUInt32()))
	if err := r.Err(); err != nil {
		return detour.TileData{}, fmt.Errorf("archive: tile record: %w", err)
	}
	return d, nil
}

func (a *TileArchive) Put(k detour.TileKey, d detour.TileData) error {
	val, err := encodeTileData(d)
	if err != nil {
		return err
	}
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(archiveKey(k), val)
	})
}

// Get returns the archived data of k, ok is false when nothing is archived.
func (a *TileArchive) Get(k detour.TileKey) (d detour.TileData, ok bool, err error) {
	err = a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(archiveKey(k))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		d, err = decodeTileData(val)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return detour.TileData{}, false, nil
	}
	if err != nil {
		return detour.TileData{}, false, err
	}
	return d, true, nil
}

func (a *TileArchive) Delete(k detour.TileKey) error {
	return a.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(archiveKey(k))
	})
}

// Keys lists the archived tiles in key order.
func (a *TileArchive) Keys() ([]detour.TileKey, error) {
	var keys []detour.TileKey
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(tilePrefix); it.ValidForPrefix(tilePrefix); it.Next() {
			k, ok := parseArchiveKey(it.Item().KeyCopy(nil))
			if !ok {
				a.logger.Warn("skipping foreign archive key", zap.ByteString("key", it.Item().Key()))
				continue
			}
			keys = append(keys, k)
		}
		return nil
	})
	return keys, err
}

func (a *TileArchive) Close() error { return a.db.Close() }
