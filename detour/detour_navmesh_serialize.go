package detour

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/gorustyt/navtile/common/rw"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	// NAVMESH_STORE_VERSION is written by Serialize.
	NAVMESH_STORE_VERSION = 2
	// NAVMESH_STORE_MIN_COMPATIBLE_VERSION is the oldest store Deserialize parses.
	// Older stores are skipped and flagged for rebuild.
	NAVMESH_STORE_MIN_COMPATIBLE_VERSION = 2

	maxStorePayloadBytes = 1 << 30
)

// Serialize writes every resident tile, in key order:
//
//	u32 version, u32 payload_size, payload
//	payload = u32 tile_count, then per tile
//	          u32 tile_data_size, tile_data, u32 cache_data_size, cache_data
func (mesh *DtNavMesh) Serialize(w io.Writer) error {
	mesh.gate.beginRead()
	var payload bytes.Buffer
	pw := rw.NewWriter(&payload)
	keys := mesh.tileKeys()
	pw.WriteUInt32(uint32(len(keys)))
	for _, key := range keys {
		data := mesh.getTileAt(key).Data
		pw.WriteUInt32(uint32(len(data.Mesh)))
		pw.WriteBytes(data.Mesh)
		pw.WriteUInt32(uint32(len(data.Cache)))
		pw.WriteBytes(data.Cache)
	}
	mesh.gate.endRead()
	if err := pw.Err(); err != nil {
		return err
	}

	bw := rw.NewWriter(w)
	bw.WriteUInt32(NAVMESH_STORE_VERSION)
	bw.WriteUInt32(uint32(payload.Len()))
	bw.WriteBytes(payload.Bytes())
	if err := bw.Err(); err != nil {
		return fmt.Errorf("detour: serialize navmesh: %w", err)
	}
	mesh.logger.Debug("navmesh serialized", zap.Int("tiles", len(keys)), zap.Int("bytes", payload.Len()+8))
	return nil
}

// Deserialize attaches the tiles of a store written by Serialize.
//
// A store older than NAVMESH_STORE_MIN_COMPATIBLE_VERSION is skipped by its
// declared size: the reader is left after it, the mesh is flagged with
// NeedsRebuild and a *VersionError is returned. A single tile that fails to
// decode is dropped and its key queued for regeneration when readable; the
// remaining tiles still load and the returned error aggregates the failures.
func (mesh *DtNavMesh) Deserialize(r io.Reader) error {
	br := rw.NewReader(r)
	version := br.ReadUInt32()
	size := br.ReadUInt32()
	if err := br.Err(); err != nil {
		return fmt.Errorf("detour: deserialize navmesh header: %w", err)
	}
	if version < NAVMESH_STORE_MIN_COMPATIBLE_VERSION || version > NAVMESH_STORE_VERSION {
		br.Skip(int64(size))
		mesh.markForRebuild()
		verr := &VersionError{Got: version, Min: NAVMESH_STORE_MIN_COMPATIBLE_VERSION}
		mesh.logger.Warn("navmesh store skipped", zap.Uint32("version", version), zap.Uint32("size", size))
		if err := br.Err(); err != nil {
			return multierr.Append(verr, err)
		}
		return verr
	}
	if size > maxStorePayloadBytes {
		return fmt.Errorf("%w: payload size %d", ErrInvalidParam, size)
	}
	payload := br.ReadBytes(int(size))
	if err := br.Err(); err != nil {
		return fmt.Errorf("detour: deserialize navmesh payload: %w", err)
	}

	pr := rw.NewNavMeshDataBinReader(payload)
	remaining := func() uint32 { return uint32(int64(len(payload)) - pr.Offset()) }
	count := pr.ReadUInt32()
	var errs error
	loaded := 0
	for i := uint32(0); i < count; i++ {
		meshSize := pr.ReadUInt32()
		if meshSize > remaining() {
			errs = multierr.Append(errs, fmt.Errorf("%w: tile %d size %d", ErrInvalidParam, i, meshSize))
			break
		}
		meshData := pr.ReadBytes(int(meshSize))
		cacheSize := pr.ReadUInt32()
		if cacheSize > remaining() {
			errs = multierr.Append(errs, fmt.Errorf("%w: tile %d cache size %d", ErrInvalidParam, i, cacheSize))
			break
		}
		cacheData := pr.ReadBytes(int(cacheSize))
		if err := pr.Err(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("detour: tile %d: %w", i, err))
			break
		}
		if _, err := mesh.Attach(TileData{Mesh: meshData, Cache: cacheData}); err != nil {
			var aerr *AttachError
			if errors.As(err, &aerr) && errors.Is(err, ErrVersion) {
				mesh.markForRebuild(aerr.Key)
			}
			mesh.logger.Warn("tile discarded on load", zap.Uint32("index", i), zap.Error(err))
			errs = multierr.Append(errs, err)
			continue
		}
		loaded++
	}
	mesh.logger.Info("navmesh loaded", zap.Int("tiles", loaded), zap.Uint32("stored", count))
	return errs
}
