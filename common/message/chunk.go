// Package message encodes the tile chunks exchanged by level streaming.
//
// The layout is plain protobuf wire format so chunks can be produced by any
// tool that speaks protobuf:
//
//	Chunk { 1: string name; 2: repeated TileRecord tiles }
//	TileRecord { 1: sint32 x; 2: sint32 y; 3: uint32 layer; 4: bytes mesh; 5: bytes cache }
package message

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrMalformed = errors.New("message: malformed chunk")

const (
	chunkName  protowire.Number = 1
	chunkTiles protowire.Number = 2

	tileX     protowire.Number = 1
	tileY     protowire.Number = 2
	tileLayer protowire.Number = 3
	tileMesh  protowire.Number = 4
	tileCache protowire.Number = 5
)

type TileRecord struct {
	X, Y  int32
	Layer uint8
	Mesh  []byte
	Cache []byte
}

type Chunk struct {
	Name  string
	Tiles []TileRecord
}

func Encode(c *Chunk) []byte {
	var b []byte
	if c.Name != "" {
		b = protowire.AppendTag(b, chunkName, protowire.BytesType)
		b = protowire.AppendString(b, c.Name)
	}
	for i := range c.Tiles {
		b = protowire.AppendTag(b, chunkTiles, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeTile(&c.Tiles[i]))
	}
	return b
}

func encodeTile(t *TileRecord) []byte {
	var b []byte
	b = protowire.AppendTag(b, tileX, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(t.X)))
	b = protowire.AppendTag(b, tileY, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(t.Y)))
	b = protowire.AppendTag(b, tileLayer, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(t.Layer))
	b = protowire.AppendTag(b, tileMesh, protowire.BytesType)
	b = protowire.AppendBytes(b, t.Mesh)
	if len(t.Cache) > 0 {
		b = protowire.AppendTag(b, tileCache, protowire.BytesType)
		b = protowire.AppendBytes(b, t.Cache)
	}
	return b
}

func Decode(data []byte) (*Chunk, error) {
	c := &Chunk{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == chunkName && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: name: %v", ErrMalformed, protowire.ParseError(n))
			}
			c.Name = v
			data = data[n:]
		case num == chunkTiles && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("%w: tile: %v", ErrMalformed, protowire.ParseError(n))
			}
			t, err := decodeTile(v)
			if err != nil {
				return nil, err
			}
			c.Tiles = append(c.Tiles, t)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return c, nil
}

func decodeTile(data []byte) (t TileRecord, err error) {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return t, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return t, fmt.Errorf("%w: tile field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			data = data[n:]
			switch num {
			case tileX:
				t.X = int32(protowire.DecodeZigZag(v))
			case tileY:
				t.Y = int32(protowire.DecodeZigZag(v))
			case tileLayer:
				if v > 0xff {
					return t, fmt.Errorf("%w: layer %d out of range", ErrMalformed, v)
				}
				t.Layer = uint8(v)
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return t, fmt.Errorf("%w: tile field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			data = data[n:]
			switch num {
			case tileMesh:
				t.Mesh = append([]byte(nil), v...)
			case tileCache:
				t.Cache = append([]byte(nil), v...)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return t, fmt.Errorf("%w: tile field %d: %v", ErrMalformed, num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return t, nil
}
