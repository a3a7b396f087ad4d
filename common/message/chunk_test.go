package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkEncodeDecode(t *testing.T) {
	in := &Chunk{
		Name: "level_a",
		Tiles: []TileRecord{
			{X: -3, Y: 4, Layer: 1, Mesh: []byte{1, 2, 3}, Cache: []byte{9}},
			{X: 0, Y: 0, Layer: 0, Mesh: []byte{4}},
		},
	}
	out, err := Decode(Encode(in))
	require.NoError(t, err)
	assert.Equal(t, in.Name, out.Name)
	require.Len(t, out.Tiles, 2)
	assert.Equal(t, in.Tiles[0], out.Tiles[0])
	assert.Equal(t, int32(0), out.Tiles[1].X)
	assert.Equal(t, []byte{4}, out.Tiles[1].Mesh)
	assert.Empty(t, out.Tiles[1].Cache)
}

func TestChunkDecodeTruncated(t *testing.T) {
	data := Encode(&Chunk{Tiles: []TileRecord{{Mesh: []byte{1, 2, 3, 4}}}})
	_, err := Decode(data[:len(data)-2])
	assert.ErrorIs(t, err, ErrMalformed)
}
