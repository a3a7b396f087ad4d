package rw

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrShortRead is returned when a declared size runs past the end of the input.
var ErrShortRead = errors.New("rw: short read")

// Reader decodes little-endian values. The first error sticks; later reads
// return zero values and Err reports it.
type Reader struct {
	order   binary.ByteOrder
	r       io.Reader
	dataBuf [8]byte
	n       int64
	err     error
}

func NewReader(r io.Reader) *Reader {
	return &Reader{order: binary.LittleEndian, r: r}
}

func NewNavMeshDataBinReader(data []byte) *Reader {
	return NewReader(bytes.NewReader(data))
}

func (r *Reader) Err() error { return r.err }

// Offset is the number of bytes consumed so far.
func (r *Reader) Offset() int64 { return r.n }

func (r *Reader) fill(n int) []byte {
	if r.err != nil {
		return nil
	}
	got, err := io.ReadFull(r.r, r.dataBuf[:n])
	r.n += int64(got)
	if err != nil {
		r.err = fmt.Errorf("%w at offset %d: %v", ErrShortRead, r.n, err)
		return nil
	}
	return r.dataBuf[:n]
}

func (r *Reader) ReadUInt8() uint8 {
	b := r.fill(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) ReadUInt16() uint16 {
	b := r.fill(2)
	if b == nil {
		return 0
	}
	return r.order.Uint16(b)
}

func (r *Reader) ReadUInt16s(value []uint16) {
	for i := range value {
		value[i] = r.ReadUInt16()
	}
}

func (r *Reader) ReadUInt32() uint32 {
	b := r.fill(4)
	if b == nil {
		return 0
	}
	return r.order.Uint32(b)
}

func (r *Reader) ReadInt32() int32 {
	return int32(r.ReadUInt32())
}

func (r *Reader) ReadFloat32() float32 {
	return math.Float32frombits(r.ReadUInt32())
}

func (r *Reader) ReadFloat32s(value []float32) {
	for i := range value {
		value[i] = r.ReadFloat32()
	}
}

// ReadBytes reads exactly n bytes into a fresh slice.
func (r *Reader) ReadBytes(n int) []byte {
	if r.err != nil || n == 0 {
		return nil
	}
	buf := make([]byte, n)
	got, err := io.ReadFull(r.r, buf)
	r.n += int64(got)
	if err != nil {
		r.err = fmt.Errorf("%w: wanted %d bytes at offset %d: %v", ErrShortRead, n, r.n, err)
		return nil
	}
	return buf
}

// Skip discards n bytes.
func (r *Reader) Skip(n int64) {
	if r.err != nil || n <= 0 {
		return
	}
	got, err := io.CopyN(io.Discard, r.r, n)
	r.n += got
	if err != nil {
		r.err = fmt.Errorf("%w: skipping %d bytes: %v", ErrShortRead, n, err)
	}
}

// Writer encodes little-endian values with the same sticky error rule as Reader.
type Writer struct {
	order   binary.ByteOrder
	w       io.Writer
	dataBuf [8]byte
	n       int64
	err     error
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{order: binary.LittleEndian, w: w}
}

func (w *Writer) Err() error { return w.err }

// Size is the number of bytes written so far.
func (w *Writer) Size() int64 { return w.n }

func (w *Writer) write(b []byte) {
	if w.err != nil {
		return
	}
	n, err := w.w.Write(b)
	w.n += int64(n)
	if err != nil {
		w.err = err
	}
}

func (w *Writer) WriteUInt8(v uint8) {
	w.dataBuf[0] = v
	w.write(w.dataBuf[:1])
}

func (w *Writer) WriteUInt16(v uint16) {
	w.order.PutUint16(w.dataBuf[:2], v)
	w.write(w.dataBuf[:2])
}

func (w *Writer) WriteUInt16s(v []uint16) {
	for _, tmp := range v {
		w.WriteUInt16(tmp)
	}
}

func (w *Writer) WriteUInt32(v uint32) {
	w.order.PutUint32(w.dataBuf[:4], v)
	w.write(w.dataBuf[:4])
}

func (w *Writer) WriteInt32(v int32) {
	w.WriteUInt32(uint32(v))
}

func (w *Writer) WriteFloat32(v float32) {
	w.WriteUInt32(math.Float32bits(v))
}

func (w *Writer) WriteFloat32s(v []float32) {
	for _, tmp := range v {
		w.WriteFloat32(tmp)
	}
}

func (w *Writer) WriteBytes(b []byte) {
	if len(b) == 0 {
		return
	}
	w.write(b)
}

func (w *Writer) PadZero(n int) {
	for i := 0; i < n; i++ {
		w.WriteUInt8(0)
	}
}
