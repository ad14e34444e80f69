package capture

import (
	"encoding/binary"
	"fmt"

	"firestige.xyz/pcap-analyser/internal/core"
)

// Reader is a cursor over an in-memory capture. Multi-byte reads use the
// byte order chosen by the container's global header; little-endian until then.
type Reader struct {
	data  []byte
	off   int
	order binary.ByteOrder
}

// NewReader returns a little-endian Reader positioned at the start of data.
func NewReader(data []byte) *Reader {
	return &Reader{data: data, order: binary.LittleEndian}
}

// SetOrder fixes the byte order for every later multi-byte read.
func (r *Reader) SetOrder(order binary.ByteOrder) { r.order = order }

func (r *Reader) Order() binary.ByteOrder { return r.order }
func (r *Reader) Offset() int             { return r.off }
func (r *Reader) Len() int                { return len(r.data) }
func (r *Reader) Remaining() int          { return len(r.data) - r.off }

func (r *Reader) need(n int) error {
	if n < 0 || r.Remaining() < n {
		return fmt.Errorf("%w: need %d bytes at offset %d, have %d", core.ErrTruncated, n, r.off, r.Remaining())
	}
	return nil
}

// Bytes returns the next n bytes without copying.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Peek returns the next n bytes without advancing.
func (r *Reader) Peek(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	return r.data[r.off : r.off+n], nil
}

func (r *Reader) Skip(n int) error {
	if err := r.need(n); err != nil {
		return err
	}
	r.off += n
	return nil
}

func (r *Reader) Uint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.data[r.off]
	r.off++
	return v, nil
}

func (r *Reader) Uint16() (uint16, error) {
	b, err := r.Bytes(2)
	if err != nil {
		return 0, err
	}
	return r.order.Uint16(b), nil
}

func (r *Reader) Uint32() (uint32, error) {
	b, err := r.Bytes(4)
	if err != nil {
		return 0, err
	}
	return r.order.Uint32(b), nil
}

func (r *Reader) Uint64() (uint64, error) {
	b, err := r.Bytes(8)
	if err != nil {
		return 0, err
	}
	return r.order.Uint64(b), nil
}

func (r *Reader) Int16() (int16, error) {
	v, err := r.Uint16()
	return int16(v), err
}

func (r *Reader) Int32() (int32, error) {
	v, err := r.Uint32()
	return int32(v), err
}

// fieldReader reads a run of fixed-layout fields, keeping the first error.
type fieldReader struct {
	r   *Reader
	err error
}

func (f *fieldReader) u8() uint8 {
	if f.err != nil {
		return 0
	}
	var v uint8
	v, f.err = f.r.Uint8()
	return v
}

func (f *fieldReader) u16() uint16 {
	if f.err != nil {
		return 0
	}
	var v uint16
	v, f.err = f.r.Uint16()
	return v
}

func (f *fieldReader) u32() uint32 {
	if f.err != nil {
		return 0
	}
	var v uint32
	v, f.err = f.r.Uint32()
	return v
}

func (f *fieldReader) u64() uint64 {
	if f.err != nil {
		return 0
	}
	var v uint64
	v, f.err = f.r.Uint64()
	return v
}

func (f *fieldReader) i16() int16 { return int16(f.u16()) }
func (f *fieldReader) i32() int32 { return int32(f.u32()) }
