// Package binary implements the fixed, big-endian field encoding shared by
// every kernel body and by the framed stream header. It is deliberately
// thin: callers build up a packet in a Writer and hand the accumulated bytes
// to the framed stream, and decode from a Reader positioned at the start of
// a packet body.
package binary

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/bscheduler/bscheduler/pkg/netaddr"
)

// Writer accumulates a kernel body or packet in big-endian wire format.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated wire bytes.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return w.buf.Len() }

// WriteUint8 appends a single byte.
func (w *Writer) WriteUint8(v uint8) { w.buf.WriteByte(v) }

// WriteUint16 appends a big-endian u16.
func (w *Writer) WriteUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

// WriteUint32 appends a big-endian u32.
func (w *Writer) WriteUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

// WriteUint64 appends a big-endian u64.
func (w *Writer) WriteUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

// WriteBytes appends raw bytes with no length prefix.
func (w *Writer) WriteBytes(p []byte) { w.buf.Write(p) }

// WriteVarBytes appends a u16 length prefix followed by p.
func (w *Writer) WriteVarBytes(p []byte) {
	w.WriteUint16(uint16(len(p)))
	w.buf.Write(p)
}

// WriteAddress appends a tagged socket address: [u8 family][family body].
func (w *Writer) WriteAddress(a netaddr.Address) error {
	w.WriteUint8(byte(a.Family))
	switch a.Family {
	case netaddr.FamilyNone:
	case netaddr.FamilyIPv4:
		ip4 := a.IP.To4()
		if ip4 == nil {
			return fmt.Errorf("binary: address marked IPv4 has no 4-byte form: %v", a.IP)
		}
		w.WriteBytes(ip4)
		w.WriteUint16(a.Port)
	case netaddr.FamilyIPv6:
		ip6 := a.IP.To16()
		if ip6 == nil {
			return fmt.Errorf("binary: address marked IPv6 has no 16-byte form: %v", a.IP)
		}
		w.WriteBytes(ip6)
		w.WriteUint16(a.Port)
	case netaddr.FamilyUnix:
		w.WriteVarBytes([]byte(a.Path))
	default:
		return fmt.Errorf("binary: unknown address family %d", a.Family)
	}
	return nil
}

// Reader decodes a kernel body or packet previously produced by Writer.
type Reader struct {
	r   *bytes.Reader
	err error
}

// NewReader wraps p for sequential decoding.
func NewReader(p []byte) *Reader { return &Reader{r: bytes.NewReader(p)} }

// Err returns the first error encountered by a Read* call, if any.
func (r *Reader) Err() error { return r.err }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return r.r.Len() }

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// ReadUint8 reads a single byte.
func (r *Reader) ReadUint8() uint8 {
	b, err := r.r.ReadByte()
	if err != nil {
		r.fail(err)
		return 0
	}
	return b
}

// ReadUint16 reads a big-endian u16.
func (r *Reader) ReadUint16() uint16 {
	var b [2]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		r.fail(err)
		return 0
	}
	return binary.BigEndian.Uint16(b[:])
}

// ReadUint32 reads a big-endian u32.
func (r *Reader) ReadUint32() uint32 {
	var b [4]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		r.fail(err)
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}

// ReadUint64 reads a big-endian u64.
func (r *Reader) ReadUint64() uint64 {
	var b [8]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		r.fail(err)
		return 0
	}
	return binary.BigEndian.Uint64(b[:])
}

// ReadBytes reads exactly n raw bytes.
func (r *Reader) ReadBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := io.ReadFull(r.r, b); err != nil {
		r.fail(err)
		return nil
	}
	return b
}

// ReadVarBytes reads a u16-length-prefixed byte string.
func (r *Reader) ReadVarBytes() []byte {
	n := r.ReadUint16()
	if r.err != nil {
		return nil
	}
	return r.ReadBytes(int(n))
}

// ReadAddress decodes a tagged socket address written by WriteAddress.
func (r *Reader) ReadAddress() netaddr.Address {
	family := netaddr.Family(r.ReadUint8())
	switch family {
	case netaddr.FamilyNone:
		return netaddr.Address{}
	case netaddr.FamilyIPv4:
		ip := r.ReadBytes(4)
		port := r.ReadUint16()
		return netaddr.Address{Family: family, IP: ip, Port: port}
	case netaddr.FamilyIPv6:
		ip := r.ReadBytes(16)
		port := r.ReadUint16()
		return netaddr.Address{Family: family, IP: ip, Port: port}
	case netaddr.FamilyUnix:
		path := r.ReadVarBytes()
		return netaddr.Address{Family: family, Path: string(path)}
	default:
		r.fail(fmt.Errorf("binary: unknown address family %d on wire", family))
		return netaddr.Address{}
	}
}
