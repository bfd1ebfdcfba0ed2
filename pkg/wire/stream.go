// Package wire implements the framed kernel stream: a length-prefixed
// packet codec layered over a byte stream that guarantees atomic
// whole-kernel reads/writes. Grounded on the teacher's buffered-decode
// idiom in controller/api/destination/watcher (accumulate then decode only
// once a complete unit is available) and on the wire layout fixed by the
// spec: [u32 length][u16 type-id][body], with an embedded parent appended
// recursively when FlagCarriesParent is set.
package wire

import (
	"fmt"

	"github.com/bscheduler/bscheduler/pkg/kernel"
	"github.com/bscheduler/bscheduler/pkg/registry"
	"github.com/bscheduler/bscheduler/pkg/wire/binary"
)

const lengthPrefixSize = 4

// Stream is a bidirectional framed codec over an in-memory byte stream. The
// caller is responsible for actually moving bytes to and from the network:
// Feed appends newly-read bytes, Drain returns bytes queued for write. This
// separation keeps Stream free of any dependency on net.Conn so it can be
// driven by a single-threaded reactor's non-blocking I/O.
type Stream struct {
	registry *registry.Registry
	in       []byte
	out      []byte
}

// NewStream returns an empty framed stream that decodes kernels registered
// with reg.
func NewStream(reg *registry.Registry) *Stream {
	return &Stream{registry: reg}
}

// Feed appends bytes read from the peer to the input buffer.
func (s *Stream) Feed(p []byte) {
	s.in = append(s.in, p...)
}

// WriteKernel serializes k and queues it for output. A partially written
// packet is never observable to a reader: the whole frame is appended to
// the output buffer atomically with respect to Drain.
func (s *Stream) WriteKernel(k kernel.Kernel) error {
	w := binary.NewWriter()
	if err := s.registry.WriteKernel(w, k); err != nil {
		return fmt.Errorf("wire: write kernel: %w", err)
	}
	payload := w.Bytes()

	frame := make([]byte, lengthPrefixSize+len(payload))
	putUint32(frame, uint32(len(payload)))
	copy(frame[lengthPrefixSize:], payload)
	s.out = append(s.out, frame...)
	return nil
}

// Drain returns and clears the bytes queued for write, for the caller to
// hand to the network connection. This is the "flush" half of Sync.
func (s *Stream) Drain() []byte {
	if len(s.out) == 0 {
		return nil
	}
	b := s.out
	s.out = nil
	return b
}

// Pending reports whether Drain would return bytes.
func (s *Stream) Pending() bool { return len(s.out) > 0 }

// ReadKernel decodes and removes the next complete packet from the input
// buffer. ok is false when fewer bytes than a full frame are buffered; this
// is "no kernel ready", not an error, and the caller should simply wait for
// more input. An error return indicates a framing or unknown-type problem
// and the spec treats it as a transport failure requiring the connection to
// be closed and recovered.
func (s *Stream) ReadKernel() (k kernel.Kernel, ok bool, err error) {
	if len(s.in) < lengthPrefixSize {
		return nil, false, nil
	}
	length := int(getUint32(s.in))
	if length < 0 {
		return nil, false, fmt.Errorf("wire: negative frame length")
	}
	total := lengthPrefixSize + length
	if len(s.in) < total {
		return nil, false, nil
	}

	body := s.in[lengthPrefixSize:total]
	k, err = s.registry.ReadKernel(binary.NewReader(body))
	// Whether decoding succeeded or failed, the frame boundary is known and
	// consumed: a bad packet never blocks forward progress on the stream.
	s.in = s.in[total:]
	if err != nil {
		return nil, false, fmt.Errorf("wire: decode frame: %w", err)
	}
	return k, true, nil
}

// Sync reports whether any input bytes remain buffered, i.e. whether the
// read cursor is not at a packet boundary. It does not touch queued output;
// the caller flushes that with Drain.
func (s *Stream) Sync() (hasPartialInput bool) {
	return len(s.in) > 0
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
