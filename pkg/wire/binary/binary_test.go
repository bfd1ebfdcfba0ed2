package binary

import (
	"net"
	"testing"

	"github.com/go-test/deep"

	"github.com/bscheduler/bscheduler/pkg/netaddr"
)

func TestUintRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteUint8(7)
	w.WriteUint16(1234)
	w.WriteUint32(987654)
	w.WriteUint64(123456789012345)
	w.WriteVarBytes([]byte("hello"))

	r := NewReader(w.Bytes())
	if got := r.ReadUint8(); got != 7 {
		t.Fatalf("uint8 = %d, want 7", got)
	}
	if got := r.ReadUint16(); got != 1234 {
		t.Fatalf("uint16 = %d, want 1234", got)
	}
	if got := r.ReadUint32(); got != 987654 {
		t.Fatalf("uint32 = %d, want 987654", got)
	}
	if got := r.ReadUint64(); got != 123456789012345 {
		t.Fatalf("uint64 = %d, want 123456789012345", got)
	}
	if got := r.ReadVarBytes(); string(got) != "hello" {
		t.Fatalf("varbytes = %q, want hello", got)
	}
	if err := r.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAddressRoundTrip(t *testing.T) {
	cases := []netaddr.Address{
		{},
		{Family: netaddr.FamilyIPv4, IP: net.ParseIP("10.0.0.1").To4(), Port: 7850},
		{Family: netaddr.FamilyIPv6, IP: net.ParseIP("::1").To16(), Port: 7850},
		{Family: netaddr.FamilyUnix, Path: "/tmp/bscheduler.sock"},
	}
	for _, a := range cases {
		w := NewWriter()
		if err := w.WriteAddress(a); err != nil {
			t.Fatalf("write address %v: %v", a, err)
		}
		r := NewReader(w.Bytes())
		got := r.ReadAddress()
		if err := r.Err(); err != nil {
			t.Fatalf("read address %v: %v", a, err)
		}
		if diff := deep.Equal(got, a); diff != nil {
			t.Errorf("address round trip %v: %v", a, diff)
		}
	}
}

func TestReaderErrorOnShortInput(t *testing.T) {
	r := NewReader([]byte{0x01})
	_ = r.ReadUint32()
	if r.Err() == nil {
		t.Fatal("expected error reading uint32 from a single byte")
	}
}

func TestWriteAddressRejectsUnknownFamily(t *testing.T) {
	w := NewWriter()
	err := w.WriteAddress(netaddr.Address{Family: netaddr.Family(99)})
	if err == nil {
		t.Fatal("expected error for unknown address family")
	}
}
