package netaddr

import (
	"net"
	"testing"
)

func TestEmpty(t *testing.T) {
	var a Address
	if !a.Empty() {
		t.Fatal("zero value should be empty")
	}
	b := Address{Family: FamilyIPv4, IP: net.ParseIP("127.0.0.1").To4(), Port: 1}
	if b.Empty() {
		t.Fatal("populated address should not be empty")
	}
}

func TestEqual(t *testing.T) {
	a := Address{Family: FamilyIPv4, IP: net.ParseIP("10.0.0.1").To4(), Port: 7850}
	b := Address{Family: FamilyIPv4, IP: net.ParseIP("10.0.0.1").To4(), Port: 7850}
	c := Address{Family: FamilyIPv4, IP: net.ParseIP("10.0.0.2").To4(), Port: 7850}
	if !a.Equal(b) {
		t.Fatal("identical addresses should be equal")
	}
	if a.Equal(c) {
		t.Fatal("distinct IPs should not be equal")
	}
	if a.Equal(Address{Family: FamilyUnix, Path: "/tmp/x"}) {
		t.Fatal("different families should not be equal")
	}
}

func TestVirtualMasksEphemeralPort(t *testing.T) {
	remote := Address{Family: FamilyIPv4, IP: net.ParseIP("10.0.0.5").To4(), Port: 54321}
	got := Virtual(remote, 7850)
	want := Address{Family: FamilyIPv4, IP: net.ParseIP("10.0.0.5").To4(), Port: 7850}
	if !got.Equal(want) {
		t.Fatalf("Virtual() = %v, want %v", got, want)
	}
}

func TestVirtualLeavesUnixUnchanged(t *testing.T) {
	remote := Address{Family: FamilyUnix, Path: "/tmp/x.sock"}
	got := Virtual(remote, 7850)
	if !got.Equal(remote) {
		t.Fatalf("Virtual() changed a unix address: %v", got)
	}
}

func TestFromTCPAddr(t *testing.T) {
	a := FromTCPAddr(&net.TCPAddr{IP: net.ParseIP("192.168.1.1"), Port: 9000})
	if a.Family != FamilyIPv4 || a.Port != 9000 {
		t.Fatalf("FromTCPAddr() = %+v", a)
	}
}
