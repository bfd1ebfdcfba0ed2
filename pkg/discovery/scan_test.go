package discovery

import (
	"net"
	"testing"
)

func mustCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		t.Fatalf("ParseCIDR(%q): %v", s, err)
	}
	return n
}

func TestScanOrderExcludesSelf(t *testing.T) {
	netw := mustCIDR(t, "10.0.0.0/28")
	self := netw.IP.To4()
	self[3] = 5
	it := newScanIterator(netw, self)

	for {
		ip, ok := it.Next()
		if !ok {
			break
		}
		if ip.Equal(self) {
			t.Fatalf("scan order included self address %v", self)
		}
	}
}

func TestScanOrderIsDeterministic(t *testing.T) {
	netw := mustCIDR(t, "10.0.0.0/28")
	self := net.ParseIP("10.0.0.3").To4()

	a := newScanIterator(netw, self)
	b := newScanIterator(netw, self)

	for {
		ipA, okA := a.Next()
		ipB, okB := b.Next()
		if okA != okB {
			t.Fatal("two iterators over the same network disagree on exhaustion")
		}
		if !okA {
			break
		}
		if !ipA.Equal(ipB) {
			t.Fatalf("scan order diverged: %v vs %v", ipA, ipB)
		}
	}
}

func TestScanOrderVisitsEveryOtherHostExactlyOnce(t *testing.T) {
	netw := mustCIDR(t, "10.0.0.0/29") // 8 addresses, 7 excluding self
	self := net.ParseIP("10.0.0.0").To4()
	it := newScanIterator(netw, self)

	seen := map[string]bool{}
	for {
		ip, ok := it.Next()
		if !ok {
			break
		}
		key := ip.String()
		if seen[key] {
			t.Fatalf("address %s visited twice", key)
		}
		seen[key] = true
	}
	if len(seen) != 7 {
		t.Fatalf("visited %d addresses, want 7", len(seen))
	}
}

func TestSeedOffersCandidatesBeforeTreeWalk(t *testing.T) {
	netw := mustCIDR(t, "10.0.0.0/28")
	self := net.ParseIP("10.0.0.1").To4()
	it := newScanIterator(netw, self)

	seeded := net.ParseIP("10.0.0.9").To4()
	it.Seed([]net.IP{seeded})

	ip, ok := it.Next()
	if !ok || !ip.Equal(seeded) {
		t.Fatalf("first Next() = %v, want seeded %v", ip, seeded)
	}
}

func TestResetDoesNotReplaySeed(t *testing.T) {
	netw := mustCIDR(t, "10.0.0.0/28")
	self := net.ParseIP("10.0.0.1").To4()
	it := newScanIterator(netw, self)

	seeded := net.ParseIP("10.0.0.9").To4()
	it.Seed([]net.IP{seeded})

	first, _ := it.Next()
	if !first.Equal(seeded) {
		t.Fatalf("expected seed first, got %v", first)
	}

	it.Reset()
	second, ok := it.Next()
	if !ok {
		t.Fatal("expected a candidate after reset")
	}
	if second.Equal(seeded) {
		t.Fatal("seed was replayed after Reset, expected it consumed only once")
	}
}

func TestTreeLevel(t *testing.T) {
	cases := map[uint64]int{1: 0, 2: 1, 3: 1, 4: 2, 7: 2, 8: 3}
	for pos, want := range cases {
		if got := treeLevel(pos); got != want {
			t.Errorf("treeLevel(%d) = %d, want %d", pos, got, want)
		}
	}
}
