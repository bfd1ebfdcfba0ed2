package peercache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bscheduler/bscheduler/pkg/netaddr"
)

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.json")

	pc := New(time.Minute, path)
	a := netaddr.Address{Family: netaddr.FamilyIPv4, IP: []byte{10, 0, 0, 1}, Port: 7850}
	b := netaddr.Address{Family: netaddr.FamilyIPv4, IP: []byte{10, 0, 0, 2}, Port: 7850}
	pc.Seen(a)
	pc.Seen(b)

	require.NoError(t, pc.Flush())

	reloaded := New(time.Minute, path)
	require.NoError(t, reloaded.Load())

	assert.ElementsMatch(t, []string{a.String(), b.String()}, reloaded.Entries())
}

func TestLoadMissingFileIsEmptyNotError(t *testing.T) {
	pc := New(time.Minute, filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, pc.Load())
	assert.Empty(t, pc.Entries())
}

func TestFlushNoopWithEmptyPath(t *testing.T) {
	pc := New(time.Minute, "")
	pc.Seen(netaddr.Address{Family: netaddr.FamilyIPv4, IP: []byte{127, 0, 0, 1}, Port: 1})
	require.NoError(t, pc.Flush())
}

func TestForgetRemovesEntry(t *testing.T) {
	pc := New(time.Minute, "")
	a := netaddr.Address{Family: netaddr.FamilyIPv4, IP: []byte{10, 0, 0, 1}, Port: 7850}
	pc.Seen(a)
	require.Len(t, pc.Entries(), 1)
	pc.Forget(a)
	assert.Empty(t, pc.Entries())
}
