package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gmw/transmissionbt/torrent"
)

func testInfo(name string, hash byte) *torrent.TorrentInfo {
	var h torrent.InfoHash
	h[0] = hash
	return &torrent.TorrentInfo{
		Hash:       h,
		Name:       name,
		PieceSize:  1 << 14,
		PieceCount: 1,
		TotalSize:  1 << 14,
		Files:      []torrent.FileEntry{{Name: name, Length: 1 << 14}},
		Pieces:     make([]torrent.PieceDescriptor, 1),
	}
}

func TestRegisterRejectsSameHash(t *testing.T) {
	e := New(Options{})
	defer e.Shutdown()

	if _, err := e.Register(testInfo("a", 1), "/tmp/a"); err != nil {
		t.Fatalf("first register: %v", err)
	}

	_, err := e.Register(testInfo("a", 1), "/tmp/a")
	if err == nil {
		t.Fatalf("expected duplicate-hash error on re-register")
	}
	dup, ok := err.(*DuplicateError)
	if !ok || !dup.SameHash {
		t.Fatalf("expected SameHash DuplicateError, got %#v", err)
	}
}

func TestRegisterRejectsSameNameAndDestination(t *testing.T) {
	e := New(Options{})
	defer e.Shutdown()

	if _, err := e.Register(testInfo("dup", 2), "/tmp/dup"); err != nil {
		t.Fatalf("first register: %v", err)
	}

	_, err := e.Register(testInfo("dup", 3), "/tmp/dup")
	if err == nil {
		t.Fatalf("expected duplicate-download error for same name+destination")
	}
	dup, ok := err.(*DuplicateError)
	if !ok || dup.SameHash {
		t.Fatalf("expected !SameHash DuplicateError, got %#v", err)
	}
}

func TestRegisterAllowsDistinctTorrents(t *testing.T) {
	e := New(Options{})
	defer e.Shutdown()

	_, err := e.Register(testInfo("a", 10), "/tmp/a")
	require.NoError(t, err)
	_, err = e.Register(testInfo("b", 11), "/tmp/b")
	require.NoError(t, err)

	require.Len(t, e.List(), 2)
}

func TestDefaultPublicPort(t *testing.T) {
	e := New(Options{})
	defer e.Shutdown()

	if e.PublicPort() != torrent.DefaultPort {
		t.Fatalf("public port = %d, want %d", e.PublicPort(), torrent.DefaultPort)
	}
}

func TestRemoveDeregistersTorrent(t *testing.T) {
	e := New(Options{})
	defer e.Shutdown()

	info := testInfo("r", 20)
	if _, err := e.Register(info, "/tmp/r"); err != nil {
		t.Fatalf("register: %v", err)
	}

	e.Remove(info.Hash)

	if _, ok := e.Get(info.Hash); ok {
		t.Fatalf("expected torrent to be deregistered after Remove")
	}
}
