package torrent

import (
	"context"
	"testing"
)

// fakePeer is a minimal in-memory Peer used to exercise AttachPeer,
// pulsePeers, and Availability without any real network I/O.
type fakePeer struct {
	addr       [4]byte
	port       uint16
	from       PeerFrom
	pulseRet   int
	destroyed  bool
	private    bool
	hasPieces  map[int]bool
	interested bool
	choking    bool
}

func (p *fakePeer) Pulse() int      { return p.pulseRet }
func (p *fakePeer) Destroy()        { p.destroyed = true }
func (p *fakePeer) SetPrivate(v bool) { p.private = v }
func (p *fakePeer) SetTorrent(*Torrent) {}
func (p *fakePeer) Address() [4]byte { return p.addr }
func (p *fakePeer) Port() uint16     { return p.port }
func (p *fakePeer) PeerID() string   { return "fake-peer" }
func (p *fakePeer) Client() string   { return "fake/1.0" }
func (p *fakePeer) IsFrom() PeerFrom { return p.from }
func (p *fakePeer) IsConnected() bool   { return true }
func (p *fakePeer) AmChoking() bool     { return p.choking }
func (p *fakePeer) IsChoking() bool     { return p.choking }
func (p *fakePeer) AmInterested() bool  { return p.interested }
func (p *fakePeer) IsInterested() bool  { return p.interested }
func (p *fakePeer) Progress() float64     { return 0 }
func (p *fakePeer) UploadRate() float64   { return 0 }
func (p *fakePeer) DownloadRate() float64 { return 0 }
func (p *fakePeer) HasPiece(i int) bool   { return p.hasPieces[i] }

func newTestTorrent(t *testing.T, pieceCount int, pieceSize, totalSize int64) *Torrent {
	t.Helper()

	info := &TorrentInfo{
		Name:       "test",
		PieceSize:  pieceSize,
		PieceCount: pieceCount,
		TotalSize:  totalSize,
		Files: []FileEntry{
			{Name: "a", Length: totalSize, Priority: Normal},
		},
		Pieces: make([]PieceDescriptor, pieceCount),
	}
	if err := ComputeFileGeometry(info); err != nil {
		t.Fatalf("ComputeFileGeometry: %v", err)
	}
	RecomputePiecePriorities(info)

	return New(info, t.TempDir(), Config{})
}

func TestAttachPeerRejectsDuplicateAddress(t *testing.T) {
	tr := newTestTorrent(t, 4, 1<<14, 4*(1<<14))

	p1 := &fakePeer{addr: [4]byte{1, 2, 3, 4}}
	p2 := &fakePeer{addr: [4]byte{1, 2, 3, 4}}

	if !tr.AttachPeer(p1) {
		t.Fatalf("expected first peer to attach")
	}
	if tr.AttachPeer(p2) {
		t.Fatalf("expected duplicate-address peer to be rejected")
	}
	if len(tr.Peers()) != 1 {
		t.Fatalf("peer count = %d, want 1", len(tr.Peers()))
	}
}

func TestAttachPeerRejectsOnceFull(t *testing.T) {
	tr := newTestTorrent(t, 4, 1<<14, 4*(1<<14))

	for i := 0; i < MaxPeerCount; i++ {
		addr := [4]byte{byte(i >> 24), byte(i >> 16), byte(i >> 8), byte(i)}
		if !tr.AttachPeer(&fakePeer{addr: addr}) {
			t.Fatalf("peer %d should have attached", i)
		}
	}

	if tr.AttachPeer(&fakePeer{addr: [4]byte{9, 9, 9, 9}}) {
		t.Fatalf("expected attach beyond MaxPeerCount to fail")
	}
}

func TestAddCompactPeersDecodesRecords(t *testing.T) {
	tr := newTestTorrent(t, 4, 1<<14, 4*(1<<14))
	tr.cfg.PeerFactory = func(addr [4]byte, port uint16, from PeerFrom) Peer {
		return &fakePeer{addr: addr, port: port, from: from}
	}

	compact := []byte{
		127, 0, 0, 1, 0x1A, 0xE1, // 127.0.0.1:6881
		10, 0, 0, 2, 0x1A, 0xE2, // 10.0.0.2:6882
	}

	n := tr.AddCompactPeers(compact, FromTracker)
	if n != 2 {
		t.Fatalf("added = %d, want 2", n)
	}

	peers := tr.Peers()
	if len(peers) != 2 {
		t.Fatalf("peer count = %d, want 2", len(peers))
	}
	if peers[0].Port() != 0x1AE1 {
		t.Fatalf("port = %d, want %d", peers[0].Port(), 0x1AE1)
	}
}

func TestPulsePeersFatalIOStopsTorrent(t *testing.T) {
	tr := newTestTorrent(t, 4, 1<<14, 4*(1<<14))
	tr.Start()

	bad := &fakePeer{addr: [4]byte{1, 1, 1, 1}, pulseRet: MakeIOError(1)}
	tr.AttachPeer(bad)

	tr.pulsePeers()

	if got := tr.RunStatus(); got != Stopping {
		t.Fatalf("runStatus = %v, want Stopping", got)
	}
}

func TestPulsePeersEvictsTransientFailure(t *testing.T) {
	tr := newTestTorrent(t, 4, 1<<14, 4*(1<<14))

	bad := &fakePeer{addr: [4]byte{2, 2, 2, 2}, pulseRet: 7}
	good := &fakePeer{addr: [4]byte{3, 3, 3, 3}, pulseRet: 0}
	tr.AttachPeer(bad)
	tr.AttachPeer(good)

	tr.pulsePeers()

	peers := tr.Peers()
	if len(peers) != 1 {
		t.Fatalf("peer count after eviction = %d, want 1", len(peers))
	}
	if !bad.destroyed {
		t.Fatalf("expected evicted peer to be destroyed")
	}
}

func TestFilePriorityPropagatesToPieces(t *testing.T) {
	info := &TorrentInfo{
		PieceSize:  80,
		TotalSize:  200,
		PieceCount: 3,
		Files: []FileEntry{
			{Name: "a", Length: 100, Priority: Normal},
			{Name: "b", Length: 100, Priority: Low},
		},
		Pieces: make([]PieceDescriptor, 3),
	}
	if err := ComputeFileGeometry(info); err != nil {
		t.Fatalf("ComputeFileGeometry: %v", err)
	}
	RecomputePiecePriorities(info)

	tr := New(info, "", Config{})
	tr.SetFilePriority(1, High)

	got := tr.GetFilePriorities()
	if got[1] != High {
		t.Fatalf("file 1 priority = %v, want High", got[1])
	}

	if info.Pieces[2].Priority != High {
		t.Fatalf("piece 2 priority = %v, want High (overlaps only file 1)", info.Pieces[2].Priority)
	}
	if info.Pieces[1].Priority != High {
		t.Fatalf("piece 1 priority = %v, want High (overlapping file 1 raises the max)", info.Pieces[1].Priority)
	}
}

func TestFileBytesCompletedSingleBlock(t *testing.T) {
	tr := newTestTorrent(t, 1, 1<<14, 1<<14)
	tr.mu.Lock()
	tr.info.Files = []FileEntry{{Name: "a", Length: 1 << 14, Offset: 0}}
	tr.mu.Unlock()

	if got := tr.FileBytesCompleted(0); got != 0 {
		t.Fatalf("bytes completed = %d, want 0 before block present", got)
	}

	tr.mu.Lock()
	tr.completion.AddBlock(0)
	tr.mu.Unlock()

	if got := tr.FileBytesCompleted(0); got != 1<<14 {
		t.Fatalf("bytes completed = %d, want %d once block present", got, 1<<14)
	}
}

func TestDisablePexIsNoOpOnPrivateTorrent(t *testing.T) {
	info := &TorrentInfo{
		PieceSize: 1 << 14, TotalSize: 1 << 14, PieceCount: 1,
		Files: []FileEntry{{Name: "a", Length: 1 << 14}},
		Pieces: make([]PieceDescriptor, 1),
		Flags: FlagPrivate,
	}
	ComputeFileGeometry(info)
	tr := New(info, "", Config{})

	peer := &fakePeer{addr: [4]byte{4, 4, 4, 4}}
	tr.AttachPeer(peer)
	tr.DisablePex(false)

	if !peer.private {
		t.Fatalf("expected private torrent's peer to stay marked private regardless of DisablePex")
	}
}

func TestAvailabilitySamplesAtStride(t *testing.T) {
	tr := newTestTorrent(t, 4, 1<<14, 4*(1<<14))

	have := &fakePeer{addr: [4]byte{5, 5, 5, 5}, hasPieces: map[int]bool{0: true, 2: true}}
	tr.AttachPeer(have)

	tr.mu.Lock()
	tr.completion.AddPiece(2)
	tr.mu.Unlock()

	got := tr.Availability(4)
	if len(got) != 4 {
		t.Fatalf("availability len = %d, want 4", len(got))
	}
	if got[0] != 1 {
		t.Fatalf("availability[0] = %d, want 1 (one peer has piece 0)", got[0])
	}
	if got[2] != -1 {
		t.Fatalf("availability[2] = %d, want -1 (piece already complete)", got[2])
	}

	// Sampling with replacement: size > pieceCount must not panic and
	// must still return exactly size entries.
	oversized := tr.Availability(10)
	if len(oversized) != 10 {
		t.Fatalf("oversized availability len = %d, want 10", len(oversized))
	}
}

func TestAmountFinishedSamplesAtStride(t *testing.T) {
	tr := newTestTorrent(t, 4, 1<<14, 4*(1<<14))

	tr.mu.Lock()
	tr.completion.AddPiece(0)
	tr.mu.Unlock()

	got := tr.AmountFinished(4)
	if len(got) != 4 {
		t.Fatalf("amountFinished len = %d, want 4", len(got))
	}
	if got[0] != 1.0 {
		t.Fatalf("amountFinished[0] = %f, want 1.0 (piece 0 fully present)", got[0])
	}
	if got[1] != 0.0 {
		t.Fatalf("amountFinished[1] = %f, want 0.0 (piece 1 empty)", got[1])
	}
}

func TestCompletionPerFileReturnsPerFileFractions(t *testing.T) {
	info := &TorrentInfo{
		PieceSize:  80,
		TotalSize:  200,
		PieceCount: 3,
		Files: []FileEntry{
			{Name: "a", Length: 100},
			{Name: "b", Length: 100},
		},
		Pieces: make([]PieceDescriptor, 3),
	}
	if err := ComputeFileGeometry(info); err != nil {
		t.Fatalf("ComputeFileGeometry: %v", err)
	}
	RecomputePiecePriorities(info)

	tr := New(info, "", Config{})
	tr.mu.Lock()
	tr.completion.AddPiece(0)
	tr.mu.Unlock()

	got := tr.CompletionPerFile()
	if len(got) != 2 {
		t.Fatalf("completionPerFile len = %d, want 2", len(got))
	}
	if got[0] <= 0 {
		t.Fatalf("file 0 completion = %f, want > 0 (piece 0 overlaps it)", got[0])
	}
	if got[1] != 0 {
		t.Fatalf("file 1 completion = %f, want 0 (no overlapping piece present)", got[1])
	}
}

// TestPulsePeersFatalWritesBackPriorEvictions verifies that an eviction
// earlier in the same pass is not lost when a later peer fails fatally:
// both the transient eviction and the fatal-stop must be reflected in
// t.Peers() once pulsePeers returns.
func TestPulsePeersFatalWritesBackPriorEvictions(t *testing.T) {
	tr := newTestTorrent(t, 4, 1<<14, 4*(1<<14))
	tr.Start()

	transientBad := &fakePeer{addr: [4]byte{6, 6, 6, 6}, pulseRet: 7}
	fatalBad := &fakePeer{addr: [4]byte{7, 7, 7, 7}, pulseRet: MakeIOError(1)}
	// Attached in this order so that pulsePeers' head-to-tail rotation
	// (first attached moves to the tail) visits transientBad before
	// fatalBad within the same pass.
	tr.AttachPeer(fatalBad)
	tr.AttachPeer(transientBad)

	tr.pulsePeers()

	if !transientBad.destroyed {
		t.Fatalf("expected the transiently-evicted peer to be destroyed")
	}
	for _, p := range tr.Peers() {
		if p.(*fakePeer) == transientBad {
			t.Fatalf("transiently-evicted peer should not remain in t.peers after a later fatal error")
		}
	}
}

func TestRunStopsCleanlyOnContextCancel(t *testing.T) {
	tr := newTestTorrent(t, 1, 1<<14, 1<<14)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := tr.Run(ctx); err == nil {
		t.Fatalf("expected Run to report context cancellation error")
	}
}
