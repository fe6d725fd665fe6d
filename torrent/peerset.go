package torrent

import (
	"context"
	"encoding/binary"
	"errors"
)

// ErrNoLiveTracker is returned by Scrape when the torrent has no
// active tracker session (it is not Running).
var ErrNoLiveTracker = errors.New("torrent: no live tracker session")

// compactPeerLen is the size of one compact peer record: 4 bytes of
// IPv4 address followed by 2 bytes of big-endian port.
const compactPeerLen = 6

// AttachPeer admits a newly discovered peer into the torrent's peer
// set, applying the original's two rejection rules: the set is already
// at MaxPeerCount, or a peer with the same 4-byte address is already
// attached (a cheap, intentionally coarse de-dup — see DESIGN.md). A
// private torrent, or one with peer exchange explicitly disabled,
// marks the peer accordingly.
func (t *Torrent) AttachPeer(p Peer) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attachPeerLocked(p)
}

func (t *Torrent) attachPeerLocked(p Peer) bool {
	if len(t.peers) >= MaxPeerCount {
		return false
	}

	addr := p.Address()
	for _, existing := range t.peers {
		if existing.Address() == addr {
			return false
		}
	}

	p.SetTorrent(t)
	p.SetPrivate(t.info.Private() || t.pexDisabled)
	t.peers = append(t.peers, p)
	return true
}

// AddCompactPeers decodes a buffer of compact (ip, port) records and
// attaches each one via the configured PeerFactory, exactly mirroring
// tr_torrentAddCompact. Per the Open Question resolved in DESIGN.md,
// the count to decode is clamped defensively to the buffer length
// (network input is untrusted) rather than trusted blindly from a
// caller-supplied count.
func (t *Torrent) AddCompactPeers(compact []byte, from PeerFrom) int {
	t.mu.Lock()
	factory := t.cfg.PeerFactory
	t.mu.Unlock()

	if factory == nil {
		return 0
	}

	n := len(compact) / compactPeerLen
	added := 0
	for i := 0; i < n; i++ {
		rec := compact[i*compactPeerLen : (i+1)*compactPeerLen]
		var addr [4]byte
		copy(addr[:], rec[:4])
		port := binary.BigEndian.Uint16(rec[4:6])

		p := factory(addr, port, from)
		if p == nil {
			continue
		}

		t.mu.Lock()
		ok := t.attachPeerLocked(p)
		t.mu.Unlock()

		if ok {
			added++
		} else {
			p.Destroy()
		}
	}
	return added
}

// Peers returns a snapshot slice of the currently attached peers.
func (t *Torrent) Peers() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Peer, len(t.peers))
	copy(out, t.peers)
	return out
}

// Availability samples a histogram of peer-owned copies of pieces into
// a tab of length size, a direct port of tr_torrentAvailability: pieces
// are sampled at stride pieceCount/size (with replacement when size
// exceeds pieceCount, per spec.md's edge case), saturating the
// per-piece count at 127 (the int8 maximum) and reporting -1 for a sampled piece this
// torrent already has complete.
func (t *Torrent) Availability(size int) []int8 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]int8, size)
	if size <= 0 {
		return out
	}

	interval := float64(t.info.PieceCount) / float64(size)
	for i := 0; i < size; i++ {
		piece := int(float64(i) * interval)

		if t.completion.HasPiece(piece) {
			out[i] = -1
			continue
		}

		count := 0
		for _, peer := range t.peers {
			if peer.HasPiece(piece) {
				count++
			}
		}
		if count > 127 {
			count = 127
		}
		out[i] = int8(count)
	}
	return out
}

// Scrape queries the tracker directly for seeder/leecher/downloaded
// counts outside the normal announce cycle; it requires a live tracker
// session (the torrent must be Running).
func (t *Torrent) Scrape(ctx context.Context) (seeders, leechers, downloaded int, err error) {
	t.mu.RLock()
	trk := t.tracker
	t.mu.RUnlock()

	if trk == nil {
		return 0, 0, 0, ErrNoLiveTracker
	}
	return trk.Scrape(ctx)
}

// FileBytesCompleted returns the number of bytes of file fileIndex that
// are currently present, porting tr_torrentFileBytesCompleted's
// byte-offset accounting exactly: a file spanning a single block is
// credited proportionally to that block's completion fraction; a file
// spanning multiple blocks sums whole interior blocks plus the partial
// first/last block contribution.
func (t *Torrent) FileBytesCompleted(fileIndex int) int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.fileBytesCompletedLocked(fileIndex)
}

func (t *Torrent) fileBytesCompletedLocked(fileIndex int) int64 {
	if fileIndex < 0 || fileIndex >= len(t.info.Files) {
		return 0
	}
	f := t.info.Files[fileIndex]
	if f.Length <= 0 {
		return 0
	}

	firstByte := f.Offset
	lastByte := f.Offset + f.Length - 1

	firstBlock := int(firstByte / t.blockSize)
	lastBlock := int(lastByte / t.blockSize)

	if firstBlock == lastBlock {
		if !t.completion.HasBlock(firstBlock) {
			return 0
		}
		return f.Length
	}

	var total int64

	firstBlockEnd := int64(firstBlock+1)*t.blockSize - 1
	firstBlockBytes := firstBlockEnd - firstByte + 1
	if t.completion.HasBlock(firstBlock) {
		total += firstBlockBytes
	}

	for b := firstBlock + 1; b < lastBlock; b++ {
		if t.completion.HasBlock(b) {
			total += t.blockSize
		}
	}

	lastBlockStart := int64(lastBlock) * t.blockSize
	lastBlockBytes := lastByte - lastBlockStart + 1
	if t.completion.HasBlock(lastBlock) {
		total += lastBlockBytes
	}

	return total
}

// FileCompletion returns the fraction of file fileIndex's bytes present,
// in [0, 1].
func (t *Torrent) FileCompletion(fileIndex int) float64 {
	t.mu.RLock()
	length := int64(0)
	if fileIndex >= 0 && fileIndex < len(t.info.Files) {
		length = t.info.Files[fileIndex].Length
	}
	t.mu.RUnlock()

	if length <= 0 {
		return 1.0
	}
	return float64(t.FileBytesCompleted(fileIndex)) / float64(length)
}

// CompletionPerFile returns, for every file in order, the fraction of
// its bytes currently present — a direct port of tr_torrentCompletion,
// which allocates one float per file and fills it via
// tr_torrentFileCompletion.
func (t *Torrent) CompletionPerFile() []float64 {
	t.mu.RLock()
	n := len(t.info.Files)
	t.mu.RUnlock()

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = t.FileCompletion(i)
	}
	return out
}

// AmountFinished samples a piece-complete-fraction tab of length size, a
// direct port of tr_torrentAmountFinished: pieces are sampled at stride
// pieceCount/size and each entry is that piece's fraction of present
// blocks (completion.PercentBlocksInPiece).
func (t *Torrent) AmountFinished(size int) []float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]float64, size)
	if size <= 0 {
		return out
	}

	interval := float64(t.info.PieceCount) / float64(size)
	for i := 0; i < size; i++ {
		piece := int(float64(i) * interval)
		out[i] = t.completion.PercentBlocksInPiece(piece)
	}
	return out
}
