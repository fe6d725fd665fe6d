// Package completion tracks block- and piece-level completion for a
// single torrent: a block bitmap plus the derived piece, percentage, and
// status views the driver and the status API need every tick.
package completion

import "github.com/willf/bitset"

// Status is the three-state completion summary returned by Status.
type Status int

const (
	// Incomplete means at least one non-DND (wanted) piece is missing.
	Incomplete Status = iota
	// Done means every wanted piece is present, but some DND pieces
	// may still be missing.
	Done
	// Complete means every piece, DND or not, is present.
	Complete
)

// Priority mirrors a file's/piece's download priority. DND pieces are
// excluded from "wanted" accounting in Status and PercentDone.
type Priority int

const (
	DND Priority = iota
	Low
	Normal
	High
)

// pieceGeometry is the subset of per-piece layout information the map
// needs to translate between blocks and pieces; it is supplied by the
// owner (normally the torrent) rather than duplicated here.
type pieceGeometry struct {
	blockCount    int
	pieceCount    int
	blockSize     int64
	pieceSize     int64
	totalSize     int64
	priorityOf    func(piece int) Priority
	blocksInPiece func(piece int) (first, count int)
}

// Map is a block-level completion bitmap with piece-level derived views.
// It is not safe for concurrent use by itself — callers (Torrent) provide
// the locking discipline.
type Map struct {
	blocks bitset.BitSet
	geom   pieceGeometry
}

// GeometryParams describes the fixed layout a Map is built over. It is
// supplied once at construction by the owning Torrent, which already
// knows block/piece sizing and per-piece priority.
type GeometryParams struct {
	BlockCount int
	PieceCount int
	BlockSize  int64
	PieceSize  int64
	TotalSize  int64
	// PriorityOf returns the current priority of a given piece index.
	PriorityOf func(piece int) Priority
	// BlocksInPiece returns the first block index of piece p and how
	// many blocks belong to it.
	BlocksInPiece func(piece int) (first, count int)
}

// New constructs an empty completion Map over the given geometry.
func New(p GeometryParams) *Map {
	return &Map{
		geom: pieceGeometry{
			blockCount:    p.BlockCount,
			pieceCount:    p.PieceCount,
			blockSize:     p.BlockSize,
			pieceSize:     p.PieceSize,
			totalSize:     p.TotalSize,
			priorityOf:    p.PriorityOf,
			blocksInPiece: p.BlocksInPiece,
		},
	}
}

// HasBlock reports whether blockIndex is marked complete.
func (m *Map) HasBlock(blockIndex int) bool {
	return m.blocks.Test(uint(blockIndex))
}

// AddBlock marks blockIndex complete.
func (m *Map) AddBlock(blockIndex int) {
	m.blocks.Set(uint(blockIndex))
}

// RemoveBlock marks blockIndex incomplete.
func (m *Map) RemoveBlock(blockIndex int) {
	m.blocks.Clear(uint(blockIndex))
}

// HasPiece reports whether every block of piece p is complete.
func (m *Map) HasPiece(p int) bool {
	first, count := m.geom.blocksInPiece(p)
	for b := first; b < first+count; b++ {
		if !m.blocks.Test(uint(b)) {
			return false
		}
	}
	return true
}

// AddPiece marks every block of piece p complete.
func (m *Map) AddPiece(p int) {
	first, count := m.geom.blocksInPiece(p)
	for b := first; b < first+count; b++ {
		m.blocks.Set(uint(b))
	}
}

// RemovePiece marks every block of piece p incomplete.
func (m *Map) RemovePiece(p int) {
	first, count := m.geom.blocksInPiece(p)
	for b := first; b < first+count; b++ {
		m.blocks.Clear(uint(b))
	}
}

// Status summarizes overall completion: Incomplete while any wanted
// (non-DND) piece is missing, Done once every wanted piece is present,
// Complete once every piece, DND or not, is present.
func (m *Map) Status() Status {
	allComplete := true
	allWantedComplete := true

	for p := 0; p < m.geom.pieceCount; p++ {
		complete := m.HasPiece(p)
		if !complete {
			allComplete = false
			if m.geom.priorityOf(p) != DND {
				allWantedComplete = false
			}
		}
	}

	switch {
	case allComplete:
		return Complete
	case allWantedComplete:
		return Done
	default:
		return Incomplete
	}
}

// PercentBlocksInPiece returns the fraction of piece p's blocks that are
// complete, in [0, 1].
func (m *Map) PercentBlocksInPiece(p int) float64 {
	first, count := m.geom.blocksInPiece(p)
	if count == 0 {
		return 1.0
	}

	have := 0
	for b := first; b < first+count; b++ {
		if m.blocks.Test(uint(b)) {
			have++
		}
	}
	return float64(have) / float64(count)
}

// blockByteLength returns the number of valid bytes in block b (the
// last block of the torrent may be shorter than blockSize).
func (m *Map) blockByteLength(b int) int64 {
	start := int64(b) * m.geom.blockSize
	remaining := m.geom.totalSize - start
	if remaining > m.geom.blockSize {
		return m.geom.blockSize
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

// percentOfBytes sums the byte length of every complete block whose
// piece satisfies include, divided by the matching total.
func (m *Map) percentOfBytes(include func(piece int) bool) float64 {
	var have, total int64

	for p := 0; p < m.geom.pieceCount; p++ {
		if !include(p) {
			continue
		}
		first, count := m.geom.blocksInPiece(p)
		for b := first; b < first+count; b++ {
			length := m.blockByteLength(b)
			total += length
			if m.blocks.Test(uint(b)) {
				have += length
			}
		}
	}

	if total == 0 {
		return 1.0
	}
	return float64(have) / float64(total)
}

// PercentDone is the fraction of wanted (non-DND) bytes present.
func (m *Map) PercentDone() float64 {
	return m.percentOfBytes(func(p int) bool { return m.geom.priorityOf(p) != DND })
}

// PercentComplete is the fraction of all bytes present, DND or not.
func (m *Map) PercentComplete() float64 {
	return m.percentOfBytes(func(int) bool { return true })
}

// LeftUntilDone returns the number of wanted bytes still missing.
func (m *Map) LeftUntilDone() int64 {
	var missing int64
	for p := 0; p < m.geom.pieceCount; p++ {
		if m.geom.priorityOf(p) == DND {
			continue
		}
		first, count := m.geom.blocksInPiece(p)
		for b := first; b < first+count; b++ {
			if !m.blocks.Test(uint(b)) {
				missing += m.blockByteLength(b)
			}
		}
	}
	return missing
}

// DownloadedValid returns the number of bytes present that have passed
// hash verification — in this accounting model that is simply every
// complete block's byte length, since blocks are only marked complete
// after the (external) hash check succeeds.
func (m *Map) DownloadedValid() int64 {
	var have int64
	for b := 0; b < m.geom.blockCount; b++ {
		if m.blocks.Test(uint(b)) {
			have += m.blockByteLength(b)
		}
	}
	return have
}
