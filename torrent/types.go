// Package torrent implements the per-torrent engine: the Torrent
// aggregate, its embedded peer-set policy, the driver task that drives
// the Stopped→Running→Checking→Stopping state machine, and the
// Tracker/IO/Peer interfaces it consumes.
package torrent

import (
	"fmt"

	"github.com/gmw/transmissionbt/completion"
)

// InfoHash is the 20-byte SHA-1 identity of a torrent; the Engine's
// registry primary key.
type InfoHash [20]byte

// Priority mirrors completion.Priority; re-exported here so callers of
// this package don't need to import completion just to name a priority.
type Priority = completion.Priority

const (
	DND    = completion.DND
	Low    = completion.Low
	Normal = completion.Normal
	High   = completion.High
)

// InfoFlags holds the bit flags carried in a torrent's info dictionary.
type InfoFlags int

const (
	// FlagPrivate marks a private torrent: peer exchange is always
	// disabled regardless of DisablePex.
	FlagPrivate InfoFlags = 1 << iota
)

// FileEntry describes one file within a (possibly multi-file) torrent.
// Offset, FirstPiece, and LastPiece are derived fields, populated by
// ComputeFileGeometry rather than supplied by the metainfo parser.
type FileEntry struct {
	Name       string
	Length     int64
	Offset     int64
	FirstPiece int
	LastPiece  int
	Priority   Priority
}

// PieceDescriptor holds per-piece derived state.
type PieceDescriptor struct {
	Priority Priority
}

// TorrentInfo is the externally-produced metainfo descriptor this engine
// consumes: the output of metainfo parsing (out of scope here).
type TorrentInfo struct {
	Hash       InfoHash
	Name       string
	PieceSize  int64
	PieceCount int
	TotalSize  int64
	Files      []FileEntry
	Pieces     []PieceDescriptor
	Flags      InfoFlags
}

// Private reports whether the torrent's info dictionary sets the
// private flag.
func (ti *TorrentInfo) Private() bool { return ti.Flags&FlagPrivate != 0 }

// ComputeFileGeometry fills in each file's Offset/FirstPiece/LastPiece
// from its Length, and validates invariants F1/F2 of the data model:
//
//	F1: files[i].offset = Σ files[j<i].length; Σ files[i].length = totalSize
//	F2: file.firstPiece = ⌊offset/pieceSize⌋
//	    file.lastPiece  = ⌊(offset+max(length,1)-1)/pieceSize⌋
func ComputeFileGeometry(info *TorrentInfo) error {
	if info.PieceSize <= 0 {
		return fmt.Errorf("torrent: pieceSize must be positive")
	}

	var offset int64
	for i := range info.Files {
		f := &info.Files[i]
		f.Offset = offset
		offset += f.Length

		lastByte := f.Offset
		if f.Length > 0 {
			lastByte += f.Length - 1
		}
		f.FirstPiece = int(f.Offset / info.PieceSize)
		f.LastPiece = int(lastByte / info.PieceSize)
	}

	if offset != info.TotalSize {
		return fmt.Errorf("torrent: sum of file lengths %d != totalSize %d", offset, info.TotalSize)
	}

	return nil
}

// RecomputePiecePriorities implements invariant F3: every piece's
// priority is the max priority of any file overlapping it, with DND as
// the floor for pieces no file overlaps.
func RecomputePiecePriorities(info *TorrentInfo) {
	for p := range info.Pieces {
		info.Pieces[p].Priority = DND
	}

	for _, f := range info.Files {
		for p := f.FirstPiece; p <= f.LastPiece && p < len(info.Pieces); p++ {
			if f.Priority > info.Pieces[p].Priority {
				info.Pieces[p].Priority = f.Priority
			}
		}
	}
}

// recomputePiecePrioritiesForRange recomputes priority only for the
// pieces a single file overlaps — used by SetFilePriority so a change
// to one file doesn't require rescanning every piece against every
// file when only one file's range is affected relative to its old
// priority. Because priority is a max over overlapping files, a
// shrinking change still requires scanning all files that overlap the
// same pieces, so this delegates to the full per-piece recomputation
// restricted to the file's piece range.
func recomputePiecePrioritiesForRange(info *TorrentInfo, firstPiece, lastPiece int) {
	for p := firstPiece; p <= lastPiece && p < len(info.Pieces); p++ {
		pri := DND
		for _, f := range info.Files {
			if f.FirstPiece <= p && f.LastPiece >= p && f.Priority > pri {
				pri = f.Priority
			}
		}
		info.Pieces[p].Priority = pri
	}
}

// EscapeInfoHash produces the 60-character "%xx%xx…" percent-encoded
// info hash used in tracker queries.
func EscapeInfoHash(hash InfoHash) string {
	buf := make([]byte, 0, 3*len(hash))
	const hexDigits = "0123456789abcdef"
	for _, b := range hash {
		buf = append(buf, '%', hexDigits[b>>4], hexDigits[b&0xF])
	}
	return string(buf)
}
