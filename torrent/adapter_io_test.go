package torrent

import (
	"context"
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"
)

func TestFileIOCheckFilesMarksMatchingPieceComplete(t *testing.T) {
	dir := t.TempDir()
	content := []byte("hello torrent world, this is piece data")

	info := &TorrentInfo{
		Name:       "single.bin",
		PieceSize:  int64(len(content)),
		PieceCount: 1,
		TotalSize:  int64(len(content)),
		Files:      []FileEntry{{Name: "single.bin", Length: int64(len(content))}},
		Pieces:     make([]PieceDescriptor, 1),
	}
	if err := ComputeFileGeometry(info); err != nil {
		t.Fatalf("ComputeFileGeometry: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "single.bin"), content, 0o644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	tr := New(info, dir, Config{})

	hash := sha1.Sum(content)
	fio, err := openFileIO(tr, [][20]byte{hash})
	if err != nil {
		t.Fatalf("openFileIO: %v", err)
	}
	defer fio.Close()

	if err := fio.CheckFiles(context.Background(), 0); err != nil {
		t.Fatalf("CheckFiles: %v", err)
	}

	if got := tr.FileBytesCompleted(0); got != int64(len(content)) {
		t.Fatalf("bytes completed = %d, want %d", got, len(content))
	}
}

func TestFileIOCheckFilesLeavesMismatchedPieceIncomplete(t *testing.T) {
	dir := t.TempDir()
	content := []byte("actual on-disk bytes")
	wrongHash := sha1.Sum([]byte("different expected bytes"))

	info := &TorrentInfo{
		Name:       "single.bin",
		PieceSize:  int64(len(content)),
		PieceCount: 1,
		TotalSize:  int64(len(content)),
		Files:      []FileEntry{{Name: "single.bin", Length: int64(len(content))}},
		Pieces:     make([]PieceDescriptor, 1),
	}
	ComputeFileGeometry(info)

	if err := os.WriteFile(filepath.Join(dir, "single.bin"), content, 0o644); err != nil {
		t.Fatalf("seeding file: %v", err)
	}

	tr := New(info, dir, Config{})
	fio, err := openFileIO(tr, [][20]byte{wrongHash})
	if err != nil {
		t.Fatalf("openFileIO: %v", err)
	}
	defer fio.Close()

	if err := fio.CheckFiles(context.Background(), 0); err != nil {
		t.Fatalf("CheckFiles: %v", err)
	}

	if got := tr.FileBytesCompleted(0); got != 0 {
		t.Fatalf("bytes completed = %d, want 0 for mismatched hash", got)
	}
}
