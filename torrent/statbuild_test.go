package torrent

import (
	"testing"
	"time"
)

func TestStatRatioUsesMaxOfDownloadedAndDownloadedValid(t *testing.T) {
	tr := newTestTorrent(t, 1, 1<<14, 1<<14)

	tr.mu.Lock()
	tr.uploadedCur = 50
	tr.downloadedCur = 0 // nothing actually downloaded this session...
	tr.mu.Unlock()
	// ...but a resume/recheck found bytes already on disk, so
	// downloadedValid (completion.DownloadedValid) should still gate
	// and denominate the ratio instead of falling through to RatioNA.
	tr.mu.Lock()
	tr.completion.AddPiece(0)
	tr.mu.Unlock()

	s := tr.Stat()
	if s.Ratio == RatioNA {
		t.Fatalf("expected a real ratio once downloadedValid is nonzero, got RatioNA")
	}
	want := float64(s.Uploaded) / float64(s.DownloadedValid)
	if s.Ratio != want {
		t.Fatalf("ratio = %f, want %f (uploaded/max(downloaded,downloadedValid))", s.Ratio, want)
	}
}

func TestStatRatioIsNAWhenNothingDownloaded(t *testing.T) {
	tr := newTestTorrent(t, 1, 1<<14, 1<<14)

	s := tr.Stat()
	if s.Ratio != RatioNA {
		t.Fatalf("ratio = %f, want RatioNA with nothing downloaded or valid", s.Ratio)
	}
}

func TestStatRateUploadAndSwarmSpeedNotGatedToRunning(t *testing.T) {
	tr := newTestTorrent(t, 1, 1<<14, 1<<14)
	// runStatus defaults to Stopped.

	now := time.Now()
	tr.upload.Record(1000, now)
	tr.swarmSpeed.Record(1000, now)
	tr.download.Record(1000, now)

	s := tr.Stat()
	if s.RateDownload != 0 {
		t.Fatalf("rateDownload = %f, want 0 while not Running", s.RateDownload)
	}
	// RateUpload/SwarmSpeed must be computed regardless of run status,
	// matching the original's unconditional rateUpload/swarmspeed.
	if s.RateUpload == 0 {
		t.Fatalf("rateUpload = 0, want nonzero even while not Running")
	}
	if s.SwarmSpeed == 0 {
		t.Fatalf("swarmSpeed = 0, want nonzero even while not Running")
	}
}

func TestStatETAFloorAndUnitConversion(t *testing.T) {
	tr := newTestTorrent(t, 1, 1<<14, 1<<14)

	if eta := tr.etaLocked(0.05, 1000); eta != -1 {
		t.Fatalf("eta = %f, want -1 below the 0.1 bytes/sec floor", eta)
	}
	if eta := tr.etaLocked(0, 1000); eta != -1 {
		t.Fatalf("eta = %f, want -1 at zero rate", eta)
	}

	eta := tr.etaLocked(100, 1000)
	want := 1000.0 / 100.0 / 1024.0
	if eta != want {
		t.Fatalf("eta = %f, want %f", eta, want)
	}
}
