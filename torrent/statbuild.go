package torrent

import "github.com/gmw/transmissionbt/completion"

// Stat assembles a self-consistent status snapshot under the read
// lock, porting tr_torrentStat's field-by-field derivation: ETA is
// only meaningful while downloading and making progress, ratio uses
// RatioNA while nothing has been downloaded yet, and the download rate
// is suppressed (zeroed) unless the torrent is actually Running; the
// upload rate and swarm speed are reported in every run status.
func (t *Torrent) Stat() Stat {
	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Stat{
		Error:                t.errCode,
		ErrorString:          t.errorString,
		PercentDone:          t.completion.PercentDone(),
		PercentComplete:      t.completion.PercentComplete(),
		Left:                 t.completion.LeftUntilDone(),
		Downloaded:           t.downloadedCur + t.downloadedPrev,
		DownloadedValid:      t.completion.DownloadedValid(),
		Uploaded:             t.uploadedCur + t.uploadedPrev,
		CPStatus:             t.cpStatus,
		StartDate:            t.startDate,
		StopDate:             t.stopDate,
		ActivityDate:         t.activityDate,
		PeersTotal:           len(t.peers),
	}

	if t.tracker != nil {
		s.CannotConnect = t.tracker.CannotConnect()
		s.TrackerURL = t.tracker.Get()
		s.Seeders = t.tracker.Seeders()
		s.Leechers = t.tracker.Leechers()
		s.CompletedFromTracker = t.tracker.Downloaded()
	}

	for _, p := range t.peers {
		if p.IsInterested() && !p.IsChoking() {
			s.PeersDownloading++
		}
		if p.AmInterested() && !p.AmChoking() {
			s.PeersUploading++
		}
	}

	if s.Downloaded > 0 || s.DownloadedValid > 0 {
		denom := s.Downloaded
		if s.DownloadedValid > denom {
			denom = s.DownloadedValid
		}
		s.Ratio = float64(s.Uploaded) / float64(denom)
	} else {
		s.Ratio = RatioNA
	}

	s.RateUpload = t.upload.Rate()
	s.SwarmSpeed = t.swarmSpeed.Rate()
	if t.runStatus == Running {
		s.RateDownload = t.download.Rate()
	}

	s.Status = t.displayStatusLocked()
	s.ETA = t.etaLocked(s.RateDownload, s.Left)

	return s
}

func (t *Torrent) displayStatusLocked() DisplayStatus {
	switch t.runStatus {
	case Checking:
		return StatusChecking
	case Stopping:
		return StatusStopping
	case Stopped:
		if t.recheckRequested.Load() {
			return StatusCheckWait
		}
		return StatusStopped
	case Running:
		switch t.cpStatus {
		case completion.Complete:
			return StatusSeeding
		case completion.Done:
			return StatusDone
		default:
			return StatusDownloading
		}
	default:
		return StatusStopped
	}
}

// etaLocked estimates seconds remaining at the current download rate, a
// direct port of the original's eta formula: below a 0.1 bytes/sec
// floor the rate is considered too small to extrapolate from and the
// ETA_NOT_AVAIL sentinel (-1) is returned; otherwise left bytes is
// divided by rate and by 1024 to match the original's KiB/sec rate
// convention.
func (t *Torrent) etaLocked(rateDownload float64, left int64) float64 {
	if rateDownload < 0.1 {
		return -1
	}
	return float64(left) / rateDownload / 1024.0
}
