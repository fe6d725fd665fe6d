package torrent

import (
	"time"

	"github.com/gmw/transmissionbt/completion"
)

// DisplayStatus is the human-facing status shown in a Stat snapshot; it
// folds run-status, the recheck-pending flag, and completion status
// into a single value the way the original's tr_stat_t.status does.
type DisplayStatus int

const (
	StatusCheckWait DisplayStatus = iota
	StatusChecking
	StatusStopping
	StatusStopped
	StatusDownloading
	StatusDone
	StatusSeeding
)

// Stat is a self-consistent snapshot of a torrent's state at one
// instant. The original guards against a reader observing a
// torn/stale snapshot by flipping between two buffers; here Stat is
// simply returned by value under the read lock, which gives the same
// guarantee without the bookkeeping (see DESIGN.md).
type Stat struct {
	Error       ErrCode
	ErrorString string

	CannotConnect        bool
	TrackerURL           string
	Seeders              int
	Leechers             int
	CompletedFromTracker int

	PeersTotal       int
	PeersUploading   int
	PeersDownloading int

	PercentDone     float64
	PercentComplete float64
	Left            int64
	Downloaded      int64
	DownloadedValid int64
	Uploaded        int64
	Ratio           float64

	RateDownload float64
	RateUpload   float64
	SwarmSpeed   float64

	Status   DisplayStatus
	CPStatus completion.Status

	StartDate    time.Time
	StopDate     time.Time
	ActivityDate time.Time

	ETA float64
}
