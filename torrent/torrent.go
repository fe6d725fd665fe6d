package torrent

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/gmw/transmissionbt/completion"
	"github.com/gmw/transmissionbt/ratecounter"
)

const maxErrorStringLen = 256

// blockSizeCap is the maximum block size regardless of piece size
// (16 KiB, the BitTorrent request unit).
const blockSizeCap = 1 << 14

// Config carries everything a Torrent needs from its owner (the Engine)
// that isn't part of the metainfo itself: the consumed-interface
// factories, shared synchronization, logging, and the public port
// snapshot.
type Config struct {
	TrackerFactory TrackerFactory
	IOFactory      IOFactory
	PeerFactory    PeerFactory
	ResumeLoader   ResumeLoader

	// CheckFilesMutex serializes file-recheck across every torrent the
	// owning Engine manages; it is a field of the Engine per the
	// redesign flag in spec.md §9, not a lazily-initialized global.
	CheckFilesMutex *sync.Mutex

	PublicPort int
	Logger     *zap.SugaredLogger

	// Deregister is invoked by the driver loop once it has finished
	// its Stopping→Stopped transition and dieFlag is set; it is the
	// Engine's hook to drop the torrent from its registry. A nil
	// Deregister is a no-op (useful for tests constructing a Torrent
	// outside an Engine).
	Deregister func()
}

// Torrent is the central aggregate owned exclusively by the Engine:
// metainfo, completion state, the peer set, rate counters, run status,
// and error state, all guarded by a single reader/writer lock plus the
// driver task that advances it every tick.
type Torrent struct {
	mu sync.RWMutex

	info        *TorrentInfo
	destination string
	escapedHash string
	traceID     uuid.UUID

	blockSize  int64
	blockCount int
	completion *completion.Map

	peers        []Peer
	pexDisabled  bool
	customUpload bool
	customDownload bool

	upload     *ratecounter.Counter
	download   *ratecounter.Counter
	swarmSpeed *ratecounter.Counter

	uploadedCur, uploadedPrev     int64
	downloadedCur, downloadedPrev int64

	runStatus        RunStatus
	recheckRequested atomic.Bool
	dieFlag          atomic.Bool

	cpStatus        completion.Status
	hasChangedState int // -1 = consumed; otherwise a completion.Status value

	errCode     ErrCode
	errorString string

	startDate    time.Time
	stopDate     time.Time
	activityDate time.Time

	ioLoaded bool
	io       IO
	tracker  Tracker

	cfg Config
	log *zap.SugaredLogger

	done chan struct{}
}

// New constructs a Torrent over an already-geometry-populated
// TorrentInfo (the Engine computes file offsets and piece priorities
// before calling New; see engine.Register). The driver task is not
// started here — callers spawn it via Run.
func New(info *TorrentInfo, destination string, cfg Config) *Torrent {
	blockSize := info.PieceSize
	if blockSize > blockSizeCap {
		blockSize = blockSizeCap
	}
	blockCount := int((info.TotalSize + blockSize - 1) / blockSize)

	t := &Torrent{
		info:        info,
		destination: destination,
		escapedHash: EscapeInfoHash(info.Hash),
		traceID:     uuid.New(),
		blockSize:   blockSize,
		blockCount:  blockCount,
		upload:      ratecounter.New(),
		download:    ratecounter.New(),
		swarmSpeed:  ratecounter.New(),
		runStatus:   Stopped,
		errCode:     ErrOK,
		hasChangedState: -1,
		cfg:         cfg,
		done:        make(chan struct{}),
	}

	t.completion = completion.New(completion.GeometryParams{
		BlockCount: blockCount,
		PieceCount: info.PieceCount,
		BlockSize:  blockSize,
		PieceSize:  info.PieceSize,
		TotalSize:  info.TotalSize,
		PriorityOf: func(p int) completion.Priority {
			// Every completion.Map call is made with t.mu already held.
			if p < 0 || p >= len(t.info.Pieces) {
				return completion.DND
			}
			return t.info.Pieces[p].Priority
		},
		BlocksInPiece: func(p int) (int, int) {
			return t.blocksInPiece(p)
		},
	})

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	t.log = logger.With("infoHash", t.escapedHash, "trace", t.traceID.String(), "name", info.Name)

	return t
}

// blocksInPiece returns the first block index of piece p and how many
// blocks it spans, derived purely from geometry (no lock needed beyond
// what the caller already holds, since blockSize/pieceSize are
// immutable after construction).
func (t *Torrent) blocksInPiece(p int) (first, count int) {
	pieceStart := int64(p) * t.info.PieceSize
	pieceEnd := pieceStart + t.info.PieceSize
	if pieceEnd > t.info.TotalSize {
		pieceEnd = t.info.TotalSize
	}

	first = int(pieceStart / t.blockSize)
	last := int((pieceEnd - 1) / t.blockSize)
	if pieceEnd <= pieceStart {
		return first, 0
	}
	return first, last - first + 1
}

// Info returns the immutable metainfo descriptor for this torrent.
func (t *Torrent) Info() *TorrentInfo { return t.info }

// Hash returns the torrent's 20-byte identity.
func (t *Torrent) Hash() InfoHash { return t.info.Hash }

// EscapedInfoHash returns the percent-encoded info hash used in tracker
// queries.
func (t *Torrent) EscapedInfoHash() string { return t.escapedHash }

// Destination returns the current download destination path.
func (t *Torrent) Destination() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.destination
}

// RunStatus returns the current run status.
func (t *Torrent) RunStatus() RunStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.runStatus
}

// Start transitions the torrent to Running. The driver will act on this
// on its next tick.
func (t *Torrent) Start() {
	t.mu.Lock()
	t.runStatus = Running
	t.mu.Unlock()
}

// Stop requests a clean shutdown; the driver performs the actual
// teardown on its next tick once run-status is observed as Stopping.
func (t *Torrent) Stop() {
	t.mu.Lock()
	t.runStatus = Stopping
	t.mu.Unlock()
}

// Close requests shutdown and marks the torrent for destruction once
// the driver completes its Stopping→Stopped transition. Close is
// cooperative: there is no forced abort.
func (t *Torrent) Close() {
	t.Stop()
	t.dieFlag.Store(true)
}

// Done returns a channel that is closed once the driver loop has fully
// exited (dieFlag set and runStatus == Stopped, I/O closed, deregistered
// from the Engine).
func (t *Torrent) Done() <-chan struct{} { return t.done }

// SetFolder replaces the destination directory. If resume state has not
// yet been loaded, it is lazily loaded now via the configured
// ResumeLoader. Per the Open Question in spec.md §9, a failed load
// leaves ioLoaded false for a future SetFolder call to retry — this is
// not treated as an error here.
func (t *Torrent) SetFolder(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.destination = path
	if !t.ioLoaded && t.cfg.ResumeLoader != nil {
		t.ioLoaded = t.cfg.ResumeLoader(t) == 0
	}
}

// SetHasPiece adds or removes a whole piece from the completion map.
func (t *Torrent) SetHasPiece(pieceIndex int, have bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if have {
		t.completion.AddPiece(pieceIndex)
	} else {
		t.completion.RemovePiece(pieceIndex)
	}
}

// SetFilePriority sets a single file's priority and recomputes the
// priority of every piece that file overlaps (invariant F3).
func (t *Torrent) SetFilePriority(fileIndex int, pri Priority) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setFilePriorityLocked(fileIndex, pri)
}

func (t *Torrent) setFilePriorityLocked(fileIndex int, pri Priority) {
	if fileIndex < 0 || fileIndex >= len(t.info.Files) {
		return
	}

	f := &t.info.Files[fileIndex]
	f.Priority = pri
	recomputePiecePrioritiesForRange(t.info, f.FirstPiece, f.LastPiece)

	t.log.Debugw("file priority set",
		"file", fileIndex, "firstPiece", f.FirstPiece, "lastPiece", f.LastPiece, "priority", pri)
}

// SetFilePriorities bulk-applies SetFilePriority across every file. Per
// spec.md §9 the safe interpretation iterates by file count (the
// original's iteration by piece count against a file-sized array is a
// confirmed bug, not reproduced here).
func (t *Torrent) SetFilePriorities(priorities []Priority) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.info.Files)
	if len(priorities) < n {
		n = len(priorities)
	}
	for i := 0; i < n; i++ {
		t.setFilePriorityLocked(i, priorities[i])
	}
}

// GetFilePriority returns a single file's current priority.
func (t *Torrent) GetFilePriority(fileIndex int) Priority {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if fileIndex < 0 || fileIndex >= len(t.info.Files) {
		return DND
	}
	return t.info.Files[fileIndex].Priority
}

// GetFilePriorities returns every file's current priority.
func (t *Torrent) GetFilePriorities() []Priority {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Priority, len(t.info.Files))
	for i, f := range t.info.Files {
		out[i] = f.Priority
	}
	return out
}

// DisablePex propagates a peer-exchange-disabled flag to every attached
// peer. It is a no-op on private torrents, which always have PEX
// disabled regardless of this call.
func (t *Torrent) DisablePex(disable bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.info.Private() {
		return
	}
	if t.pexDisabled == disable {
		return
	}

	t.pexDisabled = disable
	for _, p := range t.peers {
		p.SetPrivate(disable)
	}
}

// Recheck requests a file recheck; the actual check is deferred to the
// driver loop, which performs it only once it can acquire the
// process-wide check-files mutex.
func (t *Torrent) Recheck() {
	t.recheckRequested.Store(true)
}

// ResetTransferStats rolls the current-session byte counters into the
// lifetime counters and zeroes the current ones.
func (t *Torrent) ResetTransferStats() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetTransferStatsLocked()
}

func (t *Torrent) resetTransferStatsLocked() {
	t.downloadedPrev += t.downloadedCur
	t.downloadedCur = 0
	t.uploadedPrev += t.uploadedCur
	t.uploadedCur = 0
}

// SetUseCustomUploadLimit and SetUseCustomDownloadLimit record whether
// this torrent should use its own RateCounter cap rather than a
// swarm-wide one (see SPEC_FULL.md §7). The flags are only stored:
// nothing in this package reads them, and the caps set by
// SetUploadLimit / SetDownloadLimit apply whatever their value.
func (t *Torrent) SetUseCustomUploadLimit(use bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.customUpload = use
}

func (t *Torrent) SetUseCustomDownloadLimit(use bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.customDownload = use
}

// SetUploadLimit and SetDownloadLimit set the absolute cap (bytes/sec)
// on the respective RateCounter; limit <= 0 clears the cap.
func (t *Torrent) SetUploadLimit(limit int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.upload.SetLimit(limit)
}

func (t *Torrent) SetDownloadLimit(limit int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.download.SetLimit(limit)
}

// boundedErrorString truncates s to maxErrorStringLen, matching the
// original's fixed-size errorString buffer.
func boundedErrorString(s string) string {
	if len(s) <= maxErrorStringLen {
		return s
	}
	return s[:maxErrorStringLen]
}
