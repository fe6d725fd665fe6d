package torrent

import "context"

// MaxPeerCount caps the number of peers a single torrent holds at once.
const MaxPeerCount = 200

// DefaultPort is the port the Engine binds to if none has been set
// before the first torrent is registered.
const DefaultPort = 51413

// RatioNA is the sentinel ratio reported when both downloaded and
// downloadedValid are zero.
const RatioNA = -1.0

// ErrCode is the taxonomy of error codes a Torrent can carry in its
// error state, per §6/§7 of the specification.
type ErrCode int

const (
	ErrOK ErrCode = iota
	ErrOther
	ErrInvalid
	ErrDuplicate
	ErrDupDownload
	// ioErrBase is the I/O-error bit; any code with this bit set is
	// considered fatal and tested via IsIOError.
	ioErrBase = 1 << 8
)

// IsIOError reports whether code has the fatal I/O error bit set
// (ERROR_IO_MASK in the spec).
func IsIOError(code int) bool {
	return code&ioErrBase != 0
}

// MakeIOError sets the I/O-error bit on an arbitrary underlying code,
// producing a value IsIOError will recognize.
func MakeIOError(code int) int {
	return code | ioErrBase
}

// RunStatus is the torrent's coarse run state.
type RunStatus int

const (
	Stopped RunStatus = iota
	Running
	Stopping
	Checking
)

func (s RunStatus) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Checking:
		return "checking"
	default:
		return "unknown"
	}
}

// PeerFrom identifies how a peer was discovered, mirroring the original
// tr_peer_from enumeration (tracker, PEX, DHT, ...). Only Tracker is
// produced internally by this package; the rest are accepted from
// callers of AttachPeer.
type PeerFrom int

const (
	FromTracker PeerFrom = iota
	FromPex
	FromDHT
	FromIncoming
)

// Peer is the consumed interface to a single peer connection. Wire
// framing of the BitTorrent peer protocol is out of scope here — this
// package only needs the pulse/predicate surface the driver and the
// Stat/Peers read operations consume.
type Peer interface {
	// Pulse advances the peer's connection by one driver tick and
	// returns a result code: zero means "no error, keep going"; a
	// nonzero code with IsIOError(code) set means a fatal I/O failure
	// (the driver stops the torrent); any other nonzero code means a
	// transient, peer-local failure (the driver evicts just this peer).
	Pulse() int

	Destroy()

	SetPrivate(bool)
	SetTorrent(t *Torrent)

	Address() [4]byte
	Port() uint16
	PeerID() string
	Client() string
	IsFrom() PeerFrom

	IsConnected() bool
	AmChoking() bool
	IsChoking() bool
	AmInterested() bool
	IsInterested() bool
	Progress() float64
	UploadRate() float64
	DownloadRate() float64
	HasPiece(index int) bool
}

// PeerFactory constructs a new Peer from a compact tracker entry (or any
// other discovery source sharing the same (ip, port) shape).
type PeerFactory func(addr [4]byte, port uint16, from PeerFrom) Peer

// Tracker is the consumed tracker-session interface: one Tracker is
// created per torrent run and owned exclusively by the driver task.
type Tracker interface {
	// Pulse announces to the tracker (if due) and returns any compact
	// peer list received since the last call.
	Pulse(ctx context.Context) (peers []byte, err error)
	Stopped(ctx context.Context)
	Completed(ctx context.Context)
	Scrape(ctx context.Context) (seeders, leechers, downloaded int, err error)
	Close()

	CannotConnect() bool
	Get() string
	Seeders() int
	Leechers() int
	Downloaded() int
}

// TrackerFactory constructs the Tracker for a torrent's run.
type TrackerFactory func(t *Torrent) Tracker

// IO is the consumed on-disk I/O interface: open/read/write/sync of
// piece data and hash verification of pieces, none of which this
// package specifies.
type IO interface {
	CheckFiles(ctx context.Context, mode int) error
	Sync() error
	Close() error
}

// IOFactory constructs the fast-init IO handle for a torrent's run. It
// returns a nil IO and a non-nil error if fast-init fails, matching the
// original's ioInitFast failure path (which triggers a recheck rather
// than stopping the torrent outright).
type IOFactory func(t *Torrent) (IO, error)

// ResumeLoader loads any saved resume state for a torrent once its
// destination folder is known. It returns a nonzero code on failure;
// see DESIGN.md for the Open Question this resolves.
type ResumeLoader func(t *Torrent) int
