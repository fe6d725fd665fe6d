// Package engine implements the process-wide torrent registry: torrent
// admission (with duplicate-by-hash and duplicate-by-name-and-
// destination detection), the shared check-files mutex every torrent's
// driver contends for, and the public port every torrent's tracker
// session announces.
package engine

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gmw/transmissionbt/torrent"
)

// DuplicateError is returned by Register when the incoming metainfo
// collides with an already-registered torrent. SameHash distinguishes
// a literal re-add (ErrDuplicate in the original) from a
// different-hash-but-same-name-and-destination collision
// (ErrDupDownload).
type DuplicateError struct {
	Existing *torrent.Torrent
	SameHash bool
}

func (e *DuplicateError) Error() string {
	if e.SameHash {
		return fmt.Sprintf("engine: torrent %s is already registered", e.Existing.EscapedInfoHash())
	}
	return fmt.Sprintf("engine: a torrent named %q is already downloading to %q",
		e.Existing.Info().Name, e.Existing.Destination())
}

// Factories bundles the adapter constructors a newly registered torrent
// is wired up with. A nil field is valid and simply leaves that
// capability unavailable (e.g. a torrent with no TrackerFactory never
// gets a tracker session).
type Factories struct {
	TrackerFactory torrent.TrackerFactory
	IOFactory      torrent.IOFactory
	PeerFactory    torrent.PeerFactory
	ResumeLoader   torrent.ResumeLoader
}

// Engine is the process-wide registry of active torrents. One Engine
// typically exists per process; the zero value is not usable, use New.
type Engine struct {
	mu       sync.RWMutex
	torrents map[torrent.InfoHash]*torrent.Torrent

	checkFilesMutex sync.Mutex

	publicPort int
	factories  Factories
	log        *zap.SugaredLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options configures a new Engine.
type Options struct {
	PublicPort int
	Factories  Factories
	Logger     *zap.SugaredLogger
}

// New constructs an Engine. If opts.PublicPort is zero,
// torrent.DefaultPort is used, matching the original's lazy
// bind-on-first-use behavior.
func New(opts Options) *Engine {
	port := opts.PublicPort
	if port == 0 {
		port = torrent.DefaultPort
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		torrents:   make(map[torrent.InfoHash]*torrent.Torrent),
		publicPort: port,
		factories:  opts.Factories,
		log:        logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// PublicPort returns the port new tracker sessions announce.
func (e *Engine) PublicPort() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.publicPort
}

// SetPublicPort changes the announced port for future tracker
// announces; torrents already running keep announcing whatever port
// their tracker session captured at construction, matching the
// original's per-session snapshot of the port rather than a live read.
func (e *Engine) SetPublicPort(port int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.publicPort = port
}

// Register admits a new torrent described by info into the Engine,
// rejecting duplicates. A same-hash collision always wins over a
// same-name-and-destination collision (checked in that order,
// mirroring torrentRealInit's dup-by-hash-then-by-name ordering).
func (e *Engine) Register(info *torrent.TorrentInfo, destination string) (*torrent.Torrent, error) {
	e.mu.Lock()

	if existing, ok := e.torrents[info.Hash]; ok {
		e.mu.Unlock()
		return existing, &DuplicateError{Existing: existing, SameHash: true}
	}

	for _, existing := range e.torrents {
		if existing.Info().Name == info.Name && existing.Destination() == destination {
			e.mu.Unlock()
			return existing, &DuplicateError{Existing: existing, SameHash: false}
		}
	}

	if err := torrent.ComputeFileGeometry(info); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	torrent.RecomputePiecePriorities(info)

	hash := info.Hash
	cfg := torrent.Config{
		TrackerFactory:  e.factories.TrackerFactory,
		IOFactory:       e.factories.IOFactory,
		PeerFactory:     e.factories.PeerFactory,
		ResumeLoader:    e.factories.ResumeLoader,
		CheckFilesMutex: &e.checkFilesMutex,
		PublicPort:      e.publicPort,
		Logger:          e.log,
		Deregister: func() {
			e.mu.Lock()
			delete(e.torrents, hash)
			e.mu.Unlock()
		},
	}

	t := torrent.New(info, destination, cfg)
	e.torrents[hash] = t
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := t.Run(e.ctx); err != nil {
			e.log.Debugw("torrent driver exited", "infoHash", t.EscapedInfoHash(), "error", err)
		}
	}()

	e.log.Infow("torrent registered", "infoHash", t.EscapedInfoHash(), "name", info.Name)
	return t, nil
}

// Get looks up a registered torrent by its info hash.
func (e *Engine) Get(hash torrent.InfoHash) (*torrent.Torrent, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.torrents[hash]
	return t, ok
}

// List returns a snapshot of every currently registered torrent.
func (e *Engine) List() []*torrent.Torrent {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*torrent.Torrent, 0, len(e.torrents))
	for _, t := range e.torrents {
		out = append(out, t)
	}
	return out
}

// Remove stops and deregisters a torrent by hash, waiting for its
// driver task to fully exit.
func (e *Engine) Remove(hash torrent.InfoHash) {
	e.mu.RLock()
	t, ok := e.torrents[hash]
	e.mu.RUnlock()
	if !ok {
		return
	}

	t.Close()
	<-t.Done()
}

// Shutdown stops every registered torrent and waits for all driver
// tasks to exit.
func (e *Engine) Shutdown() {
	e.mu.RLock()
	all := make([]*torrent.Torrent, 0, len(e.torrents))
	for _, t := range e.torrents {
		all = append(all, t)
	}
	e.mu.RUnlock()

	for _, t := range all {
		t.Close()
	}
	e.cancel()
	e.wg.Wait()
}
