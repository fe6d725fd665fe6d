package torrent

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gmw/transmissionbt/completion"
)

// tickInterval is the driver's polling period, matching the original's
// 100ms sleep between torrentThreadLoop iterations.
const tickInterval = 100 * time.Millisecond

// Run spawns the driver task and blocks until ctx is cancelled or the
// torrent has fully stopped with dieFlag set. Callers typically invoke
// this in its own goroutine (the Engine does, one per registered
// torrent) and select on Done() or the returned error.
//
// The state machine below is a direct port of the original's
// torrentThreadLoop: each tick inspects runStatus and acts on exactly
// one of four branches (Stopping teardown, pending recheck, idle
// Stopped, or active Running), then sleeps tickInterval before the
// next tick.
func (t *Torrent) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if t.tick(ctx) {
					if t.cfg.Deregister != nil {
						t.cfg.Deregister()
					}
					close(t.done)
					return nil
				}
			}
		}
	})

	return g.Wait()
}

// tick advances the state machine by one step and reports whether the
// driver should exit (dieFlag observed while Stopped).
func (t *Torrent) tick(ctx context.Context) bool {
	t.mu.Lock()
	status := t.runStatus
	t.mu.Unlock()

	switch status {
	case Stopping:
		t.doStop(ctx)
		return false
	case Checking:
		// tryRecheck sets and restores Checking synchronously on this
		// goroutine, so there is nothing to do here.
		return false
	default:
	}

	if t.recheckRequested.Load() {
		if t.tryRecheck(ctx) {
			return false
		}
	}

	switch status {
	case Stopped:
		if t.dieFlag.Load() {
			return true
		}
		return false
	case Running:
		t.doRunning(ctx)
		return false
	}

	return false
}

// doStop performs the Stopping→Stopped teardown: closes I/O, notifies
// the tracker, drops every peer, and resets the session-local rate
// counters, mirroring the original's Stopping branch of
// torrentThreadLoop.
func (t *Torrent) doStop(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.io != nil {
		if err := t.io.Close(); err != nil {
			t.log.Warnw("io close failed during stop", "error", err)
		}
		t.io = nil
	}

	if t.tracker != nil {
		t.tracker.Stopped(ctx)
		t.tracker.Close()
		t.tracker = nil
	}

	for _, p := range t.peers {
		p.Destroy()
	}
	t.peers = nil

	t.upload.Reset()
	t.download.Reset()
	t.swarmSpeed.Reset()

	t.stopDate = time.Now()
	t.runStatus = Stopped

	t.log.Infow("torrent stopped")
}

// tryRecheck attempts to acquire the Engine-wide check-files mutex
// without blocking; if it can't, or no I/O handle is open yet, the
// recheck stays pending for a later tick (this is how the original
// avoids one torrent's recheck stalling every other torrent's driver
// task). Returns true if a recheck ran.
func (t *Torrent) tryRecheck(ctx context.Context) bool {
	if t.cfg.CheckFilesMutex == nil || t.io == nil {
		return false
	}
	if !t.cfg.CheckFilesMutex.TryLock() {
		return false
	}
	defer t.cfg.CheckFilesMutex.Unlock()

	t.mu.Lock()
	realStatus := t.runStatus
	t.recheckRequested.Store(false)
	t.runStatus = Checking
	t.mu.Unlock()

	err := t.io.CheckFiles(ctx, 0)

	t.mu.Lock()
	if err != nil {
		t.log.Warnw("check files failed", "error", err)
	}
	t.runStatus = realStatus
	t.mu.Unlock()

	return true
}

// doRunning performs one Running-state tick: lazily brings up I/O and
// the tracker session on first entry, recomputes completion status and
// notifies the tracker on a Complete transition, pulses the tracker for
// fresh compact peers, and pulses every attached peer in rotation.
func (t *Torrent) doRunning(ctx context.Context) {
	t.mu.Lock()
	firstEntry := t.io == nil
	t.mu.Unlock()

	if firstEntry {
		t.resetTransferStats()

		var ioHandle IO
		var err error
		if t.cfg.IOFactory != nil {
			ioHandle, err = t.cfg.IOFactory(t)
		}
		if err != nil {
			t.log.Warnw("fast io init failed, requesting recheck instead of stopping", "error", err)
			t.recheckRequested.Store(true)
			return
		}

		var trk Tracker
		if t.cfg.TrackerFactory != nil {
			trk = t.cfg.TrackerFactory(t)
		}

		t.mu.Lock()
		t.io = ioHandle
		t.tracker = trk
		t.startDate = time.Now()
		t.mu.Unlock()
	}

	t.refreshCompletionStatus(ctx)

	var peerBytes []byte
	t.mu.Lock()
	trk := t.tracker
	t.mu.Unlock()

	if trk != nil {
		var err error
		peerBytes, err = trk.Pulse(ctx)
		if err != nil {
			t.log.Debugw("tracker pulse failed", "error", err)
		}
	}

	if len(peerBytes) > 0 {
		t.AddCompactPeers(peerBytes, FromTracker)
	}

	t.pulsePeers()
}

// resetTransferStats is the locked entry point used by the driver
// itself (ResetTransferStats is the public, also-locked wrapper used by
// callers external to the driver).
func (t *Torrent) resetTransferStats() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resetTransferStatsLocked()
}

// refreshCompletionStatus recomputes cpStatus from the completion map
// and, on a transition into Complete, notifies the tracker and flushes
// any pending writes — mirroring the original's use of
// tr_cpGetStatus()/tr_torrentCompletion inside the writer lock each
// tick.
func (t *Torrent) refreshCompletionStatus(ctx context.Context) {
	t.mu.Lock()
	prev := t.cpStatus
	cur := t.completion.Status()
	changed := cur != prev
	if changed {
		t.cpStatus = cur
		t.hasChangedState = int(cur)
	}
	trk := t.tracker
	ioHandle := t.io
	t.mu.Unlock()

	if !changed {
		return
	}

	if cur == completion.Complete && trk != nil {
		trk.Completed(ctx)
	}
	if ioHandle != nil {
		if err := ioHandle.Sync(); err != nil {
			t.log.Warnw("io sync failed after completion transition", "error", err)
		}
	}
}

// pulsePeers advances every attached peer by one tick in rotation: the
// peer at index 0 is moved to the tail before the pass (so no single
// peer monopolizes being serviced first), a fatal I/O result from any
// peer stops the torrent, any other nonzero result evicts just that
// peer, and a zero result simply advances to the next peer. This is a
// direct port of the peer-dispatch loop at the end of the original's
// torrentThreadLoop.
func (t *Torrent) pulsePeers() {
	t.mu.Lock()
	if len(t.peers) > 1 {
		first := t.peers[0]
		copy(t.peers, t.peers[1:])
		t.peers[len(t.peers)-1] = first
	}
	peers := make([]Peer, len(t.peers))
	copy(peers, t.peers)
	t.mu.Unlock()

	i := 0
	for i < len(peers) {
		p := peers[i]
		ret := p.Pulse()

		switch {
		case ret == 0:
			i++
		case IsIOError(ret):
			// peers still holds every not-yet-evicted peer, including
			// the one that just failed fatally; doStop destroys all of
			// them on the Stopping transition, so the slice is written
			// back as-is rather than evicted here.
			t.mu.Lock()
			t.peers = peers
			t.runStatus = Stopping
			t.errCode = ErrOther
			t.errorString = boundedErrorString("fatal peer I/O error")
			t.mu.Unlock()
			t.log.Errorw("fatal peer io error, stopping torrent", "code", ret)
			return
		default:
			p.Destroy()
			peers = append(peers[:i], peers[i+1:]...)
		}
	}

	t.mu.Lock()
	t.peers = peers
	t.mu.Unlock()
}
