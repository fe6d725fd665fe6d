package torrent

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	bencode "github.com/jackpal/bencode-go"
)

// httpTrackerResponse is the bencoded HTTP tracker announce reply,
// decoded directly by field name the way jackpal/bencode-go expects.
type httpTrackerResponse struct {
	Failure  string `bencode:"failure reason"`
	Interval int    `bencode:"interval"`
	Peers    string `bencode:"peers"`
	Seeders  int    `bencode:"complete"`
	Leechers int     `bencode:"incomplete"`
}

// HTTPTracker is the reference Tracker adapter: a single HTTP
// tracker announced over GET with a compact peer list, retried with
// exponential backoff on transient failure. It is used only when a
// caller supplies NewHTTPTrackerFactory; a torrent with no
// TrackerFactory has no tracker session at all.
type HTTPTracker struct {
	announceURL string
	peerID      string
	client      *http.Client

	mu            sync.Mutex
	lastSeeders   int
	lastLeechers  int
	lastCompleted int
	cannotConnect bool
	lastAnnounce  time.Time
	interval      time.Duration
}

// NewHTTPTracker constructs a tracker session against a single
// announce URL.
func NewHTTPTracker(announceURL, peerID string) *HTTPTracker {
	return &HTTPTracker{
		announceURL: announceURL,
		peerID:      peerID,
		client:      &http.Client{Timeout: 15 * time.Second},
		interval:    30 * time.Second,
	}
}

// NewHTTPTrackerFactory returns a TrackerFactory that announces to a
// fixed set of tracker URLs, aggregating compact peer lists the same
// way the teacher's SendTrackerResponse combines multiple trackers —
// here simplified to the first URL in the list, since Pulse is called
// every tick and a full re-aggregation every tick would be wasteful.
// The remaining URLs are never tried, even when the first one fails.
func NewHTTPTrackerFactory(announceURLs []string, peerID string, port int) TrackerFactory {
	return func(t *Torrent) Tracker {
		return NewHTTPTracker(pickAnnounceURL(announceURLs), peerID)
	}
}

func pickAnnounceURL(urls []string) string {
	if len(urls) == 0 {
		return ""
	}
	return urls[0]
}

// Pulse announces to the tracker if the previous interval has elapsed
// and returns any compact peer bytes received.
func (h *HTTPTracker) Pulse(ctx context.Context) ([]byte, error) {
	h.mu.Lock()
	due := time.Since(h.lastAnnounce) >= h.interval
	h.mu.Unlock()

	if !due {
		return nil, nil
	}

	resp, err := h.announce(ctx, "", 0, 0, 0)
	if err != nil {
		h.mu.Lock()
		h.cannotConnect = true
		h.mu.Unlock()
		return nil, err
	}

	h.mu.Lock()
	h.cannotConnect = false
	h.lastSeeders = resp.Seeders
	h.lastLeechers = resp.Leechers
	h.lastAnnounce = time.Now()
	if resp.Interval > 0 {
		h.interval = time.Duration(resp.Interval) * time.Second
	}
	h.mu.Unlock()

	return []byte(resp.Peers), nil
}

// Stopped sends a best-effort "stopped" event; failures are discarded,
// not returned or logged, since there is nothing useful to do with a
// failed stopped announce.
func (h *HTTPTracker) Stopped(ctx context.Context) {
	_, _ = h.announce(ctx, "stopped", 0, 0, 0)
}

// Completed sends the "completed" event.
func (h *HTTPTracker) Completed(ctx context.Context) {
	_, _ = h.announce(ctx, "completed", 0, 0, 0)
}

// Scrape reuses the regular announce endpoint's seeder/leecher counts;
// a dedicated scrape convention (/scrape) is out of scope for this
// reference adapter. The announce reply carries no completed count, so
// the downloaded value is always 0.
func (h *HTTPTracker) Scrape(ctx context.Context) (seeders, leechers, downloaded int, err error) {
	resp, err := h.announce(ctx, "", 0, 0, 0)
	if err != nil {
		return 0, 0, 0, err
	}
	return resp.Seeders, resp.Leechers, h.lastCompleted, nil
}

func (h *HTTPTracker) Close() {}

func (h *HTTPTracker) CannotConnect() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cannotConnect
}

func (h *HTTPTracker) Get() string { return h.announceURL }

func (h *HTTPTracker) Seeders() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastSeeders
}

func (h *HTTPTracker) Leechers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastLeechers
}

func (h *HTTPTracker) Downloaded() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastCompleted
}

// announce performs one GET against the tracker with exponential
// backoff retry, matching the teacher's single-shot SendHTTPTrackerRequest
// but hardened against transient network failure the way a long-lived
// driver loop needs to be (a single torrent session announces many
// times over its lifetime, unlike the teacher's one-shot CLI run).
func (h *HTTPTracker) announce(ctx context.Context, event string, uploaded, downloaded, left int64) (*httpTrackerResponse, error) {
	var result *httpTrackerResponse

	op := func() error {
		resp, err := h.doRequest(ctx, event, uploaded, downloaded, left)
		if err != nil {
			return err
		}
		result = resp
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return result, nil
}

func (h *HTTPTracker) doRequest(ctx context.Context, event string, uploaded, downloaded, left int64) (*httpTrackerResponse, error) {
	u, err := url.Parse(h.announceURL)
	if err != nil {
		return nil, fmt.Errorf("torrent: parsing tracker URL: %w", err)
	}

	params := url.Values{}
	params.Set("peer_id", h.peerID)
	params.Set("port", "6881")
	params.Set("uploaded", strconv.FormatInt(uploaded, 10))
	params.Set("downloaded", strconv.FormatInt(downloaded, 10))
	params.Set("left", strconv.FormatInt(left, 10))
	params.Set("compact", "1")
	if event != "" {
		params.Set("event", event)
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("torrent: building tracker request: %w", err)
	}
	req.Header.Set("User-Agent", "transmissionbt/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("torrent: tracker request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("torrent: tracker returned status %d", resp.StatusCode)
	}

	var decoded httpTrackerResponse
	if err := bencode.Unmarshal(resp.Body, &decoded); err != nil {
		return nil, fmt.Errorf("torrent: decoding tracker response: %w", err)
	}
	if decoded.Failure != "" {
		return nil, fmt.Errorf("torrent: tracker failure: %s", decoded.Failure)
	}

	return &decoded, nil
}
