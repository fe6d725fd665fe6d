package torrent

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gmw/transmissionbt/crypto"
)

const protocolName = "BitTorrent protocol"

// wireHandshake is the 68-byte BitTorrent handshake message, ported
// byte-for-byte from the teacher's Handshake struct.
type wireHandshake struct {
	ProtocolNameLength byte
	Protocol           [19]byte
	Reserved           [8]byte
	InfoHash           [20]byte
	PeerID             [20]byte
}

// TCPPeer is the reference Peer adapter: a direct, unencrypted TCP
// connection that performs the standard handshake (no MSE handshake is
// performed; see DialTCPPeer) and exposes the
// choke/interest/bitfield state the driver's Pulse dispatch and
// Availability sampling need.
type TCPPeer struct {
	conn net.Conn
	addr [4]byte
	port uint16
	from PeerFrom

	localPeerID string
	infoHash    InfoHash

	mu           sync.Mutex
	remotePeerID string
	client       string
	private      bool
	torrent      *Torrent

	amChoking     bool
	amInterested  bool
	peerChoking   bool
	peerInterested bool
	bitfield      []byte

	uploadRate   *ratelimitedCounter
	downloadRate *ratelimitedCounter

	connected bool
}

// ratelimitedCounter is a tiny EWMA used only for the Peer-level rate
// display fields; the authoritative, cap-enforcing counters live on
// Torrent (upload/download *ratecounter.Counter).
type ratelimitedCounter struct {
	mu   sync.Mutex
	rate float64
}

func (c *ratelimitedCounter) observe(bytesPerTick float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	const alpha = 0.2
	c.rate = alpha*bytesPerTick + (1-alpha)*c.rate
}

func (c *ratelimitedCounter) value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// DialTCPPeer dials addr:port, performs the standard BitTorrent
// handshake in plaintext, and validates the returned info hash against
// infoHash. The session argument is accepted but not used: no MSE key
// exchange or stream encryption happens on the connection. It mirrors
// the teacher's PerformHandshake, generalized to return a Peer rather
// than mutating a shared Peers slice directly.
func DialTCPPeer(addr [4]byte, port uint16, infoHash InfoHash, localPeerID string, session *crypto.Session) (*TCPPeer, error) {
	address := fmt.Sprintf("%d.%d.%d.%d:%d", addr[0], addr[1], addr[2], addr[3], port)

	conn, err := net.DialTimeout("tcp", address, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("torrent: dialing peer %s: %w", address, err)
	}

	p := &TCPPeer{
		conn:        conn,
		addr:        addr,
		port:        port,
		from:        FromTracker,
		localPeerID: localPeerID,
		infoHash:    infoHash,
		amChoking:   true,
		peerChoking: true,
		uploadRate:   &ratelimitedCounter{},
		downloadRate: &ratelimitedCounter{},
	}

	if err := p.handshake(); err != nil {
		conn.Close()
		return nil, err
	}

	p.connected = true
	return p, nil
}

func (p *TCPPeer) handshake() error {
	var hs wireHandshake
	hs.ProtocolNameLength = byte(len(protocolName))
	copy(hs.Protocol[:], protocolName)
	hs.InfoHash = p.infoHash
	copy(hs.PeerID[:], p.localPeerID)

	p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := binary.Write(p.conn, binary.BigEndian, &hs); err != nil {
		return fmt.Errorf("torrent: sending handshake: %w", err)
	}

	p.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp wireHandshake
	if err := binary.Read(p.conn, binary.BigEndian, &resp); err != nil {
		return fmt.Errorf("torrent: reading handshake: %w", err)
	}

	if resp.ProtocolNameLength != 19 || string(resp.Protocol[:]) != protocolName {
		return fmt.Errorf("torrent: unexpected protocol in handshake response")
	}
	if !bytes.Equal(resp.InfoHash[:], p.infoHash[:]) {
		return fmt.Errorf("torrent: info hash mismatch in handshake response")
	}

	p.mu.Lock()
	p.remotePeerID = string(resp.PeerID[:])
	p.mu.Unlock()

	return nil
}

// Pulse reads one pending wire message (bitfield/choke/unchoke/
// interested/not-interested/have) without blocking beyond a short
// deadline, updating local state. It returns 0 on success (including
// a read timeout and any message it does not handle) and a MakeIOError
// code on a connection error, which the driver treats as fatal; it
// returns no other codes.
func (p *TCPPeer) Pulse() int {
	p.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))

	lengthBuf := make([]byte, 4)
	if _, err := p.conn.Read(lengthBuf); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0
		}
		return MakeIOError(1)
	}

	length := binary.BigEndian.Uint32(lengthBuf)
	if length == 0 {
		return 0
	}

	payload := make([]byte, length)
	if _, err := fullRead(p.conn, payload); err != nil {
		return MakeIOError(2)
	}

	msgID := payload[0]
	p.mu.Lock()
	defer p.mu.Unlock()

	switch msgID {
	case 0: // choke
		p.peerChoking = true
	case 1: // unchoke
		p.peerChoking = false
	case 2: // interested
		p.peerInterested = true
	case 3: // not interested
		p.peerInterested = false
	case 4: // have
		if len(payload) >= 5 {
			idx := int(binary.BigEndian.Uint32(payload[1:5]))
			p.setBitLocked(idx)
		}
	case 5: // bitfield
		p.bitfield = append([]byte(nil), payload[1:]...)
	default:
		// Piece/request/cancel messages carry transfer data this
		// reference adapter doesn't persist; acknowledging receipt is
		// enough to keep the connection healthy.
	}

	return 0
}

func (p *TCPPeer) setBitLocked(index int) {
	byteIdx := index / 8
	if byteIdx >= len(p.bitfield) {
		grown := make([]byte, byteIdx+1)
		copy(grown, p.bitfield)
		p.bitfield = grown
	}
	p.bitfield[byteIdx] |= 1 << (7 - uint(index%8))
}

func fullRead(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (p *TCPPeer) Destroy() {
	p.conn.Close()
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
}

func (p *TCPPeer) SetPrivate(private bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.private = private
}

func (p *TCPPeer) SetTorrent(t *Torrent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.torrent = t
}

func (p *TCPPeer) Address() [4]byte { return p.addr }
func (p *TCPPeer) Port() uint16     { return p.port }

func (p *TCPPeer) PeerID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remotePeerID
}

func (p *TCPPeer) Client() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

func (p *TCPPeer) IsFrom() PeerFrom { return p.from }

func (p *TCPPeer) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *TCPPeer) AmChoking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.amChoking
}

func (p *TCPPeer) IsChoking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peerChoking
}

func (p *TCPPeer) AmInterested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.amInterested
}

func (p *TCPPeer) IsInterested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peerInterested
}

func (p *TCPPeer) Progress() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.bitfield) == 0 {
		return 0
	}
	have := 0
	total := 0
	for _, b := range p.bitfield {
		for i := 0; i < 8; i++ {
			total++
			if b&(1<<(7-uint(i))) != 0 {
				have++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(have) / float64(total)
}

func (p *TCPPeer) UploadRate() float64   { return p.uploadRate.value() }
func (p *TCPPeer) DownloadRate() float64 { return p.downloadRate.value() }

func (p *TCPPeer) HasPiece(index int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	byteIdx := index / 8
	if byteIdx >= len(p.bitfield) {
		return false
	}
	return p.bitfield[byteIdx]&(1<<(7-uint(index%8))) != 0
}

// NewTCPPeerFactory returns a PeerFactory that dials a fresh TCP
// connection per compact entry using the given local peer ID. Dial
// failures yield a nil Peer, which AddCompactPeers silently skips.
func NewTCPPeerFactory(infoHash InfoHash, localPeerID string) PeerFactory {
	return func(addr [4]byte, port uint16, from PeerFrom) Peer {
		p, err := DialTCPPeer(addr, port, infoHash, localPeerID, nil)
		if err != nil {
			return nil
		}
		p.from = from
		return p
	}
}
