package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/spmdkit/overlap/utils"
	"github.com/spmdkit/overlap/wire"
)

const (
	frameHandshake = 'R'
	frameMessage   = 'M'
	frameAck       = 'A'

	// reduceTag is reserved for AllReduceMax traffic.
	reduceTag = 0x7fffffff

	minDialBackoff = 100 * time.Millisecond
	maxDialBackoff = 3 * time.Second
	dialDeadline   = 30 * time.Second
)

type meshConn struct {
	c net.Conn
	r *bufio.Reader
}

// Mesh is a rank-addressed TCP transport: every pair of ranks shares one
// connection, higher ranks dial lower ranks. Message frames carry a tag and
// are acknowledged by the receiver on consumption, which gives Send its
// rendezvous semantics. One goroutine per rank must drive the mesh; frames
// on a connection are strictly ordered, so a tag mismatch means the group
// has fallen out of lockstep and is fatal.
type Mesh struct {
	log     utils.Logger
	rank    int
	size    int
	session uuid.UUID
	ln      net.Listener
	conns   *xsync.MapOf[int, *meshConn]
	closed  atomic.Bool
}

var _ Transport = (*Mesh)(nil)

type MeshOpt interface {
	Apply(*Mesh)
}

type MeshLoggerOpt struct {
	Log utils.Logger
}

func (opt *MeshLoggerOpt) Apply(m *Mesh) {
	m.log = opt.Log
}

// NewMesh joins the group as addrs[rank], dialing every lower rank and
// accepting every higher one. It returns once all size-1 connections are
// up and handshaken.
func NewMesh(rank int, addrs []string, opts ...MeshOpt) (*Mesh, error) {
	if rank < 0 || rank >= len(addrs) {
		return nil, ErrRankOutOfRange
	}
	m := &Mesh{
		rank:    rank,
		size:    len(addrs),
		session: uuid.New(),
		conns:   xsync.NewMapOf[int, *meshConn](),
	}
	for _, o := range opts {
		o.Apply(m)
	}
	if m.log == nil {
		m.log = utils.NewDefaultLogger(slog.LevelInfo)
	}

	ln, err := net.Listen("tcp", addrs[rank])
	if err != nil {
		return nil, fmt.Errorf("mesh: listen %s: %w", addrs[rank], err)
	}
	m.ln = ln

	for peer := 0; peer < rank; peer++ {
		if err := m.dial(peer, addrs[peer]); err != nil {
			m.Close()
			return nil, err
		}
	}
	for accepted := 0; accepted < m.size-1-rank; accepted++ {
		if err := m.accept(); err != nil {
			m.Close()
			return nil, err
		}
	}

	m.log.Info("mesh: group up", "rank", rank, "size", m.size, "session", m.session.String())
	return m, nil
}

func (m *Mesh) dial(peer int, addr string) error {
	backoff := minDialBackoff
	deadline := time.Now().Add(dialDeadline)
	for {
		c, err := net.Dial("tcp", addr)
		if err == nil {
			hs := make([]byte, 0, 4+16)
			hs = binary.LittleEndian.AppendUint32(hs, uint32(m.rank))
			hs = append(hs, m.session[:]...)
			if _, err = c.Write(wire.Frame(frameHandshake, hs)); err != nil {
				c.Close()
				return fmt.Errorf("mesh: handshake with rank %d: %w", peer, err)
			}
			m.conns.Store(peer, &meshConn{c: c, r: bufio.NewReader(c)})
			m.log.Debug("mesh: connected", "rank", m.rank, "peer", peer)
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("mesh: dialing rank %d at %s: %w", peer, addr, err)
		}
		time.Sleep(backoff)
		backoff = min(maxDialBackoff, backoff*2)
	}
}

func (m *Mesh) accept() error {
	c, err := m.ln.Accept()
	if err != nil {
		return fmt.Errorf("mesh: accept: %w", err)
	}
	cn := &meshConn{c: c, r: bufio.NewReader(c)}
	lit, body, err := readFrame(cn.r)
	if err != nil {
		c.Close()
		return fmt.Errorf("mesh: reading handshake: %w", err)
	}
	if lit != frameHandshake || len(body) != 4+16 {
		c.Close()
		return ErrBadFrame
	}
	peer := int(binary.LittleEndian.Uint32(body[0:4]))
	if peer <= m.rank || peer >= m.size {
		c.Close()
		return ErrRankOutOfRange
	}
	session, err := uuid.FromBytes(body[4:20])
	if err != nil {
		c.Close()
		return fmt.Errorf("mesh: bad peer session: %w", err)
	}
	m.conns.Store(peer, cn)
	m.log.Debug("mesh: accepted", "rank", m.rank, "peer", peer, "peer_session", session.String())
	return nil
}

func readFrame(r *bufio.Reader) (lit byte, body []byte, err error) {
	var hdr [5]byte
	if hdr[0], err = r.ReadByte(); err != nil {
		return 0, nil, err
	}
	flit, _, blen := wire.ProbeHeader(hdr[:1])
	if flit == 0 { // short and long headers need more bytes
		need := 2
		if hdr[0] >= 'A' && hdr[0] <= 'Z' {
			need = 5
		}
		if _, err = io.ReadFull(r, hdr[1:need]); err != nil {
			return 0, nil, err
		}
		flit, _, blen = wire.ProbeHeader(hdr[:need])
	}
	if flit == '-' || flit == 0 {
		return 0, nil, ErrBadFrame
	}
	body = make([]byte, blen)
	if _, err = io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return flit, body, nil
}

func tagBytes(tag int) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(int64(tag)))
	return b[:]
}

func frameTag(body []byte) (int, bool) {
	if len(body) < 8 {
		return 0, false
	}
	return int(int64(binary.LittleEndian.Uint64(body[0:8]))), true
}

func (m *Mesh) conn(peer int) (*meshConn, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if peer < 0 || peer >= m.size || peer == m.rank {
		return nil, ErrRankOutOfRange
	}
	cn, ok := m.conns.Load(peer)
	if !ok {
		return nil, ErrRankOutOfRange
	}
	return cn, nil
}

func (m *Mesh) Rank() int { return m.rank }
func (m *Mesh) Size() int { return m.size }

func (m *Mesh) Send(buf []byte, to, tag int) error {
	cn, err := m.conn(to)
	if err != nil {
		return err
	}
	if _, err := cn.c.Write(wire.Frame(frameMessage, tagBytes(tag), buf)); err != nil {
		return fmt.Errorf("mesh: send to rank %d: %w", to, err)
	}
	// rendezvous: the receiver acks when it has consumed the message
	lit, body, err := readFrame(cn.r)
	if err != nil {
		return fmt.Errorf("mesh: awaiting ack from rank %d: %w", to, err)
	}
	if acked, ok := frameTag(body); lit != frameAck || !ok || acked != tag {
		return ErrBadFrame
	}
	return nil
}

func (m *Mesh) Recv(buf []byte, from, tag int) (int, error) {
	cn, err := m.conn(from)
	if err != nil {
		return 0, err
	}
	lit, body, err := readFrame(cn.r)
	if err != nil {
		return 0, fmt.Errorf("mesh: recv from rank %d: %w", from, err)
	}
	got, ok := frameTag(body)
	if lit != frameMessage || !ok || got != tag {
		return 0, ErrBadFrame
	}
	payload := body[8:]
	if len(payload) > len(buf) {
		return 0, ErrRecvOverflow
	}
	n := copy(buf, payload)
	if _, err := cn.c.Write(wire.Frame(frameAck, tagBytes(tag))); err != nil {
		return 0, fmt.Errorf("mesh: acking rank %d: %w", from, err)
	}
	return n, nil
}

// AllReduceMax runs a two-sweep ring reduction on a reserved tag: partial
// maxima travel rank 0 -> 1 -> ... -> 0, then the result is broadcast the
// same way around.
func (m *Mesh) AllReduceMax(v int) (int, error) {
	if m.size == 1 {
		return v, nil
	}
	succ := (m.rank + 1) % m.size
	pred := (m.rank + m.size - 1) % m.size
	var b [8]byte

	if m.rank == 0 {
		binary.LittleEndian.PutUint64(b[:], uint64(v))
		if err := m.Send(b[:], succ, reduceTag); err != nil {
			return 0, err
		}
		if _, err := m.Recv(b[:], pred, reduceTag); err != nil {
			return 0, err
		}
		total := int(binary.LittleEndian.Uint64(b[:]))
		if err := m.Send(b[:], succ, reduceTag); err != nil {
			return 0, err
		}
		return total, nil
	}

	if _, err := m.Recv(b[:], pred, reduceTag); err != nil {
		return 0, err
	}
	acc := max(int(binary.LittleEndian.Uint64(b[:])), v)
	binary.LittleEndian.PutUint64(b[:], uint64(acc))
	if err := m.Send(b[:], succ, reduceTag); err != nil {
		return 0, err
	}
	if _, err := m.Recv(b[:], pred, reduceTag); err != nil {
		return 0, err
	}
	total := int(binary.LittleEndian.Uint64(b[:]))
	if m.rank != m.size-1 {
		if err := m.Send(b[:], succ, reduceTag); err != nil {
			return 0, err
		}
	}
	return total, nil
}

func (m *Mesh) PackedSize(n int) int {
	return n * wire.RecordSize
}

func (m *Mesh) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	if m.ln != nil {
		m.ln.Close()
	}
	m.conns.Range(func(_ int, cn *meshConn) bool {
		cn.c.Close()
		return true
	})
	m.conns.Clear()
	return nil
}
