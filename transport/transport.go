// Package transport provides the message-passing surface the index exchange
// runs on: a fixed-size process group with blocking, fully synchronous
// point-to-point send/receive, a max-reduction over the whole group, and a
// wire-size estimator for packed records.
//
// Two implementations ship with the package: Group for in-process SPMD
// groups (one goroutine per rank) and Mesh for rank-addressed TCP groups.
package transport

import "errors"

var (
	ErrRankOutOfRange = errors.New("transport: rank out of range")
	ErrClosed         = errors.New("transport: closed")
	ErrRecvOverflow   = errors.New("transport: message exceeds receive buffer")
	ErrBadFrame       = errors.New("transport: unexpected frame")
)

// Transport is one rank's handle on the process group.
//
// Send and Recv are rendezvous operations: Send does not return until the
// matching Recv has consumed the message, and Recv blocks until the whole
// message has arrived. There are no timeouts; if a peer never reaches its
// matching call, both sides hang. All ranks must drive their transports in
// lockstep, one goroutine per rank.
type Transport interface {
	// Rank is this process's position within the group.
	Rank() int
	// Size is the number of processes in the group.
	Size() int
	// AllReduceMax returns the maximum of v over all ranks. Every rank
	// must call it the same number of times, in the same order.
	AllReduceMax(v int) (int, error)
	// Send delivers buf to rank `to`, blocking until received.
	Send(buf []byte, to, tag int) error
	// Recv receives a message from rank `from` into buf, returning its
	// length. A message larger than buf fails with ErrRecvOverflow.
	Recv(buf []byte, from, tag int) (int, error)
	// PackedSize estimates the wire size of n packed index records. Pack
	// buffers must be sized with this, not with in-memory sizes, as the
	// wire representation may pad.
	PackedSize(n int) int
	Close() error
}
