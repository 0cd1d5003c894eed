// Package session holds the per-connection state machines shared by the
// receiver and sender engines, plus the process-wide UDP port allocator.
// State here is created when a TCP connection is accepted (server) or
// dialed (client), mutated only by that session's own workers, and
// destroyed on End/disconnect.
package session

// ChunkSize is the payload size, in bytes, of every chunk but the last.
const ChunkSize = 1000

// ReceiveWindowSize (RWS) is the server's fixed receive window.
const ReceiveWindowSize = 10

// ExpectedChunks implements the spec's literal chunk-count formula:
// floor(file_size/1000) + 1. This overcounts by one when file_size is an
// exact multiple of 1000 and is always at least 1 (so a zero-byte upload
// still expects exactly one, zero-length, chunk). Kept as specified for
// wire compatibility; see DESIGN.md for the open-question discussion.
func ExpectedChunks(fileSize uint64) int {
	return int(fileSize/ChunkSize) + 1
}

// ServerState is the receiver's per-session windowing state.
type ServerState struct {
	ExpectedChunks int
	Contents       [][]byte
	Received       []bool
	LFR            int
	LAF            int
}

// NewServerState allocates a fresh ServerState for a file of the given
// size, with LFR=0 and LAF=LFR+ReceiveWindowSize. The spec's invariant is
// LAF == LFR+RWS at every step, regardless of how it compares to
// ExpectedChunks-1 (the last valid sequence number); a File message with
// seq beyond ExpectedChunks-1 simply never arrives in practice.
func NewServerState(fileSize uint64) *ServerState {
	n := ExpectedChunks(fileSize)
	return &ServerState{
		ExpectedChunks: n,
		Contents:       make([][]byte, n),
		Received:       make([]bool, n),
		LFR:            0,
		LAF:            ReceiveWindowSize,
	}
}

// AllReceived reports whether every chunk slot has been filled.
func (s *ServerState) AllReceived() bool {
	for _, r := range s.Received {
		if !r {
			return false
		}
	}
	return true
}

// Flatten concatenates Contents in sequence order into a single byte
// slice. Only meaningful once AllReceived is true.
func (s *ServerState) Flatten() []byte {
	total := 0
	for _, c := range s.Contents {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range s.Contents {
		out = append(out, c...)
	}
	return out
}

// ClientState is the sender's per-session windowing state.
type ClientState struct {
	N          int // total chunk count
	WindowSize int
	SendBase   int
	NextSeq    int
}

// NewClientState builds the sender's initial window state for n total
// chunks: window_size = min(10, N), send_base = next_seq = 0.
func NewClientState(n int) *ClientState {
	ws := ReceiveWindowSize
	if ws > n {
		ws = n
	}
	return &ClientState{N: n, WindowSize: ws}
}
