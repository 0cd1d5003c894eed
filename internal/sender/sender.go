// Package sender implements the client's sliding-window pipelined
// transmitter (spec section 4.3): an ack-listener reading Ack/End off the
// TCP control channel, and a data-pump driving UDP transmission and
// Go-Back-N retransmission on timeout. The two cooperate over two
// single-producer-single-consumer channels; neither shares mutable state
// with the other.
package sender

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/luiz787/udp-file-transfer/internal/clock"
	"github.com/luiz787/udp-file-transfer/internal/control"
	"github.com/luiz787/udp-file-transfer/internal/metrics"
	"github.com/luiz787/udp-file-transfer/internal/protocol"
	"github.com/luiz787/udp-file-transfer/internal/session"
)

// RetransmitTimeout is the wall-clock duration since the last advancing
// ack after which the data-pump resends its whole outstanding window.
const RetransmitTimeout = 200 * time.Millisecond

// pumpTick is how long the data-pump sleeps between iterations so it
// doesn't starve the ack-listener goroutine scheduling.
const pumpTick = 5 * time.Millisecond

// Engine runs one client upload session to completion.
type Engine struct {
	Chunks  [][]byte
	UDP     *net.UDPConn
	Ctrl    *control.Channel
	Clock   clock.Clock
	Log     logrus.FieldLogger
	Metrics *metrics.Collector

	state    *session.ClientState
	snapshot atomic.Value // session.ClientState, published by the data-pump for observers
	ackSeq   chan uint32
	stop     chan struct{}
	stopped  bool
}

// NewEngine builds a sender engine for chunks over conn/ctrl. Clock may
// be nil, defaulting to clock.Real{}.
func NewEngine(chunks [][]byte, udp *net.UDPConn, ctrl *control.Channel, cl clock.Clock, log logrus.FieldLogger) *Engine {
	if cl == nil {
		cl = clock.Real{}
	}
	e := &Engine{
		Chunks: chunks,
		UDP:    udp,
		Ctrl:   ctrl,
		Clock:  cl,
		Log:    log,
		state:  session.NewClientState(len(chunks)),
		ackSeq: make(chan uint32, 1),
		stop:   make(chan struct{}),
	}
	e.snapshot.Store(*e.state)
	return e
}

// Run drives the session to completion: it runs the data-pump on a
// dedicated goroutine and the ack-listener on the calling goroutine, and
// returns once the ack-listener observes End, a clean close, or the final
// chunk's ack.
func (e *Engine) Run() error {
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		e.dataPump()
	}()

	err := e.ackListener()
	e.signalStop()
	<-pumpDone
	return err
}

// dataPump owns Chunks and the UDP socket; see spec section 4.3 steps 1-6.
func (e *Engine) dataPump() {
	lastAckAt := e.Clock.Now()
	for {
		select {
		case <-e.stop:
			return
		default:
		}

		st := e.state
		if st.NextSeq < st.N && st.NextSeq < st.SendBase+st.WindowSize {
			e.transmit(st.NextSeq)
			st.NextSeq++
		}

		ackArrived := false
		select {
		case ackSeq := <-e.ackSeq:
			ackArrived = true
			for int(ackSeq) > st.SendBase {
				st.SendBase++
				lastAckAt = e.Clock.Now()
			}
		default:
		}

		if !ackArrived && e.Clock.Now().Sub(lastAckAt) > RetransmitTimeout {
			for seq := st.SendBase; seq < st.NextSeq; seq++ {
				e.transmit(seq)
				if e.Metrics != nil {
					e.Metrics.ChunksRetransmitted.Inc()
				}
			}
		}

		e.snapshot.Store(*st)

		if st.SendBase >= st.N-1 || (st.SendBase == 0 && st.N == 1) {
			return
		}

		time.Sleep(pumpTick)
	}
}

func (e *Engine) transmit(seq int) {
	data := e.Chunks[seq]
	msg := protocol.File{Seq: uint32(seq), Len: uint16(len(data)), Data: data}
	if _, err := e.UDP.Write(msg.Encode()); err != nil {
		if e.Log != nil {
			e.Log.WithError(err).WithField("seq", seq).Warn("sender: failed to transmit chunk")
		}
		return
	}
	if e.Metrics != nil {
		e.Metrics.ChunksSent.Inc()
	}
}

// ackListener reads Ack/End off the control channel and forwards acks to
// the data-pump. It terminates on End, a closed connection, or an Ack for
// the final sequence number, per spec section 4.3.
func (e *Engine) ackListener() error {
	lastSeq := uint32(e.state.N - 1)
	for {
		msg, err := e.Ctrl.Receive()
		if err != nil {
			if errors.Is(err, control.ErrClosed) {
				return nil
			}
			if e.Log != nil {
				e.Log.WithError(err).Warn("sender: ack-listener logic error, continuing")
			}
			continue
		}
		switch m := msg.(type) {
		case protocol.Ack:
			e.forwardAck(m.Seq)
			if m.Seq >= lastSeq {
				return nil
			}
		case protocol.End:
			return nil
		default:
			if e.Log != nil {
				e.Log.WithField("kind", msg.Kind()).Warn("sender: unexpected message, ignoring")
			}
		}
	}
}

// forwardAck is non-blocking: if the data-pump hasn't drained the
// previous value yet, this one replaces it, since acks are cumulative.
func (e *Engine) forwardAck(seq uint32) {
	select {
	case e.ackSeq <- seq:
	default:
		select {
		case <-e.ackSeq:
		default:
		}
		e.ackSeq <- seq
	}
}

func (e *Engine) signalStop() {
	if e.stopped {
		return
	}
	e.stopped = true
	close(e.stop)
}

// State exposes the data-pump's most recently published window-state
// snapshot, safe to call concurrently from another goroutine (e.g. a
// test asserting the sliding-window invariants from spec section 8).
func (e *Engine) State() session.ClientState {
	return e.snapshot.Load().(session.ClientState)
}
