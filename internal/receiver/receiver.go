// Package receiver implements the server's sliding-window selective
// receiver (spec section 4.4): reassembling chunks arriving out of order
// over UDP, emitting acks over the TCP control channel, and finalizing
// the upload once the last chunk is in place.
package receiver

import (
	"net"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/luiz787/udp-file-transfer/internal/control"
	"github.com/luiz787/udp-file-transfer/internal/fsio"
	"github.com/luiz787/udp-file-transfer/internal/metrics"
	"github.com/luiz787/udp-file-transfer/internal/protocol"
	"github.com/luiz787/udp-file-transfer/internal/session"
)

// datagramBufSize is the UDP receive buffer, per spec section 6.
const datagramBufSize = 1024

// Engine runs one server upload session to completion.
type Engine struct {
	UDP      *net.UDPConn
	Ctrl     *control.Channel
	Sink     fsio.FileSink
	Filename string
	Log      logrus.FieldLogger
	Metrics  *metrics.Collector

	state *session.ServerState
}

// NewEngine builds a receiver engine for an upload of fileSize bytes.
func NewEngine(udp *net.UDPConn, ctrl *control.Channel, sink fsio.FileSink, filename string, fileSize uint64, log logrus.FieldLogger) *Engine {
	return &Engine{
		UDP:      udp,
		Ctrl:     ctrl,
		Sink:     sink,
		Filename: filename,
		Log:      log,
		state:    session.NewServerState(fileSize),
	}
}

// Run blocks reading UDP datagrams until the upload finalizes or an IO
// error occurs.
func (e *Engine) Run() error {
	buf := make([]byte, datagramBufSize)
	for {
		n, err := e.UDP.Read(buf)
		if err != nil {
			return errors.Wrap(err, "receiver: udp read")
		}
		msg, err := protocol.Decode(buf, n)
		if err != nil {
			if e.Log != nil {
				e.Log.WithError(err).Warn("receiver: dropping malformed datagram")
			}
			continue
		}
		file, ok := msg.(protocol.File)
		if !ok {
			if e.Log != nil {
				e.Log.WithField("kind", msg.Kind()).Warn("receiver: unexpected message on data channel, ignoring")
			}
			continue
		}
		done, err := e.handleFile(file)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// handleFile applies one File chunk to the window state machine (spec
// section 4.4), returning true once the session has finalized.
func (e *Engine) handleFile(f protocol.File) (bool, error) {
	s := e.state
	seq := int(f.Seq)

	if seq < s.LFR || seq > s.LAF {
		// Out-of-window: duplicate ack, no storage.
		dup := s.LFR - 1
		if err := e.sendAck(uint32(dup)); err != nil {
			return false, err
		}
		if dup == s.ExpectedChunks-1 {
			return true, e.finalize()
		}
		return false, nil
	}

	s.Received[seq] = true
	s.Contents[seq] = f.Data

	shouldAck := seq == s.LFR || seq == s.LFR+1 || s.AllReceived()
	if !shouldAck {
		return false, nil
	}

	if s.AllReceived() {
		if err := e.sendAck(uint32(s.ExpectedChunks - 1)); err != nil {
			return false, err
		}
		return true, e.finalize()
	}

	firstGap := -1
	for i := 1; i < len(s.Received); i++ {
		if !s.Received[i] {
			firstGap = i
			break
		}
	}
	if firstGap == -1 {
		// No gap from index 1 onward and not AllReceived (handled above):
		// the only slot still open is slot 0. Per spec section 4.4 step 5,
		// the last chunk is acked and finalized here unconditionally; see
		// DESIGN.md for why this is kept even though it finalizes before
		// chunk 0 has arrived.
		if seq == s.ExpectedChunks-1 {
			if err := e.sendAck(uint32(seq)); err != nil {
				return false, err
			}
			return true, e.finalize()
		}
		return false, nil
	}

	if err := e.sendAck(uint32(firstGap - 1)); err != nil {
		return false, err
	}
	advance := firstGap - s.LFR
	s.LFR += advance
	s.LAF += advance
	return false, nil
}

func (e *Engine) sendAck(seq uint32) error {
	_, err := e.Ctrl.Send(protocol.Ack{Seq: seq})
	if err == nil && e.Metrics != nil {
		e.Metrics.ChunksAcked.Inc()
	}
	return err
}

// finalize flattens the reassembled chunks, writes them through the
// sink, and signals completion to the client over TCP.
func (e *Engine) finalize() error {
	data := e.state.Flatten()
	if err := e.Sink.Write(e.Filename, data); err != nil {
		return errors.Wrap(err, "receiver: writing output file")
	}
	if _, err := e.Ctrl.Send(protocol.End{}); err != nil {
		return errors.Wrap(err, "receiver: sending End")
	}
	if e.Metrics != nil {
		e.Metrics.BytesWritten.Add(float64(len(data)))
	}
	if e.Log != nil {
		e.Log.WithField("bytes", len(data)).Info("receiver: upload finalized")
	}
	return nil
}
