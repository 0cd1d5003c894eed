package session

import (
	"fmt"
	"io"
	"net"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/luiz787/udp-file-transfer/internal/clock"
	"github.com/luiz787/udp-file-transfer/internal/control"
	"github.com/luiz787/udp-file-transfer/internal/fsio"
	"github.com/luiz787/udp-file-transfer/internal/metrics"
	"github.com/luiz787/udp-file-transfer/internal/protocol"
	"github.com/luiz787/udp-file-transfer/internal/sender"
)

// clientChunkSize mirrors ChunkSize for the client's own partitioning
// of the input file into chunks.
const clientChunkSize = ChunkSize

// Upload connects to host:port over TCP, runs the handshake, and uploads
// source's contents, blocking until the session finishes. mcs may be nil,
// in which case the sender engine simply does not update counters.
func Upload(host string, port uint16, source fsio.FileSource, mcs *metrics.Collector, log logrus.FieldLogger) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "dialing %s", addr)
	}
	defer conn.Close()
	ctrl := control.New(conn)

	if _, err := ctrl.Send(protocol.Hello{}); err != nil {
		return errors.Wrap(err, "sending Hello")
	}

	msg, err := ctrl.Receive()
	if err != nil {
		return errors.Wrap(err, "waiting for Connection")
	}
	connMsg, ok := msg.(protocol.Connection)
	if !ok {
		return errors.Errorf("expected Connection, got %T", msg)
	}

	filename, size, err := source.Stat()
	if err != nil {
		return errors.Wrap(err, "reading source metadata")
	}

	udpAddr := &net.UDPAddr{IP: net.ParseIP(host), Port: int(connMsg.Port)}
	udp, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return errors.Wrapf(err, "dialing udp %s:%d", host, connMsg.Port)
	}
	defer udp.Close()

	if _, err := ctrl.Send(protocol.InfoFile{Filename: filename, FileSize: uint64(size)}); err != nil {
		return errors.Wrap(err, "sending InfoFile")
	}

	msg, err = ctrl.Receive()
	if err != nil {
		return errors.Wrap(err, "waiting for Ok")
	}
	if _, ok := msg.(protocol.Ok); !ok {
		return errors.Errorf("expected Ok, got %T", msg)
	}

	chunks, err := readChunks(source, size)
	if err != nil {
		return errors.Wrap(err, "reading file contents")
	}

	if log != nil {
		log.WithField("filename", filename).WithField("file_size", size).WithField("chunks", len(chunks)).Info("session: starting upload")
	}

	eng := sender.NewEngine(chunks, udp, ctrl, clock.Real{}, log)
	eng.Metrics = mcs
	return eng.Run()
}

// readChunks partitions the source's remaining bytes into exactly
// ExpectedChunks(size) pieces of at most ChunkSize bytes each. The client mirrors
// the receiver's chunk-count formula (rather than a plain ceil) so both
// sides agree on the total: when size is an exact multiple of ChunkSize,
// the last chunk is a deliberate zero-length one, and a zero-size file
// yields exactly one zero-length chunk. See DESIGN.md for why this
// overcount is kept rather than "fixed".
func readChunks(source fsio.FileSource, size int64) ([][]byte, error) {
	n := ExpectedChunks(uint64(size))
	chunks := make([][]byte, n)
	for i := 0; i < n; i++ {
		remaining := size - int64(i)*clientChunkSize
		want := clientChunkSize
		if remaining < int64(want) {
			want = int(remaining)
		}
		if want < 0 {
			want = 0
		}
		buf := make([]byte, want)
		if want > 0 {
			if _, err := io.ReadFull(source, buf); err != nil {
				return nil, err
			}
		}
		chunks[i] = buf
	}
	return chunks, nil
}
