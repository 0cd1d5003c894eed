package session

import (
	"net"

	"github.com/pkg/errors"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/luiz787/udp-file-transfer/internal/control"
	"github.com/luiz787/udp-file-transfer/internal/fsio"
	"github.com/luiz787/udp-file-transfer/internal/metrics"
	"github.com/luiz787/udp-file-transfer/internal/protocol"
	"github.com/luiz787/udp-file-transfer/internal/receiver"
)

// Server accepts TCP connections, one per upload session, and runs each
// through the handshake before handing off to a receiver engine.
type Server struct {
	Listener net.Listener
	BindHost string
	Sink     fsio.FileSink
	Ports    *PortAllocator
	Log      logrus.FieldLogger
	Metrics  *metrics.Collector
}

// NewServer wraps an already-bound TCP listener. bindHost is the address
// the per-session UDP sockets are bound to (the listener's own address).
func NewServer(listener net.Listener, bindHost string, sink fsio.FileSink, log logrus.FieldLogger) *Server {
	return &Server{
		Listener: listener,
		BindHost: bindHost,
		Sink:     sink,
		Ports:    NewPortAllocator(),
		Log:      log,
	}
}

// Serve accepts connections forever, spawning one goroutine per session.
// It returns only if Accept itself fails (e.g. the listener was closed).
func (s *Server) Serve() error {
	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			return errors.Wrap(err, "accept")
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	sessionID := xid.New().String()
	log := s.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("session_id", sessionID).WithField("remote_addr", conn.RemoteAddr().String())

	if s.Metrics != nil {
		s.Metrics.SessionsActive.Inc()
		defer s.Metrics.SessionsActive.Dec()
	}

	if err := s.runSession(conn, log); err != nil {
		log.WithError(err).Error("session terminated")
	}
}

func (s *Server) runSession(conn net.Conn, log logrus.FieldLogger) error {
	defer conn.Close()
	ctrl := control.New(conn)

	if err := s.expect(ctrl, protocol.KindHello); err != nil {
		return errors.Wrap(err, "waiting for Hello")
	}

	port := s.Ports.Next()
	udpAddr := &net.UDPAddr{IP: net.ParseIP(s.BindHost), Port: int(port)}
	udp, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return errors.Wrapf(err, "binding udp port %d", port)
	}
	defer udp.Close()

	if _, err := ctrl.Send(protocol.Connection{Port: port}); err != nil {
		return errors.Wrap(err, "sending Connection")
	}

	msg, err := ctrl.Receive()
	if err != nil {
		return errors.Wrap(err, "waiting for InfoFile")
	}
	info, ok := msg.(protocol.InfoFile)
	if !ok {
		return errors.Errorf("expected InfoFile, got %T", msg)
	}

	if _, err := ctrl.Send(protocol.Ok{}); err != nil {
		return errors.Wrap(err, "sending Ok")
	}

	log = log.WithField("filename", info.Filename).WithField("file_size", info.FileSize).WithField("udp_port", port)
	log.Info("session: starting upload")

	eng := receiver.NewEngine(udp, ctrl, s.Sink, info.Filename, info.FileSize, log)
	eng.Metrics = s.Metrics
	return eng.Run()
}

func (s *Server) expect(ctrl *control.Channel, kind protocol.Kind) error {
	msg, err := ctrl.Receive()
	if err != nil {
		return err
	}
	if msg.Kind() != kind {
		return errors.Errorf("expected kind %d, got %d", kind, msg.Kind())
	}
	return nil
}
