package sender

import (
	"net"
	"testing"
	"time"

	"github.com/luiz787/udp-file-transfer/internal/clock"
	"github.com/luiz787/udp-file-transfer/internal/control"
	"github.com/luiz787/udp-file-transfer/internal/protocol"
)

func pipeUDP(t *testing.T) (*net.UDPConn, *net.UDPConn) {
	t.Helper()
	a, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen a: %v", err)
	}
	b, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("listen b: %v", err)
	}
	ac, err := net.DialUDP("udp", nil, b.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial a->b: %v", err)
	}
	a.Close()
	return ac, b
}

func makeChunks(n, last int) [][]byte {
	chunks := make([][]byte, n)
	for i := 0; i < n-1; i++ {
		chunks[i] = make([]byte, 1000)
	}
	chunks[n-1] = make([]byte, last)
	return chunks
}

func TestWindowInvariant(t *testing.T) {
	udp, recv := pipeUDP(t)
	defer udp.Close()
	defer recv.Close()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	chunks := makeChunks(4, 500)
	e := NewEngine(chunks, udp, control.New(client), clock.Real{}, nil)

	done := make(chan error, 1)
	go func() { done <- e.Run() }()

	buf := make([]byte, 1024)
	for seq := uint32(0); seq < 4; seq++ {
		n, err := recv.Read(buf)
		if err != nil {
			t.Fatalf("reading chunk: %v", err)
		}
		msg, err := protocol.Decode(buf, n)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		f, ok := msg.(protocol.File)
		if !ok {
			t.Fatalf("got %T, want File", msg)
		}
		st := e.State()
		if !(st.SendBase <= st.NextSeq && st.NextSeq <= st.SendBase+st.WindowSize) {
			t.Fatalf("window invariant violated: %+v", st)
		}
		if _, err := server.Write(protocol.Ack{Seq: f.Seq}.Encode()); err != nil {
			t.Fatalf("sending ack: %v", err)
		}
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sender to finish")
	}
}

func TestSingleChunkFile(t *testing.T) {
	udp, recv := pipeUDP(t)
	defer udp.Close()
	defer recv.Close()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	chunks := [][]byte{make([]byte, 500)}
	e := NewEngine(chunks, udp, control.New(client), clock.Real{}, nil)

	done := make(chan error, 1)
	go func() { done <- e.Run() }()

	buf := make([]byte, 1024)
	n, err := recv.Read(buf)
	if err != nil {
		t.Fatalf("reading chunk: %v", err)
	}
	msg, _ := protocol.Decode(buf, n)
	f := msg.(protocol.File)
	if f.Seq != 0 {
		t.Fatalf("seq = %d, want 0", f.Seq)
	}
	if _, err := server.Write(protocol.Ack{Seq: 0}.Encode()); err != nil {
		t.Fatalf("sending ack: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestRetransmitOnTimeout(t *testing.T) {
	udp, recv := pipeUDP(t)
	defer udp.Close()
	defer recv.Close()

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	fake := clock.NewFake(time.Unix(0, 0))
	// A single-chunk pump stops right after its first send, so use two
	// chunks and read both first transmissions before the timer fires.
	chunks := makeChunks(2, 500)
	e := NewEngine(chunks, udp, control.New(client), fake, nil)

	done := make(chan error, 1)
	go func() { done <- e.Run() }()

	buf := make([]byte, 1024)
	for i := 0; i < 2; i++ {
		recv.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, err := recv.Read(buf); err != nil {
			t.Fatalf("first transmit: %v", err)
		}
	}

	fake.Advance(RetransmitTimeout + time.Millisecond)

	// The next read should be the retransmit of chunk 0, since no ack has
	// advanced send_base yet.
	recv.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := recv.Read(buf)
	if err != nil {
		t.Fatalf("retransmit: %v", err)
	}
	msg, _ := protocol.Decode(buf, n)
	f := msg.(protocol.File)
	if f.Seq != 0 {
		t.Fatalf("retransmitted seq = %d, want 0", f.Seq)
	}

	if _, err := server.Write(protocol.Ack{Seq: 1}.Encode()); err != nil {
		t.Fatalf("sending ack: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}
