package receiver

import (
	"bytes"
	"net"
	"testing"

	"github.com/luiz787/udp-file-transfer/internal/control"
	"github.com/luiz787/udp-file-transfer/internal/protocol"
)

type memSink struct {
	filename string
	data     []byte
}

func (m *memSink) Write(filename string, data []byte) error {
	m.filename = filename
	m.data = append([]byte(nil), data...)
	return nil
}

func newTestEngine(t *testing.T, fileSize uint64) (*Engine, *control.Channel) {
	t.Helper()
	_, serverSide := net.Pipe()
	ctrl := control.New(serverSide)
	sink := &memSink{}
	e := NewEngine(nil, ctrl, sink, "test.txt", fileSize, nil)
	return e, ctrl
}

func drainAcks(t *testing.T, conn net.Conn, n int) []protocol.Ack {
	t.Helper()
	acks := make([]protocol.Ack, 0, n)
	buf := make([]byte, 1024)
	for i := 0; i < n; i++ {
		bn, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("reading ack %d: %v", i, err)
		}
		msg, err := protocol.Decode(buf, bn)
		if err != nil {
			t.Fatalf("decoding ack %d: %v", i, err)
		}
		acks = append(acks, msg.(protocol.Ack))
	}
	return acks
}

func TestHandleFileInOrder(t *testing.T) {
	e, _ := newTestEngine(t, 3500)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	e.Ctrl = control.New(server)

	chunks := [][]byte{
		bytes.Repeat([]byte{1}, 1000),
		bytes.Repeat([]byte{2}, 1000),
		bytes.Repeat([]byte{3}, 1000),
		bytes.Repeat([]byte{4}, 500),
	}

	results := make(chan []protocol.Ack, 1)
	go func() {
		acks := drainAcks(t, client, 4)
		// finalize sends End after the last ack; read it so that write on
		// the unbuffered pipe can complete.
		client.Read(make([]byte, 1024))
		results <- acks
	}()

	for i, c := range chunks {
		done, err := e.handleFile(protocol.File{Seq: uint32(i), Len: uint16(len(c)), Data: c})
		if err != nil {
			t.Fatalf("handleFile(%d): %v", i, err)
		}
		if i < 3 && done {
			t.Fatalf("finalized early at seq %d", i)
		}
		if i == 3 && !done {
			t.Fatalf("expected finalize at last chunk")
		}
	}

	acks := <-results
	want := []uint32{0, 1, 2, 3}
	for i, a := range acks {
		if a.Seq != want[i] {
			t.Fatalf("ack[%d] = %d, want %d", i, a.Seq, want[i])
		}
	}

	sink := e.Sink.(*memSink)
	if sink.filename != "test.txt" {
		t.Fatalf("filename = %q, want test.txt", sink.filename)
	}
	var want2 []byte
	for _, c := range chunks {
		want2 = append(want2, c...)
	}
	if !bytes.Equal(sink.data, want2) {
		t.Fatalf("reassembled data mismatch: got %d bytes, want %d", len(sink.data), len(want2))
	}
}

func TestHandleFileReordered(t *testing.T) {
	e, _ := newTestEngine(t, 3500)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	e.Ctrl = control.New(server)

	chunks := [][]byte{
		bytes.Repeat([]byte{1}, 1000),
		bytes.Repeat([]byte{2}, 1000),
		bytes.Repeat([]byte{3}, 1000),
		bytes.Repeat([]byte{4}, 500),
	}
	order := []int{0, 2, 1, 3}

	results := make(chan []protocol.Ack, 1)
	go func() {
		acks := drainAcks(t, client, 4)
		// Consume the End that finalize sends after the last ack.
		client.Read(make([]byte, 1024))
		results <- acks
	}()

	for _, seq := range order {
		c := chunks[seq]
		_, err := e.handleFile(protocol.File{Seq: uint32(seq), Len: uint16(len(c)), Data: c})
		if err != nil {
			t.Fatalf("handleFile(%d): %v", seq, err)
		}
	}

	acks := <-results
	want := []uint32{0, 0, 2, 3}
	for i, a := range acks {
		if a.Seq != want[i] {
			t.Fatalf("ack[%d] = %d, want %d", i, a.Seq, want[i])
		}
	}
}

func TestHandleFileIdempotent(t *testing.T) {
	e, _ := newTestEngine(t, 3500)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	e.Ctrl = control.New(server)
	go drainAcks(t, client, 2)

	data := bytes.Repeat([]byte{7}, 1000)
	if _, err := e.handleFile(protocol.File{Seq: 0, Len: 1000, Data: data}); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	before := append([]byte(nil), e.state.Contents[0]...)
	beforeReceived := e.state.Received[0]

	if _, err := e.handleFile(protocol.File{Seq: 0, Len: 1000, Data: data}); err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if !bytes.Equal(before, e.state.Contents[0]) || e.state.Received[0] != beforeReceived {
		t.Fatal("duplicate in-window delivery mutated state")
	}
}

func TestEmptyFileSingleChunk(t *testing.T) {
	e, _ := newTestEngine(t, 0)
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	e.Ctrl = control.New(server)

	results := make(chan []protocol.Ack, 1)
	go func() {
		acks := drainAcks(t, client, 1)
		// Consume the End that finalize sends after the ack.
		client.Read(make([]byte, 1024))
		results <- acks
	}()

	done, err := e.handleFile(protocol.File{Seq: 0, Len: 0, Data: []byte{}})
	if err != nil {
		t.Fatalf("handleFile: %v", err)
	}
	if !done {
		t.Fatal("expected finalize on empty file's single chunk")
	}
	acks := <-results
	if acks[0].Seq != 0 {
		t.Fatalf("ack = %d, want 0", acks[0].Seq)
	}
	sink := e.Sink.(*memSink)
	if len(sink.data) != 0 {
		t.Fatalf("expected zero-byte file, got %d bytes", len(sink.data))
	}
}
