package stream

import "testing"

func TestStreamIDAllocation(t *testing.T) {
	nextStreamID.Store(1)

	ids := make(map[uint16]bool)
	for i := 0; i < 100; i++ {
		id := uint16(nextStreamID.Add(1) - 1)
		if id == 0 {
			t.Fatal("stream ID should never be 0")
		}
		if ids[id] {
			t.Fatalf("duplicate stream ID: %d", id)
		}
		ids[id] = true
	}
}

func TestStreamWriteWhenClosed(t *testing.T) {
	s := &Stream{ID: 1, closed: true}
	_, err := s.Write([]byte("test"))
	if err == nil {
		t.Fatal("expected error writing to closed stream")
	}
}

func TestStreamReadWhenClosed(t *testing.T) {
	s := &Stream{ID: 1, closed: true}
	_, err := s.Read(make([]byte, 10))
	if err == nil {
		t.Fatal("expected error reading from closed stream")
	}
}

func TestStreamReadWhenEOF(t *testing.T) {
	s := &Stream{ID: 1, eof: true}
	_, err := s.Read(make([]byte, 10))
	if err == nil {
		t.Fatal("expected EOF error")
	}
}

func TestStreamReadFromBuffer(t *testing.T) {
	s := &Stream{ID: 1, buf: []byte("hello world")}
	buf := make([]byte, 5)
	n, err := s.Read(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 || string(buf[:n]) != "hello" {
		t.Fatalf("got %q (%d), want %q", buf[:n], n, "hello")
	}

	n, err = s.Read(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 5 || string(buf[:n]) != " worl" {
		t.Fatalf("got %q (%d), want %q", buf[:n], n, " worl")
	}
}

func TestStreamCloseIdempotent(t *testing.T) {
	s := &Stream{ID: 1, closed: true}
	if err := s.Close(); err != nil {
		t.Fatalf("second close should not error: %v", err)
	}
}
