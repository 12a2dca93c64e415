package ringbuf

import "testing"

func TestWriteReadFromRoundTrip(t *testing.T) {
	b := New(1024, nil)
	off := b.Write([]byte("hello"))
	if off != 0 {
		t.Fatalf("expected first write at offset 0, got %d", off)
	}
	data, _, ok := b.ReadFrom(0)
	if !ok {
		t.Fatal("expected ok read from offset 0")
	}
	if string(data) != "hello" {
		t.Fatalf("got %q", data)
	}
}

func TestReadFromAtTotalWrittenReturnsEmpty(t *testing.T) {
	b := New(1024, nil)
	b.Write([]byte("abc"))
	data, _, ok := b.ReadFrom(b.TotalWritten())
	if !ok {
		t.Fatal("expected ok for read at exactly total_written (B1)")
	}
	if len(data) != 0 {
		t.Fatalf("expected empty data, got %d bytes", len(data))
	}
}

func TestReadFromBeforeOldestOffsetRejected(t *testing.T) {
	b := New(16, nil)
	for i := 0; i < 4; i++ {
		b.Write([]byte("12345678\r\n"))
	}
	if _, _, ok := b.ReadFrom(0); ok {
		t.Fatal("expected ReadFrom(0) to fail once the ring has trimmed past it")
	}
}

func TestOldestOffsetAdvancesOnTrim(t *testing.T) {
	b := New(16, nil)
	for i := 0; i < 4; i++ {
		b.Write([]byte("12345678\r\n"))
	}
	if b.OldestOffset() <= 0 {
		t.Fatalf("expected oldest offset to advance after trim, got %d", b.OldestOffset())
	}
	if b.TotalWritten() != 40 {
		t.Fatalf("expected total_written=40, got %d", b.TotalWritten())
	}
}

func TestTotalWrittenMonotonic(t *testing.T) {
	b := New(1024, nil)
	prev := int64(0)
	for i := 0; i < 10; i++ {
		b.Write([]byte("x"))
		cur := b.TotalWritten()
		if cur < prev {
			t.Fatalf("total_written regressed: %d -> %d", prev, cur)
		}
		prev = cur
	}
}

func TestFindSafeCutPrefersSyncFrameEnd(t *testing.T) {
	buf := append([]byte("garbage"), syncEnd...)
	buf = append(buf, []byte("more")...)
	cut := findSafeCut(buf, 0)
	if cut != len("garbage")+len(syncEnd) {
		t.Fatalf("expected cut right after sync frame end, got %d", cut)
	}
}

func TestFindSafeCutFallsBackToCRLF(t *testing.T) {
	buf := []byte("line one\r\nline two")
	cut := findSafeCut(buf, 0)
	if cut != len("line one\r\n") {
		t.Fatalf("expected cut after CRLF, got %d", cut)
	}
}

func TestAgentPreambleReinjectedAfterTrim(t *testing.T) {
	b := New(16, AgentPreamble("claude"))
	for i := 0; i < 4; i++ {
		b.Write([]byte("12345678\r\n"))
	}
	snap, _ := b.Snapshot()
	if len(snap) == 0 {
		t.Fatal("expected non-empty snapshot")
	}
}
