package screen

import "testing"

func TestStripANSI(t *testing.T) {
	in := "\x1b[31mred\x1b[0m plain"
	got := stripANSI(in)
	want := "red plain"
	if got != want {
		t.Fatalf("stripANSI(%q) = %q, want %q", in, got, want)
	}
}

func TestFeedMarksChanged(t *testing.T) {
	m := New(80, 24)
	defer m.Close()
	if m.Changed() {
		t.Fatal("fresh model should not report changed")
	}
	m.Feed([]byte("hello"))
	if !m.Changed() {
		t.Fatal("expected Feed to mark changed")
	}
	if m.Changed() {
		t.Fatal("Changed() should clear the flag after reading it")
	}
}

func TestSnapshotSeqIncreases(t *testing.T) {
	m := New(80, 24)
	defer m.Close()
	s1 := m.Snapshot()
	m.Feed([]byte("x"))
	s2 := m.Snapshot()
	if s2.Seq <= s1.Seq {
		t.Fatalf("expected seq to increase, got %d then %d", s1.Seq, s2.Seq)
	}
}

func TestSnapshotDimensions(t *testing.T) {
	m := New(80, 24)
	defer m.Close()
	s := m.Snapshot()
	if s.Cols != 80 || s.Rows != 24 {
		t.Fatalf("got cols=%d rows=%d, want 80x24", s.Cols, s.Rows)
	}
	if len(s.Lines) != 24 || len(s.ANSI) != 24 {
		t.Fatalf("expected 24 lines, got %d plain / %d ansi", len(s.Lines), len(s.ANSI))
	}
}

func TestResizeUpdatesSnapshot(t *testing.T) {
	m := New(80, 24)
	defer m.Close()
	m.Resize(100, 40)
	s := m.Snapshot()
	if s.Cols != 100 || s.Rows != 40 {
		t.Fatalf("got cols=%d rows=%d after resize, want 100x40", s.Cols, s.Rows)
	}
}
