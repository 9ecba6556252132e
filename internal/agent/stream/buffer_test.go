package stream

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestBufferUnboundedKeepsEverything(t *testing.T) {
	b := NewBuffer(0)
	for i := 0; i < 10000; i++ {
		b.Append(strconv.Itoa(i))
	}
	if b.Len() != 10000 || b.Dropped() != 0 {
		t.Fatalf("unbounded buffer must not evict: len=%d dropped=%d", b.Len(), b.Dropped())
	}
}

func TestBufferRingKeepsNewest(t *testing.T) {
	b := NewBuffer(3)
	for _, l := range []string{"a", "b", "c", "d", "e"} {
		b.Append(l)
	}
	got := b.Lines()
	if len(got) != 3 || got[0] != "c" || got[1] != "d" || got[2] != "e" {
		t.Fatalf("unexpected ring contents %v", got)
	}
	if b.Dropped() != 2 {
		t.Fatalf("expected 2 dropped, got %d", b.Dropped())
	}
	if b.String() != "c\nd\ne\n" {
		t.Fatalf("unexpected text %q", b.String())
	}
	b.Reset()
	if b.Len() != 0 {
		t.Fatalf("reset should empty the buffer")
	}
}

func TestBufferExportCompressed(t *testing.T) {
	b := NewBuffer(0)
	b.Append("I/ActivityManager: Start proc")
	b.Append("E/AndroidRuntime: FATAL EXCEPTION")

	path := filepath.Join(t.TempDir(), "logcat.txt.zst")
	if err := b.Export(path); err != nil {
		t.Fatalf("export failed: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open export failed: %v", err)
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		t.Fatalf("init decoder failed: %v", err)
	}
	defer dec.Close()
	data, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("decode export failed: %v", err)
	}
	if string(data) != b.String() {
		t.Fatalf("unexpected export content %q", data)
	}
}

func TestTeeFansOut(t *testing.T) {
	a, b := NewBuffer(0), NewBuffer(0)
	var seen []string
	sink := Tee(a, b, SinkFunc(func(line string) { seen = append(seen, line) }))
	sink.Append("x")
	if a.Len() != 1 || b.Len() != 1 || len(seen) != 1 {
		t.Fatalf("tee did not reach every sink")
	}
}
