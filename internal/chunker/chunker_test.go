package chunker

import (
	"os"
	"testing"
)

func writeTempFile(t *testing.T, size int64) string {
	t.Helper()

	f, err := os.CreateTemp("", "chunker_test_*.bin")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()

	buf := make([]byte, 1024*1024) // 1MB buffer
	var written int64
	for written < size {
		n := size - written
		if n > int64(len(buf)) {
			n = int64(len(buf))
		}
		if _, err := f.Write(buf[:n]); err != nil {
			t.Fatalf("write: %v", err)
		}
		written += n
	}

	return f.Name()
}

func TestChunkFileBasic(t *testing.T) {
	// 10MB file, 5MB chunk size -> expect 2 chunks
	filePath := writeTempFile(t, 10*1024*1024)
	defer os.Remove(filePath)

	c := New(Config{})
	chunks, err := c.ChunkFile(filePath, 5*1024*1024)
	if err != nil {
		t.Fatalf("ChunkFile error: %v", err)
	}

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}

	if chunks[0].Offset != 0 {
		t.Fatalf("expected first chunk offset 0, got %d", chunks[0].Offset)
	}
	if chunks[1].Offset != int64(len(chunks[0].Data)) {
		t.Fatalf("expected second chunk offset %d, got %d", len(chunks[0].Data), chunks[1].Offset)
	}
	if chunks[0].Index != 0 || chunks[1].Index != 1 {
		t.Fatalf("expected sequential indices, got %d, %d", chunks[0].Index, chunks[1].Index)
	}
}

func TestChunkFileUnevenRemainder(t *testing.T) {
	// 12MB file, 5MB chunks -> 5, 5, 2
	filePath := writeTempFile(t, 12*1024*1024)
	defer os.Remove(filePath)

	c := New(Config{})
	chunks, err := c.ChunkFile(filePath, 5*1024*1024)
	if err != nil {
		t.Fatalf("ChunkFile error: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if len(chunks[2].Data) != 2*1024*1024 {
		t.Fatalf("expected final chunk to hold the 2MB remainder, got %d bytes", len(chunks[2].Data))
	}
}

func TestChunkSizeIsClamped(t *testing.T) {
	cfg := Config{MinChunkSize: 1024, MaxChunkSize: 4096, DefaultChunkSize: 2048}
	if got := cfg.ChooseChunkSizeStatic(0); got != 2048 {
		t.Fatalf("expected default 2048, got %d", got)
	}
	if got := cfg.ChooseChunkSizeStatic(100); got != 1024 {
		t.Fatalf("expected clamp to min 1024, got %d", got)
	}
	if got := cfg.ChooseChunkSizeStatic(1 << 20); got != 4096 {
		t.Fatalf("expected clamp to max 4096, got %d", got)
	}
}

func TestCalculateChunkHashIsDeterministic(t *testing.T) {
	c := New(Config{}).(*fileChunker)
	a := c.CalculateChunkHash([]byte("hello"))
	b := c.CalculateChunkHash([]byte("hello"))
	if a != b {
		t.Fatalf("expected identical hashes for identical input")
	}
}
