// internal/backend/replay/transcript.go
package replay

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"

	"github.com/xkilldash9x/domscope/internal/protocol"
)

// CompressedSuffix marks brotli-compressed transcripts.
const CompressedSuffix = ".br"

// IsCompressed reports whether path names a brotli-compressed transcript.
func IsCompressed(path string) bool {
	return strings.HasSuffix(path, CompressedSuffix)
}

var brotliReaderPool = sync.Pool{
	New: func() interface{} {
		return brotli.NewReader(nil)
	},
}

func getBrotliReader(r io.Reader) (*brotli.Reader, error) {
	br := brotliReaderPool.Get().(*brotli.Reader)
	if err := br.Reset(r); err != nil {
		brotliReaderPool.Put(br)
		return nil, err
	}
	return br, nil
}

func putBrotliReader(br *brotli.Reader) {
	if br == nil {
		return
	}
	_ = br.Reset(strings.NewReader(""))
	brotliReaderPool.Put(br)
}

// compressedFile reads a brotli stream and returns its reader to the pool on
// Close.
type compressedFile struct {
	br *brotli.Reader
	f  *os.File
}

func (c *compressedFile) Read(p []byte) (int, error) { return c.br.Read(p) }

func (c *compressedFile) Close() error {
	putBrotliReader(c.br)
	c.br = nil
	return c.f.Close()
}

// Open opens a transcript for reading, decompressing it when the name ends
// in ".br".
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	if !IsCompressed(path) {
		return f, nil
	}

	br, err := getBrotliReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to start brotli stream: %w", err)
	}
	return &compressedFile{br: br, f: f}, nil
}

// Writer records messages as transcript lines. It is safe for concurrent use.
// Plain transcripts are written line by line so a follower sees each message
// as soon as it is recorded.
type Writer struct {
	mu  sync.Mutex
	f   *os.File
	br  *brotli.Writer
	enc *protocol.Encoder
}

// Create truncates or creates the transcript at path. Names ending in ".br"
// are brotli-compressed.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript: %w", err)
	}

	w := &Writer{f: f}
	if IsCompressed(path) {
		w.br = brotli.NewWriter(f)
		w.enc = protocol.NewEncoder(w.br)
	} else {
		w.enc = protocol.NewEncoder(f)
	}
	return w, nil
}

// Record appends msg to the transcript.
func (w *Writer) Record(msg protocol.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enc == nil {
		return os.ErrClosed
	}
	return w.enc.Encode(msg)
}

// Close flushes any compressed data and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enc == nil {
		return nil
	}
	w.enc = nil

	if w.br != nil {
		if err := w.br.Close(); err != nil {
			w.f.Close()
			return fmt.Errorf("failed to finish brotli stream: %w", err)
		}
	}
	return w.f.Close()
}
