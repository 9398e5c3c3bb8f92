// internal/backend/replay/source.go
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hpcloud/tail"

	"github.com/xkilldash9x/domscope/internal/config"
	"github.com/xkilldash9x/domscope/internal/protocol"
)

// ErrFollowCompressed is returned when follow mode is asked to tail a
// compressed transcript.
var ErrFollowCompressed = errors.New("compressed transcripts cannot be followed")

// Source yields transcript messages in file order. Next returns io.EOF once
// a finite source is exhausted.
type Source interface {
	Next(ctx context.Context) (protocol.Message, error)
	Close() error
}

// NewSource opens path as a finite source, or as a followed one when
// cfg.Follow is set.
func NewSource(path string, cfg config.ReplayConfig) (Source, error) {
	if cfg.Follow {
		return NewTailSource(path, cfg.Poll)
	}
	return NewFileSource(path)
}

// -- File --

type fileSource struct {
	rc  io.ReadCloser
	dec *protocol.Decoder
}

// NewFileSource reads a complete transcript, plain or compressed.
func NewFileSource(path string) (Source, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, err
	}
	return &fileSource{rc: rc, dec: protocol.NewDecoder(rc)}, nil
}

func (s *fileSource) Next(ctx context.Context) (protocol.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.dec.Decode()
}

func (s *fileSource) Close() error { return s.rc.Close() }

// -- Follow --

type tailSource struct {
	t    *tail.Tail
	line int
}

// NewTailSource follows a plain transcript from its first line. It never
// returns io.EOF while the tail is running.
func NewTailSource(path string, poll bool) (Source, error) {
	if IsCompressed(path) {
		return nil, ErrFollowCompressed
	}
	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		MustExist: true,
		Poll:      poll,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to follow transcript: %w", err)
	}
	return &tailSource{t: t}, nil
}

func (s *tailSource) Next(ctx context.Context) (protocol.Message, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case line, ok := <-s.t.Lines:
			if !ok {
				return nil, io.EOF
			}
			s.line++
			if line.Err != nil {
				return nil, fmt.Errorf("transcript line %d: %w", s.line, line.Err)
			}
			text := strings.TrimSpace(line.Text)
			if text == "" {
				continue
			}
			msg, err := protocol.Unmarshal([]byte(text))
			if err != nil {
				return nil, fmt.Errorf("transcript line %d: %w", s.line, err)
			}
			return msg, nil
		}
	}
}

func (s *tailSource) Close() error {
	err := s.t.Stop()
	s.t.Cleanup()
	return err
}
