// Package stdio carries JSON-RPC over line-delimited text on a pair of
// raw streams, the transport used when loki itself is launched as a peer
// server subprocess.
package stdio

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/lokiorch/loki/internal/mcp/server"
)

const (
	// MaxBufferBytes mirrors the client-side framing ceiling: input that
	// never terminates a line is an error, not a memory commitment.
	MaxBufferBytes = 4 << 20

	readChunkSize = 4096
)

// Transport reads one JSON value per line from r, dispatches it through
// the server, and writes replies back to w. Notifications produce no
// output at all.
type Transport struct {
	srv *server.Server
	r   io.Reader
	w   io.Writer

	writeMu sync.Mutex
}

func New(srv *server.Server, r io.Reader, w io.Writer) *Transport {
	return &Transport{
		srv: srv,
		r:   r,
		w:   w,
	}
}

// Run pumps the input stream until EOF, read failure, overflow, or
// context cancellation. Parse failures answer with -32700 instead of
// terminating the loop.
func (t *Transport) Run(ctx context.Context) error {
	buf := make([]byte, 0, readChunkSize)
	chunk := make([]byte, readChunkSize)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := t.r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			for {
				i := bytes.IndexByte(buf, '\n')
				if i < 0 {
					break
				}
				line := buf[:i]
				buf = append([]byte(nil), buf[i+1:]...)
				t.handleLine(ctx, line)
			}
			if len(buf) > MaxBufferBytes {
				log.Error().Int("size", len(buf)).Msg("stdio receive buffer overflow")
				return io.ErrShortBuffer
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func (t *Transport) handleLine(ctx context.Context, line []byte) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}

	out, _ := t.srv.HandleRaw(ctx, line)
	if out == nil {
		return
	}
	t.writeLine(out)
}

func (t *Transport) writeLine(out []byte) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if _, err := t.w.Write(append(out, '\n')); err != nil {
		log.Error().Err(err).Msg("stdio write failed")
	}
}
