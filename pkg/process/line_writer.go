package process

import (
	"bytes"
	"strings"
)

// LineWriter is an io.Writer that calls a LineFunc for every complete
// line written to it. Call Flush to emit a trailing partial line.
type LineWriter struct {
	out LineFunc
	buf bytes.Buffer
}

// NewLineWriter returns a LineWriter forwarding to out.
func NewLineWriter(out LineFunc) *LineWriter {
	return &LineWriter{out: out}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		i := bytes.IndexByte(w.buf.Bytes(), '\n')
		if i < 0 {
			break
		}
		line := string(w.buf.Next(i + 1))
		w.emit(line[:len(line)-1])
	}
	return len(p), nil
}

// Flush emits any buffered partial line.
func (w *LineWriter) Flush() {
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *LineWriter) emit(line string) {
	line = strings.TrimRight(line, "\r")
	if w.out != nil {
		w.out(line)
	}
}
