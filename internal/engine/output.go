package engine

import (
	"bufio"
	"io"
	"strings"
	"sync/atomic"
)

const defaultOutputBuffer = 1024

// outputQueue is a bounded line buffer with a single producer. When full the
// oldest line is dropped so a silent consumer never stalls the engine.
type outputQueue struct {
	lines   chan string
	dropped atomic.Int64
}

func newOutputQueue(size int) *outputQueue {
	if size <= 0 {
		size = defaultOutputBuffer
	}
	return &outputQueue{lines: make(chan string, size)}
}

func (q *outputQueue) push(line string) {
	for {
		select {
		case q.lines <- line:
			return
		default:
		}
		select {
		case <-q.lines:
			q.dropped.Add(1)
		default:
		}
	}
}

// drain returns every queued line joined by newlines.
func (q *outputQueue) drain() (string, int) {
	var b strings.Builder
	n := 0
	for {
		select {
		case line := <-q.lines:
			if n > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(line)
			n++
		default:
			return b.String(), n
		}
	}
}

// pump copies r into the queue line by line until EOF.
func (q *outputQueue) pump(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		q.push(scanner.Text())
	}
	// drain the rest so the writer never blocks on a line too long to scan
	_, _ = io.Copy(io.Discard, r)
}
