// Package monitor reads the server subprocess console streams, classifies
// death lines, and hands structured events to the loop.
package monitor

import (
	"bufio"
	"io"
	"log"
	"runtime/debug"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/mcwarden/warden/internal/domain"
	"github.com/mcwarden/warden/internal/loop"
)

const joinTimeout = 5 * time.Second

// Monitor runs one reader goroutine per console stream. Only stdout is
// classified; stderr is read and logged for observability.
type Monitor struct {
	stdout io.Reader
	stderr io.Reader
	loop   *loop.Loop

	onDeath func(domain.DeathEvent)
	onReady func()

	// OnLine, when set before Start, receives every sanitized console line.
	// It is called from the reader goroutines and must not block.
	OnLine func(stream, line string)

	mu             sync.Mutex
	started        bool
	readyDelivered bool
	stop           chan struct{}
	wg             sync.WaitGroup
}

// New creates a monitor over the two console streams of a running server
// process. onDeath and onReady may be nil; both are invoked on the loop
// goroutine, never on a reader.
func New(stdout, stderr io.Reader, l *loop.Loop, onDeath func(domain.DeathEvent), onReady func()) *Monitor {
	return &Monitor{
		stdout:  stdout,
		stderr:  stderr,
		loop:    l,
		onDeath: onDeath,
		onReady: onReady,
	}
}

// Start launches the reader goroutines. Calling Start twice warns and
// no-ops.
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		log.Printf("[monitor] readers already started")
		return
	}
	m.started = true
	m.readyDelivered = false
	m.stop = make(chan struct{})

	m.wg.Add(2)
	go m.readStream(m.stdout, "[Server STDOUT]", true)
	go m.readStream(m.stderr, "[Server STDERR]", false)
	log.Printf("[monitor] reader goroutines started")
}

// Stop signals the readers and waits for them with a bounded timeout. A
// reader blocked in a pipe read is left behind and logged; it exits on its
// own when the process closes the pipe. Safe to call from the loop
// goroutine and idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		log.Printf("[monitor] readers were not running")
		return
	}
	m.started = false
	close(m.stop)
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Printf("[monitor] readers stopped")
	case <-time.After(joinTimeout):
		log.Printf("[monitor] reader did not exit within %v, leaving it behind", joinTimeout)
	}
}

// readStream is the per-stream reader loop. It runs on its own goroutine
// and must never touch state owned by the loop; matches cross over via
// loop.Submit.
func (m *Monitor) readStream(r io.Reader, prefix string, classify bool) {
	defer m.wg.Done()
	if r == nil {
		return
	}

	br := bufio.NewReaderSize(r, 64*1024)
	for {
		select {
		case <-m.stop:
			log.Printf("%s stop requested, exiting reader", prefix)
			return
		default:
		}

		raw, err := readLine(br)
		line := sanitize(raw)
		if line != "" {
			log.Printf("%s %s", prefix, line)
			if m.OnLine != nil {
				m.OnLine(prefix, line)
			}
		}
		if classify {
			m.processLine(prefix, line)
		}
		if err != nil {
			if err != io.EOF {
				// A read error usually means the process died mid-line; the
				// stream ending is not escalated either way.
				log.Printf("%s read error: %v", prefix, err)
			}
			break
		}
	}
	log.Printf("%s stream ended", prefix)
}

// maxLineLen caps how much of one console line is kept. Anything past it is
// discarded; the reader itself must survive lines of any length.
const maxLineLen = 1 << 20

// readLine reads one line, truncating past maxLineLen instead of failing.
func readLine(br *bufio.Reader) (string, error) {
	var buf []byte
	truncated := false
	for {
		chunk, isPrefix, err := br.ReadLine()
		if len(chunk) > 0 && !truncated {
			if len(buf)+len(chunk) > maxLineLen {
				chunk = chunk[:maxLineLen-len(buf)]
				truncated = true
			}
			buf = append(buf, chunk...)
		}
		if err != nil {
			return string(buf), err
		}
		if !isPrefix {
			return string(buf), nil
		}
	}
}

// processLine classifies one stdout line. Errors here are contained so one
// bad line never stops the reader.
func (m *Monitor) processLine(prefix string, line string) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("%s error processing line: %v\n%s", prefix, r, debug.Stack())
		}
	}()

	if m.onReady != nil && MatchReady(line) {
		m.mu.Lock()
		first := !m.readyDelivered
		m.readyDelivered = true
		m.mu.Unlock()
		if first {
			log.Printf("[monitor] RCON listener is ready")
			if err := m.loop.Submit(m.onReady); err != nil {
				log.Printf("[monitor] ready callback dropped: %v", err)
			}
		}
	}

	if m.onDeath == nil {
		return
	}
	ev, ok := Classify(line)
	if !ok {
		return
	}
	log.Printf("[monitor] death detected: player=%s at %s", ev.Player, ev.LogTime)
	if err := m.loop.Submit(func() { m.onDeath(ev) }); err != nil {
		log.Printf("[monitor] death event dropped: %v", err)
	}
}

// sanitize strips trailing whitespace and replaces invalid UTF-8 so a bad
// byte sequence is never fatal to the reader.
func sanitize(line string) string {
	line = strings.TrimRight(line, " \t\r")
	if utf8.ValidString(line) {
		return line
	}
	return strings.ToValidUTF8(line, string(utf8.RuneError))
}
