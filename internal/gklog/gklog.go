// Package gklog provides the hot-path logger described in spec.md §5's
// "structured logging, bounded queue on the hot path, sampling under load"
// requirement. Grounded on sawpanic-cryptorun's internal/log/progress.go
// (wraps github.com/rs/zerolog/log's global logger) and cmd/cryptorun/main.go
// (reconfigures the global zerolog logger once at startup with a
// ConsoleWriter for TTY output), generalized into a bounded async sink so a
// slow downstream write never blocks a gate-chain decision. When the queue is
// full, non-critical records are dropped and counted; there is no sampling.
package gklog

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Severity mirrors zerolog's level set, named here so callers outside this
// package don't need to import zerolog directly for the common case.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarn
	SeverityError
	SeverityCritical
	SeverityEmergency
)

func (s Severity) zerologLevel() zerolog.Level {
	switch s {
	case SeverityDebug:
		return zerolog.DebugLevel
	case SeverityInfo:
		return zerolog.InfoLevel
	case SeverityWarn:
		return zerolog.WarnLevel
	case SeverityError:
		return zerolog.ErrorLevel
	case SeverityCritical, SeverityEmergency:
		return zerolog.FatalLevel
	default:
		panic("gklog: unhandled severity variant")
	}
}

// synchronous reports whether spec.md §5's "EMERGENCY/CRITICAL bypass the
// queue" rule applies to this severity.
func (s Severity) synchronous() bool {
	return s == SeverityCritical || s == SeverityEmergency
}

// Configure sets up the process-global zerolog logger the way
// cmd/cryptorun/main.go does: ConsoleWriter when stdout is a terminal, plain
// JSON otherwise, at the requested minimum level.
func Configure(levelName string, forceJSON bool) {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if !forceJSON && term.IsTerminal(int(os.Stdout.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		return
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// record is one queued hot-path log entry.
type record struct {
	severity Severity
	event    string
	fields   map[string]any
}

// Sink is a bounded-queue async logger: Log enqueues without blocking unless
// the queue is full, in which case the record is dropped and a counter
// increments, per spec.md §5's backpressure requirement. EMERGENCY/CRITICAL
// records always write synchronously, bypassing the queue entirely.
type Sink struct {
	queue   chan record
	dropped atomic.Int64
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// NewSink starts a Sink with the given queue depth, draining it on a single
// background goroutine so log-write ordering is preserved.
func NewSink(queueDepth int) *Sink {
	s := &Sink{queue: make(chan record, queueDepth)}
	s.wg.Add(1)
	go s.drain()
	return s
}

func (s *Sink) drain() {
	defer s.wg.Done()
	for rec := range s.queue {
		s.write(rec)
	}
}

func (s *Sink) write(rec record) {
	ev := log.WithLevel(rec.severity.zerologLevel())
	for k, v := range rec.fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(rec.event)
}

// Log enqueues a hot-path log record. Dropped returns the cumulative count of
// records discarded due to a full queue.
func (s *Sink) Log(severity Severity, event string, fields map[string]any) {
	rec := record{severity: severity, event: event, fields: fields}
	if severity.synchronous() {
		s.write(rec)
		return
	}
	if s.closed.Load() {
		return
	}
	select {
	case s.queue <- rec:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns the number of records discarded because the queue was full.
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Close drains the queue and stops the background goroutine. Callers must
// not call Log after Close returns.
func (s *Sink) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.queue)
	}
	s.wg.Wait()
}
