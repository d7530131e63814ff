/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

// Package output maps every (dataset, stream, day) key onto one lazily opened append-only
// log file and reclaims files that have gone idle.
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SSSOC-CAN/bdlog/errors"
	e "github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	DefaultIdleTimeout   = 60 * time.Second
	DefaultReadyPolls    = 1000
	DefaultReadyInterval = time.Millisecond
	minSweepInterval     = 10 * time.Millisecond
)

// Key identifies one log file
type Key struct {
	Dataset string
	Stream  string
	Day     int
}

type (
	resource struct {
		mu        sync.Mutex
		path      string
		file      *os.File
		info      os.FileInfo
		lastWrite time.Time
		closed    bool
	}

	// Multiplexer owns every open log file. Writes for one key are serialized through the
	// key's resource; the map lock guarantees one resource per key.
	Multiplexer struct {
		Running       int32 // atomically
		baseDir       string
		idleTimeout   time.Duration
		readyPolls    int
		readyInterval time.Duration
		logger        *zerolog.Logger
		mu            sync.Mutex
		stopped       bool
		resources     map[Key]*resource
		quit          chan struct{}
		wg            sync.WaitGroup
		now           func() time.Time
	}

	Option func(*Multiplexer)
)

// WithIdleTimeout sets how long a file may go unwritten before it is closed
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Multiplexer) {
		m.idleTimeout = d
	}
}

// WithReadyPolls bounds the attempts made to create a file before a write fails
func WithReadyPolls(polls int, interval time.Duration) Option {
	return func(m *Multiplexer) {
		m.readyPolls = polls
		m.readyInterval = interval
	}
}

// NewMultiplexer creates a Multiplexer rooted at baseDir
func NewMultiplexer(baseDir string, logger *zerolog.Logger, opts ...Option) *Multiplexer {
	m := &Multiplexer{
		baseDir:       baseDir,
		idleTimeout:   DefaultIdleTimeout,
		readyPolls:    DefaultReadyPolls,
		readyInterval: DefaultReadyInterval,
		logger:        logger,
		resources:     make(map[Key]*resource),
		quit:          make(chan struct{}),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.readyPolls < 1 {
		m.readyPolls = 1
	}
	return m
}

// Start starts the idle sweep
func (m *Multiplexer) Start() error {
	if ok := atomic.CompareAndSwapInt32(&m.Running, 0, 1); !ok {
		return errors.ErrServiceAlreadyStarted
	}
	interval := m.idleTimeout / 4
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	m.wg.Add(1)
	go m.sweep(interval)
	m.logger.Info().Msgf("Output multiplexer started. Idle timeout: %v", m.idleTimeout)
	return nil
}

// Stop stops the sweep and closes every open file
func (m *Multiplexer) Stop() error {
	if ok := atomic.CompareAndSwapInt32(&m.Running, 1, 0); !ok {
		return errors.ErrServiceAlreadyStopped
	}
	close(m.quit)
	m.wg.Wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	for k, r := range m.resources {
		r.mu.Lock()
		r.closeLocked(m.logger)
		r.closed = true
		r.mu.Unlock()
		delete(m.resources, k)
	}
	m.logger.Info().Msg("Output multiplexer stopped.")
	return nil
}

// Path returns the log file path for key
func (m *Multiplexer) Path(k Key) string {
	return filepath.Join(m.baseDir, k.Dataset, k.Stream, fmt.Sprintf("%s_%03d_raw", k.Stream, k.Day))
}

// OpenCount returns the number of live resources
func (m *Multiplexer) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resources)
}

// Write appends record and a newline to the file for k, creating it when needed. Writes
// after Stop are refused.
func (m *Multiplexer) Write(k Key, record string) error {
	line := []byte(record + "\n")
	for {
		r := m.acquire(k)
		if r == nil {
			return errors.ErrServiceAlreadyStopped
		}
		r.mu.Lock()
		if r.closed {
			// reclaimed between lookup and lock, fetch the replacement
			r.mu.Unlock()
			continue
		}
		err := m.writeLocked(r, line)
		r.mu.Unlock()
		return err
	}
}

func (m *Multiplexer) acquire(k Key) *resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	r, ok := m.resources[k]
	if !ok {
		r = &resource{path: m.Path(k)}
		m.resources[k] = r
	}
	return r
}

func (m *Multiplexer) writeLocked(r *resource, line []byte) error {
	if r.file != nil && r.stale() {
		m.logger.Warn().Msgf("Log file %s disappeared, recreating", r.path)
		r.closeLocked(m.logger)
	}
	if r.file == nil {
		if err := m.openLocked(r); err != nil {
			return err
		}
	}
	if _, err := r.file.Write(line); err != nil {
		r.closeLocked(m.logger)
		return e.Wrapf(err, "could not write to %s", r.path)
	}
	r.lastWrite = m.now()
	return nil
}

func (m *Multiplexer) openLocked(r *resource) error {
	var lastErr error
	for i := 0; i < m.readyPolls; i++ {
		if i > 0 {
			time.Sleep(m.readyInterval)
		}
		if err := os.MkdirAll(filepath.Dir(r.path), 0775); err != nil {
			lastErr = err
			continue
		}
		f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0664)
		if err != nil {
			lastErr = err
			continue
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			lastErr = err
			continue
		}
		r.file = f
		r.info = info
		r.lastWrite = m.now()
		m.logger.Debug().Msgf("Opened log file %s", r.path)
		return nil
	}
	m.logger.Error().Msgf("Could not open %s after %v attempts: %v", r.path, m.readyPolls, lastErr)
	return e.Wrapf(errors.ErrWriteTimeout, "%s: %v", r.path, lastErr)
}

// stale reports whether the open handle no longer refers to the file at r.path
func (r *resource) stale() bool {
	info, err := os.Stat(r.path)
	if err != nil {
		return true
	}
	return !os.SameFile(info, r.info)
}

func (r *resource) closeLocked(logger *zerolog.Logger) {
	if r.file == nil {
		return
	}
	if err := r.file.Close(); err != nil {
		logger.Error().Msgf("Could not close %s: %v", r.path, err)
	}
	r.file = nil
	r.info = nil
}

func (m *Multiplexer) sweep(interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.reclaimIdle()
		case <-m.quit:
			return
		}
	}
}

func (m *Multiplexer) reclaimIdle() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, r := range m.resources {
		// a held resource is being written or opened, so it is not idle
		if !r.mu.TryLock() {
			continue
		}
		if now.Sub(r.lastWrite) >= m.idleTimeout {
			r.closeLocked(m.logger)
			r.closed = true
			delete(m.resources, k)
			m.logger.Debug().Msgf("Closed idle log file %s", r.path)
		}
		r.mu.Unlock()
	}
}
