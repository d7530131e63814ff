package output

import (
	"bufio"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SSSOC-CAN/bdlog/errors"
	e "github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// initMultiplexer creates a started multiplexer in a temporary directory
func initMultiplexer(t *testing.T, opts ...Option) (*Multiplexer, string) {
	log := zerolog.New(os.Stderr).With().Timestamp().Logger()
	tmpDir, err := ioutil.TempDir("", "output_test-")
	if err != nil {
		t.Fatalf("Could not create a temporary directory: %v", err)
	}
	m := NewMultiplexer(tmpDir, &log, opts...)
	if err := m.Start(); err != nil {
		t.Fatalf("Could not start multiplexer: %v", err)
	}
	t.Cleanup(func() {
		_ = m.Stop()
		os.RemoveAll(tmpDir)
	})
	return m, tmpDir
}

func readLines(t *testing.T, path string) []string {
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Could not open %s: %v", path, err)
	}
	defer f.Close()
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}

// TestStartStopMultiplexer tests the start/stop functions
func TestStartStopMultiplexer(t *testing.T) {
	m, _ := initMultiplexer(t)
	if err := m.Start(); err != errors.ErrServiceAlreadyStarted {
		t.Errorf("Unexpected error when starting multiplexer twice: %v", err)
	}
	if err := m.Stop(); err != nil {
		t.Errorf("Could not stop multiplexer: %v", err)
	}
	if err := m.Stop(); err != errors.ErrServiceAlreadyStopped {
		t.Errorf("Unexpected error when stopping multiplexer twice: %v", err)
	}
}

// TestPath tests the log file path template
func TestPath(t *testing.T) {
	m, dir := initMultiplexer(t)
	got := m.Path(Key{Dataset: "cruise42", Stream: "ais", Day: 7})
	want := filepath.Join(dir, "cruise42", "ais", "ais_007_raw")
	if got != want {
		t.Errorf("Expected %s, received %s", want, got)
	}
}

// TestConcurrentWrites tests N producers writing to one key
func TestConcurrentWrites(t *testing.T) {
	m, _ := initMultiplexer(t)
	key := Key{Dataset: "cruise42", Stream: "winch", Day: 138}
	producers, perProducer := 8, 200
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if err := m.Write(key, fmt.Sprintf("p%d %06d %s", p, i, strings.Repeat("x", 64))); err != nil {
					t.Errorf("Could not write: %v", err)
				}
			}
		}(p)
	}
	wg.Wait()
	lines := readLines(t, m.Path(key))
	if len(lines) != producers*perProducer {
		t.Fatalf("Expected %v records, received %v", producers*perProducer, len(lines))
	}
	next := make(map[string]int)
	for _, l := range lines {
		var p string
		var i int
		var pad string
		if n, err := fmt.Sscanf(l, "%s %d %s", &p, &i, &pad); n != 3 || err != nil || len(pad) != 64 {
			t.Fatalf("Interleaved or partial record: %q", l)
		}
		if i != next[p] {
			t.Fatalf("Producer %s out of order: expected %v, received %v", p, next[p], i)
		}
		next[p]++
	}
	if m.OpenCount() != 1 {
		t.Errorf("Expected one open resource, found %v", m.OpenCount())
	}
}

// TestDistinctKeys tests that different keys never share a file
func TestDistinctKeys(t *testing.T) {
	m, _ := initMultiplexer(t)
	a := Key{Dataset: "d1", Stream: "ais", Day: 1}
	b := Key{Dataset: "d1", Stream: "ais", Day: 2}
	c := Key{Dataset: "d2", Stream: "ais", Day: 1}
	for _, k := range []Key{a, b, c} {
		if err := m.Write(k, k.Dataset); err != nil {
			t.Fatalf("Could not write: %v", err)
		}
	}
	for _, k := range []Key{a, b, c} {
		lines := readLines(t, m.Path(k))
		if len(lines) != 1 || lines[0] != k.Dataset {
			t.Errorf("Unexpected contents for %+v: %v", k, lines)
		}
	}
	if m.OpenCount() != 3 {
		t.Errorf("Expected three open resources, found %v", m.OpenCount())
	}
}

// TestIdleReopen tests that an idle file is closed and transparently recreated
func TestIdleReopen(t *testing.T) {
	m, _ := initMultiplexer(t, WithIdleTimeout(40*time.Millisecond))
	key := Key{Dataset: "cruise42", Stream: "tide", Day: 200}
	if err := m.Write(key, "2024 200 00 00 00 000 tide 1.234"); err != nil {
		t.Fatalf("Could not write: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for m.OpenCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Idle resource was never reclaimed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := m.Write(key, "2024 200 00 00 01 000 tide 1.235"); err != nil {
		t.Fatalf("Could not write after idle close: %v", err)
	}
	lines := readLines(t, m.Path(key))
	if len(lines) != 2 || len(lines[0]) != len(lines[1]) || lines[1] != "2024 200 00 00 01 000 tide 1.235" {
		t.Errorf("Unexpected contents after reopen: %q", lines)
	}
}

// TestDeletedFileRecreated tests that an externally removed file is recreated on write
func TestDeletedFileRecreated(t *testing.T) {
	m, _ := initMultiplexer(t)
	key := Key{Dataset: "cruise42", Stream: "ais", Day: 1}
	if err := m.Write(key, "first"); err != nil {
		t.Fatalf("Could not write: %v", err)
	}
	if err := os.Remove(m.Path(key)); err != nil {
		t.Fatalf("Could not remove log file: %v", err)
	}
	if err := m.Write(key, "second"); err != nil {
		t.Fatalf("Could not write: %v", err)
	}
	lines := readLines(t, m.Path(key))
	if len(lines) != 1 || lines[0] != "second" {
		t.Errorf("Expected only the second record, received %q", lines)
	}
}

// TestWriteTimeout tests that an uncreatable file surfaces ErrWriteTimeout
func TestWriteTimeout(t *testing.T) {
	m, dir := initMultiplexer(t, WithReadyPolls(5, time.Millisecond))
	// a regular file where the dataset directory should be
	if err := ioutil.WriteFile(filepath.Join(dir, "blocked"), []byte("x"), 0664); err != nil {
		t.Fatalf("Could not create blocking file: %v", err)
	}
	err := m.Write(Key{Dataset: "blocked", Stream: "ais", Day: 1}, "record")
	if e.Cause(err) != errors.ErrWriteTimeout {
		t.Errorf("Expected ErrWriteTimeout, received %v", err)
	}
}

// TestSweepSkipsBusyResource tests that reclaiming idle files never waits on a resource in use
func TestSweepSkipsBusyResource(t *testing.T) {
	m, _ := initMultiplexer(t)
	busy := Key{Dataset: "cruise42", Stream: "ais", Day: 1}
	r := m.acquire(busy)
	r.mu.Lock()
	done := make(chan struct{})
	go func() {
		m.reclaimIdle()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		r.mu.Unlock()
		t.Fatal("Idle sweep blocked on a busy resource")
	}
	if err := m.Write(Key{Dataset: "cruise42", Stream: "winch", Day: 1}, "record"); err != nil {
		t.Errorf("Could not write another key while one is busy: %v", err)
	}
	r.mu.Unlock()
	if err := m.Write(busy, "record"); err != nil {
		t.Errorf("Could not write once the resource was released: %v", err)
	}
}

// TestWriteAfterStop tests that nothing is opened once the multiplexer is stopped
func TestWriteAfterStop(t *testing.T) {
	m, _ := initMultiplexer(t)
	if err := m.Stop(); err != nil {
		t.Fatalf("Could not stop multiplexer: %v", err)
	}
	key := Key{Dataset: "cruise42", Stream: "ais", Day: 1}
	if err := m.Write(key, "record"); err != errors.ErrServiceAlreadyStopped {
		t.Errorf("Expected ErrServiceAlreadyStopped, received %v", err)
	}
	if m.OpenCount() != 0 {
		t.Errorf("Resource created after stop")
	}
	if _, err := os.Stat(m.Path(key)); !os.IsNotExist(err) {
		t.Errorf("File created after stop: %v", err)
	}
}
