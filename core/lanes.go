/*
Author: Paul Côté
Last Change Author: Paul Côté
Last Date Changed: 2026/10/19
*/

package core

import (
	"sync"
)

const (
	defaultLaneDepth = 256
	maxLanes         = 64
	overflowLane     = "overflow"
)

// lanes runs submitted work on one goroutine per key. Work sharing a key runs in
// submission order; different keys run concurrently.
type lanes struct {
	sendMu sync.RWMutex // held shared while sending, exclusively while closing
	closed bool
	mu     sync.Mutex
	queues map[string]chan func()
	depth  int
	wg     sync.WaitGroup
}

func newLanes(depth int) *lanes {
	if depth <= 0 {
		depth = defaultLaneDepth
	}
	return &lanes{
		queues: make(map[string]chan func()),
		depth:  depth,
	}
}

// submit queues fn on the lane of key. It blocks while that lane is full, without holding
// up other lanes, and returns false once the lanes are closed.
func (l *lanes) submit(key string, fn func()) bool {
	l.sendMu.RLock()
	defer l.sendMu.RUnlock()
	if l.closed {
		return false
	}
	l.lane(key) <- fn
	return true
}

// lane returns the queue of key, starting it if needed
func (l *lanes) lane(key string) chan func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	q, ok := l.queues[key]
	if ok {
		return q
	}
	if len(l.queues) >= maxLanes {
		key = overflowLane
		if q, ok = l.queues[key]; ok {
			return q
		}
	}
	q = make(chan func(), l.depth)
	l.queues[key] = q
	l.wg.Add(1)
	go l.run(q)
	return q
}

func (l *lanes) run(q chan func()) {
	defer l.wg.Done()
	for fn := range q {
		fn()
	}
}

// count returns the number of lanes started
func (l *lanes) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues)
}

// close stops accepting work and waits for every queued item to finish
func (l *lanes) close() {
	l.sendMu.Lock()
	if l.closed {
		l.sendMu.Unlock()
		return
	}
	l.closed = true
	l.mu.Lock()
	for _, q := range l.queues {
		close(q)
	}
	l.mu.Unlock()
	l.sendMu.Unlock()
	l.wg.Wait()
}
