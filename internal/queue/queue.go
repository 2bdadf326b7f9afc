// Package queue implements the per-database operation queue (component D,
// spec.md §4.C): a FIFO of read/write tasks where writes run alone and a
// contiguous prefix of reads runs concurrently. This is the Go-native
// realization of the cooperative single-writer scheduler spec.md §5
// describes — there is no shared event loop to dispatch on, so a task
// arriving on an empty queue spawns its own dispatch goroutine instead of
// scheduling a callback on a reactor, which is the asynchronous-scheduling
// rule in §4.C item 1 translated to this runtime.
package queue

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Kind distinguishes the two task classes the dispatcher treats
// differently.
type Kind int

const (
	Read Kind = iota
	Write
)

type task struct {
	kind Kind
	fn   func()
	done chan struct{}
}

// Queue is a FIFO of tasks attached to one open database. New returns an
// empty queue; the zero value is equally ready to use.
type Queue struct {
	mu    sync.Mutex
	items []*task
}

func New() *Queue {
	return &Queue{}
}

// Submit enqueues fn as a task of the given kind and blocks until it has
// run. Reads submitted while another contiguous run of reads is in flight
// may complete out of submission order; writes never run concurrently with
// anything else on this queue.
func (q *Queue) Submit(kind Kind, fn func()) {
	t := &task{kind: kind, fn: fn, done: make(chan struct{})}

	q.mu.Lock()
	wasEmpty := len(q.items) == 0
	q.items = append(q.items, t)
	q.mu.Unlock()

	if wasEmpty {
		go q.executeNext()
	}
	<-t.done
}

// executeNext inspects the head of the queue and dispatches it, following
// spec.md §4.C rule 2: a write runs alone; a contiguous prefix of reads
// runs concurrently and the prefix is popped only once every read in it
// has completed.
func (q *Queue) executeNext() {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	head := q.items[0]

	if head.kind == Write {
		q.mu.Unlock()
		head.fn()

		q.mu.Lock()
		q.items = q.items[1:]
		more := len(q.items) > 0
		q.mu.Unlock()
		close(head.done)
		if more {
			go q.executeNext()
		}
		return
	}

	n := 0
	for n < len(q.items) && q.items[n].kind == Read {
		n++
	}
	prefix := append([]*task(nil), q.items[:n]...)
	q.mu.Unlock()

	g, _ := errgroup.WithContext(context.Background())
	for _, t := range prefix {
		t := t
		g.Go(func() error {
			t.fn()
			close(t.done)
			return nil
		})
	}
	_ = g.Wait()

	q.mu.Lock()
	q.items = q.items[n:]
	more := len(q.items) > 0
	q.mu.Unlock()
	if more {
		go q.executeNext()
	}
}

// Len reports the current queue depth, for diagnostics (lantern.Info()).
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
