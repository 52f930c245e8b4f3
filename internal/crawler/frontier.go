package crawler

import (
	"context"
	"sync"

	"github.com/masahif/wikitadoru/internal/urlutil"
)

// Frontier is the FIFO crawl queue together with the visited set.
// A URL is marked visited the moment it is accepted, so the visited set
// is the single authority on dedup and only ever grows.
//
// Entries handed out by Dequeue or Next are tracked as in flight until
// Complete is called; the frontier is done once nothing is queued and
// nothing is in flight, or after Stop.
type Frontier struct {
	mu   sync.Mutex
	cond *sync.Cond

	queue   []Entry
	visited map[string]struct{}

	maxDepth int
	limit    int // 0 = unlimited
	accepted int
	inFlight int
	stopped  bool
}

// NewFrontier creates a frontier that accepts URLs up to maxDepth and at most limit URLs in total
func NewFrontier(maxDepth, limit int) *Frontier {
	f := &Frontier{
		visited:  make(map[string]struct{}),
		maxDepth: maxDepth,
		limit:    limit,
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Enqueue normalizes rawURL and accepts it at depth unless it is invalid,
// already visited, deeper than the depth limit, or the page ceiling has
// been reached. A rejected call leaves the frontier unchanged.
func (f *Frontier) Enqueue(rawURL string, depth int) bool {
	normalized, err := urlutil.Normalize(rawURL)
	if err != nil {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped || depth < 0 || depth > f.maxDepth {
		return false
	}
	if f.limit > 0 && f.accepted >= f.limit {
		return false
	}
	if _, seen := f.visited[normalized]; seen {
		return false
	}

	f.visited[normalized] = struct{}{}
	f.accepted++
	f.queue = append(f.queue, Entry{URL: normalized, Depth: depth})
	f.cond.Broadcast()
	return true
}

// Dequeue pops the oldest entry without blocking
func (f *Frontier) Dequeue() (Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.stopped || len(f.queue) == 0 {
		return Entry{}, false
	}
	return f.popLocked(), true
}

// Next pops the oldest entry, waiting while the queue is empty but other
// entries are still in flight and may discover more links. It returns false
// once the frontier is done, stopped, or ctx is cancelled.
func (f *Frontier) Next(ctx context.Context) (Entry, bool) {
	stop := context.AfterFunc(ctx, func() {
		f.mu.Lock()
		f.cond.Broadcast()
		f.mu.Unlock()
	})
	defer stop()

	f.mu.Lock()
	defer f.mu.Unlock()

	for {
		if f.stopped || ctx.Err() != nil {
			return Entry{}, false
		}
		if len(f.queue) > 0 {
			return f.popLocked(), true
		}
		if f.inFlight == 0 {
			return Entry{}, false
		}
		f.cond.Wait()
	}
}

func (f *Frontier) popLocked() Entry {
	entry := f.queue[0]
	f.queue[0] = Entry{}
	f.queue = f.queue[1:]
	f.inFlight++
	return entry
}

// Complete marks a dequeued entry as finished
func (f *Frontier) Complete(Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.inFlight > 0 {
		f.inFlight--
	}
	f.cond.Broadcast()
}

// IsDone reports whether no more entries will be handed out
func (f *Frontier) IsDone() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.stopped || (len(f.queue) == 0 && f.inFlight == 0)
}

// Stop ends the crawl: queued entries are abandoned and new URLs rejected.
// Entries already in flight may still be completed.
func (f *Frontier) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stopped = true
	f.cond.Broadcast()
}

// Visited reports whether rawURL has ever been accepted
func (f *Frontier) Visited(rawURL string) bool {
	normalized, err := urlutil.Normalize(rawURL)
	if err != nil {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	_, seen := f.visited[normalized]
	return seen
}

// MarkVisited adds rawURL to the visited set without queueing it, so a page
// reached some other way (a redirect) is never accepted later. It reports
// false when the URL is invalid or was already visited. The page ceiling is
// not charged.
func (f *Frontier) MarkVisited(rawURL string) bool {
	normalized, err := urlutil.Normalize(rawURL)
	if err != nil {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, seen := f.visited[normalized]; seen {
		return false
	}
	f.visited[normalized] = struct{}{}
	return true
}

// Accepted returns the number of URLs ever accepted
func (f *Frontier) Accepted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepted
}

// Len returns the number of queued entries
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}
