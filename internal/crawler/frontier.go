package crawler

// frontierEntry tags a URL with the depth it was discovered at.
type frontierEntry struct {
	url   string
	depth int
}

// frontier is a FIFO queue of not-yet-fetched URLs with built-in
// deduplication and depth bounding. It is owned by a single goroutine for
// the duration of a run and is deliberately not safe for concurrent use;
// the engine serializes all access through its coordinator loop.
type frontier struct {
	maxDepth int
	queue    []frontierEntry
	seen     map[string]struct{}
}

func newFrontier(maxDepth int) *frontier {
	return &frontier{
		maxDepth: maxDepth,
		seen:     make(map[string]struct{}),
	}
}

// Push enqueues url at depth. It returns false when the URL was already
// seen or the depth exceeds the configured maximum. URLs are expected to be
// normalized by the caller; a URL enters the frontier at most once.
func (f *frontier) Push(url string, depth int) bool {
	if url == "" || depth > f.maxDepth {
		return false
	}
	if _, dup := f.seen[url]; dup {
		return false
	}
	f.seen[url] = struct{}{}
	f.queue = append(f.queue, frontierEntry{url: url, depth: depth})
	return true
}

// Pop returns the oldest-enqueued entry, giving breadth-first order.
func (f *frontier) Pop() (frontierEntry, bool) {
	if len(f.queue) == 0 {
		return frontierEntry{}, false
	}
	entry := f.queue[0]
	f.queue = f.queue[1:]
	return entry, true
}

// Seen reports whether url was ever enqueued.
func (f *frontier) Seen(url string) bool {
	_, ok := f.seen[url]
	return ok
}

// Len returns the number of queued entries.
func (f *frontier) Len() int {
	return len(f.queue)
}
