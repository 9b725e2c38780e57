package session

// history is the chat log.  With a positive limit it is a ring that
// evicts the oldest entry when full; a zero limit keeps everything.
// It is not safe for concurrent use; the store's lock guards it.
type history struct {
	buf   []Entry
	start int
	limit int
}

func newHistory(limit int) *history {
	if limit < 0 {
		limit = 0
	}
	return &history{limit: limit}
}

func (h *history) len() int { return len(h.buf) }

func (h *history) add(e Entry) {
	if h.limit == 0 || len(h.buf) < h.limit {
		h.buf = append(h.buf, e)
		return
	}
	h.buf[h.start] = e
	h.start = (h.start + 1) % h.limit
}

// entries returns the log oldest first.
func (h *history) entries() []Entry {
	out := make([]Entry, len(h.buf))
	n := copy(out, h.buf[h.start:])
	copy(out[n:], h.buf[:h.start])
	return out
}

// resize changes the limit, keeping the newest entries.
func (h *history) resize(limit int) {
	if limit < 0 {
		limit = 0
	}
	all := h.entries()
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	h.buf = all
	h.start = 0
	h.limit = limit
}
