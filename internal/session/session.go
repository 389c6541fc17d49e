package session

import "time"

// HistoryCapacity is the number of exchanges a session keeps.
const HistoryCapacity = 3

// Exchange is one query/response pair in a session's history.
type Exchange struct {
	Query    string `json:"query" yaml:"query"`
	Response string `json:"response" yaml:"response"`
	Tag      string `json:"tag" yaml:"tag"`
}

// Info is a point-in-time copy of a session.
type Info struct {
	ID           string     `json:"session_id" yaml:"session_id"`
	UserID       string     `json:"user_id" yaml:"user_id"`
	CreatedAt    time.Time  `json:"created_at" yaml:"created_at"`
	LastActivity time.Time  `json:"last_activity" yaml:"last_activity"`
	TotalQueries int        `json:"total_queries" yaml:"total_queries"`
	History      []Exchange `json:"conversation_history" yaml:"conversation_history"`
}

// history is a fixed-size ring of exchanges. Appending to a full ring
// overwrites the oldest entry.
type history struct {
	buf   [HistoryCapacity]Exchange
	start int
	n     int
}

func (h *history) push(e Exchange) {
	if h.n < HistoryCapacity {
		h.buf[(h.start+h.n)%HistoryCapacity] = e
		h.n++
		return
	}
	h.buf[h.start] = e
	h.start = (h.start + 1) % HistoryCapacity
}

// items returns the exchanges oldest first.
func (h *history) items() []Exchange {
	out := make([]Exchange, h.n)
	for i := range out {
		out[i] = h.buf[(h.start+i)%HistoryCapacity]
	}
	return out
}

func (h *history) len() int { return h.n }
