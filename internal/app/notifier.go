package app

import (
	"sync"

	"quiz-session-service/internal/domain"
)

// ScoreEntry is one participant's live standing.
type ScoreEntry struct {
	ParticipantID string `json:"participantId"`
	DisplayName   string `json:"displayName"`
	Score         int    `json:"score"`
	Finished      bool   `json:"finished"`
}

// Update is pushed to subscribers after joins, submissions, and status
// changes. It is a rendering aid only; correctness always flows from the
// stores and the clock authority.
type Update struct {
	SessionID   string        `json:"sessionId"`
	Status      domain.Status `json:"status"`
	RemainingMS int64         `json:"remainingMs"`
	Scores      []ScoreEntry  `json:"scores"`
}

// Notifier fans live updates out to in-process subscribers (websocket
// connections). Slow consumers have their stale update replaced rather
// than blocking the publisher.
type Notifier struct {
	mu   sync.Mutex
	subs map[string]map[chan Update]struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[string]map[chan Update]struct{})}
}

// Subscribe returns a channel of updates for one session. The caller must
// invoke the returned cancel function to avoid leaks.
func (n *Notifier) Subscribe(sessionID string) (<-chan Update, func()) {
	ch := make(chan Update, 8)

	n.mu.Lock()
	if n.subs[sessionID] == nil {
		n.subs[sessionID] = make(map[chan Update]struct{})
	}
	n.subs[sessionID][ch] = struct{}{}
	n.mu.Unlock()

	cancel := func() {
		n.mu.Lock()
		if set, ok := n.subs[sessionID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(n.subs, sessionID)
			}
		}
		n.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an update to every subscriber of the session.
func (n *Notifier) Publish(u Update) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.subs[u.SessionID] {
		select {
		case ch <- u:
		default:
			// Drop the stale update so a slow client never blocks the rest.
			select {
			case <-ch:
			default:
			}
			ch <- u
		}
	}
}
