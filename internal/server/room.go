package server

import (
	"strings"
	"sync"

	"github.com/npezzotti/go-chatserver/internal/stats"
	"github.com/rs/zerolog"
)

// Room is one chat room: a bounded message history plus the set of live
// subscriber queues. All mutation happens under mu; broadcasts append to
// history and enqueue to every subscriber inside the same critical section
// so every queue observes the history order.
type Room struct {
	Name         string
	IsAI         bool
	SystemPrompt string

	historyCap   int
	joinSnapshot int
	log          *zerolog.Logger
	stats        stats.StatsProvider

	mu          sync.RWMutex
	history     []string
	subscribers map[string]*MessageQueue
}

func NewRoom(name string, isAI bool, systemPrompt string, historyCap, joinSnapshot int, logger *zerolog.Logger, sp stats.StatsProvider) *Room {
	return &Room{
		Name:         name,
		IsAI:         isAI,
		SystemPrompt: systemPrompt,
		historyCap:   historyCap,
		joinSnapshot: joinSnapshot,
		log:          logger,
		stats:        sp,
		subscribers:  make(map[string]*MessageQueue),
	}
}

// AddUser subscribes username with a fresh queue and replays the last
// joinSnapshot history entries into it. A rejoin replaces the previous
// queue; the old one is detached and left to drain or die on its own.
func (r *Room) AddUser(username string, q *MessageQueue) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subscribers[username] = q

	start := len(r.history) - r.joinSnapshot
	if start < 0 {
		start = 0
	}
	for _, msg := range r.history[start:] {
		q.Enqueue(msg)
	}
}

// RemoveUser drops username's queue from the room. The queue itself is not
// stopped here; its owner decides when delivery ends.
func (r *Room) RemoveUser(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subscribers, username)
}

func (r *Room) UserMessage(username, text string) {
	r.broadcast(formatUserMessage(username, text))
}

func (r *Room) BotMessage(text string) {
	r.broadcast(formatBotMessage(text))
}

func (r *Room) SystemMessage(text string) {
	r.broadcast(formatSystemMessage(text))
}

// broadcast commits msg to history, evicting the oldest entry past the
// cap, and enqueues it to every subscriber. Enqueue never blocks, so the
// whole commit happens under the write lock and every subscriber sees
// broadcasts in history order.
func (r *Room) broadcast(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history = append(r.history, msg)
	if len(r.history) > r.historyCap {
		r.history = r.history[len(r.history)-r.historyCap:]
	}

	for username, q := range r.subscribers {
		if !q.Enqueue(msg) {
			r.log.Debug().
				Str("room", r.Name).
				Str("user", username).
				Msg("subscriber missed broadcast")
		}
	}
}

// HistorySnapshot returns the last k history entries joined by newlines.
func (r *Room) HistorySnapshot(k int) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start := len(r.history) - k
	if start < 0 {
		start = 0
	}
	return strings.Join(r.history[start:], "\n")
}

// SubscriberCount reports how many queues are currently attached.
func (r *Room) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}
