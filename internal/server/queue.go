package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/npezzotti/go-chatserver/internal/stats"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	queueDepth          = 256
	transientRetryDelay = 500 * time.Millisecond
	// deliveryInterval paces writes so one chatty subscriber cannot
	// monopolize the socket.
	deliveryInterval = 10 * time.Millisecond
)

// DeliverFunc writes one formatted message to a subscriber's transport.
type DeliverFunc func(msg string) error

// MessageQueue decouples room broadcasts from socket writes. Enqueue never
// blocks; a single drain goroutine delivers entries in order. A transport
// error kills the queue, a transient one pauses the drain and retries.
type MessageQueue struct {
	messages chan string
	deliver  DeliverFunc
	limiter  *rate.Limiter
	log      *zerolog.Logger
	stats    stats.StatsProvider

	dead     atomic.Bool
	stopOnce sync.Once
	done     chan struct{}
}

func NewMessageQueue(deliver DeliverFunc, logger *zerolog.Logger, sp stats.StatsProvider) *MessageQueue {
	q := &MessageQueue{
		messages: make(chan string, queueDepth),
		deliver:  deliver,
		limiter:  rate.NewLimiter(rate.Every(deliveryInterval), 1),
		log:      logger,
		stats:    sp,
		done:     make(chan struct{}),
	}

	go q.drain()
	return q
}

// Enqueue appends msg for delivery. It reports false when the message was
// dropped, either because the queue is dead or because it is full.
func (q *MessageQueue) Enqueue(msg string) bool {
	if q.dead.Load() {
		return false
	}

	select {
	case q.messages <- msg:
		return true
	default:
		q.log.Warn().Msg("subscriber queue full, dropping message")
		q.stats.Incr(stats.MessagesDropped)
		return false
	}
}

// Stop terminates the drain without delivering what remains.
func (q *MessageQueue) Stop() {
	q.dead.Store(true)
	q.stopOnce.Do(func() { close(q.done) })
}

func (q *MessageQueue) drain() {
	for {
		select {
		case <-q.done:
			return
		case msg := <-q.messages:
			if !q.deliverWithRetry(msg) {
				q.Stop()
				return
			}
		}
	}
}

// deliverWithRetry writes msg, pausing and retrying on transient errors.
// It reports false when the transport is gone and the queue must die.
func (q *MessageQueue) deliverWithRetry(msg string) bool {
	q.limiter.Wait(context.Background())

	for {
		err := q.deliver(msg)
		if err == nil {
			q.stats.Incr(stats.MessagesOut)
			return true
		}

		if isTransportDead(err) {
			q.log.Debug().Err(err).Msg("transport gone, abandoning delivery")
			q.stats.Incr(stats.MessagesDropped)
			return false
		}

		q.log.Warn().Err(err).Msg("transient delivery error, retrying")
		select {
		case <-q.done:
			return false
		case <-time.After(transientRetryDelay):
		}
	}
}

// isTransportDead classifies errors that mean the peer is unreachable for
// good: closed socket, broken pipe, reset, EOF, or an expired write
// deadline on a stuck connection.
func isTransportDead(err error) bool {
	if errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.EOF) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
