package quantumbank

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrAlreadyPaired indicates the user is already waiting in the
	// queue or already in an active session.
	ErrAlreadyPaired = errors.New("already paired or waiting")

	// ErrPairingTimeout indicates no partner arrived within the wait
	// window.
	ErrPairingTimeout = errors.New("pairing timed out")

	// ErrPairingCancelled indicates the user left the queue before a
	// partner arrived.
	ErrPairingCancelled = errors.New("left the pairing queue")

	// ErrNotPaired indicates the user has no active session.
	ErrNotPaired = errors.New("not in a session")
)

// PairingQueueEntry is a user waiting to be matched for anonymous chat.
type PairingQueueEntry struct {
	UserID string

	// ChannelID is the user's DM channel, where relayed messages are
	// delivered.
	ChannelID string

	JoinedAt time.Time

	// ready receives the session exactly once when a partner arrives.
	ready chan *PairingSession
}

// PairingSession is an active anonymous chat between two users.
type PairingSession struct {
	First     *PairingQueueEntry
	Second    *PairingQueueEntry
	StartedAt time.Time
}

// Peer returns the session entry for the other participant.
func (s *PairingSession) Peer(userID string) *PairingQueueEntry {
	if s.First.UserID == userID {
		return s.Second
	}
	return s.First
}

func (s *PairingSession) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("first", s.First.UserID),
		slog.String("second", s.Second.UserID),
		slog.Time("started_at", s.StartedAt),
	)
}

// PairingQueue matches users into anonymous one-on-one chat sessions,
// first come first served. All state is in memory and guarded by a
// single mutex, so two concurrent joiners form exactly one pair.
type PairingQueue struct {
	logger *slog.Logger

	mu       sync.Mutex
	waiting  []*PairingQueueEntry
	sessions map[string]*PairingSession

	waitTimeout time.Duration
}

// NewPairingQueue returns a new PairingQueue. waitTimeout bounds how
// long Join blocks waiting for a partner.
func NewPairingQueue(logger *slog.Logger, waitTimeout time.Duration) *PairingQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if waitTimeout <= 0 {
		waitTimeout = DefaultPairingWaitTimeout
	}
	return &PairingQueue{
		logger:      logger.With(loggerNameKey, "pairing_queue"),
		sessions:    map[string]*PairingSession{},
		waitTimeout: waitTimeout,
	}
}

// Join enters the user into the queue. If someone is already waiting,
// the two are matched immediately and both callers receive the same
// session. Otherwise Join blocks until a partner arrives, the wait
// window lapses ([ErrPairingTimeout]), or ctx is cancelled.
func (q *PairingQueue) Join(
	ctx context.Context,
	userID string,
	channelID string,
) (*PairingSession, error) {
	entry := &PairingQueueEntry{
		UserID:    userID,
		ChannelID: channelID,
		JoinedAt:  time.Now().UTC(),
		ready:     make(chan *PairingSession, 1),
	}

	q.mu.Lock()
	if q.sessions[userID] != nil {
		q.mu.Unlock()
		return nil, ErrAlreadyPaired
	}
	for _, waiting := range q.waiting {
		if waiting.UserID == userID {
			q.mu.Unlock()
			return nil, ErrAlreadyPaired
		}
	}

	if len(q.waiting) > 0 {
		partner := q.waiting[0]
		q.waiting = q.waiting[1:]
		session := &PairingSession{
			First:     partner,
			Second:    entry,
			StartedAt: time.Now().UTC(),
		}
		q.sessions[partner.UserID] = session
		q.sessions[entry.UserID] = session
		// Deliver under the lock: once the partner is out of the
		// waiting list their session must already be receivable, or a
		// racing timeout would strand both sessions.
		partner.ready <- session
		q.mu.Unlock()

		q.logger.InfoContext(ctx, "matched pair", "session", session)
		return session, nil
	}

	q.waiting = append(q.waiting, entry)
	q.mu.Unlock()

	timer := time.NewTimer(q.waitTimeout)
	defer timer.Stop()

	select {
	case session, ok := <-entry.ready:
		if !ok {
			return nil, ErrPairingCancelled
		}
		return session, nil
	case <-timer.C:
		return q.abandon(entry, ErrPairingTimeout)
	case <-ctx.Done():
		return q.abandon(entry, ctx.Err())
	}
}

// abandon removes entry from the waiting list. If a partner matched it
// in the meantime, the session wins over the timeout; if the user left
// the queue via [PairingQueue.End], the cancellation wins.
func (q *PairingQueue) abandon(
	entry *PairingQueueEntry,
	cause error,
) (*PairingSession, error) {
	q.mu.Lock()
	for i, waiting := range q.waiting {
		if waiting == entry {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			q.mu.Unlock()
			return nil, cause
		}
	}
	q.mu.Unlock()

	// No longer waiting: whoever removed the entry delivered a session
	// (match) or closed the channel (cancellation) before unlocking.
	session, ok := <-entry.ready
	if !ok {
		return nil, ErrPairingCancelled
	}
	return session, nil
}

// Relay returns the DM channel of the user's session partner, so an
// incoming message can be forwarded.
func (q *PairingQueue) Relay(userID string) (*PairingQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	session := q.sessions[userID]
	if session == nil {
		return nil, ErrNotPaired
	}
	return session.Peer(userID), nil
}

// End terminates the user's session and returns the partner's entry so
// they can be notified. Both participants are released. A user still
// waiting for a partner is removed from the queue instead, waking
// their blocked [PairingQueue.Join]; the returned entry is nil since
// there is no partner yet.
func (q *PairingQueue) End(userID string) (*PairingQueueEntry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	session := q.sessions[userID]
	if session == nil {
		for i, waiting := range q.waiting {
			if waiting.UserID == userID {
				q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
				close(waiting.ready)
				q.logger.Info("left pairing queue", "user_id", userID)
				return nil, nil
			}
		}
		return nil, ErrNotPaired
	}
	peer := session.Peer(userID)
	delete(q.sessions, userID)
	delete(q.sessions, peer.UserID)

	q.logger.Info(
		"ended session",
		"user_id", userID,
		"peer_id", peer.UserID,
		"duration", time.Since(session.StartedAt),
	)
	return peer, nil
}

// InSession reports whether the user has an active chat session.
func (q *PairingQueue) InSession(userID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sessions[userID] != nil
}

// WaitingCount returns the number of users waiting for a partner.
func (q *PairingQueue) WaitingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}

// SessionCount returns the number of active sessions.
func (q *PairingQueue) SessionCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.sessions) / 2
}
