package quantumbank

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPairingQueue_Match(t *testing.T) {
	queue := NewPairingQueue(nil, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	sessions := make(chan *PairingSession, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		session, err := queue.Join(ctx, "alice", "dm-alice")
		assert.NoError(t, err)
		sessions <- session
	}()
	go func() {
		defer wg.Done()
		session, err := queue.Join(ctx, "bob", "dm-bob")
		assert.NoError(t, err)
		sessions <- session
	}()
	wg.Wait()
	close(sessions)

	first := <-sessions
	second := <-sessions
	require.NotNil(t, first)
	require.NotNil(t, second)

	// both callers receive the same session
	assert.Same(t, first, second)
	assert.Equal(t, 1, queue.SessionCount())
	assert.Zero(t, queue.WaitingCount())
	assert.True(t, queue.InSession("alice"))
	assert.True(t, queue.InSession("bob"))

	assert.Equal(t, "bob", first.Peer("alice").UserID)
	assert.Equal(t, "alice", first.Peer("bob").UserID)
	assert.Equal(t, "dm-bob", first.Peer("alice").ChannelID)
}

func TestPairingQueue_ConcurrentJoinersFormOnePair(t *testing.T) {
	queue := NewPairingQueue(nil, 100*time.Millisecond)
	ctx := context.Background()

	userIDs := []string{"a", "b"}

	var wg sync.WaitGroup
	matched := make(chan string, len(userIDs))

	for _, userID := range userIDs {
		userID := userID
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := queue.Join(ctx, userID, "dm-"+userID); err == nil {
				matched <- userID
			}
		}()
	}
	wg.Wait()

	// two joiners form exactly one session
	assert.Equal(t, 1, queue.SessionCount())
	assert.Zero(t, queue.WaitingCount())
	assert.Len(t, matched, 2)
}

func TestPairingQueue_AlreadyPaired(t *testing.T) {
	queue := NewPairingQueue(nil, time.Minute)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = queue.Join(ctx, "alice", "dm-alice")
	}()

	// wait for alice to enter the queue
	require.Eventually(
		t,
		func() bool { return queue.WaitingCount() == 1 },
		time.Second,
		5*time.Millisecond,
	)

	// joining again while waiting is rejected
	_, err := queue.Join(ctx, "alice", "dm-alice")
	require.ErrorIs(t, err, ErrAlreadyPaired)

	// match alice with bob, then both are in a session
	_, err = queue.Join(ctx, "bob", "dm-bob")
	require.NoError(t, err)
	<-done

	_, err = queue.Join(ctx, "alice", "dm-alice")
	require.ErrorIs(t, err, ErrAlreadyPaired)
	_, err = queue.Join(ctx, "bob", "dm-bob")
	require.ErrorIs(t, err, ErrAlreadyPaired)
}

func TestPairingQueue_Timeout(t *testing.T) {
	queue := NewPairingQueue(nil, 20*time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	_, err := queue.Join(ctx, "alice", "dm-alice")
	require.ErrorIs(t, err, ErrPairingTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	// the abandoned entry is removed from the queue
	assert.Zero(t, queue.WaitingCount())

	// alice can join again after timing out
	done := make(chan error, 1)
	go func() {
		_, e := queue.Join(ctx, "alice", "dm-alice")
		done <- e
	}()
	require.Eventually(
		t,
		func() bool { return queue.WaitingCount() == 1 },
		time.Second,
		5*time.Millisecond,
	)
	_, err = queue.Join(ctx, "bob", "dm-bob")
	require.NoError(t, err)
	require.NoError(t, <-done)
}

func TestPairingQueue_ContextCancelled(t *testing.T) {
	queue := NewPairingQueue(nil, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := queue.Join(ctx, "alice", "dm-alice")
		done <- err
	}()
	require.Eventually(
		t,
		func() bool { return queue.WaitingCount() == 1 },
		time.Second,
		5*time.Millisecond,
	)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	assert.Zero(t, queue.WaitingCount())
}

func TestPairingQueue_MatchRacingTimeout(t *testing.T) {
	ctx := context.Background()

	// A partner arriving around the instant the wait window lapses must
	// either deliver the session to both sides or to neither. A matched
	// session that strands one participant with a timeout would leave
	// ghost sessions nobody can end.
	for i := 0; i < 50; i++ {
		queue := NewPairingQueue(nil, 5*time.Millisecond)

		aliceDone := make(chan error, 1)
		go func() {
			_, err := queue.Join(ctx, "alice", "dm-alice")
			aliceDone <- err
		}()

		time.Sleep(5 * time.Millisecond)
		_, bobErr := queue.Join(ctx, "bob", "dm-bob")
		aliceErr := <-aliceDone

		if bobErr == nil {
			require.NoError(t, aliceErr)
			assert.Equal(t, 1, queue.SessionCount())
		} else {
			require.ErrorIs(t, bobErr, ErrPairingTimeout)
			require.ErrorIs(t, aliceErr, ErrPairingTimeout)
			assert.Zero(t, queue.SessionCount())
		}
	}
}

func TestPairingQueue_EndWhileWaiting(t *testing.T) {
	queue := NewPairingQueue(nil, time.Minute)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := queue.Join(ctx, "alice", "dm-alice")
		done <- err
	}()
	require.Eventually(
		t,
		func() bool { return queue.WaitingCount() == 1 },
		time.Second,
		5*time.Millisecond,
	)

	// ending while still queued removes the waiter and wakes the
	// blocked join; there's no partner to notify yet
	peer, err := queue.End("alice")
	require.NoError(t, err)
	assert.Nil(t, peer)
	require.ErrorIs(t, <-done, ErrPairingCancelled)
	assert.Zero(t, queue.WaitingCount())
	assert.Zero(t, queue.SessionCount())

	// alice can join again afterwards
	go func() {
		_, err := queue.Join(ctx, "alice", "dm-alice")
		done <- err
	}()
	require.Eventually(
		t,
		func() bool { return queue.WaitingCount() == 1 },
		time.Second,
		5*time.Millisecond,
	)
	_, err = queue.Join(ctx, "bob", "dm-bob")
	require.NoError(t, err)
	require.NoError(t, <-done)
}

func TestPairingQueue_RelayAndEnd(t *testing.T) {
	queue := NewPairingQueue(nil, time.Minute)
	ctx := context.Background()

	_, err := queue.Relay("alice")
	require.ErrorIs(t, err, ErrNotPaired)
	_, err = queue.End("alice")
	require.ErrorIs(t, err, ErrNotPaired)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = queue.Join(ctx, "alice", "dm-alice")
	}()
	require.Eventually(
		t,
		func() bool { return queue.WaitingCount() == 1 },
		time.Second,
		5*time.Millisecond,
	)
	_, err = queue.Join(ctx, "bob", "dm-bob")
	require.NoError(t, err)
	<-done

	peer, err := queue.Relay("alice")
	require.NoError(t, err)
	assert.Equal(t, "bob", peer.UserID)
	assert.Equal(t, "dm-bob", peer.ChannelID)

	peer, err = queue.Relay("bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", peer.UserID)

	// ending releases both participants
	peer, err = queue.End("alice")
	require.NoError(t, err)
	assert.Equal(t, "bob", peer.UserID)
	assert.Zero(t, queue.SessionCount())
	assert.False(t, queue.InSession("alice"))
	assert.False(t, queue.InSession("bob"))

	_, err = queue.Relay("bob")
	require.ErrorIs(t, err, ErrNotPaired)
}
