package txnqueue

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/cloudbase/neutron/pkg/constants"
	"github.com/cloudbase/neutron/pkg/poller"
)

type QueueTestSuite struct {
	suite.Suite
	strategy Strategy
}

func TestQueueTestSuite(t *testing.T) {
	for _, strategy := range []Strategy{StrategyPipe, StrategyEvent} {
		signal, err := NewSignal(strategy)
		if err != nil {
			t.Logf("skipping %s strategy: %v", strategy, err)
			continue
		}
		_ = signal.Close()

		t.Run(strategy.String(), func(t *testing.T) {
			suite.Run(t, &QueueTestSuite{strategy: strategy})
		})
	}
}

func (s *QueueTestSuite) newQueue(capacity int) *Queue[int] {
	q, err := NewWithStrategy[int](capacity, s.strategy)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = q.Close() })
	return q
}

func (s *QueueTestSuite) requireSignaled(q *Queue[int], want bool) {
	ready, err := poller.Ready(q.Handle())
	s.Require().NoError(err)
	s.Require().Equal(want, ready, "signaled must equal occupancy > 0 (len=%d)", q.Len())
}

func (s *QueueTestSuite) TestEmptyQueue() {
	q := s.newQueue(1)

	_, ok, err := q.TryGet()
	s.Require().NoError(err)
	s.False(ok)
	s.requireSignaled(q, false)
}

func (s *QueueTestSuite) TestPutSignalsAndTryGetClears() {
	q := s.newQueue(1)
	ctx := context.Background()

	s.Require().NoError(q.Put(ctx, 7))
	s.requireSignaled(q, true)

	item, ok, err := q.TryGet()
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(7, item)
	s.requireSignaled(q, false)
}

func (s *QueueTestSuite) TestFIFO() {
	q := s.newQueue(4)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		s.Require().NoError(q.Put(ctx, i))
	}
	for i := 0; i < 4; i++ {
		s.requireSignaled(q, true)
		item, ok, err := q.TryGet()
		s.Require().NoError(err)
		s.Require().True(ok)
		s.Equal(i, item)
	}
	s.requireSignaled(q, false)
}

// Random interleavings of Put and TryGet never let the handle disagree with
// the occupancy.
func (s *QueueTestSuite) TestSignalTracksOccupancy() {
	const capacity = 3
	q := s.newQueue(capacity)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	depth := 0
	for step := 0; step < 500; step++ {
		if depth < capacity && rng.Intn(2) == 0 {
			s.Require().NoError(q.Put(ctx, step))
			depth++
		} else {
			_, ok, err := q.TryGet()
			s.Require().NoError(err)
			s.Require().Equal(depth > 0, ok)
			if ok {
				depth--
			}
		}
		s.Require().Equal(depth, q.Len())
		s.requireSignaled(q, depth > 0)
	}
}

func (s *QueueTestSuite) TestPutBlocksWhileFull() {
	q := s.newQueue(1)
	ctx := context.Background()

	s.Require().NoError(q.Put(ctx, 1))

	accepted := make(chan struct{})
	go func() {
		defer close(accepted)
		s.NoError(q.Put(ctx, 2))
	}()

	select {
	case <-accepted:
		s.FailNow("second Put must block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}
	s.Equal(1, q.Len())

	item, ok, err := q.TryGet()
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(1, item)

	select {
	case <-accepted:
	case <-time.After(2 * time.Second):
		s.FailNow("second Put did not proceed after dequeue")
	}
	s.requireSignaled(q, true)

	item, ok, err = q.TryGet()
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(2, item)
}

func (s *QueueTestSuite) TestPutHonoursContext() {
	q := s.newQueue(1)
	s.Require().NoError(q.Put(context.Background(), 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Put(ctx, 2)
	s.ErrorIs(err, context.DeadlineExceeded)
	s.Equal(1, q.Len())
}

func (s *QueueTestSuite) TestJoinWaitsForTaskDone() {
	q := s.newQueue(1)
	ctx := context.Background()

	s.Require().NoError(q.Join(ctx))
	s.Require().NoError(q.Put(ctx, 1))

	joined := make(chan error, 1)
	go func() { joined <- q.Join(ctx) }()

	_, ok, err := q.TryGet()
	s.Require().NoError(err)
	s.Require().True(ok)

	select {
	case <-joined:
		s.FailNow("Join returned before TaskDone")
	case <-time.After(30 * time.Millisecond):
	}

	s.Require().NoError(q.TaskDone())
	select {
	case err := <-joined:
		s.NoError(err)
	case <-time.After(2 * time.Second):
		s.FailNow("Join did not return after TaskDone")
	}

	s.Error(q.TaskDone())
}

func (s *QueueTestSuite) TestClosedQueueRejectsPut() {
	q := s.newQueue(2)
	ctx := context.Background()

	s.Require().NoError(q.Put(ctx, 1))
	s.Require().NoError(q.Close())
	s.ErrorIs(q.Put(ctx, 2), constants.ErrQueueClosed)

	item, ok, err := q.TryGet()
	s.NoError(err)
	s.True(ok)
	s.Equal(1, item)
}

func TestInvalidCapacity(t *testing.T) {
	_, err := New[int](0, nil)
	assert.ErrorIs(t, err, constants.ErrQueueCapacity)
}

func TestParseStrategy(t *testing.T) {
	for name, want := range map[string]Strategy{
		"":        StrategyDefault,
		"default": StrategyDefault,
		"pipe":    StrategyPipe,
		"event":   StrategyEvent,
	} {
		got, err := ParseStrategy(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseStrategy("carrier-pigeon")
	assert.Error(t, err)
}

func TestDefaultStrategy(t *testing.T) {
	q, err := NewWithStrategy[string](1, StrategyDefault)
	require.NoError(t, err)
	defer q.Close()

	require.NoError(t, q.Put(context.Background(), "x"))
	ready, err := poller.Ready(q.Handle())
	require.NoError(t, err)
	assert.True(t, ready)
}
