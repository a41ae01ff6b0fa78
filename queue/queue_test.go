package queue

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueueRunsJobs(t *testing.T) {
	q := NewQueue(10, 2)

	var ran atomic.Int32
	for range 5 {
		ok := q.Enqueue(Job{
			Run: func() error {
				ran.Add(1)
				return nil
			},
		})
		assert.True(t, ok)
	}

	q.Start()
	q.Stop()

	assert.Equal(t, int32(5), ran.Load())
}

func TestQueueFull(t *testing.T) {
	q := NewQueue(1, 1)

	assert.True(t, q.Enqueue(Job{Run: func() error { return nil }}))
	assert.False(t, q.Enqueue(Job{Run: func() error { return nil }}), "second enqueue exceeds capacity")

	q.Start()
	q.Stop()
}

func TestQueueOnFail(t *testing.T) {
	q := NewQueue(1, 1)

	failed := make(chan error, 1)
	q.Enqueue(Job{
		Run:    func() error { return assert.AnError },
		OnFail: func(err error) { failed <- err },
	})

	q.Start()
	defer q.Stop()

	select {
	case err := <-failed:
		assert.ErrorIs(t, err, assert.AnError)
	case <-time.After(time.Second):
		t.Fatal("OnFail was not called")
	}
}
