// internal/queue/queue_test.go
package queue

import (
	"fmt"
	"sync/atomic"
	"testing"

	"linkdispatch/internal/metrics"
	"linkdispatch/internal/request"
	"linkdispatch/internal/store"

	"github.com/stretchr/testify/assert"
)

func newTestQueue() (*Queue, *store.MemStore, *metrics.Metrics) {
	st := &store.MemStore{}
	m := metrics.New()
	return New(st, m), st, m
}

func eventReq(i int) *request.Request {
	return request.New(request.Event, map[string]any{"seq": fmt.Sprint(i)})
}

func TestEnqueueNeverExceedsMaxItems(t *testing.T) {
	q, _, m := newTestQueue()

	head := eventReq(0)
	q.Enqueue(head)
	for i := 1; i < MaxItems*2; i++ {
		q.Enqueue(eventReq(i))
		assert.LessOrEqual(t, q.Size(), MaxItems)
	}

	// head 는 in-flight 일 수 있으므로 eviction 대상이 아니다.
	assert.Equal(t, head, q.Peek())
	assert.Positive(t, atomic.LoadInt64(&m.RequestsEvictedTotal))
}

func TestEvictPrefersOldestPersistableAfterHead(t *testing.T) {
	q, _, _ := newTestQueue()

	reqs := make([]*request.Request, MaxItems)
	for i := range reqs {
		reqs[i] = eventReq(i)
	}
	reqs[1].Persistable = false

	for _, r := range reqs {
		q.Enqueue(r)
	}

	// index 1 은 persistable 이 아니므로 index 2 가 밀려난다.
	assert.Equal(t, MaxItems-1, q.Size())
	assert.True(t, q.Contains(reqs[0]))
	assert.True(t, q.Contains(reqs[1]))
	assert.False(t, q.Contains(reqs[2]))
}

func TestInsertAtFront(t *testing.T) {
	q, _, _ := newTestQueue()

	a, b := eventReq(0), eventReq(1)
	q.Enqueue(a)
	q.Enqueue(b)

	init := request.New(request.InitSession, nil)
	q.InsertAtFront(init)

	assert.Equal(t, init, q.PeekAt(0))
	assert.Equal(t, a, q.PeekAt(1))
	assert.Equal(t, b, q.PeekAt(2))
}

func TestInsertClampsOutOfRangeIndex(t *testing.T) {
	q, _, _ := newTestQueue()
	q.Enqueue(eventReq(0))

	tail := eventReq(1)
	q.Insert(tail, 99)
	assert.Equal(t, tail, q.PeekAt(q.Size()-1))

	front := eventReq(2)
	q.Insert(front, -5)
	assert.Equal(t, front, q.PeekAt(0))
}

func TestPeekAtOutOfRange(t *testing.T) {
	q, _, _ := newTestQueue()
	assert.Nil(t, q.Peek())
	assert.Nil(t, q.PeekAt(-1))
	assert.Nil(t, q.PeekAt(3))
	assert.Nil(t, q.RemoveAt(0))
}

func TestRemoveByPointerAndByID(t *testing.T) {
	q, _, _ := newTestQueue()

	a, b := eventReq(0), eventReq(1)
	q.Enqueue(a)
	q.Enqueue(b)

	assert.True(t, q.Remove(a))
	assert.False(t, q.Remove(a), "같은 요청을 두 번 제거할 수 없다")

	// ID 만 같은 별개 인스턴스로도 제거된다 (스냅샷 복원 케이스).
	ghost := &request.Request{ID: b.ID}
	assert.True(t, q.Remove(ghost))
	assert.Zero(t, q.Size())
}

func TestPersistRestoreKeepsOrderSkipsNonPersistable(t *testing.T) {
	st := &store.MemStore{}
	m := metrics.New()
	q1 := New(st, m)

	a := eventReq(0)
	b := eventReq(1)
	b.Persistable = false
	c := request.New(request.IdentifyUser, map[string]any{request.KeyIdentity: "u"})

	q1.Enqueue(a)
	q1.Enqueue(b)
	q1.Enqueue(c)

	q2 := New(st, metrics.New())
	assert.Equal(t, 2, q2.Size())
	assert.Equal(t, a.ID, q2.PeekAt(0).ID)
	assert.Equal(t, c.ID, q2.PeekAt(1).ID)
	assert.Equal(t, c.Payload, q2.PeekAt(1).Payload)
}

func TestRemoveUpdatesSnapshot(t *testing.T) {
	st := &store.MemStore{}
	q1 := New(st, metrics.New())

	a, b := eventReq(0), eventReq(1)
	q1.Enqueue(a)
	q1.Enqueue(b)
	q1.Remove(a)

	q2 := New(st, metrics.New())
	assert.Equal(t, 1, q2.Size())
	assert.Equal(t, b.ID, q2.Peek().ID)
}

func TestClearEmptiesQueueAndSnapshot(t *testing.T) {
	st := &store.MemStore{}
	q1 := New(st, metrics.New())
	q1.Enqueue(eventReq(0))
	q1.Clear()

	assert.Zero(t, q1.Size())
	assert.Zero(t, New(st, metrics.New()).Size())
}

func TestSnapshotFailureDoesNotBlockQueue(t *testing.T) {
	st := &store.MemStore{FailSaves: true}
	m := metrics.New()
	q := New(st, m)

	q.Enqueue(eventReq(0))
	q.Enqueue(eventReq(1))

	// 디스크가 죽어도 큐는 계속 동작한다.
	assert.Equal(t, 2, q.Size())
	assert.Equal(t, int64(2), atomic.LoadInt64(&m.SnapshotWriteErrorsTotal))
}

func TestReleaseWaitLock(t *testing.T) {
	q, _, _ := newTestQueue()

	a := eventReq(0)
	a.AddWaitLock(request.SDKInitWait)
	b := eventReq(1)
	b.AddWaitLock(request.SDKInitWait)
	b.AddWaitLock(request.UserSetWait)

	q.Enqueue(a)
	q.Enqueue(b)
	q.ReleaseWaitLock(request.SDKInitWait)

	assert.False(t, a.Locked())
	assert.True(t, b.Locked(), "다른 lock 은 유지된다")
	assert.False(t, b.HasWaitLock(request.SDKInitWait))
}

func TestFindActiveSessionInitRequest(t *testing.T) {
	q, _, _ := newTestQueue()
	assert.Nil(t, q.FindActiveSessionInitRequest())

	synthetic := request.New(request.InitSession, nil)
	q.Enqueue(synthetic)
	assert.Nil(t, q.FindActiveSessionInitRequest(), "엔진이 합성한 init 은 제외")

	active := request.New(request.InitSession, nil)
	active.InitiatedByClient = true
	q.Enqueue(active)
	assert.Equal(t, active, q.FindActiveSessionInitRequest())
}

func TestUpdateAllPersistsMutation(t *testing.T) {
	st := &store.MemStore{}
	q1 := New(st, metrics.New())

	a := request.New(request.Event, map[string]any{request.KeySessionID: "old"})
	q1.Enqueue(a)

	q1.UpdateAll(func(r *request.Request) {
		if _, ok := r.Payload[request.KeySessionID]; ok {
			r.Payload[request.KeySessionID] = "new"
		}
	})

	// 변이가 스냅샷에도 반영되어 재기동 후에도 유지된다.
	q2 := New(st, metrics.New())
	assert.Equal(t, "new", q2.Peek().Payload[request.KeySessionID])
}

func TestCopyIsDetachedFromQueue(t *testing.T) {
	q, _, _ := newTestQueue()
	a := eventReq(0)
	q.Enqueue(a)

	snapshot := q.Copy()
	q.Remove(a)

	assert.Len(t, snapshot, 1)
	assert.False(t, q.Contains(a))
}
