// internal/queue/queue.go
package queue

import (
	"bytes"
	"log"
	"sync"
	"sync/atomic"

	"linkdispatch/internal/metrics"
	"linkdispatch/internal/pool"
	"linkdispatch/internal/request"
	"linkdispatch/internal/store"

	json "github.com/goccy/go-json"
)

// MaxItems 는 큐가 보유할 수 있는 최대 요청 수이다.
// 초과분은 index 1 의 persistable 항목부터 밀려난다
// (index 0 은 in-flight 일 수 있으므로 절대 건드리지 않는다).
const MaxItems = 25

// Queue
// ------------------------------------------------------------
// 순서가 의미 있는, 디스크 미러를 가진 요청 큐.
//
// 모든 변이는 단일 mutex 아래에서 in-memory 시퀀스 변경과
// 스냅샷 기록(write-through)을 함께 수행한다. 읽는 쪽이
// 메모리와 미러 사이의 찢어진 상태를 관측할 수 없게 하기 위함이다.
//
// 스냅샷 실패는 치명적이지 않다: 로그와 카운터만 남기고
// 호출자에게는 에러를 돌려주지 않는다 (큐 동작이 디스크 상태에
// 인질로 잡히면 안 된다).
// ------------------------------------------------------------
type Queue struct {
	mu      sync.Mutex
	items   []*request.Request
	store   store.Store
	metrics *metrics.Metrics
}

// New 는 스냅샷을 복원한 큐를 생성한다.
// 스냅샷이 없거나 깨져 있으면 빈 큐로 기동한다.
func New(st store.Store, m *metrics.Metrics) *Queue {
	q := &Queue{store: st, metrics: m}
	q.restore()
	return q
}

// restore 는 저장된 스냅샷에서 큐를 재구성한다.
//   - 최대 MaxItems 개만 복원
//   - 깨진 항목은 건너뜀 (전체 실패로 만들지 않음)
func (q *Queue) restore() {
	data, ok, err := q.store.LoadSnapshot()
	if err != nil {
		log.Printf("[WARN] queue snapshot load failed: %v", err)
		return
	}
	if !ok {
		return
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		log.Printf("[WARN] queue snapshot unreadable: %v", err)
		return
	}

	for i := 0; i < len(raw) && i < MaxItems; i++ {
		req, err := request.FromJSON(raw[i])
		if err != nil {
			log.Printf("[WARN] queue snapshot entry %d skipped: %v", i, err)
			continue
		}
		q.items = append(q.items, req)
	}
}

// persistLocked 는 persistable 요청들을 JSON 배열로 직렬화해
// 스토어에 기록한다. 반드시 q.mu 를 잡은 상태에서 호출한다.
func (q *Queue) persistLocked() {
	buf := pool.BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer pool.PutBuffer(buf)

	buf.WriteByte('[')
	n := 0
	for _, req := range q.items {
		if !req.Persistable {
			continue
		}
		b, err := req.ToJSON()
		if err != nil {
			log.Printf("[WARN] queue persist: request %s skipped: %v", req.ID, err)
			continue
		}
		if n > 0 {
			buf.WriteByte(',')
		}
		buf.Write(b)
		n++
	}
	buf.WriteByte(']')

	if err := q.store.SaveSnapshot(buf.Bytes()); err != nil {
		atomic.AddInt64(&q.metrics.SnapshotWriteErrorsTotal, 1)
		log.Printf("[WARN] queue persist failed: %v", err)
		return
	}
	atomic.AddInt64(&q.metrics.SnapshotWritesTotal, 1)
}

// Size 는 현재 큐 길이를 반환한다.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Enqueue 는 요청을 꼬리에 추가한다.
// 추가 후 길이가 MaxItems 에 도달하면 index 1 이후의 가장 오래된
// persistable 항목 하나를 밀어낸다.
func (q *Queue) Enqueue(req *request.Request) {
	if req == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, req)
	if len(q.items) >= MaxItems {
		q.evictLocked()
	}
	atomic.AddInt64(&q.metrics.RequestsEnqueuedTotal, 1)
	q.persistLocked()
}

// evictLocked 는 index 1 부터 처음 만나는 persistable 항목을 제거한다.
// persistable 항목이 하나도 없으면 index 1 을 제거한다.
func (q *Queue) evictLocked() {
	if len(q.items) < 2 {
		return
	}
	victim := 1
	for i := 1; i < len(q.items); i++ {
		if q.items[i].Persistable {
			victim = i
			break
		}
	}
	dropped := q.items[victim]
	q.items = append(q.items[:victim], q.items[victim+1:]...)
	atomic.AddInt64(&q.metrics.RequestsEvictedTotal, 1)
	log.Printf("[WARN] queue full → evicted %s %s", dropped.Endpoint, dropped.ID)
}

// InsertAtFront 는 세션 성립 요청 전용이다. 큐에 이미 쌓인 모든
// 요청보다 먼저 실행되어야 하므로 index 0 에 삽입한다.
func (q *Queue) InsertAtFront(req *request.Request) {
	q.Insert(req, 0)
}

// Insert 는 지정 index 에 삽입한다. 범위를 벗어난 index 는
// 현재 길이로 clamp 되며, 호출자를 실패시키지 않는다.
func (q *Queue) Insert(req *request.Request, index int) {
	if req == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if index < 0 || index > len(q.items) {
		log.Printf("[INFO] queue insert index %d clamped (size=%d)", index, len(q.items))
		if index < 0 {
			index = 0
		} else {
			index = len(q.items)
		}
	}

	q.items = append(q.items, nil)
	copy(q.items[index+1:], q.items[index:])
	q.items[index] = req

	atomic.AddInt64(&q.metrics.RequestsEnqueuedTotal, 1)
	q.persistLocked()
}

// Peek 은 head 를 제거하지 않고 반환한다. 비어있으면 nil.
func (q *Queue) Peek() *request.Request {
	return q.PeekAt(0)
}

// PeekAt 은 index 위치의 요청을 제거하지 않고 반환한다.
// 범위를 벗어나면 nil (에러를 올리지 않는다).
func (q *Queue) PeekAt(index int) *request.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if index < 0 || index >= len(q.items) {
		return nil
	}
	return q.items[index]
}

// Remove 는 동일 요청(포인터 또는 ID 일치)을 제거한다.
// 제거에 성공했을 때만 스냅샷을 갱신한다.
func (q *Queue) Remove(req *request.Request) bool {
	if req == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, it := range q.items {
		if it == req || it.ID == req.ID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			q.persistLocked()
			return true
		}
	}
	return false
}

// RemoveAt 은 index 위치의 요청을 제거해 반환한다.
// 범위를 벗어나면 nil 을 반환하고 아무 일도 하지 않는다.
func (q *Queue) RemoveAt(index int) *request.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if index < 0 || index >= len(q.items) {
		return nil
	}
	req := q.items[index]
	q.items = append(q.items[:index], q.items[index+1:]...)
	q.persistLocked()
	return req
}

// Clear 는 큐를 비운다. 로그아웃 및 복구 불가능한 init 실패 시 사용.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.persistLocked()
}

// FindActiveSessionInitRequest 는 앱이 직접 요청한(initiatedByClient)
// InitSession 요청이 큐에 있으면 반환한다. 없으면 nil.
func (q *Queue) FindActiveSessionInitRequest() *request.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it.Endpoint == request.InitSession && it.InitiatedByClient {
			return it
		}
	}
	return nil
}

// ReleaseWaitLock 은 큐의 모든 요청에서 해당 lock 을 제거한다.
// lock 이 표현하던 조건(예: 세션 성립)이 충족된 시점에 호출된다.
func (q *Queue) ReleaseWaitLock(lock request.WaitLock) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		it.RemoveWaitLock(lock)
	}
}

// UpdateAll 은 큐의 모든 요청에 fn 을 적용한 뒤 스냅샷을 갱신한다.
// token propagation 처럼 "상태 전이와 payload 재기록이 한 덩어리"여야
// 하는 변이에 사용한다. fn 은 q.mu 아래에서 실행되므로
// 큐 메서드를 재호출하면 안 된다.
func (q *Queue) UpdateAll(fn func(*request.Request)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		fn(it)
	}
	q.persistLocked()
}

// Copy 는 현재 시퀀스의 얕은 복사본을 반환한다.
// 디스패치 루프가 lock 밖에서 순회할 때 사용한다. 복사 이후
// 제거된 요청은 dispatch 직전 Contains 로 걸러진다.
func (q *Queue) Copy() []*request.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*request.Request, len(q.items))
	copy(out, q.items)
	return out
}

// Contains 는 요청이 아직 큐에 있는지 확인한다.
func (q *Queue) Contains(req *request.Request) bool {
	if req == nil {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.items {
		if it == req || it.ID == req.ID {
			return true
		}
	}
	return false
}
