// internal/dispatch/engine.go
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"sync/atomic"

	"linkdispatch/internal/clockcache"
	"linkdispatch/internal/config"
	"linkdispatch/internal/metrics"
	"linkdispatch/internal/queue"
	"linkdispatch/internal/request"
	"linkdispatch/internal/session"
	"linkdispatch/internal/transport"
)

// 엔진 내부 sentinel error code.
// transport 의 -1009/-1234 와 함께 호출자 실패 콜백으로 노출된다.
const (
	ErrNoSession        = -101 // 세션이 필요한 요청이 세션 없이 시도됨
	ErrDuplicateURL     = -105 // create-link 충돌 (400/409)
	ErrInvalidRequest   = -112 // 응답 자체가 없는 실패
	ErrTrackingDisabled = -117 // tracking 비활성 정책에 의한 거부
)

// ErrWaitTimeout 은 동기 accessor 가 제한 시간 안에
// 세션 성립을 보지 못했을 때 반환된다.
var ErrWaitTimeout = errors.New("dispatch: timed out waiting for session")

// completion 은 transport 완료 1건을 루프로 전달하는 단위이다.
type completion struct {
	req  *request.Request
	resp *transport.Response
}

// Engine
// ------------------------------------------------------------
// 요청 디스패치 엔진. 전체 파이프라인의 제어 지점이다.
//
// 주요 구성:
//   - Submit: 세션 게이트 통과 후 큐 적재 (호출자 goroutine 에서 실행)
//   - kickCh: 디스패치 패스 예약 (buffered 1, coalescing)
//   - doneCh: transport 완료 → 단일 완료 goroutine 으로 전달
//   - loop: 유일한 효과(effect) 실행 지점. 세션 전이, token
//     propagation, 링크 캐시 변이, 큐 제거가 전부 여기서 직렬화된다.
//
// 완료 처리가 끝나면 루프는 다음 패스를 "예약"만 하고 돌아간다.
// 완료 핸들러가 디스패치를 직접 재귀 호출하면 응답이 연달아
// 도착할 때 스택이 자라므로, 반드시 kickCh 를 거친다.
//
// Engine 은 graceful shutdown 을 지원하며,
// 진행 중이던 완료 처리가 끝나야 종료된다.
// ------------------------------------------------------------
type Engine struct {
	cfg       config.Config
	metrics   *metrics.Metrics
	queue     *queue.Queue
	state     *session.State
	linkCache *session.LinkCache
	transport transport.Transport

	// OnSessionInitialised 는 세션 성립 직후(auto deep link 후속 처리 등)
	// 호출되는 선택적 훅이다. 루프 goroutine 에서 실행되므로
	// 엔진 메서드를 재호출하면 안 된다.
	OnSessionInitialised func(body map[string]any)

	ctx    context.Context
	cancel context.CancelFunc

	wg       sync.WaitGroup
	stopOnce sync.Once

	kickCh chan struct{}
	doneCh chan completion

	inFlightMu sync.Mutex
	inFlight   map[string]struct{}

	// 동기 accessor 용 one-shot latch.
	// init 요청의 성공 또는 강제 실패 경로에서 정확히 한 번 해제된다.
	latchMu       sync.Mutex
	initLatch     chan struct{}
	latchReleased bool
}

// New 는 엔진을 구성한다. 큐/세션/캐시는 명시적으로 주입되므로
// 테스트마다 독립된 컨텍스트를 새로 만들 수 있다.
func New(cfg config.Config, m *metrics.Metrics, q *queue.Queue, st *session.State, lc *session.LinkCache, tr transport.Transport) *Engine {
	return &Engine{
		cfg:       cfg,
		metrics:   m,
		queue:     q,
		state:     st,
		linkCache: lc,
		transport: tr,
		kickCh:    make(chan struct{}, 1),
		doneCh:    make(chan completion),
		inFlight:  make(map[string]struct{}),
	}
}

// Start 는 완료/디스패치 루프를 기동한다.
// 스냅샷에서 복원된 세션 의존 요청은 이 시점의 세션 상태 기준으로
// wait lock 을 재부여받는다 (lock set 이 디스패치 판정의 유일한 기준).
func (e *Engine) Start() {
	e.ctx, e.cancel = context.WithCancel(context.Background())

	if e.state.Lifecycle() != session.Initialised {
		e.queue.UpdateAll(func(r *request.Request) {
			if r.Endpoint.NeedsSession() {
				r.AddWaitLock(request.SDKInitWait)
			}
		})

		// 이전 실행의 init 요청이 복원되었다면 이번 실행이 그 init 으로
		// 세션을 다시 성립시킨다. accessor 도 그 결과를 기다리게 한다.
		if e.queue.FindActiveSessionInitRequest() != nil {
			e.state.SetLifecycle(session.Initialising)
			e.armLatch()
		}
	}

	log.Printf("[INFO] dispatch engine starting lifecycle=%s has_session=%v queued=%d",
		e.state.Lifecycle(), e.state.HasSession(), e.queue.Size())

	e.wg.Add(1)
	go e.loop()
	e.kick()
}

// Shutdown 은 루프를 멈추고 모든 goroutine 이 끝날 때까지 대기한다.
// 이미 transport 에 나가 있는 시도는 중단하지 않는다. 완료가
// 돌아와도 ctx 취소 이후에는 버려진다.
func (e *Engine) Shutdown() {
	e.stopOnce.Do(func() {
		e.cancel()
	})
	e.wg.Wait()
}

// kick 은 디스패치 패스를 예약한다. 이미 예약돼 있으면 중복 예약하지
// 않는다 (한 패스가 큐 전체를 훑으므로 coalescing 해도 잃는 것이 없다).
func (e *Engine) kick() {
	select {
	case e.kickCh <- struct{}{}:
	default:
	}
}

// loop 는 유일한 효과 실행 지점이다.
// 응답 도착 순서대로 완료를 처리하므로, 세션을 변이하는 응답이
// 순서가 뒤바뀌어 돌아와도 마지막에 도착한 쪽이 결정적으로 이긴다.
func (e *Engine) loop() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			log.Println("[INFO] dispatch loop exiting")
			return

		case c := <-e.doneCh:
			e.onPostExecute(c.req, c.resp)
			// 다음 eligible 요청은 새 스케줄링 스텝에서 처리한다.
			e.kick()

		case <-e.kickCh:
			e.dispatchPass()
		}
	}
}

// dispatchPass 는 lock set 이 빈 모든 큐 항목에 대해 네트워크 시도를
// 발행한다. 요청당 outstanding 시도는 정확히 1개이며, 서로 다른
// 요청은 동시에 in-flight 일 수 있다.
//
// outbound 본문은 반드시 여기(loop goroutine)에서 스냅샷 뜬다.
// payload 는 token propagation 의 대상이므로, 전송 goroutine 이
// 원본 map 을 직접 읽으면 propagation 과 경합한다.
func (e *Engine) dispatchPass() {
	for _, req := range e.queue.Copy() {
		if req.Locked() {
			continue
		}
		if !e.markInFlight(req) {
			continue
		}
		// 복사본 순회 중 제거되었을 수 있다 (logout clear 등).
		if !e.queue.Contains(req) {
			e.clearInFlight(req)
			continue
		}

		e.wg.Add(1)
		go e.execute(req, e.buildOutbound(req))
	}
}

func (e *Engine) markInFlight(req *request.Request) bool {
	e.inFlightMu.Lock()
	defer e.inFlightMu.Unlock()
	if _, busy := e.inFlight[req.ID]; busy {
		return false
	}
	e.inFlight[req.ID] = struct{}{}
	return true
}

func (e *Engine) clearInFlight(req *request.Request) {
	e.inFlightMu.Lock()
	delete(e.inFlight, req.ID)
	e.inFlightMu.Unlock()
}

// outbound 는 전송 goroutine 으로 넘어가는 호출 스냅샷이다.
// 여기 담긴 body 는 payload 의 복사본이므로 이후의 propagation 과
// 공유 상태가 없다.
type outbound struct {
	isGet bool
	url   string
	body  map[string]any
}

// buildOutbound 는 outbound 호출 본문을 구성한다.
// 큐에 저장된 payload 는 건드리지 않고 복사본에 계측 필드를 더한다.
func (e *Engine) buildOutbound(req *request.Request) *outbound {
	target := e.cfg.BaseURL + req.Path()
	waitMs := clockcache.UnixMilli() - req.EnqueuedAtMillis
	if waitMs < 0 {
		waitMs = 0
	}

	if req.IsGet {
		q := url.Values{}
		for k, v := range req.Payload {
			q.Set(k, fmt.Sprint(v))
		}
		q.Set(request.KeyQueueWaitTime, fmt.Sprint(waitMs))
		q.Set("sdk_key", e.cfg.SDKKey)
		return &outbound{isGet: true, url: target + "?" + q.Encode()}
	}

	body := make(map[string]any, len(req.Payload)+2)
	for k, v := range req.Payload {
		body[k] = v
	}
	body[request.KeyQueueWaitTime] = waitMs
	body["sdk_key"] = e.cfg.SDKKey
	return &outbound{url: target, body: body}
}

// execute 는 요청 1건의 네트워크 시도를 수행한다.
// 이 goroutine 은 transport 호출만 담당하며, 응답 해석과 큐/세션
// 변이는 전부 loop 로 넘긴다.
func (e *Engine) execute(req *request.Request, ob *outbound) {
	defer e.wg.Done()

	var resp *transport.Response

	// tracking 게이트는 적재 시점에 한 번, 디스패치 직전에 한 번 더
	// 검사한다. 스냅샷에서 복원된 요청은 적재 검사를 거치지 않았다.
	if e.cfg.TrackingDisabled && !req.Endpoint.TrackingFree() {
		resp = &transport.Response{StatusCode: ErrTrackingDisabled}
	} else {
		ctx, cancel := context.WithTimeout(e.ctx, e.cfg.HTTPTimeout)
		if ob.isGet {
			resp = e.transport.Get(ctx, ob.url)
		} else {
			resp = e.transport.Post(ctx, ob.url, ob.body)
		}
		cancel()
	}

	atomic.AddInt64(&e.metrics.RequestsDispatchedTotal, 1)

	select {
	case e.doneCh <- completion{req: req, resp: resp}:
	case <-e.ctx.Done():
		e.clearInFlight(req)
	}
}
