// internal/dispatch/gate.go
package dispatch

import (
	"log"
	"sync/atomic"
	"time"

	"linkdispatch/internal/request"
	"linkdispatch/internal/session"
)

// Submit
// ------------------------------------------------------------
// 새로 제출된 요청의 세션 게이트.
//
// 규칙:
//   - tracking 비활성 + tracking-free 불가 요청 → 큐를 건드리지 않고
//     ERR_TRACKING_DISABLED 로 즉시 실패
//   - 미초기화 상태의 Logout → ERR_NO_SESSION 즉시 실패
//     (logout 은 세션을 만들 수 없다)
//   - 세션이 필요한데 아직 Initialised 가 아니면 SDK_INIT_WAIT lock 을
//     부착해 적재. lock 이 명시적으로 해제되기 전까지 디스패치 불가
//
// 적재 후 디스패치 패스를 예약한다.
// ------------------------------------------------------------
func (e *Engine) Submit(req *request.Request) {
	if req == nil {
		return
	}
	log.Printf("[INFO] submit %s %s", req.Endpoint, req.ID)

	if e.cfg.TrackingDisabled {
		if !req.Endpoint.TrackingFree() {
			log.Printf("[INFO] submit %s rejected: tracking disabled", req.Endpoint)
			req.Fail(ErrTrackingDisabled, "tracking disabled")
			return
		}
		// tracking-free 실행 준비: identity 필드를 벗겨 익명화한다.
		delete(req.Payload, request.KeySessionID)
		delete(req.Payload, request.KeyRandomizedBundleToken)
		delete(req.Payload, request.KeyRandomizedDeviceToken)
		delete(req.Payload, request.KeyIdentity)
	}

	if e.state.Lifecycle() != session.Initialised && req.Endpoint != request.InitSession {
		if req.Endpoint == request.Logout {
			log.Printf("[INFO] submit logout rejected: not initialised")
			req.Fail(ErrNoSession, "no session")
			return
		}
		if req.Endpoint.NeedsSession() {
			req.AddWaitLock(request.SDKInitWait)
		}
	}

	// identify 가 진행 중이면 identity 가 곧 바뀐다. 세션 의존 요청은
	// 새 identity 가 확정될 때까지 추가로 묶어둔다.
	if req.Endpoint.NeedsSession() && req.Endpoint != request.IdentifyUser {
		for _, it := range e.queue.Copy() {
			if it.Endpoint == request.IdentifyUser {
				req.AddWaitLock(request.UserSetWait)
				break
			}
		}
	}

	// 세션 의존 요청은 현재 identity 를 payload 에 미리 채운다.
	// 값이 sentinel 이어도 키를 심어두는 것이 중요하다: token
	// propagation 은 "이미 해당 키를 참조하는" payload 만 갱신하므로.
	if req.Endpoint.NeedsSession() && !e.cfg.TrackingDisabled {
		id := e.state.Identity()
		req.Payload[request.KeySessionID] = id.SessionID
		req.Payload[request.KeyRandomizedBundleToken] = id.RandomizedBundleToken
		req.Payload[request.KeyRandomizedDeviceToken] = id.RandomizedDeviceToken
	}

	if req.Endpoint == request.InitSession {
		// 세션 성립 요청은 이미 쌓인 모든 요청보다 먼저 실행되어야 한다.
		e.queue.InsertAtFront(req)
		if e.state.Lifecycle() == session.Uninitialised {
			e.state.SetLifecycle(session.Initialising)
		}
		e.armLatch()
	} else {
		e.queue.Enqueue(req)
	}

	e.kick()
}

// ------------------------------------------------------------
// 편의 API. 전부 Submit 으로 수렴한다.
// ------------------------------------------------------------

// InitSession 은 앱이 직접 트리거한 세션 성립 요청을 제출한다.
func (e *Engine) InitSession(payload map[string]any, onSuccess request.SuccessFunc, onFailure request.FailureFunc) *request.Request {
	req := request.New(request.InitSession, payload)
	req.InitiatedByClient = true
	req.SetCallbacks(onSuccess, onFailure)
	e.Submit(req)
	return req
}

// CreateLink 는 링크 생성 요청을 제출한다.
// 동일 canonical payload 의 응답이 캐시에 있으면 transport 를 타지 않고
// 즉시 성공 콜백을 호출한다.
func (e *Engine) CreateLink(payload map[string]any, onSuccess request.SuccessFunc, onFailure request.FailureFunc, onDuplicate func()) *request.Request {
	if payload == nil {
		payload = map[string]any{}
	}

	key := request.CanonicalKey(payload)
	if cached, ok := e.linkCache.Get(key); ok {
		atomic.AddInt64(&e.metrics.LinkCacheHitsTotal, 1)
		log.Printf("[INFO] create-link served from cache")
		if onSuccess != nil {
			onSuccess(map[string]any{request.KeyURL: cached}, e.state.Identity())
		}
		return nil
	}

	req := request.New(request.CreateLink, payload)
	req.SetCallbacks(onSuccess, onFailure)
	req.SetDuplicateHandler(onDuplicate)
	e.Submit(req)
	return req
}

// Identify 는 사용자 식별 요청을 제출한다.
func (e *Engine) Identify(userID string, onSuccess request.SuccessFunc, onFailure request.FailureFunc) *request.Request {
	req := request.New(request.IdentifyUser, map[string]any{
		request.KeyIdentity: userID,
	})
	req.SetCallbacks(onSuccess, onFailure)
	e.Submit(req)
	return req
}

// Logout 은 로그아웃 요청을 제출한다. 성공 시 큐와 링크 캐시가
// 전부 비워진다 (in-flight 상태였던 요청의 완료는 무시된다).
func (e *Engine) Logout(onSuccess request.SuccessFunc, onFailure request.FailureFunc) *request.Request {
	req := request.New(request.Logout, nil)
	req.SetCallbacks(onSuccess, onFailure)
	e.Submit(req)
	return req
}

// TrackEvent 는 커스텀 이벤트 요청을 제출한다.
func (e *Engine) TrackEvent(name string, properties map[string]any, onSuccess request.SuccessFunc, onFailure request.FailureFunc) *request.Request {
	payload := map[string]any{"name": name}
	if len(properties) > 0 {
		payload["properties"] = properties
	}
	req := request.New(request.Event, payload)
	req.SetCallbacks(onSuccess, onFailure)
	e.Submit(req)
	return req
}

// ------------------------------------------------------------
// 동기 accessor
// ------------------------------------------------------------

// Identity 는 현재 identity 스냅샷을 즉시 반환한다.
func (e *Engine) Identity() request.Identity {
	return e.state.Identity()
}

// IdentitySync 는 세션 성립까지 기다렸다가 identity 를 반환한다.
// 대기는 반드시 유한하다: 네트워크가 영원히 응답하지 않아도
// timeout 후 ErrWaitTimeout 과 현재 값(대개 sentinel)을 돌려준다.
// latch 는 init 요청의 성공 또는 강제 실패 경로에서 정확히 한 번
// 해제된다.
func (e *Engine) IdentitySync(timeout time.Duration) (request.Identity, error) {
	e.latchMu.Lock()
	latch := e.initLatch
	released := e.latchReleased
	e.latchMu.Unlock()

	if latch == nil || released || e.state.Lifecycle() == session.Initialised {
		return e.state.Identity(), nil
	}

	select {
	case <-latch:
		return e.state.Identity(), nil
	case <-time.After(timeout):
		return e.state.Identity(), ErrWaitTimeout
	}
}

// armLatch 는 새 init 사이클마다 latch 를 재장전한다.
func (e *Engine) armLatch() {
	e.latchMu.Lock()
	defer e.latchMu.Unlock()
	if e.initLatch == nil || e.latchReleased {
		e.initLatch = make(chan struct{})
		e.latchReleased = false
	}
}

// releaseLatch 는 latch 를 정확히 한 번 해제한다.
func (e *Engine) releaseLatch() {
	e.latchMu.Lock()
	defer e.latchMu.Unlock()
	if e.initLatch != nil && !e.latchReleased {
		close(e.initLatch)
		e.latchReleased = true
	}
}
