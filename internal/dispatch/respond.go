// internal/dispatch/respond.go
package dispatch

import (
	"log"
	"net/http"
	"sync/atomic"

	"linkdispatch/internal/config"
	"linkdispatch/internal/request"
	"linkdispatch/internal/session"
	"linkdispatch/internal/transport"

	json "github.com/goccy/go-json"
)

// onPostExecute 는 완료 1건의 응답 해석 진입점이다.
// loop goroutine 에서만 호출된다 — 여기서 일어나는 모든 효과는
// 응답 도착 순서대로 직렬화된다.
//
// in-flight 중에 요청이 큐에서 제거되었을 수 있다(logout clear).
// 그 경우에도 아래 경로는 큐 invariant 를 깨지 않는다:
// Remove 는 없는 요청에 대해 no-op 이고, 콜백은 이미 비워져 있다.
func (e *Engine) onPostExecute(req *request.Request, resp *transport.Response) {
	e.clearInFlight(req)

	if resp == nil {
		// 응답 자체가 없는 실패: 재시도 의미가 없다.
		req.Fail(ErrInvalidRequest, "null response")
		if e.queue.Remove(req) {
			atomic.AddInt64(&e.metrics.RequestsDroppedTotal, 1)
		}
		e.releaseUserWaitIfSettled(req)
		return
	}

	if resp.StatusCode == transport.StatusNoConnectivity {
		atomic.AddInt64(&e.metrics.NetworkErrorsTotal, 1)
	}

	if resp.StatusCode == http.StatusOK {
		e.onRequestSuccess(req, resp)
	} else {
		e.onRequestFailed(req, resp, resp.StatusCode)
	}

	e.releaseUserWaitIfSettled(req)
}

// releaseUserWaitIfSettled 은 identify 요청이 종결(성공/최종 실패로
// 큐를 떠남)되었으면 새 identity 를 기다리던 요청들을 풀어준다.
// 재시도로 큐에 남아있는 동안에는 계속 묶어둔다.
func (e *Engine) releaseUserWaitIfSettled(req *request.Request) {
	if req.Endpoint == request.IdentifyUser && !e.queue.Contains(req) {
		e.queue.ReleaseWaitLock(request.UserSetWait)
	}
}

// onRequestSuccess 는 200 응답을 처리한다.
func (e *Engine) onRequestSuccess(req *request.Request, resp *transport.Response) {
	body := resp.Body
	if body == nil {
		// 200 인데 body 를 해석할 수 없음 → 일반 서버 오류로 보고.
		req.Fail(http.StatusInternalServerError, "unparseable response body")
	}

	// endpoint 별 부수효과는 body 를 해석할 수 있을 때만 적용한다.
	// 해석 불가 200 으로 세션 전이나 큐 clear 가 일어나면 안 된다.
	switch {
	case body == nil:

	case req.Endpoint == request.CreateLink:
		if u, ok := body[request.KeyURL].(string); ok && u != "" {
			e.linkCache.Put(request.CanonicalKey(req.Payload), u)
		}

	case req.Endpoint == request.Logout:
		// 로그아웃은 in-flight 전체를 무효화한다.
		e.linkCache.Clear()
		atomic.AddInt64(&e.metrics.LinkCacheInvalidationsTotal, 1)
		e.queue.Clear()

	case req.Endpoint == request.InitSession, req.Endpoint == request.IdentifyUser:
		e.absorbIdentity(body)

		if req.Endpoint == request.InitSession {
			// 이후의 init 실패가 lifecycle 을 되돌리지 않도록
			// 세션 파라미터를 캐시해 둔다.
			if b, err := json.Marshal(body); err == nil {
				e.state.SetSessionParams(string(b))
			}

			e.state.SetLifecycle(session.Initialised)
			e.queue.ReleaseWaitLock(request.SDKInitWait)

			// auto deep link 등 세션 성립 후속 처리.
			if e.OnSessionInitialised != nil {
				e.OnSessionInitialised(body)
			}

			// 동기 accessor 해제 (성공 경로, 정확히 1회).
			e.releaseLatch()
		}
	}

	if body != nil {
		req.Succeed(body, e.state.Identity())
		e.queue.Remove(req)
		atomic.AddInt64(&e.metrics.RequestsSucceededTotal, 1)
	} else if req.RetryEligible {
		// 실패 통지는 위에서 이미 끝났다. 콜백을 비우고
		// 큐에 남겨 다음 패스에서 다시 시도한다.
		req.ClearCallbacks()
		atomic.AddInt64(&e.metrics.RequestsRetriedTotal, 1)
	} else {
		e.queue.Remove(req)
		atomic.AddInt64(&e.metrics.RequestsDroppedTotal, 1)
	}
}

// absorbIdentity 는 세션을 변이하는 응답에서 identity 필드를 추출하고,
// 변경이 있으면 큐 전체에 propagation 한다.
//
// 추출과 propagation 은 같은 완료 처리 안에서 연달아 일어나고
// propagation 은 큐 lock 아래에서 한 번에 적용되므로, 디스패치되는
// 어떤 요청도 절반만 갱신된 토큰을 볼 수 없다.
func (e *Engine) absorbIdentity(body map[string]any) {
	if e.cfg.TrackingDisabled || body == nil {
		return
	}

	changed := false

	if v, ok := body[request.KeySessionID].(string); ok {
		e.state.SetSessionID(v)
		changed = true
	}

	if v, ok := body[request.KeyRandomizedBundleToken].(string); ok {
		if v != e.state.RandomizedBundleToken() {
			// identity 경계가 바뀌었다: 이전 사용자의 링크는 더 이상
			// 서빙하면 안 된다.
			e.linkCache.Clear()
			atomic.AddInt64(&e.metrics.LinkCacheInvalidationsTotal, 1)
			e.state.SetRandomizedBundleToken(v)
		}
		changed = true
	}

	if v, ok := body[request.KeyRandomizedDeviceToken].(string); ok {
		e.state.SetRandomizedDeviceToken(v)
		changed = true
	}

	if changed {
		e.propagateIdentity()
	}
}

// propagateIdentity 는 큐에 남아있는 모든 요청의 payload 중
// "이미 해당 키를 참조하는" 필드를 최신 identity 로 재기록한다.
func (e *Engine) propagateIdentity() {
	id := e.state.Identity()
	e.queue.UpdateAll(func(r *request.Request) {
		if _, ok := r.Payload[request.KeySessionID]; ok {
			r.Payload[request.KeySessionID] = id.SessionID
		}
		if _, ok := r.Payload[request.KeyRandomizedBundleToken]; ok {
			r.Payload[request.KeyRandomizedBundleToken] = id.RandomizedBundleToken
		}
		if _, ok := r.Payload[request.KeyRandomizedDeviceToken]; ok {
			r.Payload[request.KeyRandomizedDeviceToken] = id.RandomizedDeviceToken
		}
	})
}

// onRequestFailed 는 200 이외의 모든 응답을 처리한다.
func (e *Engine) onRequestFailed(req *request.Request, resp *transport.Response, status int) {
	// 세션 성립 요청의 실패: 이전 실행에서 캐시된 세션 파라미터가
	// 없으면 미초기화 상태로 되돌린다.
	if req.Endpoint == request.InitSession && e.state.SessionParams() == config.NoStringValue {
		e.state.SetLifecycle(session.Uninitialised)
	}

	// create-link 의 400/409 는 중복/충돌 outcome: 전용 콜백으로 통지.
	if (status == http.StatusBadRequest || status == http.StatusConflict) && req.Endpoint == request.CreateLink {
		req.Duplicate()
	} else {
		req.Fail(status, resp.FailReason())
	}

	unretryable := (400 <= status && status <= 451) || status == ErrTrackingDisabled

	if unretryable || !req.RetryEligible || req.RetryCount >= e.cfg.RetryMax {
		log.Printf("[WARN] request dropped %s %s status=%d retries=%d", req.Endpoint, req.ID, status, req.RetryCount)
		if e.queue.Remove(req) {
			atomic.AddInt64(&e.metrics.RequestsDroppedTotal, 1)
		}

		if req.Endpoint == request.InitSession {
			e.failInitCascade()
			// 동기 accessor 해제 (강제 실패 경로, 정확히 1회).
			e.releaseLatch()
		}
	} else {
		// 콜백은 이미 위에서 통지됐다. 비워서 재시도 결과가
		// 이중 통지되지 않게 한 뒤 큐에 남긴다.
		req.ClearCallbacks()
		req.RetryCount++
		atomic.AddInt64(&e.metrics.RequestsRetriedTotal, 1)
	}
}

// failInitCascade
// ------------------------------------------------------------
// 세션 성립이 최종 실패하면 세션을 기다리던 요청들은 영원히
// lock 이 풀리지 않는다. 전부 NO_SESSION 으로 실패시키고 제거한다.
// ------------------------------------------------------------
func (e *Engine) failInitCascade() {
	for _, it := range e.queue.Copy() {
		if !it.HasWaitLock(request.SDKInitWait) {
			continue
		}
		it.Fail(ErrNoSession, "session initialisation failed")
		if e.queue.Remove(it) {
			atomic.AddInt64(&e.metrics.RequestsDroppedTotal, 1)
		}
	}
}
