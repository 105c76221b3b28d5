// internal/request/request.go
package request

import (
	"fmt"

	"linkdispatch/internal/clockcache"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ------------------------------------------------------------
// 엔진 payload 에서 사용하는 공통 JSON 키.
// 서버 응답에서 추출한 identity 값을 큐에 남아있는 요청 payload 에
// 재기록(propagation)할 때 같은 키를 그대로 사용한다.
// ------------------------------------------------------------
const (
	KeySessionID             = "session_id"
	KeyRandomizedBundleToken = "randomized_bundle_token"
	KeyRandomizedDeviceToken = "randomized_device_token"
	KeyIdentity              = "identity"
	KeySDK                   = "sdk"
	KeyQueueWaitTime         = "queue_wait_time"
	KeyURL                   = "url"
)

// Endpoint 는 지원하는 백엔드 오퍼레이션의 tagged variant 이다.
// "이 요청이 CreateLink 인가" 류의 분기는 전부 이 값 match 로 처리하고,
// 요청별 성질(경로/세션 필요 여부/재시도 가능 여부)도 여기에 묶는다.
type Endpoint int

const (
	InitSession Endpoint = iota
	CreateLink
	IdentifyUser
	Logout
	Event
	Custom
)

var endpointNames = map[Endpoint]string{
	InitSession:  "init_session",
	CreateLink:   "create_link",
	IdentifyUser: "identify_user",
	Logout:       "logout",
	Event:        "event",
	Custom:       "custom",
}

var endpointPaths = map[Endpoint]string{
	InitSession:  "/v1/open",
	CreateLink:   "/v1/url",
	IdentifyUser: "/v1/profile",
	Logout:       "/v1/logout",
	Event:        "/v1/event",
	// Custom 은 CustomPath 를 그대로 사용
}

func (e Endpoint) String() string {
	if s, ok := endpointNames[e]; ok {
		return s
	}
	return fmt.Sprintf("endpoint(%d)", int(e))
}

// endpointFromName 은 스냅샷 복원 시 역매핑에 사용된다.
func endpointFromName(s string) (Endpoint, bool) {
	for e, name := range endpointNames {
		if name == s {
			return e, true
		}
	}
	return 0, false
}

// NeedsSession
//
// 세션이 먼저 성립되어야 실행 가능한 오퍼레이션인지.
// InitSession 은 세션을 만드는 쪽이고, CreateLink 는
// 디바이스 익명으로도 동작하므로 세션이 필요 없다.
// 그 외 모든 오퍼레이션은 세션이 필요하다.
func (e Endpoint) NeedsSession() bool {
	switch e {
	case InitSession, CreateLink:
		return false
	}
	return true
}

// RetryEligible
//
// 실패 시 조용히 재시도해도 되는 오퍼레이션인지의 기본값.
//   - Logout: 절대 재시도 금지 (큐/캐시를 비우는 부수효과가 있으므로
//     늦게 재실행되면 이후 세션을 파괴한다)
//   - CreateLink: 재시도 대신 duplicate/실패 콜백으로 즉시 보고
//   - 나머지: 재시도 가능
func (e Endpoint) RetryEligible() bool {
	switch e {
	case Logout, CreateLink:
		return false
	}
	return true
}

// TrackingFree
//
// tracking 비활성 정책 하에서도 실행 가능한 오퍼레이션인지.
// 링크 생성은 identity 필드를 제거하면 익명으로 실행 가능하다.
func (e Endpoint) TrackingFree() bool {
	return e == CreateLink
}

// WaitLock 은 큐에 적재된 요청의 디스패치를 막는 선행 조건 이름이다.
// lock set 이 비어있는 요청만 디스패치 대상이 된다.
type WaitLock string

const (
	SDKInitWait WaitLock = "SDK_INIT_WAIT"
	UserSetWait WaitLock = "USER_SET_WAIT"
)

// Identity 는 성공 콜백에 함께 전달되는 현재 세션 컨텍스트이다.
type Identity struct {
	SessionID             string
	RandomizedBundleToken string
	RandomizedDeviceToken string
}

// SuccessFunc / FailureFunc
//
// 호출자 콜백. 큐를 떠나는 요청마다 정확히 한 번만 호출된다
// (success / failure / duplicate 중 하나).
type SuccessFunc func(body map[string]any, id Identity)
type FailureFunc func(status int, reason string)

// Request 는 직렬화 가능한 작업 단위이다.
//
// 동시성: 필드는 엔진의 단일 exclusion domain(큐 lock + 완료 goroutine)
// 아래에서만 변이된다. Request 자체는 lock 을 가지지 않는다.
type Request struct {
	ID                string         // 식별자. remove-by-identity 와 스냅샷 복원에 사용
	Endpoint          Endpoint       // tagged variant
	CustomPath        string         // Endpoint == Custom 일 때의 경로
	Payload           map[string]any // 전송 본문. token propagation 으로 in-place 수정됨
	IsGet             bool           // true: query string / false: JSON body
	RetryCount        int            // 재시도 가능 실패마다 증가
	RetryEligible     bool           // false 면 어떤 실패도 재시도하지 않음
	Persistable       bool           // false 면 스냅샷에서 제외 (진단용 일회성 요청)
	InitiatedByClient bool           // 앱이 직접 요청한 init 인지, 엔진이 합성한 init 인지
	EnqueuedAtMillis  int64          // 적재 시각. queue_wait_time 계측에 사용

	waitLocks   map[WaitLock]struct{}
	onSuccess   SuccessFunc
	onFailure   FailureFunc
	onDuplicate func()
}

// New 는 endpoint 의 기본 성질을 채운 Request 를 생성한다.
func New(e Endpoint, payload map[string]any) *Request {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Request{
		ID:               uuid.NewString(),
		Endpoint:         e,
		Payload:          payload,
		RetryEligible:    e.RetryEligible(),
		Persistable:      true,
		EnqueuedAtMillis: clockcache.UnixMilli(),
		waitLocks:        map[WaitLock]struct{}{},
	}
}

// NewCustom 은 임의 경로의 Custom 요청을 생성한다.
func NewCustom(path string, payload map[string]any, isGet bool) *Request {
	r := New(Custom, payload)
	r.CustomPath = path
	r.IsGet = isGet
	return r
}

// Path 는 요청이 향하는 백엔드 경로를 반환한다.
func (r *Request) Path() string {
	if r.Endpoint == Custom {
		return r.CustomPath
	}
	return endpointPaths[r.Endpoint]
}

// ------------------------------------------------------------
// wait lock
// ------------------------------------------------------------

func (r *Request) AddWaitLock(l WaitLock) {
	if r.waitLocks == nil {
		r.waitLocks = map[WaitLock]struct{}{}
	}
	r.waitLocks[l] = struct{}{}
}

func (r *Request) RemoveWaitLock(l WaitLock) {
	delete(r.waitLocks, l)
}

// Locked 는 lock set 이 비어있지 않으면 true.
// true 인 동안 디스패치 대상에서 제외된다.
func (r *Request) Locked() bool {
	return len(r.waitLocks) > 0
}

func (r *Request) HasWaitLock(l WaitLock) bool {
	_, ok := r.waitLocks[l]
	return ok
}

// ------------------------------------------------------------
// 콜백
// ------------------------------------------------------------

func (r *Request) SetCallbacks(onSuccess SuccessFunc, onFailure FailureFunc) {
	r.onSuccess = onSuccess
	r.onFailure = onFailure
}

// SetDuplicateHandler 는 create-link 의 400/409 충돌 전용 콜백을 등록한다.
func (r *Request) SetDuplicateHandler(fn func()) {
	r.onDuplicate = fn
}

// ClearCallbacks
//
// 재시도 직전에 호출된다. 재시도되는 요청은 이후 어떤 결과가 와도
// 호출자에게 이중 통지하지 않는다 (terminal callback 은 요청당 1회).
func (r *Request) ClearCallbacks() {
	r.onSuccess = nil
	r.onFailure = nil
	r.onDuplicate = nil
}

// Succeed 는 성공 콜백이 등록되어 있으면 호출한다.
func (r *Request) Succeed(body map[string]any, id Identity) {
	if r.onSuccess != nil {
		r.onSuccess(body, id)
	}
}

// Fail 은 실패 콜백이 등록되어 있으면 호출한다.
func (r *Request) Fail(status int, reason string) {
	if r.onFailure != nil {
		r.onFailure(status, reason)
	}
}

// Duplicate 는 duplicate 콜백을 호출한다. 등록되어 있지 않으면
// 일반 실패 경로로 degrade 하지 않고 조용히 무시한다
// (원래 요청자가 충돌에 관심 없다는 의사 표시로 본다).
func (r *Request) Duplicate() {
	if r.onDuplicate != nil {
		r.onDuplicate()
	}
}

// HasDuplicateHandler reports whether a duplicate callback is registered.
func (r *Request) HasDuplicateHandler() bool {
	return r.onDuplicate != nil
}

// ------------------------------------------------------------
// 직렬화 (스냅샷)
// ------------------------------------------------------------

// persisted 는 스냅샷에 기록되는 형태이다.
// 콜백과 wait lock 은 프로세스 수명에 묶인 상태이므로 기록하지 않는다.
// (세션 의존 요청의 lock 은 복원 시점의 엔진 상태 기준으로 재부여된다.)
type persisted struct {
	ID                string         `json:"id"`
	Endpoint          string         `json:"endpoint"`
	CustomPath        string         `json:"custom_path,omitempty"`
	Payload           map[string]any `json:"payload"`
	IsGet             bool           `json:"is_get"`
	RetryCount        int            `json:"retry_count"`
	RetryEligible     bool           `json:"retry_eligible"`
	InitiatedByClient bool           `json:"initiated_by_client"`
	EnqueuedAtMillis  int64          `json:"enqueued_at_ms"`
}

// ToJSON 은 스냅샷용 직렬화 형태를 반환한다.
func (r *Request) ToJSON() ([]byte, error) {
	return json.Marshal(persisted{
		ID:                r.ID,
		Endpoint:          r.Endpoint.String(),
		CustomPath:        r.CustomPath,
		Payload:           r.Payload,
		IsGet:             r.IsGet,
		RetryCount:        r.RetryCount,
		RetryEligible:     r.RetryEligible,
		InitiatedByClient: r.InitiatedByClient,
		EnqueuedAtMillis:  r.EnqueuedAtMillis,
	})
}

// FromJSON 은 스냅샷의 한 항목을 Request 로 복원한다.
// 알 수 없는 endpoint 이름이나 깨진 항목은 에러로 보고하고
// 호출자(큐 복원 루프)가 해당 항목만 건너뛴다.
func FromJSON(data []byte) (*Request, error) {
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	e, ok := endpointFromName(p.Endpoint)
	if !ok {
		return nil, fmt.Errorf("unknown endpoint %q", p.Endpoint)
	}
	if p.Payload == nil {
		p.Payload = map[string]any{}
	}
	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Request{
		ID:                id,
		Endpoint:          e,
		CustomPath:        p.CustomPath,
		Payload:           p.Payload,
		IsGet:             p.IsGet,
		RetryCount:        p.RetryCount,
		RetryEligible:     p.RetryEligible,
		Persistable:       true,
		InitiatedByClient: p.InitiatedByClient,
		EnqueuedAtMillis:  p.EnqueuedAtMillis,
		waitLocks:         map[WaitLock]struct{}{},
	}, nil
}
