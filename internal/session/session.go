// internal/session/session.go
package session

import (
	"sync"

	"linkdispatch/internal/config"
	"linkdispatch/internal/request"
)

// Lifecycle 은 세션의 수명 상태이다. 항상 정확히 하나의 값을 가지며,
// 전이는 디스패치 엔진만 수행한다.
type Lifecycle int

const (
	Uninitialised Lifecycle = iota
	Initialising
	Initialised
)

func (l Lifecycle) String() string {
	switch l {
	case Uninitialised:
		return "uninitialised"
	case Initialising:
		return "initialising"
	case Initialised:
		return "initialised"
	}
	return "unknown"
}

// State
// ------------------------------------------------------------
// 프로세스 전역 세션 레코드. 소유자는 디스패치 엔진이며
// (전이/토큰 기록은 엔진의 완료 goroutine 에서만 일어난다),
// 큐 게이트와 동기 accessor 는 읽기만 한다.
// ------------------------------------------------------------
type State struct {
	mu sync.RWMutex

	lifecycle Lifecycle

	sessionID             string
	randomizedBundleToken string
	randomizedDeviceToken string

	// 이전 실행에서 캐시된 세션 파라미터.
	// init 실패 시 이 값이 남아있으면 lifecycle 을 되돌리지 않는다
	// (직전 세션의 파라미터로 계속 동작 가능하므로).
	sessionParams string
}

func NewState() *State {
	return &State{
		sessionID:             config.NoStringValue,
		randomizedBundleToken: config.NoStringValue,
		randomizedDeviceToken: config.NoStringValue,
		sessionParams:         config.NoStringValue,
	}
}

func (s *State) Lifecycle() Lifecycle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lifecycle
}

func (s *State) SetLifecycle(l Lifecycle) {
	s.mu.Lock()
	s.lifecycle = l
	s.mu.Unlock()
}

func (s *State) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

func (s *State) SetSessionID(v string) {
	s.mu.Lock()
	s.sessionID = v
	s.mu.Unlock()
}

func (s *State) RandomizedBundleToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.randomizedBundleToken
}

func (s *State) SetRandomizedBundleToken(v string) {
	s.mu.Lock()
	s.randomizedBundleToken = v
	s.mu.Unlock()
}

func (s *State) RandomizedDeviceToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.randomizedDeviceToken
}

func (s *State) SetRandomizedDeviceToken(v string) {
	s.mu.Lock()
	s.randomizedDeviceToken = v
	s.mu.Unlock()
}

func (s *State) SessionParams() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionParams
}

func (s *State) SetSessionParams(v string) {
	s.mu.Lock()
	s.sessionParams = v
	s.mu.Unlock()
}

// HasSession / HasRandomizedDeviceToken / HasUser
//
// sentinel 비교 기반 조회. 디스패치 가능 판정의 근거로는 쓰지 않고
// (판정은 lock set 이 유일한 기준) 로그/진단용으로만 사용한다.
func (s *State) HasSession() bool {
	return s.SessionID() != config.NoStringValue
}

func (s *State) HasRandomizedDeviceToken() bool {
	return s.RandomizedDeviceToken() != config.NoStringValue
}

func (s *State) HasUser() bool {
	return s.RandomizedBundleToken() != config.NoStringValue
}

// Identity 는 성공 콜백에 전달되는 현재 identity 스냅샷을 반환한다.
func (s *State) Identity() request.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return request.Identity{
		SessionID:             s.sessionID,
		RandomizedBundleToken: s.randomizedBundleToken,
		RandomizedDeviceToken: s.randomizedDeviceToken,
	}
}
