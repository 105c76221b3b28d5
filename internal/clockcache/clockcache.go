// internal/clockcache/clockcache.go
package clockcache

import (
	"sync/atomic"
	"time"
)

//
// clockcache.go
// ------------------------------------------------------------
// time.Now 호출 비용을 줄이기 위해 현재 UTC epoch 값을
// 캐싱하는 모듈.
//
// 엔진은 enqueue 시각 기록, queue_wait_time 계산, 스냅샷 임시
// 파일명 생성 등에서 시각을 반복 조회하므로 100ms ticker 로 캐싱한다.
// queue_wait_time 은 ms 단위 필드지만 계측 용도라 100ms 해상도면
// 충분하다.
//
// 사용처:
//   - Request.EnqueuedAtMillis (적재 시각)
//   - 스냅샷 임시 파일명 prefix
// ------------------------------------------------------------

var (
	unixSec   atomic.Int64
	unixMilli atomic.Int64
)

func init() {
	// 최초 seed
	seed()

	// 주기 갱신. 초 해상도면 충분한 소비자(파일명)와
	// ms 해상도가 필요한 소비자(queue_wait_time)를 하나의 ticker 로 처리.
	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for range ticker.C {
			seed()
		}
	}()
}

func seed() {
	now := time.Now()
	unixSec.Store(now.Unix())
	unixMilli.Store(now.UnixMilli())
}

// ------------------------------------------------------------
// Public API
// ------------------------------------------------------------

// Unix returns current UTC epoch seconds (cached).
func Unix() int64 {
	return unixSec.Load()
}

// UnixMilli returns current UTC epoch milliseconds (cached, 100ms precision).
func UnixMilli() int64 {
	return unixMilli.Load()
}
