package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics 는 디스패치 엔진 상태를 나타내는 카운터 모음이다.
type Metrics struct {
	// ======================
	// 큐 레벨 지표
	// ======================

	// RequestsEnqueuedTotal
	// - 큐에 실제로 들어간 요청 수 (시도 기준이 아닌 적재 기준).
	// - 게이트에서 즉시 실패한 요청(NO_SESSION, TRACKING_DISABLED)은 포함되지 않는다.
	RequestsEnqueuedTotal int64

	// RequestsEvictedTotal
	// - 큐 용량(MaxItems) 초과로 밀려난(index 1 eviction) 요청 수.
	// - 이 값이 증가한다는 것은 백엔드 응답 지연/실패로 큐가 소화되지 못하고
	//   오래된 요청이 버려지기 시작했다는 강한 신호.
	RequestsEvictedTotal int64

	// ======================
	// 디스패치 레벨 지표
	// ======================

	// RequestsDispatchedTotal
	// - transport 로 실제 네트워크 시도가 나간 횟수 (재시도 포함).
	RequestsDispatchedTotal int64

	// RequestsSucceededTotal
	// - 200 응답으로 종료된 요청 수.
	RequestsSucceededTotal int64

	// RequestsRetriedTotal
	// - 실패 후 큐에 남아 재시도 대상으로 유지된 횟수.
	// - RequestsDispatchedTotal 과 비교하면 재시도 비율을 알 수 있다.
	RequestsRetriedTotal int64

	// RequestsDroppedTotal
	// - 실패로 큐에서 영구 제거된 요청 수 (4xx 영구 오류, 재시도 한도 초과,
	//   retry-ineligible 요청의 실패 포함).
	RequestsDroppedTotal int64

	// NetworkErrorsTotal
	// - 연결 불가/호스트 미해석 등 status 코드조차 받지 못한 시도 횟수.
	// - 5xx 와 구분해서 보는 이유: 5xx 는 백엔드 문제,
	//   이 값은 단말/네트워크 문제이기 때문.
	NetworkErrorsTotal int64

	// ======================
	// 링크 캐시 지표
	// ======================

	// LinkCacheHitsTotal
	// - 동일 canonical payload 의 create-link 가 네트워크를 건너뛰고
	//   캐시에서 바로 응답된 횟수.
	LinkCacheHitsTotal int64

	// LinkCacheInvalidationsTotal
	// - 번들토큰 변경/로그아웃으로 캐시 전체가 비워진 횟수.
	LinkCacheInvalidationsTotal int64

	// ======================
	// 스냅샷 지표
	// ======================

	// SnapshotWritesTotal
	// - 큐 변이 후 디스크 스냅샷 기록에 성공한 횟수 (write-through 이므로
	//   큐 변이 횟수와 거의 같아야 정상).
	SnapshotWritesTotal int64

	// SnapshotWriteErrorsTotal
	// - 스냅샷 기록 실패 횟수. 실패는 치명적이지 않지만(로그만 남김),
	//   이 값이 0이 아니면 프로세스 재시작 시 요청 유실 가능성이 있다.
	SnapshotWriteErrorsTotal int64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) String() string {
	var sb strings.Builder
	sb.Grow(256)

	fmt.Fprintf(&sb, "requests_enqueued_total=%d\n", atomic.LoadInt64(&m.RequestsEnqueuedTotal))
	fmt.Fprintf(&sb, "requests_evicted_total=%d\n", atomic.LoadInt64(&m.RequestsEvictedTotal))

	fmt.Fprintf(&sb, "requests_dispatched_total=%d\n", atomic.LoadInt64(&m.RequestsDispatchedTotal))
	fmt.Fprintf(&sb, "requests_succeeded_total=%d\n", atomic.LoadInt64(&m.RequestsSucceededTotal))
	fmt.Fprintf(&sb, "requests_retried_total=%d\n", atomic.LoadInt64(&m.RequestsRetriedTotal))
	fmt.Fprintf(&sb, "requests_dropped_total=%d\n", atomic.LoadInt64(&m.RequestsDroppedTotal))
	fmt.Fprintf(&sb, "network_errors_total=%d\n", atomic.LoadInt64(&m.NetworkErrorsTotal))

	fmt.Fprintf(&sb, "link_cache_hits_total=%d\n", atomic.LoadInt64(&m.LinkCacheHitsTotal))
	fmt.Fprintf(&sb, "link_cache_invalidations_total=%d\n", atomic.LoadInt64(&m.LinkCacheInvalidationsTotal))

	fmt.Fprintf(&sb, "snapshot_writes_total=%d\n", atomic.LoadInt64(&m.SnapshotWritesTotal))
	fmt.Fprintf(&sb, "snapshot_write_errors_total=%d\n", atomic.LoadInt64(&m.SnapshotWriteErrorsTotal))

	return sb.String()
}
