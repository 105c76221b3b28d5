package pool

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// Pool 구성 목적
//
// 큐는 write-through 정책이라 변이가 있을 때마다 스냅샷 전체를
// 직렬화 + gzip 한다. 큐가 바쁘게 돌면 이 경로에서
// 버퍼/인코더 할당이 매우 빈번하게 발생한다.
//
// 아래 Pool들은 "GC 줄이기, 메모리 재사용, 성능 안정화" 목적.
// ---------------------------------------------------------------

var (
	// BufferPool:
	//   - 스냅샷 직렬화 결과 및 transport 응답 body 를 담는 임시 버퍼
	//   - 초기 용량 16KB (25개 규모의 큐 스냅샷은 대부분 여기에 수용됨)
	//   - 너무 큰 버퍼는 풀에 넣지 않음
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 16*1024))
		},
	}

	// GzipPool:
	//   - gzip.Writer 재사용 (매번 new 하면 비용 매우 큼)
	//   - BestSpeed 옵션: 스냅샷은 호출 경로 안에서 동기로 쓰이므로 속도 우선
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}
)

// Pool에 되돌려줄 최대 버퍼 용량
// 이보다 큰 버퍼는 Pool에 넣지 않고 GC에게 위임해
// 메모리 폭발을 예방.
const MaxBufferCap = 1 * 1024 * 1024 // 1MB

// PutBuffer:
//   - 직렬화/응답 버퍼 반환
//   - 1MB 이하이면 풀에 재사용
//   - 초대형 버퍼는 풀로 돌리지 않음 → 메모리 안정화 목적
func PutBuffer(buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		BufferPool.Put(buf)
	}
}
