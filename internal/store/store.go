// internal/store/store.go
package store

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"linkdispatch/internal/clockcache"
	"linkdispatch/internal/pool"

	"github.com/klauspost/compress/gzip"
)

// Store 는 큐 스냅샷을 보관하는 durable key/value 협력자이다.
// 큐는 변이마다 SaveSnapshot 을 호출하고(write-through),
// 생성 시점에 LoadSnapshot 으로 이전 프로세스의 큐를 복원한다.
type Store interface {
	// LoadSnapshot 은 저장된 스냅샷을 반환한다. 스냅샷이 없으면
	// (첫 실행) ok=false 를 돌려주며 이는 에러가 아니다.
	LoadSnapshot() (data []byte, ok bool, err error)

	// SaveSnapshot 은 스냅샷 전체를 덮어쓴다.
	// 쓰기는 at-least-once 중복을 허용하지만, 읽는 쪽에서
	// 절반만 쓰인 파일이 보여서는 안 된다(원자적 교체).
	SaveSnapshot(data []byte) error
}

const snapshotName = "queue_snapshot.json.gz"

// FileStore
// ------------------------------------------------------------
// 로컬 디렉토리 기반 Store 구현.
//
// 쓰기 경로:
//  1. 스냅샷 bytes 를 gzip (pool 의 writer/buffer 재사용)
//  2. 같은 디렉토리의 임시 파일에 기록
//  3. rename 으로 원자적 교체
//
// 임시 파일명 규칙:
//
//	<unix>_<instance>_<counter>.tmp
//
// 원자적 증가 counter 로 여러 쓰기가 겹쳐도 임시 파일명이
// 충돌하지 않는다. rename 전에 프로세스가 죽으면 .tmp 가 남는데,
// 다음 기동 시 NewFileStore 가 정리한다.
// ------------------------------------------------------------
type FileStore struct {
	dir        string
	instanceID string
	counter    uint64
}

// NewFileStore 는 디렉토리를 준비하고 이전 실행이 남긴
// stale 임시 파일을 정리한다.
func NewFileStore(dir, instanceID string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	// stale tmp 정리: rename 직전에 죽은 프로세스의 잔해.
	// 스냅샷 본체는 건드리지 않는다.
	entries, err := os.ReadDir(dir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if strings.HasSuffix(e.Name(), ".tmp") {
				_ = os.Remove(filepath.Join(dir, e.Name()))
			}
		}
	}

	return &FileStore{dir: dir, instanceID: instanceID}, nil
}

func (s *FileStore) snapshotPath() string {
	return filepath.Join(s.dir, snapshotName)
}

// nextTmpName
// ------------------------------------------------------------
// 원자적 증가 값으로 여러 goroutine에서 충돌 없이 순차 번호를 생성한다.
// 1,000,000 에서 다시 0으로 돌아가므로 파일명이 지나치게 커지는 것을 방지.
// wrap-around 되어도 timestamp·instance ID 조합으로
// 전체 파일명 충돌 가능성은 사실상 0에 가깝다.
func (s *FileStore) nextTmpName() string {
	c := atomic.AddUint64(&s.counter, 1) % 1_000_000
	return fmt.Sprintf("%d_%s_%06d.tmp", clockcache.Unix(), s.instanceID, c)
}

// SaveSnapshot 은 gzip 압축 후 tmp 파일 → rename 으로 교체한다.
func (s *FileStore) SaveSnapshot(data []byte) error {
	buf := pool.BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer pool.PutBuffer(buf)

	gz := pool.GzipPool.Get().(*gzip.Writer)
	gz.Reset(buf)

	if _, err := gz.Write(data); err != nil {
		_ = gz.Close()
		pool.GzipPool.Put(gz)
		return err
	}
	// Close() 시 압축 스트림이 완성됨.
	if err := gz.Close(); err != nil {
		pool.GzipPool.Put(gz)
		return err
	}
	pool.GzipPool.Put(gz)

	tmpPath := filepath.Join(s.dir, s.nextTmpName())
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return err
	}

	// 같은 파일시스템 내 rename 은 원자적이다. 읽는 쪽은
	// 교체 전 파일 또는 교체 후 파일만 본다.
	if err := os.Rename(tmpPath, s.snapshotPath()); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// LoadSnapshot 은 스냅샷을 읽어 gzip 을 풀어 반환한다.
// 파일이 없으면 ok=false (첫 실행). 깨진 파일은 에러로 보고하고
// 호출자가 빈 큐로 기동한다.
func (s *FileStore) LoadSnapshot() ([]byte, bool, error) {
	f, err := os.Open(s.snapshotPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, false, err
	}
	defer gz.Close()

	data, err := io.ReadAll(gz)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// MemStore 는 테스트용 in-memory Store 이다.
type MemStore struct {
	data []byte
	ok   bool

	// FailSaves 가 true 면 SaveSnapshot 이 항상 실패한다.
	// 스냅샷 실패가 큐 동작을 막지 않는지 검증할 때 사용.
	FailSaves bool
}

func (m *MemStore) SaveSnapshot(data []byte) error {
	if m.FailSaves {
		return fmt.Errorf("store: save disabled")
	}
	m.data = append([]byte(nil), data...)
	m.ok = true
	return nil
}

func (m *MemStore) LoadSnapshot() ([]byte, bool, error) {
	if !m.ok {
		return nil, false, nil
	}
	return append([]byte(nil), m.data...), true, nil
}
