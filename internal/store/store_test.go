// internal/store/store_test.go
package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileStoreFirstRun(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), "test")
	assert.NoError(t, err)

	// 스냅샷이 없는 첫 실행은 에러가 아니다.
	data, ok, err := s.LoadSnapshot()
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)
}

func TestFileStoreRoundTrip(t *testing.T) {
	s, err := NewFileStore(t.TempDir(), "test")
	assert.NoError(t, err)

	want := []byte(`[{"id":"a"},{"id":"b"}]`)
	assert.NoError(t, s.SaveSnapshot(want))

	got, ok, err := s.LoadSnapshot()
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	// 덮어쓰기: 항상 마지막 스냅샷만 남는다.
	want2 := []byte(`[]`)
	assert.NoError(t, s.SaveSnapshot(want2))

	got, ok, err = s.LoadSnapshot()
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want2, got)
}

func TestFileStoreLeavesNoTmpFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, "test")
	assert.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.NoError(t, s.SaveSnapshot([]byte(`[]`)))
	}

	entries, err := os.ReadDir(dir)
	assert.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestFileStoreCleansStaleTmpOnStart(t *testing.T) {
	dir := t.TempDir()

	// rename 직전에 죽은 프로세스의 잔해를 흉내낸다.
	stale := filepath.Join(dir, "1700000000_old_000001.tmp")
	assert.NoError(t, os.WriteFile(stale, []byte("partial"), 0o600))

	s, err := NewFileStore(dir, "test")
	assert.NoError(t, err)

	_, statErr := os.Stat(stale)
	assert.True(t, os.IsNotExist(statErr), "stale tmp 는 기동 시 정리되어야 한다")

	// 본체 동작에는 영향이 없다.
	assert.NoError(t, s.SaveSnapshot([]byte(`[]`)))
}

func TestFileStoreKeepsSnapshotAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	s1, err := NewFileStore(dir, "one")
	assert.NoError(t, err)
	assert.NoError(t, s1.SaveSnapshot([]byte(`[{"id":"x"}]`)))

	// 같은 디렉토리로 재기동한 새 인스턴스가 이전 스냅샷을 본다.
	s2, err := NewFileStore(dir, "two")
	assert.NoError(t, err)

	got, ok, err := s2.LoadSnapshot()
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`[{"id":"x"}]`), got)
}

func TestMemStoreFailSaves(t *testing.T) {
	m := &MemStore{FailSaves: true}
	assert.Error(t, m.SaveSnapshot([]byte(`[]`)))

	_, ok, err := m.LoadSnapshot()
	assert.NoError(t, err)
	assert.False(t, ok)
}
