// internal/session/linkcache.go
package session

import "sync"

// DefaultLinkCacheSize 는 캐시가 보유하는 최대 항목 수이다.
// 동일 payload 의 재호출을 막는 것이 목적이므로 크게 잡을 이유가 없다.
const DefaultLinkCacheSize = 100

// LinkCache
// ------------------------------------------------------------
// canonical link-creation payload → 발급된 short URL 의 bounded memo.
//
// 무효화 invariant: randomizedBundleToken 이 바뀌거나 로그아웃하면
// 전체를 비운다. identity 경계를 넘어 이전 사용자의 링크가
// 서빙되는 일이 절대 없어야 한다.
//
// 용량 초과 시 삽입 순서가 가장 오래된 항목부터 밀어낸다.
// ------------------------------------------------------------
type LinkCache struct {
	mu      sync.Mutex
	max     int
	entries map[string]string
	order   []string // 삽입 순서. eviction 판단용
}

func NewLinkCache(max int) *LinkCache {
	if max <= 0 {
		max = DefaultLinkCacheSize
	}
	return &LinkCache{
		max:     max,
		entries: make(map[string]string),
	}
}

// Get 은 canonical key 에 캐시된 URL 을 반환한다.
func (c *LinkCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	url, ok := c.entries[key]
	return url, ok
}

// Put 은 매핑을 기록한다. 용량 초과 시 가장 오래된 항목을 제거한다.
func (c *LinkCache) Put(key, url string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		for len(c.order) >= c.max {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = url
}

// Clear 는 캐시 전체를 비운다.
func (c *LinkCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]string)
	c.order = nil
}

// Len 은 현재 항목 수를 반환한다.
func (c *LinkCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
