// internal/request/canonical.go
package request

import (
	"sort"
	"strings"

	json "github.com/goccy/go-json"
)

// CanonicalKey
// ------------------------------------------------------------
// link-creation payload 를 캐시 키로 쓸 수 있는 안정적인 문자열로
// 정규화한다. Go map 은 순회 순서가 비결정적이므로 단순 Marshal 결과는
// 캐시 키로 쓸 수 없다. 모든 깊이의 map 키를 정렬해 직렬화한다.
//
// 동일 파라미터의 create-link 가 두 번 들어오면 이 키가 일치해
// 두 번째 호출은 네트워크를 타지 않는다.
func CanonicalKey(payload map[string]any) string {
	var sb strings.Builder
	sb.Grow(128)
	writeCanonical(&sb, payload)
	return sb.String()
}

func writeCanonical(sb *strings.Builder, v any) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			sb.Write(kb)
			sb.WriteByte(':')
			writeCanonical(sb, t[k])
		}
		sb.WriteByte('}')

	case []any:
		sb.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeCanonical(sb, e)
		}
		sb.WriteByte(']')

	default:
		// 스칼라는 표준 직렬화 결과가 곧 정규형이다.
		b, err := json.Marshal(t)
		if err != nil {
			sb.WriteString("null")
			return
		}
		sb.Write(b)
	}
}
