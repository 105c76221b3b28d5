// internal/transport/transport.go
package transport

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"strings"

	"linkdispatch/internal/config"
	"linkdispatch/internal/pool"

	json "github.com/goccy/go-json"
)

// SDK 내부 sentinel status code.
// HTTP status 와 겹치지 않도록 음수 대역을 사용한다.
const (
	// StatusNoConnectivity: DNS 실패/소켓 연결 불가 등
	// status code 조차 받지 못한 네트워크 레벨 실패.
	StatusNoConnectivity = -1009

	// StatusNoAPIKey: SDK 키 미설정 상태의 요청.
	// 설정 오류이므로 네트워크 시도 없이 즉시 반환된다.
	StatusNoAPIKey = -1234
)

// Response 는 transport 가 엔진에 돌려주는 유일한 결과 형태이다.
// transport 내부에서 어떤 일이 일어나든(연결 실패, 파싱 실패)
// error 로 탈출하지 않고 전부 이 형태로 분류되어 돌아온다.
type Response struct {
	StatusCode int

	// Body 는 파싱된 JSON object. 비어있거나 object 가 아니거나
	// 파싱 불가능하면 nil 이다.
	Body map[string]any
}

// FailReason 은 호출자 실패 콜백에 전달할 사람이 읽을 수 있는
// 사유 문자열을 뽑아낸다. 서버가 {"error":{"message":...}} 형태로
// 내려주면 그 메시지를, 아니면 status 텍스트를 사용한다.
func (r *Response) FailReason() string {
	if r.Body != nil {
		if e, ok := r.Body["error"].(map[string]any); ok {
			if msg, ok := e["message"].(string); ok && msg != "" {
				return msg
			}
		}
		if msg, ok := r.Body["message"].(string); ok && msg != "" {
			return msg
		}
	}
	if r.StatusCode == StatusNoConnectivity {
		return "no connectivity"
	}
	if r.StatusCode == StatusNoAPIKey {
		return "no api key"
	}
	if t := http.StatusText(r.StatusCode); t != "" {
		return t
	}
	return "unknown error"
}

// Transport 는 외부 협력자인 raw HTTP 전송 계층이다.
// 테스트에서는 이 인터페이스의 fake 구현으로 엔진을 격리한다.
type Transport interface {
	Get(ctx context.Context, url string) *Response
	Post(ctx context.Context, url string, body map[string]any) *Response
}

// HTTP
// ------------------------------------------------------------
// net/http 기반 기본 Transport 구현.
//
//   - GET: query string 에 sdk 버전 부착
//   - POST: UTF-8 JSON body + Content-Type: application/json,
//     body 에 "sdk" 필드 주입, 키 미설정 시 -1234 즉시 반환
//   - 시도당 timeout 은 HTTPTimeout (재시도는 엔진 소관)
//
// 연결 레벨 실패(-1009)와 body 파싱 실패(status 유지, Body=nil)를
// 구분해서 돌려준다.
// ------------------------------------------------------------
type HTTP struct {
	cfg    config.Config
	client *http.Client
}

func NewHTTP(cfg config.Config) *HTTP {
	return &HTTP{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.HTTPTimeout,
		},
	}
}

func (t *HTTP) Get(ctx context.Context, url string) *Response {
	// 모든 outbound GET 에 sdk 버전을 부착한다.
	if strings.ContainsRune(url, '?') {
		url += "&sdk=" + config.SDKVersion
	} else {
		url += "?sdk=" + config.SDKVersion
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Printf("[WARN] transport: bad GET url %q: %v", url, err)
		return &Response{StatusCode: http.StatusInternalServerError}
	}

	resp, err := t.client.Do(req)
	if err != nil {
		// status 를 받지 못한 실패는 전부 연결 불가로 분류한다.
		log.Printf("[WARN] transport: GET %s: %v", url, err)
		return &Response{StatusCode: StatusNoConnectivity}
	}
	defer resp.Body.Close()

	return readBody(resp)
}

func (t *HTTP) Post(ctx context.Context, url string, body map[string]any) *Response {
	// 키 미설정은 설정 오류: 네트워크 시도 없이 즉시 실패.
	if t.cfg.SDKKey == config.NoStringValue {
		return &Response{StatusCode: StatusNoAPIKey}
	}

	if body == nil {
		body = map[string]any{}
	}
	// 모든 outbound POST body 에 sdk 버전을 부착한다.
	body["sdk"] = config.SDKVersion

	payload, err := json.Marshal(body)
	if err != nil {
		log.Printf("[WARN] transport: POST body marshal: %v", err)
		return &Response{StatusCode: http.StatusInternalServerError}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		log.Printf("[WARN] transport: bad POST url %q: %v", url, err)
		return &Response{StatusCode: http.StatusInternalServerError}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		log.Printf("[WARN] transport: POST %s: %v", url, err)
		return &Response{StatusCode: StatusNoConnectivity}
	}
	defer resp.Body.Close()

	return readBody(resp)
}

// readBody 는 응답 body 를 JSON object 로 파싱한다.
// 파싱 불가능하면 Body=nil 로 두고 status 는 그대로 전달한다
// (파싱 실패의 처리 방침은 엔진이 결정한다).
func readBody(resp *http.Response) *Response {
	out := &Response{StatusCode: resp.StatusCode}

	buf := pool.BufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer pool.PutBuffer(buf)

	if _, err := io.Copy(buf, resp.Body); err != nil {
		log.Printf("[WARN] transport: body read: %v", err)
		return out
	}
	if buf.Len() == 0 {
		return out
	}

	var body map[string]any
	if err := json.Unmarshal(buf.Bytes(), &body); err != nil {
		log.Printf("[WARN] transport: body parse: %v", err)
		return out
	}
	out.Body = body
	return out
}
