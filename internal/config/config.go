// internal/config/config.go
package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"strconv"
	"time"
)

// NoStringValue
//
// "값이 설정되지 않음"을 나타내는 sentinel 문자열.
// 세션ID / 번들토큰 / 디바이스토큰 / SDK 키 등
// 서버에서 아직 받지 못한 모든 identity 값의 초기 상태로 사용된다.
// 빈 문자열("")과 구분하는 이유: 스냅샷 복원 시
// "한 번도 설정 안 됨"과 "빈 값이 설정됨"을 다르게 다뤄야 하기 때문.
const NoStringValue = "ld_no_value"

// SDKVersion 은 모든 outbound 요청에 첨부되는 버전 태그이다.
// GET 은 query string, POST 는 body 의 "sdk" 필드로 나간다.
const SDKVersion = "go/1.0.0"

// Config
//
// 디스패치 엔진 실행에 필요한 모든 설정 값을 보관하는 구조체.
// 모든 값은 프로세스 시작 시점에 Load() 에 의해 초기화되며,
// 이후에는 변경되지 않는 불변(read-only) 설정들이다.
// 테스트에서는 Load() 대신 struct literal 로 직접 구성한다.
type Config struct {

	// ---------------------------
	// 백엔드 연결
	// ---------------------------

	BaseURL string // attribution 백엔드 base URL (예: https://api.example.io)
	SDKKey  string // 발급받은 SDK 키. 미설정 시 NoStringValue → 요청은 -1234 로 즉시 실패

	// ---------------------------
	// 서비스 식별자
	// ---------------------------

	ServiceName string // 로그 공통 태그 (예: linkdispatch)
	InstanceID  string // 프로세스 고유 ID (호스트명 기반, 실패 시 랜덤 hex)

	// ---------------------------
	// 요청 처리 파라미터
	// --------------------------------------------
	// Retry 정책 단일화
	// --------------------------------------------
	// http.Client 자체 재시도와 엔진 레벨 retry 가 겹치면
	// 예측 불가능한 처리 지연이 발생한다.
	// → "재시도 횟수"는 오직 엔진 레벨(RetryMax)만 사용한다.
	// → transport 는 시도당 1회 호출 + HTTPTimeout 만 책임진다.
	// --------------------------------------------

	HTTPTimeout time.Duration // 각 네트워크 시도당 timeout
	RetryMax    int           // 재시도 가능한 실패(5xx, 연결 불가)의 최대 재시도 횟수

	// ---------------------------
	// 큐 스냅샷 (로컬 영속화)
	// ---------------------------

	SnapshotDir string // 큐 스냅샷이 저장되는 로컬 디렉토리 경로

	// ---------------------------
	// 정책
	// ---------------------------

	TrackingDisabled bool // true 면 tracking 이 필요한 요청을 전부 거부

	// ---------------------------
	// 로깅
	// ---------------------------

	LogLevel   string // zerolog 레벨 문자열 (debug/info/warn/error)
	LogPretty  bool   // true: 개발용 콘솔 출력 / false: 운영용 JSON
	LogSampleN uint32 // Debug/Info 샘플링 N (1 이하이면 샘플링 없음)
}

// Load
//
// 환경 변수 기반으로 Config 값을 초기화한다.
// 필수 env 가 비어있으면 즉시 프로세스를 종료(fail-fast).
// SDK_KEY 는 예외적으로 optional 이다: 키 미설정은 런타임에
// NO_API_KEY(-1234) 경로로 흘러야 하는 정상적인 실패 모드이기 때문.
func Load() Config {
	return Config{
		BaseURL: must("BASE_URL"),
		SDKKey:  opt("SDK_KEY", NoStringValue),

		ServiceName: opt("SERVICE_NAME", "linkdispatch"),
		InstanceID:  fallbackInstanceID(),

		HTTPTimeout: mustDur("HTTP_TIMEOUT"),
		RetryMax:    mustInt("RETRY_MAX"),

		SnapshotDir: must("SNAPSHOT_DIR"),

		TrackingDisabled: optBool("TRACKING_DISABLED", false),

		LogLevel:   opt("LOG_LEVEL", "info"),
		LogPretty:  optBool("LOG_PRETTY", false),
		LogSampleN: uint32(optInt("LOG_SAMPLE_N", 1)),
	}
}

// must / mustInt / mustDur
//
// 공통 패턴.
// 필수 환경변수가 없거나 형식이 잘못되면 즉시 로그 출력 후 종료(fail-fast).
// 런타임 중 설정 오류를 겪지 않도록 하기 위한 보호 전략.
func must(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("missing required env: %s", key)
	}
	return v
}

func mustInt(key string) int {
	v := must(key)
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid int env %s=%q: %v", key, v, err)
	}
	return n
}

func mustDur(key string) time.Duration {
	v := must(key)
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("invalid duration env %s=%q: %v", key, v, err)
	}
	return d
}

// opt / optBool / optInt
//
// 선택적 환경변수. 없으면 기본값, 형식이 잘못되면 fail-fast.
func opt(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func optBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Fatalf("invalid bool env %s=%q: %v", key, v, err)
	}
	return b
}

func optInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid int env %s=%q: %v", key, v, err)
	}
	return n
}

// fallbackInstanceID
//
// 이 엔진 인스턴스를 식별하는 고유 값.
//   - 기본: hostname
//   - fallback: 12자리 랜덤 hex
func fallbackInstanceID() string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	// 랜덤 6바이트 → 12자리 hex
	var b [6]byte
	if _, err := rand.Read(b[:]); err == nil {
		return hex.EncodeToString(b[:])
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
