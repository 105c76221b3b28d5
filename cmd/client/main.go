package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"linkdispatch/internal/config"
	"linkdispatch/internal/dispatch"
	"linkdispatch/internal/logger"
	"linkdispatch/internal/metrics"
	"linkdispatch/internal/queue"
	"linkdispatch/internal/request"
	"linkdispatch/internal/session"
	"linkdispatch/internal/store"
	"linkdispatch/internal/transport"
)

func main() {

	// ====================================================================
	// Config & Logger & Metrics 초기화
	// ====================================================================
	//
	// - Config: 환경변수 기반으로 로드 (base URL, SDK 키, timeout 등)
	// - Logger: zerolog 전역 설정 (pretty/JSON, 샘플링)
	// - Metrics: 종료 시 덤프되는 내부 카운터 집합
	// ====================================================================
	cfg := config.Load()
	logger.Init(cfg)
	m := metrics.New()

	// ====================================================================
	// Engine 조립 (Store + Queue + Session + LinkCache + Transport)
	// ====================================================================
	//
	// Store 는 프로세스 재시작 간 큐를 이어주는 유일한 연결 고리다.
	// 이전 실행이 보내지 못한 요청이 스냅샷에 남아 있으면
	// 이번 실행의 큐에 그대로 복원되어 먼저 소화된다.
	// ====================================================================
	st, err := store.NewFileStore(cfg.SnapshotDir, cfg.InstanceID)
	if err != nil {
		log.Fatalf("[FATAL] snapshot store init failed: %v", err)
	}

	q := queue.New(st, m)
	state := session.NewState()
	cache := session.NewLinkCache(session.DefaultLinkCacheSize)

	eng := dispatch.New(cfg, m, q, state, cache, transport.NewHTTP(cfg))
	eng.Start()

	// ====================================================================
	// Graceful Shutdown
	// ====================================================================
	//
	// SIGTERM/SIGINT 수신 시:
	//   - 새 디스패치 패스를 멈추고
	//   - 진행 중이던 완료 처리가 끝날 때까지 대기
	//
	// 큐는 write-through 로 이미 디스크에 있으므로 보내지 못한 요청은
	// 다음 실행에서 복원된다.
	// ====================================================================
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	// ====================================================================
	// 스모크 시퀀스
	// ====================================================================
	//
	// 엔진의 대표 경로를 순서대로 밟는다:
	//   1) init session → 동기 accessor 로 identity 확인
	//   2) identify user
	//   3) create link 2회 (두 번째는 캐시에서 서빙되어야 함)
	//   4) custom event
	//   5) logout
	// ====================================================================
	done := make(chan struct{})

	go func() {
		defer close(done)

		eng.InitSession(nil,
			func(body map[string]any, id request.Identity) {
				log.Printf("[INFO] session initialised: session_id=%s", id.SessionID)
			},
			func(status int, reason string) {
				log.Printf("[WARN] session init failed: status=%d reason=%s", status, reason)
			})

		if id, err := eng.IdentitySync(10 * time.Second); err != nil {
			log.Printf("[WARN] identity wait: %v", err)
		} else {
			log.Printf("[INFO] identity: session=%s bundle=%s device=%s",
				id.SessionID, id.RandomizedBundleToken, id.RandomizedDeviceToken)
		}

		eng.Identify("smoke-user",
			func(_ map[string]any, id request.Identity) {
				log.Printf("[INFO] identified: bundle=%s", id.RandomizedBundleToken)
			},
			func(status int, reason string) {
				log.Printf("[WARN] identify failed: status=%d reason=%s", status, reason)
			})

		linkPayload := map[string]any{"alias": "smoke", "channel": "cli"}
		onLink := func(body map[string]any, _ request.Identity) {
			log.Printf("[INFO] link: %v", body[request.KeyURL])
		}
		onLinkErr := func(status int, reason string) {
			log.Printf("[WARN] create link failed: status=%d reason=%s", status, reason)
		}

		eng.CreateLink(linkPayload, onLink, onLinkErr, func() {
			log.Printf("[WARN] create link: duplicate alias")
		})

		// 동일 payload 재호출: transport 를 타지 않고 캐시에서 응답된다.
		time.Sleep(2 * time.Second)
		eng.CreateLink(linkPayload, onLink, onLinkErr, nil)

		eng.TrackEvent("smoke_completed", map[string]any{"source": "cmd/client"},
			nil,
			func(status int, reason string) {
				log.Printf("[WARN] event failed: status=%d reason=%s", status, reason)
			})

		time.Sleep(2 * time.Second)
		eng.Logout(
			func(_ map[string]any, _ request.Identity) {
				log.Printf("[INFO] logged out")
			},
			func(status int, reason string) {
				log.Printf("[WARN] logout failed: status=%d reason=%s", status, reason)
			})

		time.Sleep(2 * time.Second)
	}()

	select {
	case sig := <-sigCh:
		log.Printf("[INFO] shutdown signal received: %v", sig)
	case <-done:
		log.Printf("[INFO] smoke sequence complete")
	}

	eng.Shutdown()

	// 내부 카운터 덤프: 재시도/드랍/캐시 히트가 기대대로인지 눈으로 확인.
	log.Printf("[INFO] metrics:\n%s", m.String())
	log.Println("[INFO] shutdown complete")
}
