// internal/logger/log.go
package logger

import (
	"io"
	"os"
	"strings"

	"linkdispatch/internal/config"

	stdlog "log"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Init
//
// 프로세스 시작 시 한 번만 호출되는 로거 초기화 함수입니다.
// Config 설정(환경변수)에 따라 '개발자용 화면' 또는 '운영용 시스템 로그'로
// 자동으로 형태를 바꾸어 설정합니다.
//
// [주요 기능]
//
//  1. 로그 포맷 자동 전환:
//     - 개발 환경 (LOG_PRETTY=true): 알록달록한 텍스트로 출력 (가독성 위주)
//     - 운영 환경 (LOG_PRETTY=false): JSON 포맷으로 출력 (수집/분석 위주)
//
//  2. 공통 필드 자동 추가:
//     - 모든 로그에 "service", "instance" 정보가 자동으로 붙습니다.
//     - 같은 백엔드로 보내는 엔진이 여러 프로세스에 떠 있을 때
//       어느 인스턴스의 큐에서 나온 로그인지 즉시 식별 가능합니다.
//
//  3. 로그 샘플링:
//     - 디스패치 루프는 요청마다 Debug 로그를 남기므로 양이 많습니다.
//     - Debug/Info 레벨은 설정에 따라 일부만 기록하고 버립니다.
//     - Warn/Error(실패 경로)는 절대 버리지 않고 100% 기록합니다.
//
// 사용 예:
//
//	logger.Init(cfg)
//	log.Info().Msg("dispatch engine started")
func Init(cfg config.Config) {

	// -------------------------------------------------------------------
	// 1) 로그 레벨 결정 (최소 출력 기준)
	// -------------------------------------------------------------------
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.LogLevel))); err == nil {
		level = l
	}

	zerolog.SetGlobalLevel(level)

	// -------------------------------------------------------------------
	// 2) 출력 방식 결정 (사람 vs 기계)
	// -------------------------------------------------------------------
	var w io.Writer

	if cfg.LogPretty {
		// [Local 개발 환경]
		// 사람이 눈으로 터미널을 볼 때 편하도록 색상과 정렬을 적용합니다.
		w = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05", // 개발 중엔 날짜 없이 시간만 보여도 충분함
		}
	} else {
		// [Prod 운영 환경]
		// 수집 시스템이 자동으로 분석하기 좋은 '표준 JSON' 포맷을 그대로 내보냅니다.
		w = os.Stdout
	}

	// -------------------------------------------------------------------
	// 3) 기본 Logger 생성 (공통 태그 부착)
	// -------------------------------------------------------------------
	base := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", cfg.ServiceName).
		Str("instance", cfg.InstanceID).
		Logger()

	// -------------------------------------------------------------------
	// 4) 샘플링 설정 (로그 홍수 방지)
	// -------------------------------------------------------------------
	logger := base

	if cfg.LogSampleN > 1 {
		logger = base.Sample(&zerolog.LevelSampler{
			// Debug/Info: 설정된 N값에 따라 확률적으로 기록
			DebugSampler: &zerolog.BasicSampler{N: cfg.LogSampleN},
			InfoSampler:  &zerolog.BasicSampler{N: cfg.LogSampleN},

			// Warn/Error: 샘플링하지 않음 (nil).
			// 요청 실패/드랍은 하나도 빠짐없이 기록해야 원인을 찾을 수 있습니다.
		})
	}

	// -------------------------------------------------------------------
	// 5) 전역 Logger 교체
	// -------------------------------------------------------------------
	zlog.Logger = logger

	// Go 언어의 기본 라이브러리(log.Println 등)를 쓰더라도
	// 우리가 만든 zerolog 설정을 따르도록 연결해줍니다.
	stdlog.SetFlags(0)
	stdlog.SetOutput(zlog.Logger)
}
