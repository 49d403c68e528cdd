package evalcache

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultRatePerSecond はリモート取得トークンの補充レート（トークン/秒）。
	DefaultRatePerSecond = 100
	// DefaultPollInterval はキャッシュとレートリミッタの再確認間隔。
	DefaultPollInterval = time.Millisecond
)

// Source はアドミッションの許可元。
type Source string

const (
	// SourceCache はキャッシュヒットによる許可。
	SourceCache Source = "cache"
	// SourceLimiter はレートリミッタのトークン取得による許可。
	SourceLimiter Source = "limiter"
)

// Admission はリモート取得の前にキャッシュヒットまたはトークン取得を待つ。
// どちらも得られない場合はpollIntervalだけ待機して再確認する。
// 複数のゴルーチンから同時に使用できる。
type Admission struct {
	limiter      *rate.Limiter
	pollInterval time.Duration
}

// NewAdmission はAdmissionを生成する。
// perSecondが0以下の場合はDefaultRatePerSecond、pollIntervalが0以下の場合はDefaultPollIntervalを使用する。
// バーストはperSecond（最低1）とする。
func NewAdmission(perSecond float64, pollInterval time.Duration) *Admission {
	if perSecond <= 0 {
		perSecond = DefaultRatePerSecond
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &Admission{
		limiter:      rate.NewLimiter(rate.Limit(perSecond), burst),
		pollInterval: pollInterval,
	}
}

// Acquire はcachedがtrueを返すか、レートリミッタからtokens個のトークンを取得できるまで待つ。
// 戻り値は許可元と待機回数。コンテキストがキャンセルされた場合はエラーを返す。
func (a *Admission) Acquire(ctx context.Context, tokens int, cached func() bool) (Source, int, error) {
	waits := 0
	for {
		if cached != nil && cached() {
			return SourceCache, waits, nil
		}
		if a.limiter.AllowN(time.Now(), tokens) {
			return SourceLimiter, waits, nil
		}

		timer := time.NewTimer(a.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", waits, ctx.Err()
		case <-timer.C:
		}
		waits++
	}
}
