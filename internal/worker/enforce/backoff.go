package enforce

import "time"

const (
	// initialBackoff は指数バックオフの初回遅延（30分）。
	initialBackoff = 30 * time.Minute
	// maxBackoff は指数バックオフの最大遅延（12時間）。
	maxBackoff = 12 * time.Hour
)

// guildState はギルドごとの連続失敗の状態。
type guildState struct {
	consecutiveErrors int
	nextAttempt       time.Time
}

// CalculateBackoff は連続エラー回数に基づいて指数バックオフ遅延を計算する。
// 初回30分、2倍ずつ増加、最大12時間。
func CalculateBackoff(consecutiveErrors int) time.Duration {
	delay := initialBackoff
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > maxBackoff {
			return maxBackoff
		}
	}
	return delay
}

// due はバックオフ中でないギルドを返す。
// 一覧から消えたギルドの状態は破棄する。
func (s *Scheduler) due(guilds []uint64, now time.Time) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	listed := make(map[uint64]struct{}, len(guilds))
	out := make([]uint64, 0, len(guilds))
	for _, id := range guilds {
		listed[id] = struct{}{}
		if st, ok := s.state[id]; ok && now.Before(st.nextAttempt) {
			continue
		}
		out = append(out, id)
	}
	for id := range s.state {
		if _, ok := listed[id]; !ok {
			delete(s.state, id)
		}
	}
	return out
}

// fail は失敗を記録し、次の試行までの遅延を返す。
func (s *Scheduler) fail(guildID uint64) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state[guildID]
	if !ok {
		st = &guildState{}
		s.state[guildID] = st
	}
	delay := CalculateBackoff(st.consecutiveErrors)
	st.consecutiveErrors++
	st.nextAttempt = s.now().Add(delay)
	return delay
}

// succeed は成功したギルドのバックオフ状態をリセットする。
func (s *Scheduler) succeed(guildID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state, guildID)
}
