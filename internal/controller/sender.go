package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrQueueFull はキューが満杯で要求を受け付けられないことを示す。
	ErrQueueFull = errors.New("controller queue is full")
	// ErrClosed はハンドルが解放済み、またはキューが閉じていることを示す。
	ErrClosed = errors.New("controller is closed")
)

// envelope はキュー上の要求。
type envelope struct {
	id       uuid.UUID
	msg      Message
	enqueued time.Time
}

// queue は全ハンドルで共有するキューと参照カウント。
// 最後のハンドルが解放されるとチャネルを閉じ、メッセージループが終了する。
type queue struct {
	ch   chan envelope
	refs atomic.Int64

	mu     sync.RWMutex // closedとチャネルのクローズを送信から保護する
	closed bool
}

func newQueue(size int) *queue {
	q := &queue{ch: make(chan envelope, size)}
	q.refs.Store(1)
	return q
}

func (q *queue) acquire() bool {
	for {
		n := q.refs.Load()
		if n <= 0 {
			return false
		}
		if q.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (q *queue) release() {
	if q.refs.Add(-1) != 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	close(q.ch)
}

// Sender はコントローラへ要求を送るハンドル。
// Cloneで複製し、不要になったらCloseで解放する。
type Sender struct {
	q        *queue
	failFast bool

	mu       sync.Mutex
	released bool
}

// Clone は同じキューを参照する新しいハンドルを返す。
// 解放済みのハンドルから複製した場合、返されるハンドルも解放済みとなる。
func (s *Sender) Clone() *Sender {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released || !s.q.acquire() {
		return &Sender{q: s.q, failFast: s.failFast, released: true}
	}
	return &Sender{q: s.q, failFast: s.failFast}
}

// FailFast は満杯のキューで待たずにErrQueueFullを返す複製ハンドルを返す。
// HTTPハンドラーなど、待たせるより即座に断るべき呼び出し元で使う。
func (s *Sender) FailFast() *Sender {
	c := s.Clone()
	c.failFast = true
	return c
}

// Close はハンドルを解放する。2回目以降の呼び出しは何もしない。
func (s *Sender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return
	}
	s.released = true
	s.q.release()
}

// Send は要求をキューに入れる。キューが満杯の場合はctxが終了するまで待つ。
// FailFastで得たハンドルは待たずにErrQueueFullを返す。
func (s *Sender) Send(ctx context.Context, msg Message) error {
	if s.failFast {
		return s.TrySend(msg)
	}
	if s.isReleased() {
		return ErrClosed
	}
	s.q.mu.RLock()
	defer s.q.mu.RUnlock()
	if s.q.closed {
		return ErrClosed
	}

	select {
	case s.q.ch <- newEnvelope(msg):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySend は要求をキューに入れる。キューが満杯の場合は待たずにErrQueueFullを返す。
func (s *Sender) TrySend(msg Message) error {
	if s.isReleased() {
		return ErrClosed
	}
	s.q.mu.RLock()
	defer s.q.mu.RUnlock()
	if s.q.closed {
		return ErrClosed
	}

	select {
	case s.q.ch <- newEnvelope(msg):
		return nil
	default:
		return ErrQueueFull
	}
}

// Len はキューに滞留している要求数を返す。
func (s *Sender) Len() int {
	return len(s.q.ch)
}

// Cap はキューの容量を返す。
func (s *Sender) Cap() int {
	return cap(s.q.ch)
}

func (s *Sender) isReleased() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.released
}

func newEnvelope(msg Message) envelope {
	return envelope{id: uuid.New(), msg: msg, enqueued: time.Now()}
}
