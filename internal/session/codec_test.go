package session

import (
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec()
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func TestCodec_RoundTrip(t *testing.T) {
	c := newTestCodec(t)

	sessions := []Session{
		{UserID: 0, Timestamp: 0},
		{UserID: 1, Timestamp: 1},
		{UserID: 206120378493370368, Timestamp: 1700000000},
		{UserID: ^uint64(0), Timestamp: ^uint64(0)},
	}
	for _, s := range sessions {
		token, err := c.Encode(s)
		if err != nil {
			t.Fatalf("Encode(%+v): %v", s, err)
		}
		got, err := c.Decode(token)
		if err != nil {
			t.Fatalf("Decode(%q): %v", token, err)
		}
		if got != s {
			t.Errorf("Decode(Encode(%+v)) = %+v", s, got)
		}
	}
}

func TestCodec_FreshNoncePerEncoding(t *testing.T) {
	c := newTestCodec(t)
	s := Session{UserID: 7, Timestamp: 1700000000}

	a, _ := c.Encode(s)
	b, _ := c.Encode(s)
	if a == b {
		t.Error("two encodings of the same session produced identical tokens")
	}
	if strings.Count(a, ".") != 1 {
		t.Errorf("token %q must contain exactly one separator", a)
	}
}

func TestCodec_DecodeRejectsInvalidTokens(t *testing.T) {
	c := newTestCodec(t)
	valid, err := c.Encode(Session{UserID: 1, Timestamp: 2})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	nonce, ciphertext, _ := strings.Cut(valid, ".")

	// 末尾1文字を書き換えて認証タグを壊す
	last := ciphertext[len(ciphertext)-1]
	flipped := byte('0')
	if last == '0' {
		flipped = '1'
	}
	tampered := nonce + "." + ciphertext[:len(ciphertext)-1] + string(flipped)

	other := newTestCodec(t)
	foreign, _ := other.Encode(Session{UserID: 1, Timestamp: 2})

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "no separator", token: nonce + ciphertext},
		{name: "three parts", token: valid + ".00"},
		{name: "bad nonce hex", token: "zz." + ciphertext},
		{name: "short nonce", token: "00." + ciphertext},
		{name: "bad ciphertext hex", token: nonce + ".xyz"},
		{name: "tampered ciphertext", token: tampered},
		{name: "different key", token: foreign},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode(tt.token)
			if !errors.Is(err, ErrInvalidSession) {
				t.Errorf("Decode() error = %v, want %v", err, ErrInvalidSession)
			}
		})
	}
}

func TestCodec_DecodeRejectsMalformedPayload(t *testing.T) {
	key := make([]byte, 32)
	c, err := NewCodecWithKey(key)
	if err != nil {
		t.Fatalf("NewCodecWithKey: %v", err)
	}

	nonce := make([]byte, c.aead.NonceSize())
	for _, payload := range []string{"123", "abc:1", "1:abc", ":"} {
		sealed := c.aead.Seal(nil, nonce, []byte(payload), nil)
		token := strings.Repeat("00", len(nonce)) + "." + hex.EncodeToString(sealed)
		if _, err := c.Decode(token); !errors.Is(err, ErrInvalidSession) {
			t.Errorf("payload %q: error = %v, want %v", payload, err, ErrInvalidSession)
		}
	}
}

func TestSession_Expired(t *testing.T) {
	created := time.Unix(1700000000, 0)
	s := New(42, created)

	tests := []struct {
		name    string
		elapsed time.Duration
		want    bool
	}{
		{name: "immediately", elapsed: 0, want: false},
		{name: "59 seconds", elapsed: 59 * time.Second, want: false},
		{name: "60 seconds", elapsed: 60 * time.Second, want: false},
		{name: "61 seconds", elapsed: 61 * time.Second, want: true},
		{name: "one hour", elapsed: time.Hour, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Expired(created.Add(tt.elapsed)); got != tt.want {
				t.Errorf("Expired(+%v) = %v, want %v", tt.elapsed, got, tt.want)
			}
		})
	}
}

func TestNewCodecWithKey_RejectsShortKey(t *testing.T) {
	if _, err := NewCodecWithKey(make([]byte, 16)); err == nil {
		t.Error("expected error for 16-byte key")
	}
}
