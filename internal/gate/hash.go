package gate

import (
	"encoding/binary"
	"math/big"

	"github.com/cespare/xxhash/v2"
)

// hasher は条件フィールドを正規化したバイト列からハッシュを計算する。
// 可変長フィールドは長さを前置して連結の曖昧さをなくす。
type hasher struct {
	d *xxhash.Digest
}

func newHasher(kind string) *hasher {
	h := &hasher{d: xxhash.New()}
	h.bytes([]byte(kind))
	return h
}

func (h *hasher) bytes(b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	_, _ = h.d.Write(n[:])
	_, _ = h.d.Write(b)
}

func (h *hasher) uint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, _ = h.d.Write(b[:])
}

func (h *hasher) bigInt(v *big.Int) {
	h.bytes(v.Bytes())
}

func (h *hasher) sum() uint64 {
	return h.d.Sum64()
}
