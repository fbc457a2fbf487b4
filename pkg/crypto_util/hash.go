package crypto_util

import (
	"encoding/binary"

	"lukechampine.com/blake3"
)

// BoundedIndex 把任意字节串映射到 [1, bound] 区间内的整数。
// 取 Blake3 摘要前 8 字节 (大端) 对 bound 取模，结果与平台无关。
func BoundedIndex(data []byte, bound uint32) uint32 {
	if bound == 0 {
		return 0
	}
	hash := blake3.Sum256(data)
	n := binary.BigEndian.Uint64(hash[:8])
	return uint32(n%uint64(bound)) + 1
}
