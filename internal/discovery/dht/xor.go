package dht

import (
	"bytes"
	"math/bits"

	"github.com/dep2p/go-floodnet/pkg/types"
)

// Distance XOR 距离（大端序，可按字节序直接比较）
type Distance [types.NodeIDSize]byte

// XORDistance 计算两个 NodeID 的 XOR 距离
func XORDistance(a, b types.NodeID) Distance {
	var d Distance
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// Cmp 比较两个距离
//
//	-1 如果 d < other
//	 0 如果 d == other
//	 1 如果 d > other
func (d Distance) Cmp(other Distance) int {
	return bytes.Compare(d[:], other[:])
}

// CompareDistance 比较 a 和 b 到 target 的距离
func CompareDistance(a, b, target types.NodeID) int {
	return XORDistance(a, target).Cmp(XORDistance(b, target))
}

// CommonPrefixLen 计算两个 NodeID 的共同前缀长度（按位计数）
//
// 相同 ID 返回 KeyBits。
func CommonPrefixLen(a, b types.NodeID) int {
	for i := range a {
		if x := a[i] ^ b[i]; x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return KeyBits
}

// BucketIndex 计算 remote 在 local 路由表中的桶索引（0-255）
func BucketIndex(local, remote types.NodeID) int {
	cpl := CommonPrefixLen(local, remote)
	if cpl >= KeyBits {
		return KeyBits - 1
	}
	return cpl
}

// RandomIDInBucket 生成落在 local 第 cpl 号桶中的随机 ID
//
// 前 cpl 位与 local 相同，第 cpl 位相反，其余位随机。
func RandomIDInBucket(local types.NodeID, cpl int) types.NodeID {
	if cpl < 0 || cpl >= KeyBits {
		return types.RandomNodeID()
	}
	id := types.RandomNodeID()
	byteIdx, bitIdx := cpl/8, uint(cpl%8)

	copy(id[:byteIdx], local[:byteIdx])
	// 保留 local 在该字节内的前 bitIdx 位，翻转第 bitIdx 位，其余保持随机
	prefixMask := byte(0xff) << (8 - bitIdx)
	flip := byte(0x80) >> bitIdx
	id[byteIdx] = (local[byteIdx] & prefixMask) | (^local[byteIdx] & flip) | (id[byteIdx] &^ (prefixMask | flip))
	return id
}
