// Package types 定义 floodnet 的基础类型
//
// 这是整个系统的最底层包，不依赖任何其他内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
package types

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"

	mh "github.com/multiformats/go-multihash"
)

// ============================================================================
//                              NodeID - 节点标识
// ============================================================================

// NodeIDSize NodeID 字节长度
const NodeIDSize = 32

// NodeID 节点唯一标识符
//
// 由 Ed25519 公钥的 SHA-256 哈希派生，同时作为 Kademlia XOR 度量空间中的坐标。
//
// 外部表示格式：
//   - String(): sha2-256 multihash 的 Base58 编码（"Qm..."），可直接作为 /p2p/ 地址组件
//   - ShortString(): 去掉固定前缀 "Qm" 后的 8 个字符（日志简短标识）
type NodeID [NodeIDSize]byte

// EmptyNodeID 空节点ID
var EmptyNodeID NodeID

// ErrInvalidNodeID 无效的节点ID错误
var ErrInvalidNodeID = errors.New("invalid node ID: must be a Base58 sha2-256 multihash")

// Multihash 返回 NodeID 的 sha2-256 multihash 编码
func (id NodeID) Multihash() mh.Multihash {
	// 摘要长度固定为 32，Encode 不会失败
	b, _ := mh.Encode(id[:], mh.SHA2_256)
	return mh.Multihash(b)
}

// String 返回 NodeID 的 Base58 multihash 字符串表示
func (id NodeID) String() string {
	if id.IsEmpty() {
		return ""
	}
	return id.Multihash().B58String()
}

// ShortString 返回 NodeID 的短字符串表示
func (id NodeID) ShortString() string {
	s := id.String()
	if len(s) > 10 {
		return s[2:10]
	}
	return s
}

// Bytes 返回 NodeID 的字节切片
func (id NodeID) Bytes() []byte {
	return id[:]
}

// IsEmpty 检查 NodeID 是否为空
func (id NodeID) IsEmpty() bool {
	return id == EmptyNodeID
}

// Less 按字节序比较，用于确定性的决胜规则
func (id NodeID) Less(other NodeID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// NodeIDFromBytes 从字节切片创建 NodeID
func NodeIDFromBytes(b []byte) (NodeID, error) {
	if len(b) != NodeIDSize {
		return EmptyNodeID, ErrInvalidNodeID
	}
	var id NodeID
	copy(id[:], b)
	return id, nil
}

// ParseNodeID 从 Base58 multihash 字符串解析 NodeID
func ParseNodeID(s string) (NodeID, error) {
	if s == "" {
		return EmptyNodeID, ErrInvalidNodeID
	}
	m, err := mh.FromB58String(s)
	if err != nil {
		return EmptyNodeID, ErrInvalidNodeID
	}
	return NodeIDFromMultihash(m)
}

// NodeIDFromMultihash 从 sha2-256 multihash 解析 NodeID
func NodeIDFromMultihash(m []byte) (NodeID, error) {
	dec, err := mh.Decode(m)
	if err != nil || dec.Code != mh.SHA2_256 {
		return EmptyNodeID, ErrInvalidNodeID
	}
	return NodeIDFromBytes(dec.Digest)
}

// NodeIDFromPublicKey 从 Ed25519 公钥派生 NodeID
func NodeIDFromPublicKey(pub ed25519.PublicKey) NodeID {
	return NodeID(sha256.Sum256(pub))
}

// RandomNodeID 生成随机 NodeID（用于路由表刷新查询）
func RandomNodeID() NodeID {
	var id NodeID
	_, _ = rand.Read(id[:])
	return id
}
