package types

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"

	"github.com/multiformats/go-varint"
)

// ============================================================================
//                              MessageID - 消息标识
// ============================================================================

// MessageID 消息唯一标识，去重缓存的键
type MessageID [sha256.Size]byte

// ErrInvalidMessageID 无效的消息 ID
var ErrInvalidMessageID = errors.New("invalid message ID")

// String 返回十六进制表示
func (id MessageID) String() string {
	return hex.EncodeToString(id[:])
}

// ShortString 返回十六进制前 12 个字符
func (id MessageID) ShortString() string {
	return id.String()[:12]
}

// MessageIDFromBytes 从字节切片创建 MessageID
func MessageIDFromBytes(b []byte) (MessageID, error) {
	var id MessageID
	if len(b) != len(id) {
		return id, ErrInvalidMessageID
	}
	copy(id[:], b)
	return id, nil
}

// ComputeMessageID 计算消息 ID
//
// ID = SHA-256(origin ‖ seq(8 字节大端) ‖ uvarint(len(topic)) ‖ topic ‖ payload)
func ComputeMessageID(origin NodeID, seq uint64, topic string, payload []byte) MessageID {
	h := sha256.New()
	h.Write(origin[:])
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], seq)
	h.Write(seqBuf[:])
	h.Write(varint.ToUvarint(uint64(len(topic))))
	h.Write([]byte(topic))
	h.Write(payload)

	var id MessageID
	copy(id[:], h.Sum(nil))
	return id
}

// ============================================================================
//                              Envelope - 消息信封
// ============================================================================

// Envelope PubSub 消息信封
//
// 创建后不可修改；生命周期受去重缓存保留窗口约束。
type Envelope struct {
	// ID 消息 ID
	ID MessageID

	// Origin 发布者
	Origin NodeID

	// Seq 发布者本地序列号
	Seq uint64

	// Topic 主题
	Topic string

	// Payload 消息内容
	Payload []byte
}

// NewEnvelope 创建消息信封并计算 ID
func NewEnvelope(origin NodeID, seq uint64, topic string, payload []byte) *Envelope {
	return &Envelope{
		ID:      ComputeMessageID(origin, seq, topic, payload),
		Origin:  origin,
		Seq:     seq,
		Topic:   topic,
		Payload: payload,
	}
}

// Verify 检查 ID 是否与内容一致
func (e *Envelope) Verify() bool {
	return e.ID == ComputeMessageID(e.Origin, e.Seq, e.Topic, e.Payload)
}
