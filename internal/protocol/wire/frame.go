// Package wire 定义节点间协议帧及其编解码
//
// 每个帧作为传输层的一条消息发送，使用 protobuf 线格式编码：
//
//	Frame {
//	  1: type        varint
//	  2: request_id  varint
//	  3: target      bytes      (FIND_PEERS)
//	  4: peers       repeated PeerInfo (FIND_PEERS_RESPONSE)
//	  5: envelope    Envelope   (PUBSUB)
//	  6: self        PeerInfo   (HELLO)
//	}
//	PeerInfo { 1: id bytes, 2: addrs repeated string }
//	Envelope { 1: id bytes, 2: origin bytes, 3: seq varint, 4: topic string, 5: payload bytes }
package wire

import (
	"github.com/dep2p/go-floodnet/pkg/types"
)

// MaxFrameSize 单帧最大字节数
const MaxFrameSize = 4 << 20

// ============================================================================
//                              帧类型
// ============================================================================

// FrameType 帧类型鉴别符
type FrameType uint8

const (
	// FrameHello 身份交换（ID + 监听地址）
	FrameHello FrameType = iota + 1
	// FrameFindPeers 查找目标附近的节点
	FrameFindPeers
	// FrameFindPeersResponse FIND_PEERS 响应
	FrameFindPeersResponse
	// FramePubSub PubSub 消息（发布或转发）
	FramePubSub
	// FramePing 存活检测
	FramePing
	// FramePong PING 响应
	FramePong
)

// String 返回帧类型的字符串表示
func (t FrameType) String() string {
	switch t {
	case FrameHello:
		return "HELLO"
	case FrameFindPeers:
		return "FIND_PEERS"
	case FrameFindPeersResponse:
		return "FIND_PEERS_RESPONSE"
	case FramePubSub:
		return "PUBSUB"
	case FramePing:
		return "PING"
	case FramePong:
		return "PONG"
	default:
		return "UNKNOWN"
	}
}

// IsDiscovery 是否属于发现协议
func (t FrameType) IsDiscovery() bool {
	switch t {
	case FrameFindPeers, FrameFindPeersResponse, FramePing, FramePong:
		return true
	}
	return false
}

// ============================================================================
//                              帧结构
// ============================================================================

// Frame 协议帧
type Frame struct {
	// Type 帧类型
	Type FrameType

	// RequestID 请求 ID（用于匹配请求和响应）
	RequestID uint64

	// Target 目标节点 ID（FIND_PEERS）
	Target types.NodeID

	// Peers 节点列表（FIND_PEERS_RESPONSE）
	Peers []types.PeerInfo

	// Envelope 消息信封（PUBSUB）
	Envelope *types.Envelope

	// Self 发送者信息（HELLO）
	Self *types.PeerInfo
}

// NewHello 创建 HELLO 帧
func NewHello(self types.PeerInfo) *Frame {
	return &Frame{Type: FrameHello, Self: &self}
}

// NewFindPeers 创建 FIND_PEERS 请求
func NewFindPeers(requestID uint64, target types.NodeID) *Frame {
	return &Frame{Type: FrameFindPeers, RequestID: requestID, Target: target}
}

// NewFindPeersResponse 创建 FIND_PEERS 响应
func NewFindPeersResponse(requestID uint64, peers []types.PeerInfo) *Frame {
	return &Frame{Type: FrameFindPeersResponse, RequestID: requestID, Peers: peers}
}

// NewPubSub 创建 PUBSUB 帧
func NewPubSub(env *types.Envelope) *Frame {
	return &Frame{Type: FramePubSub, Envelope: env}
}

// NewPing 创建 PING 请求
func NewPing(requestID uint64) *Frame {
	return &Frame{Type: FramePing, RequestID: requestID}
}

// NewPong 创建 PONG 响应
func NewPong(requestID uint64) *Frame {
	return &Frame{Type: FramePong, RequestID: requestID}
}
