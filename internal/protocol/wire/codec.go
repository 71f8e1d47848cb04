package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-floodnet/pkg/types"
)

// 预定义错误
var (
	// ErrFrameTooLarge 帧过大
	ErrFrameTooLarge = errors.New("wire: frame too large")

	// ErrUnknownFrameType 未知帧类型
	ErrUnknownFrameType = errors.New("wire: unknown frame type")

	// ErrMissingField 缺少必需字段
	ErrMissingField = errors.New("wire: missing required field")
)

// 字段编号
const (
	frameType      protowire.Number = 1
	frameRequestID protowire.Number = 2
	frameTarget    protowire.Number = 3
	framePeers     protowire.Number = 4
	frameEnvelope  protowire.Number = 5
	frameSelf      protowire.Number = 6

	peerID    protowire.Number = 1
	peerAddrs protowire.Number = 2

	envID      protowire.Number = 1
	envOrigin  protowire.Number = 2
	envSeq     protowire.Number = 3
	envTopic   protowire.Number = 4
	envPayload protowire.Number = 5
)

// ============================================================================
//                              编码
// ============================================================================

// Encode 编码帧
func Encode(f *Frame) ([]byte, error) {
	if f.Type < FrameHello || f.Type > FramePong {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFrameType, f.Type)
	}

	var b []byte
	b = protowire.AppendTag(b, frameType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Type))
	if f.RequestID != 0 {
		b = protowire.AppendTag(b, frameRequestID, protowire.VarintType)
		b = protowire.AppendVarint(b, f.RequestID)
	}
	if !f.Target.IsEmpty() {
		b = protowire.AppendTag(b, frameTarget, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Target[:])
	}
	for _, p := range f.Peers {
		b = protowire.AppendTag(b, framePeers, protowire.BytesType)
		b = protowire.AppendBytes(b, appendPeerInfo(nil, p))
	}
	if f.Envelope != nil {
		b = protowire.AppendTag(b, frameEnvelope, protowire.BytesType)
		b = protowire.AppendBytes(b, appendEnvelope(nil, f.Envelope))
	}
	if f.Self != nil {
		b = protowire.AppendTag(b, frameSelf, protowire.BytesType)
		b = protowire.AppendBytes(b, appendPeerInfo(nil, *f.Self))
	}

	if len(b) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	return b, nil
}

func appendPeerInfo(b []byte, p types.PeerInfo) []byte {
	b = protowire.AppendTag(b, peerID, protowire.BytesType)
	b = protowire.AppendBytes(b, p.ID[:])
	for _, a := range p.Addrs {
		b = protowire.AppendTag(b, peerAddrs, protowire.BytesType)
		b = protowire.AppendString(b, a)
	}
	return b
}

func appendEnvelope(b []byte, e *types.Envelope) []byte {
	b = protowire.AppendTag(b, envID, protowire.BytesType)
	b = protowire.AppendBytes(b, e.ID[:])
	b = protowire.AppendTag(b, envOrigin, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Origin[:])
	b = protowire.AppendTag(b, envSeq, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Seq)
	b = protowire.AppendTag(b, envTopic, protowire.BytesType)
	b = protowire.AppendString(b, e.Topic)
	b = protowire.AppendTag(b, envPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Payload)
	return b
}

// ============================================================================
//                              解码
// ============================================================================

// Decode 解码帧
//
// 未知字段被跳过，便于协议演进。
func Decode(data []byte) (*Frame, error) {
	if len(data) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	f := &Frame{}
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == frameType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			f.Type = FrameType(v)
			return n, nil
		case num == frameRequestID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			f.RequestID = v
			return n, nil
		case num == frameTarget && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			id, err := types.NodeIDFromBytes(v)
			if err != nil {
				return 0, fmt.Errorf("wire: target: %w", err)
			}
			f.Target = id
			return n, nil
		case num == framePeers && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			p, err := decodePeerInfo(v)
			if err != nil {
				return 0, err
			}
			f.Peers = append(f.Peers, p)
			return n, nil
		case num == frameEnvelope && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			e, err := decodeEnvelope(v)
			if err != nil {
				return 0, err
			}
			f.Envelope = e
			return n, nil
		case num == frameSelf && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			p, err := decodePeerInfo(v)
			if err != nil {
				return 0, err
			}
			f.Self = &p
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	if err != nil {
		return nil, err
	}

	return f, validate(f)
}

// validate 检查各帧类型的必需字段
func validate(f *Frame) error {
	switch f.Type {
	case FrameHello:
		if f.Self == nil {
			return fmt.Errorf("%w: hello.self", ErrMissingField)
		}
	case FrameFindPeers:
		if f.Target.IsEmpty() {
			return fmt.Errorf("%w: find_peers.target", ErrMissingField)
		}
	case FramePubSub:
		if f.Envelope == nil {
			return fmt.Errorf("%w: pubsub.envelope", ErrMissingField)
		}
	case FrameFindPeersResponse, FramePing, FramePong:
	default:
		return fmt.Errorf("%w: %d", ErrUnknownFrameType, f.Type)
	}
	return nil
}

func decodePeerInfo(data []byte) (types.PeerInfo, error) {
	var p types.PeerInfo
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == peerID && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			id, err := types.NodeIDFromBytes(v)
			if err != nil {
				return 0, fmt.Errorf("wire: peer id: %w", err)
			}
			p.ID = id
			return n, nil
		case num == peerAddrs && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n >= 0 {
				p.Addrs = append(p.Addrs, v)
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return p, err
}

func decodeEnvelope(data []byte) (*types.Envelope, error) {
	e := &types.Envelope{}
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == envID && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			id, err := types.MessageIDFromBytes(v)
			if err != nil {
				return 0, fmt.Errorf("wire: envelope id: %w", err)
			}
			e.ID = id
			return n, nil
		case num == envOrigin && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			id, err := types.NodeIDFromBytes(v)
			if err != nil {
				return 0, fmt.Errorf("wire: envelope origin: %w", err)
			}
			e.Origin = id
			return n, nil
		case num == envSeq && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			e.Seq = v
			return n, nil
		case num == envTopic && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			e.Topic = v
			return n, nil
		case num == envPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n >= 0 {
				e.Payload = append([]byte(nil), v...)
			}
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, b), nil
	})
	return e, err
}

// walk 逐字段遍历 protobuf 消息
//
// fn 返回消费的字节数；负数表示解析错误。
func walk(data []byte, fn func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("wire: %w", protowire.ParseError(n))
		}
		data = data[n:]

		m, err := fn(num, typ, data)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("wire: %w", protowire.ParseError(m))
		}
		data = data[m:]
	}
	return nil
}
