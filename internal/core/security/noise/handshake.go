package noise

import (
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"filippo.io/edwards25519"
	"github.com/flynn/noise"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-floodnet/internal/core/identity"
	"github.com/dep2p/go-floodnet/pkg/types"
)

// payloadSigPrefix 签名 payload 的前缀
const payloadSigPrefix = "noise-libp2p-static-key:"

// payload 字段编号
const (
	payloadIdentityKey protowire.Number = 1
	payloadIdentitySig protowire.Number = 2
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// ============================================================================
//                              Noise XX 握手
// ============================================================================

// performHandshake 执行 Noise XX 握手
//
// expected 非空时校验对端 NodeID。
func performHandshake(conn net.Conn, id *identity.Identity, expected types.NodeID, initiator bool) (*Conn, error) {
	staticKeypair := noise.DHKey{
		Private: ed25519ToCurve25519Private(id.PrivateKey()),
		Public:  ed25519ToCurve25519Public(id.PublicKey()),
	}

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: staticKeypair,
	})
	if err != nil {
		return nil, fmt.Errorf("create handshake state: %w", err)
	}

	localPayload := generateHandshakePayload(id, staticKeypair.Public)

	var sendCS, recvCS *noise.CipherState
	var remotePayload []byte
	if initiator {
		sendCS, recvCS, remotePayload, err = clientHandshake(conn, hs, localPayload)
	} else {
		sendCS, recvCS, remotePayload, err = serverHandshake(conn, hs, localPayload)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHandshake, err)
	}

	remoteStatic := hs.PeerStatic()
	if len(remoteStatic) != 32 {
		return nil, fmt.Errorf("%w: remote static key length %d", ErrInvalidHandshake, len(remoteStatic))
	}

	remotePeer, err := handleRemotePayload(remotePayload, remoteStatic)
	if err != nil {
		return nil, err
	}
	if !expected.IsEmpty() && remotePeer != expected {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrPeerIDMismatch, expected.ShortString(), remotePeer.ShortString())
	}

	return &Conn{
		Conn:       conn,
		sendCS:     sendCS,
		recvCS:     recvCS,
		localPeer:  id.ID(),
		remotePeer: remotePeer,
	}, nil
}

// generateHandshakePayload 生成握手 payload
//
//	1: identity_key  Ed25519 公钥
//	2: identity_sig  Sign("noise-libp2p-static-key:" + curve25519_static_pubkey)
func generateHandshakePayload(id *identity.Identity, curve25519Pub []byte) []byte {
	toSign := append([]byte(payloadSigPrefix), curve25519Pub...)
	sig := id.Sign(toSign)

	var b []byte
	b = protowire.AppendTag(b, payloadIdentityKey, protowire.BytesType)
	b = protowire.AppendBytes(b, id.PublicKey())
	b = protowire.AppendTag(b, payloadIdentitySig, protowire.BytesType)
	b = protowire.AppendBytes(b, sig)
	return b
}

// handleRemotePayload 验证签名并派生对端 NodeID
func handleRemotePayload(data []byte, remoteStatic []byte) (types.NodeID, error) {
	var key, sig []byte
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return types.EmptyNodeID, fmt.Errorf("%w: %v", ErrInvalidHandshake, protowire.ParseError(n))
		}
		data = data[n:]

		if typ == protowire.BytesType && (num == payloadIdentityKey || num == payloadIdentitySig) {
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return types.EmptyNodeID, fmt.Errorf("%w: %v", ErrInvalidHandshake, protowire.ParseError(m))
			}
			if num == payloadIdentityKey {
				key = v
			} else {
				sig = v
			}
			data = data[m:]
			continue
		}

		m := protowire.ConsumeFieldValue(num, typ, data)
		if m < 0 {
			return types.EmptyNodeID, fmt.Errorf("%w: %v", ErrInvalidHandshake, protowire.ParseError(m))
		}
		data = data[m:]
	}

	if len(key) != ed25519.PublicKeySize {
		return types.EmptyNodeID, fmt.Errorf("%w: identity key length %d", ErrInvalidHandshake, len(key))
	}
	toVerify := append([]byte(payloadSigPrefix), remoteStatic...)
	if !identity.Verify(key, toVerify, sig) {
		return types.EmptyNodeID, ErrInvalidSignature
	}
	return types.NodeIDFromPublicKey(key), nil
}

// clientHandshake 客户端握手（发起者）
func clientHandshake(conn net.Conn, hs *noise.HandshakeState, localPayload []byte) (*noise.CipherState, *noise.CipherState, []byte, error) {
	// -> e
	msg1, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("write message 1: %w", err)
	}
	if err := writeFrame(conn, msg1); err != nil {
		return nil, nil, nil, fmt.Errorf("send message 1: %w", err)
	}

	// <- e, ee, s, es, payload
	msg2, err := readFrame(conn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("receive message 2: %w", err)
	}
	remotePayload, _, _, err := hs.ReadMessage(nil, msg2)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read message 2: %w", err)
	}

	// -> s, se, payload
	msg3, cs1, cs2, err := hs.WriteMessage(nil, localPayload)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("write message 3: %w", err)
	}
	if err := writeFrame(conn, msg3); err != nil {
		return nil, nil, nil, fmt.Errorf("send message 3: %w", err)
	}

	// 发起者：cs1 发送，cs2 接收
	return cs1, cs2, remotePayload, nil
}

// serverHandshake 服务器握手（响应者）
func serverHandshake(conn net.Conn, hs *noise.HandshakeState, localPayload []byte) (*noise.CipherState, *noise.CipherState, []byte, error) {
	msg1, err := readFrame(conn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("receive message 1: %w", err)
	}
	if _, _, _, err = hs.ReadMessage(nil, msg1); err != nil {
		return nil, nil, nil, fmt.Errorf("read message 1: %w", err)
	}

	msg2, _, _, err := hs.WriteMessage(nil, localPayload)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("write message 2: %w", err)
	}
	if err := writeFrame(conn, msg2); err != nil {
		return nil, nil, nil, fmt.Errorf("send message 2: %w", err)
	}

	msg3, err := readFrame(conn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("receive message 3: %w", err)
	}
	remotePayload, cs1, cs2, err := hs.ReadMessage(nil, msg3)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read message 3: %w", err)
	}

	// 响应者与发起者相反
	return cs2, cs1, remotePayload, nil
}

// ============================================================================
//                              密钥转换
// ============================================================================

// ed25519ToCurve25519Private 将 Ed25519 私钥转换为 Curve25519 私钥
//
// SHA-512(seed) 的前 32 字节，按 RFC 7748 clamping。
func ed25519ToCurve25519Private(edPriv ed25519.PrivateKey) []byte {
	h := sha512.Sum512(edPriv.Seed())
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	return h[:32]
}

// ed25519ToCurve25519Public 将 Ed25519 公钥转换为 Curve25519 公钥
//
//	u = (1 + y) / (1 - y)  (mod p)
func ed25519ToCurve25519Public(edPub ed25519.PublicKey) []byte {
	point, err := new(edwards25519.Point).SetBytes(edPub)
	if err != nil {
		return make([]byte, 32)
	}
	return point.BytesMontgomery()
}

// ============================================================================
//                              辅助函数
// ============================================================================

// writeFrame 写入帧（2 字节长度 + 数据）
func writeFrame(w io.Writer, data []byte) error {
	buf := make([]byte, 2+len(data))
	binary.BigEndian.PutUint16(buf, uint16(len(data)))
	copy(buf[2:], data)
	_, err := w.Write(buf)
	return err
}

// readFrame 读取帧（2 字节长度 + 数据）
func readFrame(r io.Reader) ([]byte, error) {
	lenBuf := make([]byte, 2)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint16(lenBuf)
	if length == 0 {
		return nil, nil
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
