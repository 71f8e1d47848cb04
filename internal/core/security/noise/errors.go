package noise

import "errors"

var (
	// ErrInvalidHandshake 握手失败
	ErrInvalidHandshake = errors.New("noise: invalid handshake")

	// ErrInvalidSignature 静态公钥未被身份密钥签名
	ErrInvalidSignature = errors.New("noise: invalid identity signature")

	// ErrPeerIDMismatch 对端身份与期望不符
	ErrPeerIDMismatch = errors.New("noise: peer ID mismatch")
)
