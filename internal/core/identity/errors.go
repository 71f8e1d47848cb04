package identity

import "errors"

var (
	// ErrInvalidSeed 种子长度或编码无效
	ErrInvalidSeed = errors.New("identity: seed must be 32 bytes")

	// ErrInvalidPEM 无效的 PEM 数据
	ErrInvalidPEM = errors.New("identity: invalid PEM data")

	// ErrKeyNotFound 密钥文件不存在
	ErrKeyNotFound = errors.New("identity: key not found")
)
