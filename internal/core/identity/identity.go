package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/dep2p/go-floodnet/pkg/types"
)

// SeedSize 种子字节长度
const SeedSize = ed25519.SeedSize

// ============================================================================
//                              Identity
// ============================================================================

// Identity 节点身份
//
// 创建后不可变，可在多个 goroutine 间共享。
type Identity struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	nodeID     types.NodeID
}

// New 从私钥创建身份
func New(priv ed25519.PrivateKey) (*Identity, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity: invalid private key size %d", len(priv))
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{
		privateKey: priv,
		publicKey:  pub,
		nodeID:     types.NodeIDFromPublicKey(pub),
	}, nil
}

// Generate 随机生成新身份
func Generate() (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate key: %w", err)
	}
	return New(priv)
}

// FromSeed 从 32 字节种子派生身份
//
// 相同的种子总是得到相同的 NodeID。
func FromSeed(seed []byte) (*Identity, error) {
	if len(seed) != SeedSize {
		return nil, ErrInvalidSeed
	}
	return New(ed25519.NewKeyFromSeed(seed))
}

// FromHexSeed 从十六进制种子派生身份
//
// 短于 32 字节的种子在左侧补零，便于在测试和命令行中使用 "01" 这样的短种子。
func FromHexSeed(s string) (*Identity, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) == 0 || len(raw) > SeedSize {
		return nil, ErrInvalidSeed
	}
	seed := make([]byte, SeedSize)
	copy(seed[SeedSize-len(raw):], raw)
	return FromSeed(seed)
}

// ID 返回节点 ID
func (i *Identity) ID() types.NodeID {
	return i.nodeID
}

// PublicKey 返回公钥
func (i *Identity) PublicKey() ed25519.PublicKey {
	return i.publicKey
}

// PrivateKey 返回私钥
func (i *Identity) PrivateKey() ed25519.PrivateKey {
	return i.privateKey
}

// Seed 返回私钥种子
func (i *Identity) Seed() []byte {
	return i.privateKey.Seed()
}

// Sign 签名数据
func (i *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(i.privateKey, data)
}

// Verify 使用公钥验证签名
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}
