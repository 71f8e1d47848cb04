package types

import (
	"crypto/ed25519"
	"strings"
	"testing"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNodeID_StringRoundTrip 测试 Base58 multihash 编解码
func TestNodeID_StringRoundTrip(t *testing.T) {
	id := RandomNodeID()

	s := id.String()
	assert.True(t, strings.HasPrefix(s, "Qm"), s)
	parsed, err := ParseNodeID(s)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.Len(t, id.ShortString(), 8)
	assert.Equal(t, s[2:10], id.ShortString())

	// 字符串形式可直接作为 /p2p/ 组件
	maddr, err := ma.NewMultiaddr("/p2p/" + s)
	require.NoError(t, err)
	v, err := maddr.ValueForProtocol(ma.P_P2P)
	require.NoError(t, err)
	assert.Equal(t, s, v)
}

func TestNodeID_ParseInvalid(t *testing.T) {
	_, err := ParseNodeID("")
	assert.ErrorIs(t, err, ErrInvalidNodeID)

	_, err = ParseNodeID("0OIl")
	assert.ErrorIs(t, err, ErrInvalidNodeID)

	// identity multihash（libp2p Ed25519 PeerID）不是 NodeID
	_, err = ParseNodeID("12D3KooWD3eckifWpRn9wQpMG9R9hX3sD158z7EqHWmweQAJU5SA")
	assert.ErrorIs(t, err, ErrInvalidNodeID)

	_, err = NodeIDFromBytes([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrInvalidNodeID)
}

// TestNodeIDFromPublicKey 测试公钥派生的确定性
func TestNodeIDFromPublicKey(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	a := NodeIDFromPublicKey(pub)
	b := NodeIDFromPublicKey(pub)
	assert.Equal(t, a, b)
	assert.False(t, a.IsEmpty())
}

func TestParsePeerAddr(t *testing.T) {
	id := RandomNodeID()

	t.Run("带身份", func(t *testing.T) {
		info, err := ParsePeerAddr("/ip4/127.0.0.1/tcp/30333/p2p/" + id.String())
		require.NoError(t, err)
		assert.Equal(t, id, info.ID)
		assert.Equal(t, []string{"/ip4/127.0.0.1/tcp/30333"}, info.Addrs)
	})

	t.Run("仅地址", func(t *testing.T) {
		info, err := ParsePeerAddr(" /ip4/127.0.0.1/tcp/30333 ")
		require.NoError(t, err)
		assert.True(t, info.ID.IsEmpty())
		assert.Equal(t, []string{"/ip4/127.0.0.1/tcp/30333"}, info.Addrs)
	})

	t.Run("缺少传输地址", func(t *testing.T) {
		_, err := ParsePeerAddr("/p2p/" + id.String())
		assert.ErrorIs(t, err, ErrInvalidPeerAddr)
	})

	t.Run("身份无效", func(t *testing.T) {
		_, err := ParsePeerAddr("/ip4/127.0.0.1/tcp/1/p2p/not-base58!")
		assert.ErrorIs(t, err, ErrInvalidPeerAddr)
	})

	t.Run("非法 multiaddr", func(t *testing.T) {
		for _, s := range []string{"not a multiaddr", "/ip4/999.1.1.1/tcp/1", "/ip4/1.2.3.4/tcp/notaport", "/memory/a"} {
			_, err := ParsePeerAddr(s)
			assert.ErrorIs(t, err, ErrInvalidPeerAddr, s)
		}
	})

	t.Run("DNS 地址", func(t *testing.T) {
		info, err := ParsePeerAddr("/dnsaddr/bootstrap.libp2p.io/p2p/" + id.String())
		require.NoError(t, err)
		assert.Equal(t, id, info.ID)
		assert.Equal(t, []string{"/dnsaddr/bootstrap.libp2p.io"}, info.Addrs)
	})

	t.Run("格式化往返", func(t *testing.T) {
		s := FormatPeerAddr("/memory/1", id)
		info, err := ParsePeerAddr(s)
		require.NoError(t, err)
		assert.Equal(t, id, info.ID)
		assert.Equal(t, []string{"/memory/1"}, info.Addrs)
	})
}

func TestMergeAddrs(t *testing.T) {
	merged := MergeAddrs([]string{"b", "c"}, []string{"a", "b"})
	assert.Equal(t, []string{"b", "c", "a"}, merged)
	assert.Equal(t, []string{"x"}, MergeAddrs([]string{"x"}, nil))
}

// TestEnvelope_ID 测试消息 ID 覆盖所有字段
func TestEnvelope_ID(t *testing.T) {
	origin := RandomNodeID()
	env := NewEnvelope(origin, 1, "t", []byte("hello"))
	assert.True(t, env.Verify())

	assert.NotEqual(t, env.ID, NewEnvelope(origin, 2, "t", []byte("hello")).ID)
	assert.NotEqual(t, env.ID, NewEnvelope(origin, 1, "u", []byte("hello")).ID)
	assert.NotEqual(t, env.ID, NewEnvelope(RandomNodeID(), 1, "t", []byte("hello")).ID)
	// 主题与内容的边界由长度前缀区分
	assert.NotEqual(t,
		NewEnvelope(origin, 1, "ab", []byte("c")).ID,
		NewEnvelope(origin, 1, "a", []byte("bc")).ID)

	tampered := *env
	tampered.Payload = []byte("other")
	assert.False(t, tampered.Verify())
}
