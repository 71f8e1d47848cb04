package types

import (
	"errors"
	"fmt"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
)

// p2pComponent 地址中携带节点身份的后缀组件
const p2pComponent = "/p2p/"

// ErrInvalidPeerAddr 无效的节点地址
var ErrInvalidPeerAddr = errors.New("invalid peer address")

// ============================================================================
//                              PeerInfo - 节点信息
// ============================================================================

// PeerInfo 节点信息
//
// 用于发现协议中传递的节点记录，以及引导节点配置。
// ID 可以为空：仅知道地址、尚未完成身份交换的引导节点。
type PeerInfo struct {
	// ID 节点 ID
	ID NodeID

	// Addrs 传输地址列表（不含 /p2p/ 后缀）
	Addrs []string
}

// HasAddrs 检查是否有地址
func (pi PeerInfo) HasAddrs() bool {
	return len(pi.Addrs) > 0
}

// String 返回可读表示
func (pi PeerInfo) String() string {
	return fmt.Sprintf("{%s: %v}", pi.ID.ShortString(), pi.Addrs)
}

// ParsePeerAddr 解析节点地址
//
// 地址必须是合法的 multiaddr，支持两种格式：
//   - "/ip4/1.2.3.4/tcp/30333/p2p/<NodeID>"：带身份的地址
//   - "/ip4/1.2.3.4/tcp/30333"：仅地址，身份在握手后获知
//
// 返回的传输地址为规范化后的字符串形式。
func ParsePeerAddr(s string) (PeerInfo, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PeerInfo{}, ErrInvalidPeerAddr
	}

	maddr, err := ma.NewMultiaddr(s)
	if err != nil {
		return PeerInfo{}, fmt.Errorf("%w: %q: %v", ErrInvalidPeerAddr, s, err)
	}

	rest, last := ma.SplitLast(maddr)
	if last == nil || last.Code() != ma.P_P2P {
		return PeerInfo{Addrs: []string{maddr.String()}}, nil
	}

	id, err := NodeIDFromMultihash(last.RawValue())
	if err != nil {
		return PeerInfo{}, fmt.Errorf("%w: %q: %v", ErrInvalidPeerAddr, s, err)
	}
	if len(rest) == 0 {
		return PeerInfo{}, fmt.Errorf("%w: %q: missing transport address", ErrInvalidPeerAddr, s)
	}
	return PeerInfo{ID: id, Addrs: []string{rest.String()}}, nil
}

// FormatPeerAddr 将传输地址与节点身份拼接为可分享的地址
func FormatPeerAddr(addr string, id NodeID) string {
	if id.IsEmpty() {
		return addr
	}
	return addr + p2pComponent + id.String()
}

// MergeAddrs 合并地址列表（去重，保持顺序，新地址在前）
func MergeAddrs(fresh, old []string) []string {
	if len(old) == 0 {
		return fresh
	}
	seen := make(map[string]struct{}, len(fresh)+len(old))
	out := make([]string, 0, len(fresh)+len(old))
	for _, list := range [][]string{fresh, old} {
		for _, a := range list {
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}
