package tcp

import (
	"context"
	"fmt"
	"net"

	ma "github.com/multiformats/go-multiaddr"
	madns "github.com/multiformats/go-multiaddr-dns"
	manet "github.com/multiformats/go-multiaddr/net"
	"go.uber.org/multierr"

	"github.com/dep2p/go-floodnet/internal/core/transport"
)

// maxResolveDepth /dnsaddr 记录可以继续指向 DNS 地址，限制递归深度
const maxResolveDepth = 4

// maxDialTargets 单个地址解析后最多尝试的拨号目标数
const maxDialTargets = 8

// resolve 将地址解析为可直接拨号的 TCP 地址
//
// 非 DNS 地址原样返回。解析结果末尾的 /p2p/ 组件被去掉，
// 身份由 Noise 握手认证。
func (t *Transport) resolve(ctx context.Context, maddr ma.Multiaddr) ([]ma.Multiaddr, error) {
	if !madns.Matches(maddr) {
		return []ma.Multiaddr{maddr}, nil
	}

	var (
		pending = []ma.Multiaddr{maddr}
		out     []ma.Multiaddr
		errs    error
	)
	for depth := 0; len(pending) > 0 && depth < maxResolveDepth; depth++ {
		var next []ma.Multiaddr
		for _, a := range pending {
			if !madns.Matches(a) {
				out = append(out, a)
				continue
			}
			resolved, err := t.resolver.Resolve(ctx, a)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			next = append(next, resolved...)
		}
		pending = next
	}

	seen := make(map[string]struct{}, len(out))
	targets := make([]ma.Multiaddr, 0, len(out))
	for _, a := range out {
		if rest, last := ma.SplitLast(a); last != nil && last.Code() == ma.P_P2P {
			a = rest
		}
		if _, err := a.ValueForProtocol(ma.P_TCP); err != nil {
			continue
		}
		key := a.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		targets = append(targets, a)
		if len(targets) == maxDialTargets {
			break
		}
	}

	if len(targets) == 0 {
		if errs != nil {
			return nil, fmt.Errorf("%w: %s: %v", transport.ErrResolveFailed, maddr, errs)
		}
		return nil, fmt.Errorf("%w: %s: no tcp addresses", transport.ErrResolveFailed, maddr)
	}
	logger.Debug("DNS 地址已解析", "addr", maddr.String(), "targets", len(targets))
	return targets, nil
}

// dialFirst 依次拨号，返回第一个成功的 TCP 连接
func dialFirst(ctx context.Context, targets []ma.Multiaddr) (net.Conn, error) {
	var (
		dialer net.Dialer
		errs   error
	)
	for _, target := range targets {
		if _, err := target.ValueForProtocol(ma.P_TCP); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s: not a tcp address", transport.ErrInvalidAddress, target))
			continue
		}
		network, host, err := manet.DialArgs(target)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%w: %v", transport.ErrInvalidAddress, err))
			continue
		}
		raw, err := dialer.DialContext(ctx, network, host)
		if err == nil {
			return raw, nil
		}
		errs = multierr.Append(errs, fmt.Errorf("连接失败: %w", err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errs
}
