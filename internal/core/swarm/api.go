package swarm

import (
	"context"

	"github.com/dep2p/go-floodnet/internal/discovery/dht"
	"github.com/dep2p/go-floodnet/pkg/types"
)

// ============================================================================
//                              公共 API
// ============================================================================
//
// 以下方法可从任意 goroutine 调用，操作在事件循环中执行。

type lookupResult struct {
	peers []types.PeerInfo
	err   error
}

// waitLookup 在事件循环中启动查找类操作并等待结果
func (s *Swarm) waitLookup(ctx context.Context, start func(dht.LookupFunc)) ([]types.PeerInfo, error) {
	result := make(chan lookupResult, 1)
	err := s.do(ctx, func() {
		start(func(peers []types.PeerInfo, err error) {
			result <- lookupResult{peers: peers, err: err}
		})
	})
	if err != nil {
		return nil, err
	}

	select {
	case r := <-result:
		return r.peers, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrSwarmClosed
	}
}

// Bootstrap 使用种子节点加入网络，返回自查找的结果
func (s *Swarm) Bootstrap(ctx context.Context, seeds []types.PeerInfo) ([]types.PeerInfo, error) {
	return s.waitLookup(ctx, func(done dht.LookupFunc) {
		s.dht.Bootstrap(seeds, done)
	})
}

// Lookup 查找距离 target 最近的节点
func (s *Swarm) Lookup(ctx context.Context, target types.NodeID) ([]types.PeerInfo, error) {
	return s.waitLookup(ctx, func(done dht.LookupFunc) {
		s.dht.Lookup(target, done)
	})
}

// Subscribe 订阅主题
func (s *Swarm) Subscribe(ctx context.Context, topic string) error {
	var err error
	if e := s.do(ctx, func() { err = s.pubsub.Subscribe(topic) }); e != nil {
		return e
	}
	return err
}

// Unsubscribe 取消订阅主题
func (s *Swarm) Unsubscribe(ctx context.Context, topic string) error {
	return s.do(ctx, func() { s.pubsub.Unsubscribe(topic) })
}

// Publish 向主题发布消息
func (s *Swarm) Publish(ctx context.Context, topic string, payload []byte) (*types.Envelope, error) {
	var (
		env *types.Envelope
		err error
	)
	if e := s.do(ctx, func() { env, err = s.pubsub.Publish(topic, payload) }); e != nil {
		return nil, e
	}
	return env, err
}

// Topics 返回已订阅的主题
func (s *Swarm) Topics(ctx context.Context) ([]string, error) {
	var topics []string
	err := s.do(ctx, func() { topics = s.pubsub.Topics() })
	return topics, err
}

// RoutingPeers 返回路由表中的节点记录
func (s *Swarm) RoutingPeers(ctx context.Context) ([]dht.PeerRecord, error) {
	var peers []dht.PeerRecord
	err := s.do(ctx, func() { peers = s.dht.RoutingTable().Peers() })
	return peers, err
}

// ConnectedPeers 返回已完成身份交换的会话对端
func (s *Swarm) ConnectedPeers(ctx context.Context) ([]types.PeerInfo, error) {
	var peers []types.PeerInfo
	err := s.do(ctx, func() {
		for _, sess := range s.sessions {
			peers = append(peers, sess.info())
		}
	})
	return peers, err
}
