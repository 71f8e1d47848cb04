package floodnet

import (
	"context"
	"sync"

	"github.com/dep2p/go-floodnet/pkg/types"
)

// Subscription 主题订阅
//
// 消息按收到顺序缓冲；缓冲已满时丢弃新消息，事件循环不会因慢速消费者阻塞。
type Subscription struct {
	node  *Node
	topic string

	ch        chan *types.Envelope
	closeOnce sync.Once
}

func newSubscription(n *Node, topic string, buffer int) *Subscription {
	return &Subscription{
		node:  n,
		topic: topic,
		ch:    make(chan *types.Envelope, buffer),
	}
}

// Topic 返回订阅的主题
func (s *Subscription) Topic() string {
	return s.topic
}

// Messages 返回消息通道，订阅取消后通道关闭
func (s *Subscription) Messages() <-chan *types.Envelope {
	return s.ch
}

// Next 等待下一条消息
func (s *Subscription) Next(ctx context.Context) (*types.Envelope, error) {
	select {
	case env, ok := <-s.ch:
		if !ok {
			return nil, ErrSubscriptionCancelled
		}
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel 取消订阅
func (s *Subscription) Cancel() {
	s.node.cancel(s)
}

// push 调用方持有 node.subMu
func (s *Subscription) push(env *types.Envelope) {
	select {
	case s.ch <- env:
	default:
		logger.Warn("订阅缓冲已满，丢弃消息", "topic", s.topic, "msgID", env.ID.ShortString())
	}
}

// close 调用方持有 node.subMu 写锁
func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.ch)
	})
}
