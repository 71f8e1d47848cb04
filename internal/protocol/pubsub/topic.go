package pubsub

import (
	"sort"

	"github.com/dep2p/go-floodnet/pkg/types"
)

// topic 主题状态
type topic struct {
	name string

	// subscribed 本地是否订阅
	subscribed bool

	// peers 被认为订阅了该主题的直连节点（尽力而为）
	peers map[types.NodeID]struct{}
}

// newTopic 创建主题
func newTopic(name string) *topic {
	return &topic{
		name:  name,
		peers: make(map[types.NodeID]struct{}),
	}
}

// peerList 返回按 ID 排序的节点列表
func (t *topic) peerList() []types.NodeID {
	out := make([]types.NodeID, 0, len(t.peers))
	for id := range t.peers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
