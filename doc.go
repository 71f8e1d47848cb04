// Package floodnet 提供 Kademlia 节点发现与泛洪发布订阅的 P2P 节点
//
// 每个节点由一个单线程事件循环驱动：路由表、查找状态、去重缓存与会话表
// 只在事件循环中访问，其它 goroutine 通过事件与之通信。
//
// # 快速开始
//
//	node, err := floodnet.New(floodnet.WithConfig(cfg))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := node.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	// 加入网络
//	peers, err := node.Bootstrap(ctx, []string{"/ip4/1.2.3.4/tcp/30333/p2p/<NodeID>"})
//
//	// 订阅与发布
//	sub, _ := node.Subscribe("example-topic")
//	defer sub.Cancel()
//	node.Publish(ctx, "example-topic", []byte("hello"))
//
//	env, _ := sub.Next(ctx)
//
// # 组件
//
//	┌──────────────────────────────────────────────┐
//	│  Node（门面 + fx 生命周期）                     │
//	├──────────────────────────────────────────────┤
//	│  Swarm 事件循环                                │
//	│    ├── DHT（路由表 + 迭代查找）                   │
//	│    └── PubSub（去重缓存 + 泛洪转发）              │
//	├──────────────────────────────────────────────┤
//	│  Transport（TCP + Noise + yamux / 内存网络）     │
//	└──────────────────────────────────────────────┘
//
// 自己发布的消息不会在本地投递；未订阅主题的节点仍然转发消息。
package floodnet
