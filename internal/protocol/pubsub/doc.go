// Package pubsub 实现基于泛洪的发布订阅协议
//
// # 核心功能
//
//  1. 主题订阅 (Subscribe/Unsubscribe) - 只切换本地兴趣，不向其他节点通告
//  2. 消息发布 (Publish) - 构造消息信封，写入去重缓存后发给所有已连接会话
//  3. 消息处理 (HandleMessage) - 去重、本地投递、向来源以外的所有会话转发
//  4. 去重缓存 (SeenCache) - 按插入顺序淘汰，超出容量或 TTL 后移除
//
// # 转发策略
//
// 未订阅主题的节点同样转发消息（纯泛洪，无 Mesh 裁剪）。
// 只要连接图连通且去重缓存保留时间大于传播时间，每条消息都能到达所有订阅者。
//
// # 并发模型
//
// PubSub 的所有方法只能在事件循环中调用，去重缓存的检查与插入在同一轮事件中完成。
package pubsub
