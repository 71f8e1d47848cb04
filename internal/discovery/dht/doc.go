// Package dht 实现 Kademlia 风格的节点发现
//
// # 模块概述
//
// dht 维护按 XOR 距离分桶的路由表，并通过迭代并行查找收敛到目标附近的节点。
// 只提供节点路由，不提供键值存储。
//
// # 核心功能
//
// 1. 路由表管理
//   - 256 个 K-Bucket（默认 K=20），按与本地 ID 的共同前缀长度索引
//   - 最近活跃的节点在前，桶满时新节点进入替换缓存
//   - 对最旧节点发起 PING 存活检查：响应则保留，超时则移除并提升替换者
//
// 2. 迭代查找
//   - 每轮向 α 个未联系的最近节点发送 FIND_PEERS
//   - 本轮无改进时对剩余未联系节点做一次全量扫描
//   - 候选列表耗尽时返回 ErrDiscoveryExhausted
//
// 3. 引导
//   - 带身份的种子作为低置信度记录加入路由表
//   - 仅有地址的种子先拨号，身份在握手后获知
//   - 所有种子拨号完成后执行自查找
//
// # 并发模型
//
// DHT 的所有方法都只能在事件循环中调用；网络交互通过 Network 接口完成，
// 回调同样在事件循环中执行，因此内部状态无需加锁。
package dht
