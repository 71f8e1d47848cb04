// Package swarm 实现节点的连接管理与事件循环
//
// Swarm 是节点的单一调度点：一个事件循环 goroutine 独占路由表、去重缓存、
// 查找状态、主题和会话。其它 goroutine（接受、拨号、会话读写、计时器）
// 只通过事件通道与事件循环交换消息。
//
// # 事件
//
//	inboundEvent        入站连接已通过传输层认证
//	dialDoneEvent       出站拨号完成（成功或失败）
//	frameEvent          会话收到一帧
//	sessionClosedEvent  会话读端结束
//	callEvent           计时器回调与应用调用
//
// # 会话
//
// 连接建立后双方先交换 HELLO（节点 ID 与监听地址），
// 接收方校验 HELLO 中的 ID 与传输层认证的 ID 一致后会话才可用。
// 同一节点的重复会话只保留由较小 NodeID 一方拨出的那条。
//
// # 拨号
//
// 每个地址一个状态机：
//
//	Idle ──拨号──> Dialing ──成功──> Connected ──关闭──> Closed
//	  ^               │
//	  └──失败+退避────┘
//
// 失败后按指数退避，退避期内该地址不可拨号。Closed 地址等同于 Idle。
// 发往尚未连接节点的帧先排队，拨号成功后发出，所有地址失败时丢弃，
// 并通知发现引擎该节点不可达。
package swarm
