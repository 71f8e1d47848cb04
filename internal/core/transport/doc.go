// Package transport 定义节点间的消息传输抽象
//
// 传输层负责建立经过认证的点对点连接，并在其上收发完整的消息。
// 上层（swarm）只与本包的接口交互：
//
//	conn, err := tr.Dial(ctx, "/ip4/127.0.0.1/tcp/30333")
//	err = conn.Send(frame)
//	frame, err = conn.Receive()
//
// 实现：
//   - memory：进程内模拟网络，支持永不应答的黑洞地址
//   - tcp：TCP + Noise XX + yamux，使用 multiaddr 地址
package transport
