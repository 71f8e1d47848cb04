package transport

import (
	"context"

	"github.com/dep2p/go-floodnet/pkg/types"
)

// MaxMessageSize 单条消息的最大字节数
const MaxMessageSize = 4 << 20

// Conn 经过认证的消息连接
//
// Send 与 Receive 可以在不同 goroutine 中并发调用，
// 但同一方向上只允许一个调用者。
type Conn interface {
	// Send 发送一条完整消息
	Send(msg []byte) error

	// Receive 阻塞直到收到一条完整消息
	//
	// 对端正常关闭时返回 io.EOF。
	Receive() ([]byte, error)

	// RemotePeer 返回经过传输层认证的对端节点 ID
	RemotePeer() types.NodeID

	// RemoteAddr 返回对端传输地址
	RemoteAddr() string

	// Close 关闭连接，阻塞中的 Receive 随即返回
	Close() error
}

// Listener 入站连接监听器
type Listener interface {
	// Accept 阻塞直到有新的已认证连接
	Accept() (Conn, error)

	// Addr 返回实际监听地址
	Addr() string

	// Close 停止监听
	Close() error
}

// Transport 传输层
type Transport interface {
	// Dial 建立出站连接，遵循 ctx 的取消与截止时间
	Dial(ctx context.Context, addr string) (Conn, error)

	// Listen 在 addr 上监听入站连接
	Listen(addr string) (Listener, error)

	// Close 关闭传输层及其所有监听器
	Close() error
}

// AddrResolver 可选接口：将监听地址展开为可对外公布的地址
//
// 例如 TCP 监听 0.0.0.0 时展开为各网卡地址。
type AddrResolver interface {
	AnnounceAddrs(listenAddr string) []string
}
