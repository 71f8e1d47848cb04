package noise

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/flynn/noise"

	"github.com/dep2p/go-floodnet/pkg/types"
)

// MaxPlaintextSize 单个 Noise 消息的最大明文长度
//
// Noise 消息上限 65535 字节，减去 16 字节 Poly1305 标签。
const MaxPlaintextSize = 65535 - 16

// ============================================================================
//                              安全连接
// ============================================================================

// Conn Noise 安全连接
//
// Read/Write 可分别被一个 goroutine 并发调用。
type Conn struct {
	net.Conn

	sendCS *noise.CipherState
	recvCS *noise.CipherState

	localPeer  types.NodeID
	remotePeer types.NodeID

	readMu  sync.Mutex
	writeMu sync.Mutex

	readBuf []byte
}

// Read 读取并解密数据
func (c *Conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if len(c.readBuf) > 0 {
		n := copy(p, c.readBuf)
		c.readBuf = c.readBuf[n:]
		return n, nil
	}

	lenBuf := make([]byte, 2)
	if _, err := io.ReadFull(c.Conn, lenBuf); err != nil {
		return 0, err
	}
	msgLen := binary.BigEndian.Uint16(lenBuf)
	if msgLen == 0 {
		return 0, io.EOF
	}

	encMsg := make([]byte, msgLen)
	if _, err := io.ReadFull(c.Conn, encMsg); err != nil {
		return 0, err
	}

	plaintext, err := c.recvCS.Decrypt(nil, nil, encMsg)
	if err != nil {
		return 0, fmt.Errorf("decrypt: %w", err)
	}

	n := copy(p, plaintext)
	if n < len(plaintext) {
		c.readBuf = plaintext[n:]
	}
	return n, nil
}

// Write 加密并写入数据
//
// 超过 MaxPlaintextSize 的数据拆分为多个 Noise 消息。
func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	written := 0
	for written < len(p) {
		end := written + MaxPlaintextSize
		if end > len(p) {
			end = len(p)
		}

		buf := make([]byte, 2, 2+end-written+16)
		ciphertext, err := c.sendCS.Encrypt(buf, nil, p[written:end])
		if err != nil {
			return written, fmt.Errorf("encrypt: %w", err)
		}
		binary.BigEndian.PutUint16(ciphertext, uint16(len(ciphertext)-2))

		if _, err := c.Conn.Write(ciphertext); err != nil {
			return written, err
		}
		written = end
	}
	return written, nil
}

// LocalPeer 返回本地节点 ID
func (c *Conn) LocalPeer() types.NodeID {
	return c.localPeer
}

// RemotePeer 返回经过认证的对端节点 ID
func (c *Conn) RemotePeer() types.NodeID {
	return c.remotePeer
}
