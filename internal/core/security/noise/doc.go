// Package noise 实现 Noise 协议安全通道
//
// 使用 Noise_XX_25519_ChaChaPoly_SHA256 模式：
//
//	-> e                              (发起者发送临时公钥)
//	<- e, ee, s, es, payload          (响应者发送临时公钥、静态公钥、payload)
//	-> s, se, payload                 (发起者发送静态公钥、payload)
//
// Noise 静态密钥由 Ed25519 身份密钥转换得到。payload 携带 Ed25519 身份公钥
// 以及对 "noise-libp2p-static-key:" + 静态公钥 的签名，
// 握手完成后双方都得到经过认证的对端 NodeID。
//
// 使用示例：
//
//	tr := noise.New(id)
//
//	// 客户端，expected 为空时不校验对端身份
//	conn, err := tr.SecureOutbound(ctx, raw, expected)
//
//	// 服务端
//	conn, err := tr.SecureInbound(ctx, raw)
package noise
