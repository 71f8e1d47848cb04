// Package identity 实现节点身份
//
// 节点身份是一对 Ed25519 密钥，NodeID 为公钥的 SHA-256 哈希。
// 身份可以随机生成、从 32 字节种子确定性派生，或从 PEM 文件加载：
//
//	id, _ := identity.FromHexSeed("00010203...")
//	fmt.Println(id.ID())
//
//	// 首次运行时生成并保存，之后从文件加载
//	id, _ = identity.LoadOrGenerate("node.key")
package identity
