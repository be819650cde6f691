package permit

import (
	"fmt"
)

// Signer 能对 32 字节摘要签名的对象（wallet.Wallet 满足该接口）
type Signer interface {
	SignHash(hash []byte) ([]byte, error)
}

// Sign 对 Grant 签名并写回 Signature
//
// 客户端在组装批次前调用，签名结果随 Permit 子调用一起提交。
func Sign(signer Signer, domain Domain, g *Grant) error {
	digest, err := Digest(domain, g)
	if err != nil {
		return fmt.Errorf("compute permit digest failed: %w", err)
	}
	sig, err := signer.SignHash(digest.Bytes())
	if err != nil {
		return fmt.Errorf("sign permit failed: %w", err)
	}
	g.Signature = sig
	return nil
}
