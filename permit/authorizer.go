// Package permit 实现离线签名授权（EIP-712）的校验与应用。
package permit

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/weisyn/lending-router-go/state"
	"github.com/weisyn/lending-router-go/types"
)

// Applier 授权生效的目标（代币 / 金库 / 市场）
type Applier interface {
	ApplyPermit(owner, spender common.Address, value *big.Int) error
	ApplyPermitAsset(owner, spender common.Address, assetID uint64) error
	ApplyPermitAll(owner, spender common.Address) error
}

// Authorizer 授权校验器
//
// 每个可授权的合约持有一个 Authorizer；nonce 写入共享 Journal，
// 因此批次回滚时已消费的 nonce 也会恢复。
type Authorizer struct {
	domain  Domain
	nonces  *state.Map[common.Address, uint64]
	applier Applier
	clock   func() time.Time
	kinds   map[Kind]bool
}

// NewAuthorizer 创建授权校验器
//
// kinds 为该合约支持的授权类型；clock 为 nil 时使用 time.Now。
func NewAuthorizer(domain Domain, journal *state.Journal, applier Applier, clock func() time.Time, kinds ...Kind) *Authorizer {
	if clock == nil {
		clock = time.Now
	}
	supported := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		supported[k] = true
	}
	return &Authorizer{
		domain:  domain,
		nonces:  state.NewMap[common.Address, uint64](journal),
		applier: applier,
		clock:   clock,
		kinds:   supported,
	}
}

// Domain 返回 EIP-712 域
func (a *Authorizer) Domain() Domain {
	return a.domain
}

// Nonce 返回 owner 当前的 nonce
func (a *Authorizer) Nonce(owner common.Address) uint64 {
	n, _ := a.nonces.Get(owner)
	return n
}

// Digest 计算 Grant 的 EIP-712 摘要
func (a *Authorizer) Digest(g *Grant) (common.Hash, error) {
	return Digest(a.domain, g)
}

// Digest 计算指定域下 Grant 的 EIP-712 摘要
func Digest(domain Domain, g *Grant) (common.Hash, error) {
	typed, err := TypedData(domain, g)
	if err != nil {
		return common.Hash{}, err
	}

	domainSeparator, err := typed.HashStruct("EIP712Domain", typed.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash domain failed: %w", err)
	}
	messageHash, err := typed.HashStruct(typed.PrimaryType, typed.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash message failed: %w", err)
	}

	raw := make([]byte, 0, 2+len(domainSeparator)+len(messageHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, messageHash...)
	return crypto.Keccak256Hash(raw), nil
}

// Verify 只做校验，不修改任何状态
//
// 校验顺序：摘要 → 恢复签名者 == owner → deadline → nonce。
func (a *Authorizer) Verify(g *Grant) error {
	if g == nil {
		return types.Validationf("permit grant is nil")
	}
	if !a.kinds[g.Kind] {
		return types.Validationf("permit kind %s not supported by %s", g.Kind, a.domain.VerifyingContract.Hex())
	}

	// 1. 重新计算摘要
	digest, err := a.Digest(g)
	if err != nil {
		return types.ErrInvalidSignature.Wrap(err)
	}

	// 2. 恢复签名者
	signer, err := RecoverSigner(digest, g.Signature)
	if err != nil {
		return err
	}
	if signer != g.Owner {
		return types.ErrInvalidSignature.WithDetail("signer %s is not owner %s", signer.Hex(), g.Owner.Hex())
	}

	// 3. 过期检查
	now := uint64(a.clock().Unix())
	if now > g.Deadline {
		return types.ErrExpired.WithDetail("deadline %d, now %d", g.Deadline, now)
	}

	// 4. nonce 检查
	if current := a.Nonce(g.Owner); current != g.Nonce {
		return types.ErrNonceMismatch.WithDetail("owner %s: want nonce %d, got %d", g.Owner.Hex(), current, g.Nonce)
	}
	return nil
}

// Consume 校验并应用授权
//
// nonce 递增与授权生效在同一次调用内完成；任何一步失败都不会留下部分状态
// （调用方位于路由器批次内时由 Journal 保证，直接调用时 apply 失败会回退 nonce）。
func (a *Authorizer) Consume(ctx context.Context, g *Grant) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.Verify(g); err != nil {
		return err
	}

	a.nonces.Set(g.Owner, g.Nonce+1)

	var err error
	switch g.Kind {
	case KindPermit:
		err = a.applier.ApplyPermit(g.Owner, g.Spender, g.Value)
	case KindPermitAsset:
		err = a.applier.ApplyPermitAsset(g.Owner, g.Spender, g.AssetID)
	case KindPermitAll:
		err = a.applier.ApplyPermitAll(g.Owner, g.Spender)
	}
	if err != nil {
		a.nonces.Set(g.Owner, g.Nonce)
		return fmt.Errorf("apply %s failed: %w", g.Kind, err)
	}
	return nil
}

// RecoverSigner 从 65 字节签名 [R || S || V] 恢复签名地址（V 可为 0/1 或 27/28）
func RecoverSigner(digest common.Hash, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, types.ErrInvalidSignature.WithDetail("signature must be %d bytes, got %d", crypto.SignatureLength, len(signature))
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(sig[crypto.RecoveryIDOffset], r, s, true) {
		return common.Address{}, types.ErrInvalidSignature.WithDetail("malformed signature values")
	}

	pub, err := crypto.SigToPub(digest.Bytes(), sig)
	if err != nil {
		return common.Address{}, types.ErrInvalidSignature.Wrap(err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}
