package integration

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/lending-router-go/contracts"
	"github.com/weisyn/lending-router-go/permit"
	"github.com/weisyn/lending-router-go/router"
	"github.com/weisyn/lending-router-go/utils"
	"github.com/weisyn/lending-router-go/wallet"
)

// units n 个 18 位精度单位
func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1e18))
}

// PermitAllCall 签名"金库全资产授权给路由器"并构造子调用（导出函数）
func (d *Deployment) PermitAllCall(t *testing.T, w wallet.Wallet) router.Call {
	return d.permitAllCall(t, w)
}

// permitAllCall 签名并构造子调用（内部实现）
//
// nonce 取当前链上值，有效期一小时。
func (d *Deployment) permitAllCall(t *testing.T, w wallet.Wallet) router.Call {
	t.Helper()
	g := &permit.Grant{
		Kind:     permit.KindPermitAll,
		Owner:    w.Address(),
		Spender:  d.Router.Address(),
		Nonce:    d.Vault.Authorizer().Nonce(w.Address()),
		Deadline: uint64(d.Backend.Now().Add(time.Hour).Unix()),
	}
	require.NoError(t, permit.Sign(w, d.Vault.Authorizer().Domain(), g), "签名 permitAll 失败")
	return router.Call{
		Kind:    router.KindPermitAll,
		Target:  d.Vault.Address(),
		Payload: utils.MustEncodeCall(contracts.MethodPermitAll, g),
	}
}

// decodeResult 解码成功子调用的返回数据
func decodeResult(t *testing.T, res router.BurstResult, out interface{}) {
	t.Helper()
	require.True(t, res.Success, "子调用失败: %s", res.ReturnData)
	require.NoError(t, json.Unmarshal(res.ReturnData, out))
}

// tokenBalance 代币余额
func tokenBalance(t *testing.T, token contracts.Token, owner common.Address) *big.Int {
	t.Helper()
	bal, err := token.BalanceOf(context.Background(), owner)
	require.NoError(t, err)
	return bal
}

// nativeBalance 原生币余额
func (d *Deployment) nativeBalance(t *testing.T, owner common.Address) *big.Int {
	t.Helper()
	bal, err := d.Backend.Bank.BalanceOf(context.Background(), owner)
	require.NoError(t, err)
	return bal
}
