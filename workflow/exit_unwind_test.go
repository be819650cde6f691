package workflow

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/lending-router-go/bridge"
	"github.com/weisyn/lending-router-go/contracts"
	"github.com/weisyn/lending-router-go/permit"
	"github.com/weisyn/lending-router-go/router"
	"github.com/weisyn/lending-router-go/types"
	"github.com/weisyn/lending-router-go/utils"
	"github.com/weisyn/lending-router-go/vault"
)

func (env *testEnv) permitAllCall(t *testing.T) router.Call {
	t.Helper()
	g := &permit.Grant{
		Kind:     permit.KindPermitAll,
		Owner:    env.alice,
		Spender:  env.routerAddr,
		Nonce:    env.vault.Authorizer().Nonce(env.alice),
		Deadline: uint64(env.backend.Now().Add(time.Hour).Unix()),
	}
	require.NoError(t, permit.Sign(env.user, env.vault.Authorizer().Domain(), g))
	return router.Call{
		Kind:    router.KindPermitAll,
		Target:  env.vault.Address(),
		Payload: utils.MustEncodeCall(contracts.MethodPermitAll, g),
	}
}

func decodeResult[R any](t *testing.T, res router.BurstResult) *R {
	t.Helper()
	require.True(t, res.Success, "item failed: %s", res.ReturnData)
	var out R
	require.NoError(t, json.Unmarshal(res.ReturnData, &out))
	return &out
}

// 完整场景：抵押 10 铸出 6 全部出借并锁仓参与；到期后退出、赎回一半、还 2、释放 2 个抵押并全部取出
func TestBurst_MintAndLendThenExitAndUnwind(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// 第一批：授权 + 铸债出借锁仓参与
	mint := mintAndLendParams(env)
	mint.Lock = Do(LockParams{Duration: 3600})
	mint.Participate = Do(struct{}{})
	mintCall, err := MintAndLendCall(mint, nil)
	require.NoError(t, err)

	results, err := env.router.Burst(ctx, env.alice, nil, []router.Call{env.permitAllCall(t), mintCall})
	require.NoError(t, err)
	require.Len(t, results, 2)
	minted := decodeResult[MintAndLendResult](t, results[1])
	assert.Equal(t, e18(6), minted.BorrowPart)
	require.NotNil(t, minted.PositionID)
	env.backend.Commit()

	// 锁仓到期
	env.backend.AdvanceTime(2 * time.Hour)

	// 第二批：退出并平仓
	exitCall, err := ExitAndUnwindCall(&ExitAndUnwindParams{
		LendMarket:         env.lend.Address(),
		DebtMarket:         env.debt.Address(),
		Registry:           env.registry.Address(),
		Exit:               Do(ExitParams{PositionID: minted.PositionID, Unlock: true}),
		RemoveAsset:        Do(RemoveAssetParams{Fraction: shares(e18(3))}),
		Repay:              Do(RepayParams{Amount: e18(2)}),
		RemoveCollateral:   Do(RemoveCollateralParams{Share: shares(e18(2))}),
		WithdrawLend:       Do(WithdrawParams{Destination: bridge.Local()}),
		WithdrawCollateral: Do(WithdrawParams{Destination: bridge.Local()}),
	}, nil)
	require.NoError(t, err)

	results, err = env.router.Burst(ctx, env.alice, nil, []router.Call{exitCall})
	require.NoError(t, err)
	exited := decodeResult[ExitAndUnwindResult](t, results[0])

	assert.Equal(t, minted.LockID, exited.LockID)
	assert.Equal(t, shares(e18(6)), exited.UnlockedFraction)
	assert.Equal(t, shares(e18(3)), exited.RemovedShare)
	assert.Equal(t, e18(2), exited.RepaidPart)
	assert.Equal(t, e18(2), exited.RepaidAmount)
	assert.Equal(t, shares(e18(2)), exited.ReleasedShare)
	assert.Equal(t, e18(1), exited.LendWithdrawal.Amount)
	assert.Equal(t, e18(2), exited.CollateralWithdrawal.Amount)

	// 剩余头寸
	fraction, err := env.lend.BalanceOf(ctx, env.alice)
	require.NoError(t, err)
	assert.Equal(t, shares(e18(3)), fraction)
	assert.Equal(t, e18(4), env.borrowPart(t))
	assert.Equal(t, shares(e18(8)), env.collateral(t))
	assert.Equal(t, e18(92), env.tokenBalance(t, env.weth, env.alice))
	assert.Equal(t, e18(1), env.tokenBalance(t, env.usdo, env.alice))
	assert.Zero(t, env.vaultShares(t, env.usdoID).Sign())

	_, ok := env.registry.LockInfo(minted.LockID)
	assert.False(t, ok)
}

func TestExitAndUnwind_UnlockBeforeExpiryReverts(t *testing.T) {
	env := newTestEnv(t)
	env.approveRouter()
	ctx := context.Background()

	mint := mintAndLendParams(env)
	mint.Lock = Do(LockParams{Duration: 3600})
	minted, err := env.service.MintAndLend(ctx, env.cc(0), mint)
	require.NoError(t, err)
	env.backend.Commit()

	_, err = env.service.ExitAndUnwind(ctx, env.cc(0), &ExitAndUnwindParams{
		LendMarket:  env.lend.Address(),
		Registry:    env.registry.Address(),
		Exit:        Do(ExitParams{LockID: minted.LockID, Unlock: true}),
		RemoveAsset: Do(RemoveAssetParams{}),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSequencingViolation)

	owner, err := env.registry.LockOwner(ctx, minted.LockID)
	require.NoError(t, err)
	assert.Equal(t, env.alice, owner)
}

func TestExitAndUnwind_UnlockRequiresLockOwner(t *testing.T) {
	env := newTestEnv(t)
	env.approveRouter()
	ctx := context.Background()

	mint := mintAndLendParams(env)
	mint.Lock = Do(LockParams{Duration: 3600})
	minted, err := env.service.MintAndLend(ctx, env.cc(0), mint)
	require.NoError(t, err)
	env.backend.Commit()
	env.backend.AdvanceTime(2 * time.Hour)

	mallory := env.backend.NewAddress("mallory")
	_, err = env.service.ExitAndUnwind(ctx, types.NewCallContext(mallory, env.routerAddr, big.NewInt(0)), &ExitAndUnwindParams{
		LendMarket:  env.lend.Address(),
		Registry:    env.registry.Address(),
		Exit:        Do(ExitParams{LockID: minted.LockID, Unlock: true}),
		RemoveAsset: Do(RemoveAssetParams{}),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSenderMismatch)

	owner, err := env.registry.LockOwner(ctx, minted.LockID)
	require.NoError(t, err)
	assert.Equal(t, env.alice, owner)
	_, ok := env.registry.LockInfo(minted.LockID)
	assert.True(t, ok)
	fraction, err := env.lend.BalanceOf(ctx, mallory)
	require.NoError(t, err)
	assert.Zero(t, fraction.Sign())
}

// quoteRecorder 记录每次询价的数量
type quoteRecorder struct {
	inner   bridge.FeeEstimator
	amounts []*big.Int
}

func (q *quoteRecorder) EstimateSendFee(ctx context.Context, token common.Address, dstChainID uint16, to common.Address, amount *big.Int, adapterParams []byte) (*big.Int, error) {
	q.amounts = append(q.amounts, new(big.Int).Set(amount))
	return q.inner.EstimateSendFee(ctx, token, dstChainID, to, amount, adapterParams)
}

func TestExitAndUnwind_RemoteLendQuotesRedeemedAmount(t *testing.T) {
	env := newTestEnv(t)
	env.approveRouter()
	ctx := context.Background()

	_, err := env.service.MintAndLend(ctx, env.cc(0), mintAndLendParams(env))
	require.NoError(t, err)
	env.backend.Commit()

	quotes := &quoteRecorder{inner: bridge.NewContractEstimator(env.backend)}
	adapter := vault.NewAdapter(env.vault, nil)
	svc := NewService(adapter, bridge.NewDispatcher(adapter, env.backend, bridge.WithEstimator(quotes)), env.backend, env.backend)

	p := &ExitAndUnwindParams{
		LendMarket:  env.lend.Address(),
		RemoveAsset: Do(RemoveAssetParams{Fraction: shares(e18(3))}),
		WithdrawLend: Do(WithdrawParams{
			Destination: bridge.Remote(102),
			NativeFee:   big.NewInt(1000),
		}),
	}

	// 手续费总额在任何步骤之前校验
	_, err = svc.ExitAndUnwind(ctx, env.cc(999), p)
	assert.ErrorIs(t, err, types.ErrInsufficientValue)
	assert.Empty(t, quotes.amounts)

	env.backend.Bank.Fund(env.routerAddr, big.NewInt(1000))
	res, err := svc.ExitAndUnwind(ctx, env.cc(1000), p)
	require.NoError(t, err)
	assert.Equal(t, e18(3), res.LendWithdrawal.Amount)

	// 只按赎回后的实际数量询价
	require.Len(t, quotes.amounts, 1)
	assert.Equal(t, e18(3), quotes.amounts[0])
	msgs := env.backend.Relay().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, e18(3), msgs[0].Amount)
}

func TestExitAndUnwind_RemoteCollateralNeedsValue(t *testing.T) {
	env := borrowed(t)
	env.weth.BaseFee = big.NewInt(700)

	p := &ExitAndUnwindParams{
		DebtMarket:       env.debt.Address(),
		Repay:            Do(RepayParams{Amount: e18(5)}),
		RemoveCollateral: Do(RemoveCollateralParams{Share: shares(e18(10))}),
		WithdrawCollateral: Do(WithdrawParams{
			Destination: bridge.Remote(102),
			NativeFee:   big.NewInt(700),
		}),
	}

	// 附带的原生币不足：任何步骤之前失败
	_, err := env.service.ExitAndUnwind(context.Background(), env.cc(100), p)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInsufficientValue)
	assert.Equal(t, e18(5), env.borrowPart(t))

	// 附带足够原生币后成功
	env.backend.Bank.Fund(env.routerAddr, big.NewInt(700))
	res, err := env.service.ExitAndUnwind(context.Background(), env.cc(700), p)
	require.NoError(t, err)
	assert.Equal(t, e18(10), res.CollateralWithdrawal.Amount)

	msgs := env.backend.Relay().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, uint16(102), msgs[0].DstChainID)
	assert.Equal(t, e18(10), msgs[0].Amount)
	assert.Zero(t, env.borrowPart(t).Sign())
}

func TestExitAndUnwind_Validate(t *testing.T) {
	addr := common.HexToAddress("0x0000000000000000000000000000000000000a11")

	tests := []struct {
		name   string
		params *ExitAndUnwindParams
	}{
		{"nil", nil},
		{"exit without registry", &ExitAndUnwindParams{Exit: Do(ExitParams{PositionID: big.NewInt(1)})}},
		{"exit without ids", &ExitAndUnwindParams{Registry: addr, Exit: Do(ExitParams{Unlock: true})}},
		{"remove asset without lend market", &ExitAndUnwindParams{RemoveAsset: Do(RemoveAssetParams{Fraction: big.NewInt(1)})}},
		{"remove asset without fraction or unlock", &ExitAndUnwindParams{LendMarket: addr, RemoveAsset: Do(RemoveAssetParams{})}},
		{"repay without debt market", &ExitAndUnwindParams{Repay: Do(RepayParams{Amount: big.NewInt(1)})}},
		{"collateral withdraw without release", &ExitAndUnwindParams{DebtMarket: addr, WithdrawCollateral: Do(WithdrawParams{})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.params.Validate(), types.ErrValidation)
		})
	}
}
