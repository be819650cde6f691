package workflow

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/weisyn/lending-router-go/bridge"
	"github.com/weisyn/lending-router-go/logging"
	"github.com/weisyn/lending-router-go/types"
	"github.com/weisyn/lending-router-go/vault"
)

func mintAndLendParams(env *testEnv) *MintAndLendParams {
	return &MintAndLendParams{
		DebtMarket:        env.debt.Address(),
		LendMarket:        env.lend.Address(),
		Registry:          env.registry.Address(),
		DepositCollateral: Do(DepositParams{Amount: e18(10)}),
		Mint:              Do(MintParams{Amount: e18(6)}),
		Lend:              Do(LendParams{}),
	}
}

func TestMintAndLend(t *testing.T) {
	env := newTestEnv(t)
	env.approveRouter()
	ctx := context.Background()

	res, err := env.service.MintAndLend(ctx, env.cc(0), mintAndLendParams(env))
	require.NoError(t, err)
	assert.Equal(t, shares(e18(10)), res.CollateralShare)
	assert.Equal(t, e18(6), res.BorrowPart)
	assert.Equal(t, shares(e18(6)), res.BorrowShare)
	assert.Equal(t, shares(e18(6)), res.LendFraction)
	assert.Nil(t, res.LockID)

	// 铸出的份额全部进入收益借贷市场
	assert.Zero(t, env.vaultShares(t, env.usdoID).Sign())
	fraction, err := env.lend.BalanceOf(ctx, env.alice)
	require.NoError(t, err)
	assert.Equal(t, shares(e18(6)), fraction)
	assert.Equal(t, e18(90), env.tokenBalance(t, env.weth, env.alice))
}

func TestMintAndLend_LockAndParticipate(t *testing.T) {
	env := newTestEnv(t)
	env.approveRouter()
	ctx := context.Background()

	p := mintAndLendParams(env)
	p.Lock = Do(LockParams{Duration: 3600})
	p.Participate = Do(struct{}{})

	res, err := env.service.MintAndLend(ctx, env.cc(0), p)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1), res.LockID)
	assert.Equal(t, big.NewInt(1), res.PositionID)

	owner, err := env.registry.LockOwner(ctx, res.LockID)
	require.NoError(t, err)
	assert.Equal(t, env.registry.Address(), owner)

	escrowed, err := env.lend.BalanceOf(ctx, env.registry.Address())
	require.NoError(t, err)
	assert.Equal(t, res.LendFraction, escrowed)

	lock, ok := env.registry.LockInfo(res.LockID)
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Hour), lock.Expiry)
}

func TestMintAndLend_DepositAndLendAmount(t *testing.T) {
	env := newTestEnv(t)
	env.approveRouter()
	env.usdo.Mint(env.alice, e18(4))

	p := &MintAndLendParams{
		LendMarket: env.lend.Address(),
		Deposit:    Do(DepositParams{Amount: e18(4)}),
		Lend:       Do(LendParams{Amount: e18(3)}),
	}
	res, err := env.service.MintAndLend(context.Background(), env.cc(0), p)
	require.NoError(t, err)
	assert.Equal(t, shares(e18(4)), res.DepositShare)
	assert.Equal(t, shares(e18(3)), res.LendFraction)
	assert.Equal(t, shares(e18(1)), env.vaultShares(t, env.usdoID))
}

func TestMintAndLend_FailureRevertsAllSteps(t *testing.T) {
	env := newTestEnv(t)
	env.approveRouter()

	p := mintAndLendParams(env)
	p.Mint = Do(MintParams{Amount: e18(8)})

	_, err := env.service.MintAndLend(context.Background(), env.cc(0), p)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSequencingViolation)
	assert.Contains(t, err.Error(), "mint step failed")

	assert.Equal(t, e18(100), env.tokenBalance(t, env.weth, env.alice))
	assert.Zero(t, env.vaultShares(t, env.wethID).Sign())
	assert.Zero(t, env.collateral(t).Sign())
}

func TestMintAndLend_WithoutRouterApproval(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.MintAndLend(context.Background(), env.cc(0), mintAndLendParams(env))
	require.Error(t, err)
	assert.True(t, types.IsAuthorizationError(err))
}

func TestMintAndLend_Validate(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		modify func(p *MintAndLendParams)
	}{
		{"missing debt market", func(p *MintAndLendParams) { p.DebtMarket = common.Address{} }},
		{"missing lend market", func(p *MintAndLendParams) { p.LendMarket = common.Address{} }},
		{"zero mint", func(p *MintAndLendParams) { p.Mint.Params.Amount = new(big.Int) }},
		{"lock without duration", func(p *MintAndLendParams) { p.Lock = Do(LockParams{}) }},
		{"lock without registry", func(p *MintAndLendParams) {
			p.Registry = common.Address{}
			p.Lock = Do(LockParams{Duration: 60})
		}},
		{"participate without lock", func(p *MintAndLendParams) { p.Participate = Do(struct{}{}) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := mintAndLendParams(env)
			tt.modify(p)
			assert.ErrorIs(t, p.Validate(), types.ErrValidation)
		})
	}
}

func TestService_LogsWorkflowSteps(t *testing.T) {
	env := newTestEnv(t)
	env.approveRouter()

	core, logs := observer.New(zapcore.DebugLevel)
	adapter := vault.NewAdapter(env.vault, nil)
	svc := NewService(adapter, bridge.NewDispatcher(adapter, env.backend), env.backend, env.backend,
		WithLogger(logging.NewZapLogger(zap.New(core))))

	_, err := svc.MintAndLend(context.Background(), env.cc(0), mintAndLendParams(env))
	require.NoError(t, err)

	steps := logs.FilterMessage("workflow step").All()
	require.Len(t, steps, 3)
	assert.Equal(t, "depositCollateral", steps[0].ContextMap()["step"])
	assert.Equal(t, "lend", steps[2].ContextMap()["step"])
	assert.Equal(t, 1, logs.FilterMessage("workflow completed").Len())
}
