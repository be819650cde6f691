package workflow

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/lending-router-go/bridge"
	"github.com/weisyn/lending-router-go/router"
	"github.com/weisyn/lending-router-go/types"
)

func TestModules_Names(t *testing.T) {
	env := newTestEnv(t)

	var names []string
	for _, m := range env.service.Modules() {
		names = append(names, m.Name())
	}
	for _, kind := range []router.ActionKind{
		router.KindWithdraw,
		router.KindMintAndLend,
		router.KindDepositCollateralizeBorrow,
		router.KindDepositCollateralizeBorrowV2,
		router.KindRepayAndRelease,
		router.KindExitAndUnwind,
	} {
		route, ok := env.router.Table().Route(kind)
		require.True(t, ok, kind.String())
		assert.Contains(t, names, route.Module)
	}
}

func TestModules_VersionedPayloads(t *testing.T) {
	env := newTestEnv(t)
	env.approveRouter()
	v1 := dcbParams(env, e18(10), e18(5))

	v1Payload, err := json.Marshal(v1)
	require.NoError(t, err)
	v2Payload, err := json.Marshal(&DepositCollateralizeBorrowV2Params{
		DepositCollateralizeBorrowParams: *v1,
		ExtractFromSender:                Bool(true),
	})
	require.NoError(t, err)

	tests := []struct {
		name    string
		kind    router.ActionKind
		payload []byte
		wantErr error
	}{
		{name: "v1 payload as v1", kind: router.KindDepositCollateralizeBorrow, payload: v1Payload},
		{name: "v2 payload as v2", kind: router.KindDepositCollateralizeBorrowV2, payload: v2Payload},
		{name: "v2 payload as v1", kind: router.KindDepositCollateralizeBorrow, payload: v2Payload, wantErr: types.ErrValidation},
		{name: "v1 payload as v2", kind: router.KindDepositCollateralizeBorrowV2, payload: v1Payload, wantErr: types.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := env.router.Preview(context.Background(), env.alice, nil, []router.Call{
				{Kind: tt.kind, Payload: tt.payload},
			})
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				idx, ok := types.FailedIndex(err)
				require.True(t, ok)
				assert.Equal(t, 0, idx)
				return
			}
			require.NoError(t, err)
			res := decodeResult[CollateralBorrowResult](t, results[0])
			assert.Equal(t, e18(5), res.BorrowPart)
		})
	}

	// 预览不留下任何状态
	assert.Zero(t, env.borrowPart(t).Sign())
}

func TestModules_ToleratedWorkflowFailure(t *testing.T) {
	env := newTestEnv(t)
	env.approveRouter()

	over, err := DepositCollateralizeBorrowCall(dcbParams(env, e18(10), e18(8)), nil)
	require.NoError(t, err)
	over.AllowFailure = true
	within, err := DepositCollateralizeBorrowCall(dcbParams(env, e18(10), e18(5)), nil)
	require.NoError(t, err)

	results, err := env.router.Burst(context.Background(), env.alice, nil, []router.Call{over, within})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.False(t, results[0].Success)
	failure := results[0].Failure()
	require.NotNil(t, failure)
	assert.Equal(t, types.ErrSequencingViolation.Code, failure.Code)
	assert.Contains(t, failure.Detail, "borrow step failed")
	assert.ErrorIs(t, results[0].Err(), types.ErrSequencingViolation)
	assert.True(t, results[1].Success)

	// 只有第二笔生效
	assert.Equal(t, e18(5), env.borrowPart(t))
	assert.Equal(t, shares(e18(10)), env.collateral(t))
	assert.Equal(t, e18(90), env.tokenBalance(t, env.weth, env.alice))
}

func TestModules_WithdrawToChainThroughRouter(t *testing.T) {
	env := newTestEnv(t)
	env.approveRouter()
	ctx := context.Background()
	_, err := env.service.DepositCollateralizeBorrow(ctx, env.cc(0), dcbParams(env, e18(10), e18(5)))
	require.NoError(t, err)
	env.backend.Commit()
	env.backend.Bank.Fund(env.alice, big.NewInt(5000))

	call, err := WithdrawToChainCall(&bridge.WithdrawRequest{
		AssetID:     env.usdoID,
		Receiver:    env.alice,
		Amount:      e18(5),
		Destination: bridge.Remote(101),
		NativeFee:   big.NewInt(1200),
	}, big.NewInt(1200))
	require.NoError(t, err)

	results, err := env.router.Burst(ctx, env.alice, big.NewInt(1200), []router.Call{call})
	require.NoError(t, err)
	res := decodeResult[bridge.Result](t, results[0])
	assert.Equal(t, e18(5), res.Amount)

	// 估算 1000，多付的 200 退回
	bal, err := env.backend.Bank.BalanceOf(ctx, env.alice)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(4000), bal)
	require.Len(t, env.backend.Relay().Messages(), 1)
}
