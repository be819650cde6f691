package workflow

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/lending-router-go/bridge"
	"github.com/weisyn/lending-router-go/types"
)

func dcbParams(env *testEnv, deposit, borrow *big.Int) *DepositCollateralizeBorrowParams {
	return &DepositCollateralizeBorrowParams{
		Market:     env.debt.Address(),
		Deposit:    Do(DepositParams{Amount: deposit}),
		Collateral: Do(CollateralParams{}),
		Borrow:     Do(BorrowParams{Amount: borrow}),
	}
}

func TestDepositCollateralizeBorrow_Bound(t *testing.T) {
	// 10 个抵押、75% 抵押率，上限恰好 7.5
	bound := new(big.Int).Div(e18(75), big.NewInt(10))

	tests := []struct {
		name    string
		borrow  *big.Int
		wantErr error
	}{
		{name: "well within bound", borrow: e18(5)},
		{name: "exactly at bound", borrow: bound},
		{name: "one wei over bound", borrow: new(big.Int).Add(bound, big.NewInt(1)), wantErr: types.ErrSequencingViolation},
		{name: "far over bound", borrow: e18(8), wantErr: types.ErrSequencingViolation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.approveRouter()

			res, err := env.service.DepositCollateralizeBorrow(context.Background(), env.cc(0), dcbParams(env, e18(10), tt.borrow))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)

				// 没有任何转账
				assert.Equal(t, e18(100), env.tokenBalance(t, env.weth, env.alice))
				assert.Zero(t, env.collateral(t).Sign())
				assert.Zero(t, env.borrowPart(t).Sign())
				assert.Zero(t, env.vaultShares(t, env.usdoID).Sign())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, shares(e18(10)), res.DepositShare)
			assert.Equal(t, shares(e18(10)), res.CollateralShare)
			assert.Equal(t, tt.borrow, res.BorrowPart)
			assert.Equal(t, shares(tt.borrow), env.vaultShares(t, env.usdoID))
		})
	}
}

func TestDepositCollateralizeBorrow_WithdrawLocal(t *testing.T) {
	env := newTestEnv(t)
	env.approveRouter()

	p := dcbParams(env, e18(10), e18(5))
	p.Withdraw = Do(WithdrawParams{Destination: bridge.Local()})

	res, err := env.service.DepositCollateralizeBorrow(context.Background(), env.cc(0), p)
	require.NoError(t, err)
	require.NotNil(t, res.Withdrawal)
	assert.Equal(t, e18(5), res.Withdrawal.Amount)

	assert.Equal(t, e18(5), env.tokenBalance(t, env.usdo, env.alice))
	assert.Zero(t, env.vaultShares(t, env.usdoID).Sign())
	assert.Equal(t, e18(5), env.borrowPart(t))
}

func TestDepositCollateralizeBorrow_RemoteFeeChecksFirst(t *testing.T) {
	tests := []struct {
		name      string
		nativeFee int64
		value     int64
		wantErr   error
	}{
		{name: "fee below estimate", nativeFee: 999, value: 999, wantErr: types.ErrBridgeFee},
		{name: "value below fee", nativeFee: 1500, value: 1000, wantErr: types.ErrInsufficientValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.approveRouter()

			p := dcbParams(env, e18(10), e18(5))
			p.Withdraw = Do(WithdrawParams{Destination: bridge.Remote(101), NativeFee: big.NewInt(tt.nativeFee)})

			_, err := env.service.DepositCollateralizeBorrow(context.Background(), env.cc(tt.value), p)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, e18(100), env.tokenBalance(t, env.weth, env.alice))
			assert.Zero(t, env.borrowPart(t).Sign())
			assert.Empty(t, env.backend.Relay().Messages())
		})
	}
}

func TestDepositCollateralizeBorrow_Remote(t *testing.T) {
	env := newTestEnv(t)
	env.approveRouter()
	env.backend.Bank.Fund(env.routerAddr, big.NewInt(1500))
	cc := env.cc(1500)

	p := dcbParams(env, e18(10), e18(5))
	p.Withdraw = Do(WithdrawParams{
		Destination:   bridge.Remote(101),
		AdapterParams: []byte{0x01},
		NativeFee:     big.NewInt(1500),
	})

	res, err := env.service.DepositCollateralizeBorrow(context.Background(), cc, p)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1500), res.Withdrawal.Fee)
	assert.Zero(t, cc.Remaining().Sign())

	msgs := env.backend.Relay().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, uint16(101), msgs[0].DstChainID)
	assert.Equal(t, env.alice, msgs[0].To)
	assert.Equal(t, e18(5), msgs[0].Amount)
	assert.Zero(t, env.vaultShares(t, env.usdoID).Sign())
}

func TestDepositCollateralizeBorrowV2_TokensHeldByRouter(t *testing.T) {
	env := newTestEnv(t)
	env.approveRouter()
	env.weth.Mint(env.routerAddr, e18(10))

	p := &DepositCollateralizeBorrowV2Params{
		DepositCollateralizeBorrowParams: *dcbParams(env, e18(10), e18(5)),
		ExtractFromSender:                Bool(false),
	}
	res, err := env.service.DepositCollateralizeBorrowV2(context.Background(), env.cc(0), p)
	require.NoError(t, err)
	assert.Equal(t, shares(e18(10)), res.CollateralShare)

	// 代币来自路由器，用户余额不变
	assert.Equal(t, e18(100), env.tokenBalance(t, env.weth, env.alice))
	assert.Zero(t, env.tokenBalance(t, env.weth, env.routerAddr).Sign())
	assert.Equal(t, shares(e18(10)), env.collateral(t))
}

func TestDepositCollateralizeBorrow_Validate(t *testing.T) {
	env := newTestEnv(t)
	market := env.debt.Address()

	tests := []struct {
		name   string
		params *DepositCollateralizeBorrowParams
	}{
		{"nil", nil},
		{"missing market", &DepositCollateralizeBorrowParams{}},
		{"zero deposit", &DepositCollateralizeBorrowParams{Market: market, Deposit: Do(DepositParams{})}},
		{"collateral without share or deposit", &DepositCollateralizeBorrowParams{Market: market, Collateral: Do(CollateralParams{})}},
		{"withdraw without borrow", &DepositCollateralizeBorrowParams{Market: market, Withdraw: Do(WithdrawParams{})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.params.Validate(), types.ErrValidation)
		})
	}

	v2 := &DepositCollateralizeBorrowV2Params{DepositCollateralizeBorrowParams: DepositCollateralizeBorrowParams{Market: market}}
	assert.ErrorIs(t, v2.Validate(), types.ErrValidation)
	v2.ExtractFromSender = Bool(true)
	assert.NoError(t, v2.Validate())
}
