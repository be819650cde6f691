package vault

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/lending-router-go/simulated"
	"github.com/weisyn/lending-router-go/types"
)

var (
	user   = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	router = common.HexToAddress("0x000000000000000000000000000000000000beef")
)

type fixture struct {
	backend *simulated.Backend
	vault   *simulated.Vault
	token   *simulated.Token
	assetID uint64
	cc      *types.CallContext
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := simulated.NewBackend(1, time.Unix(1_700_000_000, 0))
	v := b.NewVault()
	tok := b.NewToken("WETH")
	id := v.RegisterAsset(tok)

	tok.Mint(user, big.NewInt(1_000_000))
	require.NoError(t, tok.Approve(context.Background(), user, v.Address(), big.NewInt(1_000_000)))
	v.SetApprovalForAll(user, router, true)

	return &fixture{
		backend: b,
		vault:   v,
		token:   tok,
		assetID: id,
		cc:      types.NewCallContext(user, router, nil),
	}
}

// skew 让汇率偏离整倍数
func (f *fixture) skew(t *testing.T, a *Adapter) {
	t.Helper()
	ctx := context.Background()
	_, err := a.Deposit(ctx, f.cc, DepositRequest{AssetID: f.assetID, From: user, To: user, Amount: big.NewInt(1000)})
	require.NoError(t, err)
	_, err = a.WithdrawShare(ctx, f.cc, f.assetID, user, user, big.NewInt(150_000_000))
	require.NoError(t, err)
}

func TestAdapter_DepositWithdrawExact(t *testing.T) {
	f := newFixture(t)
	a := NewAdapter(f.vault, nil)
	ctx := context.Background()

	dep, err := a.Deposit(ctx, f.cc, DepositRequest{AssetID: f.assetID, From: user, To: user, Amount: big.NewInt(500)})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(500), dep.Amount)
	assert.Equal(t, big.NewInt(500*1e8), dep.Share)

	receiver := common.HexToAddress("0x0000000000000000000000000000000000000c0c")
	before, err := a.BalanceOf(ctx, user, f.assetID)
	require.NoError(t, err)

	wd, err := a.Withdraw(ctx, f.cc, WithdrawRequest{AssetID: f.assetID, From: user, To: receiver, Amount: big.NewInt(200)})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(200), wd.Amount)

	after, err := a.BalanceOf(ctx, user, f.assetID)
	require.NoError(t, err)
	assert.Equal(t, wd.Share, new(big.Int).Sub(before, after), "shares debited exactly once")

	paid, err := f.token.BalanceOf(ctx, receiver)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(200), paid)
}

func TestAdapter_RoundTripFavorsVault(t *testing.T) {
	f := newFixture(t)
	a := NewAdapter(f.vault, nil)
	ctx := context.Background()
	f.skew(t, a)

	for _, amount := range []int64{1, 7, 99, 12345} {
		a0 := big.NewInt(amount)
		share, err := a.ToShare(ctx, f.assetID, a0)
		require.NoError(t, err)
		back, err := a.ToAmount(ctx, f.assetID, share)
		require.NoError(t, err)

		assert.LessOrEqual(t, back.Cmp(a0), 0, "amount %d must not grow", amount)
		assert.LessOrEqual(t, new(big.Int).Sub(a0, back).Int64(), int64(1), "amount %d drifts more than one unit", amount)

		// 按数量取出所需份额不少于存入所得份额
		burn, err := a.SharesToBurn(ctx, f.assetID, a0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, burn.Cmp(share), 0)
	}

	for _, s := range []int64{1, 99_999_999, 100_000_001, 3_000_000_000} {
		s0 := big.NewInt(s)
		amount, err := a.ToAmount(ctx, f.assetID, s0)
		require.NoError(t, err)
		back, err := a.ToShare(ctx, f.assetID, amount)
		require.NoError(t, err)
		assert.LessOrEqual(t, back.Cmp(s0), 0, "share %d must not grow", s)
	}
}

func TestAdapter_Validation(t *testing.T) {
	f := newFixture(t)
	a := NewAdapter(f.vault, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() error
	}{
		{"zero deposit", func() error {
			_, err := a.Deposit(ctx, f.cc, DepositRequest{AssetID: f.assetID, From: user, To: user, Amount: big.NewInt(0)})
			return err
		}},
		{"nil withdraw", func() error {
			_, err := a.Withdraw(ctx, f.cc, WithdrawRequest{AssetID: f.assetID, From: user, To: user})
			return err
		}},
		{"negative share", func() error {
			_, err := a.WithdrawShare(ctx, f.cc, f.assetID, user, user, big.NewInt(-1))
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.run(), types.ErrValidation)
		})
	}
}

// driftVault 记账结果与换算接口不一致的金库
type driftVault struct {
	*simulated.Vault
}

func (d driftVault) DepositAsset(ctx context.Context, caller common.Address, assetID uint64, from, to common.Address, amount, share *big.Int) (*big.Int, *big.Int, error) {
	a, s, err := d.Vault.DepositAsset(ctx, caller, assetID, from, to, amount, share)
	if err != nil {
		return nil, nil, err
	}
	return a, new(big.Int).Add(s, big.NewInt(1)), nil
}

func TestAdapter_DetectsConversionDrift(t *testing.T) {
	f := newFixture(t)
	a := NewAdapter(driftVault{f.vault}, nil)

	_, err := a.Deposit(context.Background(), f.cc, DepositRequest{AssetID: f.assetID, From: user, To: user, Amount: big.NewInt(10)})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrConversionDrift)
}
