package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/lending-router-go/bridge"
	"github.com/weisyn/lending-router-go/config"
	"github.com/weisyn/lending-router-go/router"
	"github.com/weisyn/lending-router-go/types"
	"github.com/weisyn/lending-router-go/workflow"
)

const estimateSendFeeABI = `[{"type":"function","name":"estimateSendFee","stateMutability":"view",
"inputs":[{"name":"_dstChainId","type":"uint16"},{"name":"_toAddress","type":"bytes"},{"name":"_amount","type":"uint256"},{"name":"_useZro","type":"bool"},{"name":"_adapterParams","type":"bytes"}],
"outputs":[{"name":"nativeFee","type":"uint256"},{"name":"zroFee","type":"uint256"}]}]`

// feeNode 只应答 eth_call 的节点，报价固定为 fee
func feeNode(t *testing.T, fee int64) *httptest.Server {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(estimateSendFeeABI))
	require.NoError(t, err)
	encoded, err := parsed.Methods["estimateSendFee"].Outputs.Pack(big.NewInt(fee), big.NewInt(0))
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Method != "eth_call" {
			http.Error(w, "unsupported", http.StatusBadRequest)
			return
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":%q}`, hexutil.Encode(encoded))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func rpcConfig(t *testing.T, fee int64) *config.Config {
	t.Helper()
	srv := feeNode(t, fee)
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
admin: "0x000000000000000000000000000000000000ad01"
router: "0x0000000000000000000000000000000000000400"
estimator:
  type: rpc
  client:
    endpoint: %q
    timeout: 5
log:
  level: warn
metrics:
  enabled: true
  namespace: itest
`, srv.URL)), "yaml")
	require.NoError(t, err)
	return cfg
}

func borrowToChain(d *Deployment, nativeFee int64) *workflow.DepositCollateralizeBorrowParams {
	return &workflow.DepositCollateralizeBorrowParams{
		Market:     d.Debt.Address(),
		Deposit:    workflow.Do(workflow.DepositParams{Amount: units(10)}),
		Collateral: workflow.Do(workflow.CollateralParams{}),
		Borrow:     workflow.Do(workflow.BorrowParams{Amount: units(5)}),
		Withdraw: workflow.Do(workflow.WithdrawParams{
			Destination: bridge.Remote(101),
			NativeFee:   big.NewInt(nativeFee),
		}),
	}
}

func TestBurst_BorrowToRemoteChain(t *testing.T) {
	d := Deploy(t, rpcConfig(t, 1500))
	user := d.CreateTestAccount(t)
	owner := user.Address()

	call, err := workflow.DepositCollateralizeBorrowCall(borrowToChain(d, 1500), big.NewInt(2000))
	require.NoError(t, err)

	results, err := d.Router.Burst(context.Background(), owner, big.NewInt(2000), []router.Call{
		d.PermitAllCall(t, user),
		call,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	var res workflow.CollateralBorrowResult
	decodeResult(t, results[1], &res)
	assert.Equal(t, units(5), res.BorrowPart)
	assert.Equal(t, units(5), res.Withdrawal.Amount)

	msgs := d.Backend.Relay().Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, uint16(101), msgs[0].DstChainID)
	assert.Equal(t, owner, msgs[0].To)
	assert.Equal(t, units(5), msgs[0].Amount)

	// 代币合约只收取自身报价 1000，其余原生币全部回到用户
	assert.Equal(t, big.NewInt(DefaultNative-1000), d.nativeBalance(t, owner))
	assert.Zero(t, d.nativeBalance(t, d.Router.Address()).Sign())
	assert.Equal(t, units(DefaultCollateral-10), tokenBalance(t, d.WETH, owner))

	expected := `
# HELP itest_bridge_dispatch_total Total number of withdraw dispatches by destination
# TYPE itest_bridge_dispatch_total counter
itest_bridge_dispatch_total{destination="remote"} 1
# HELP itest_burst_total Total number of burst submissions by outcome
# TYPE itest_burst_total counter
itest_burst_total{outcome="success"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(d.Gatherer, strings.NewReader(expected),
		"itest_bridge_dispatch_total", "itest_burst_total"))
}

func TestBurst_FeeBelowNodeEstimateAborts(t *testing.T) {
	d := Deploy(t, rpcConfig(t, 1500))
	user := d.CreateTestAccount(t)
	owner := user.Address()

	call, err := workflow.DepositCollateralizeBorrowCall(borrowToChain(d, 1200), big.NewInt(1200))
	require.NoError(t, err)

	_, err = d.Router.Burst(context.Background(), owner, big.NewInt(1200), []router.Call{
		d.PermitAllCall(t, user),
		call,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrBridgeFee)
	idx, ok := types.FailedIndex(err)
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	// 整批撤销：permit 未消耗，原生币与代币都未移动
	assert.Equal(t, uint64(0), d.Vault.Authorizer().Nonce(owner))
	assert.Equal(t, big.NewInt(DefaultNative), d.nativeBalance(t, owner))
	assert.Equal(t, units(DefaultCollateral), tokenBalance(t, d.WETH, owner))
	assert.Empty(t, d.Backend.Relay().Messages())
}

func TestPreview_MatchesBurst(t *testing.T) {
	d := Deploy(t, nil)
	user := d.CreateTestAccount(t)
	owner := user.Address()

	mint, err := workflow.MintAndLendCall(&workflow.MintAndLendParams{
		DebtMarket:        d.Debt.Address(),
		LendMarket:        d.Lend.Address(),
		DepositCollateral: workflow.Do(workflow.DepositParams{Amount: units(10)}),
		Mint:              workflow.Do(workflow.MintParams{Amount: units(6)}),
		Lend:              workflow.Do(workflow.LendParams{}),
	}, nil)
	require.NoError(t, err)
	calls := []router.Call{d.PermitAllCall(t, user), mint}

	preview, err := d.Router.Preview(context.Background(), owner, nil, calls)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), d.Vault.Authorizer().Nonce(owner))
	part, err := d.Debt.UserBorrowPart(context.Background(), owner)
	require.NoError(t, err)
	assert.Zero(t, part.Sign())

	results, err := d.Router.Burst(context.Background(), owner, nil, calls)
	require.NoError(t, err)
	assert.Equal(t, preview, results)

	fraction, err := d.Lend.BalanceOf(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, new(big.Int).Mul(units(6), big.NewInt(1e8)), fraction)
}

func TestDeploy_WritesContractAddresses(t *testing.T) {
	cfg := defaultTestConfig()
	d := Deploy(t, cfg)

	assert.Equal(t, d.Vault.Address(), cfg.Contracts.Vault)
	assert.Equal(t, d.Registry.Address(), cfg.Contracts.Registry)
	assert.Nil(t, d.Metrics)

	// 默认估算器直接询价代币合约
	est, err := cfg.NewEstimator(d.Backend)
	require.NoError(t, err)
	fee, err := est.EstimateSendFee(context.Background(), d.USDO.Address(), 101, d.Router.Address(), units(1), nil)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1000), fee)
}
