package integration

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/weisyn/lending-router-go/bridge"
	"github.com/weisyn/lending-router-go/config"
	"github.com/weisyn/lending-router-go/metrics"
	"github.com/weisyn/lending-router-go/router"
	"github.com/weisyn/lending-router-go/simulated"
	"github.com/weisyn/lending-router-go/vault"
	"github.com/weisyn/lending-router-go/wallet"
	"github.com/weisyn/lending-router-go/workflow"
)

const (
	// DefaultStart 模拟链的起始时间
	DefaultStart = int64(1_700_000_000)
	// DefaultCollateral 测试账户初始抵押代币数量（整数单位）
	DefaultCollateral = 100
	// DefaultNative 测试账户初始原生币
	DefaultNative = 1_000_000
)

// Deployment 一套完整的模拟部署
//
// **组成**：
// - 金库、WETH（抵押）与 USDO（全链债务代币）
// - 铸债市场、收益借贷市场、锁仓登记处
// - 工作流服务与按配置创建的路由器
type Deployment struct {
	Config   *config.Config
	Backend  *simulated.Backend
	Vault    *simulated.Vault
	WETH     *simulated.Token
	USDO     *simulated.Token
	WETHID   uint64
	USDOID   uint64
	Debt     *simulated.Market
	Lend     *simulated.Market
	Registry *simulated.Registry
	Service  *workflow.Service
	Router   *router.Router
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
}

// Deploy 按配置部署（导出函数）
func Deploy(t *testing.T, cfg *config.Config) *Deployment {
	return deploy(t, cfg)
}

// deploy 按配置部署（内部实现）
//
// 部署完成后把协作方地址写回 cfg.Contracts。
func deploy(t *testing.T, cfg *config.Config) *Deployment {
	t.Helper()
	if cfg == nil {
		cfg = defaultTestConfig()
	}
	require.NoError(t, cfg.Validate(), "配置无效")

	b := simulated.NewBackend(cfg.ChainID, time.Unix(DefaultStart, 0))
	d := &Deployment{
		Config:  cfg,
		Backend: b,
		Vault:   b.NewVault(),
		WETH:    b.NewToken("WETH"),
		USDO:    b.NewToken("USDO"),
	}
	d.USDO.BaseFee = big.NewInt(1000)
	d.WETHID = d.Vault.RegisterAsset(d.WETH)
	d.USDOID = d.Vault.RegisterAsset(d.USDO)

	var err error
	d.Debt, err = b.NewMarket(simulated.MarketConfig{
		Name: "DebtMarket", Mode: simulated.ModeDebt, Vault: d.Vault,
		AssetID: d.USDOID, CollateralID: d.WETHID, DebtToken: d.USDO,
	})
	require.NoError(t, err, "部署铸债市场失败")
	d.Lend, err = b.NewMarket(simulated.MarketConfig{
		Name: "LendMarket", Mode: simulated.ModeLending, Vault: d.Vault,
		AssetID: d.USDOID, CollateralID: d.WETHID,
	})
	require.NoError(t, err, "部署收益借贷市场失败")
	d.Registry = b.NewRegistry(d.Vault)
	d.Registry.AddMarket(d.Lend)

	cfg.Contracts = config.ContractsConfig{
		Vault:      d.Vault.Address(),
		DebtMarket: d.Debt.Address(),
		LendMarket: d.Lend.Address(),
		Registry:   d.Registry.Address(),
	}

	// 日志、指标、估算器均来自配置
	logger, err := cfg.NewLogger()
	require.NoError(t, err, "创建日志器失败")
	d.Metrics = cfg.NewMetrics()
	if d.Metrics != nil {
		reg := prometheus.NewRegistry()
		require.NoError(t, d.Metrics.Register(reg))
		d.Gatherer = reg
	}
	estimator, err := cfg.NewEstimator(b)
	require.NoError(t, err, "创建手续费估算器失败")

	adapter := vault.NewAdapter(d.Vault, logger)
	dispatcher := bridge.NewDispatcher(adapter, b,
		bridge.WithLogger(logger),
		bridge.WithMetrics(d.Metrics),
		bridge.WithEstimator(estimator),
	)
	d.Service = workflow.NewService(adapter, dispatcher, b, b, workflow.WithLogger(logger))

	opts, err := cfg.RouterOptions(logger, d.Metrics)
	require.NoError(t, err)
	opts = append(opts, router.WithBank(b.Bank), router.WithModules(d.Service.Modules()...))
	d.Router = router.New(cfg.Router, cfg.Admin, b, b, opts...)
	return d
}

// defaultTestConfig 测试默认配置
func defaultTestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Admin = common.HexToAddress("0x000000000000000000000000000000000000ad01")
	cfg.Router = common.HexToAddress("0x0000000000000000000000000000000000000400")
	cfg.Log.Level = "warn"
	return cfg
}

// CreateTestAccount 创建并注资测试账户（导出函数）
func (d *Deployment) CreateTestAccount(t *testing.T) wallet.Wallet {
	return d.createTestAccount(t)
}

// createTestAccount 创建测试账户（内部实现）
//
// **功能**：
// - 生成新钱包
// - 铸造抵押代币并授权金库拉取
// - 注资原生币用于跨链手续费
// - 把金库操作员授权给两个市场与登记处（路由器授权由批次内的 permitAll 完成）
func (d *Deployment) createTestAccount(t *testing.T) wallet.Wallet {
	t.Helper()
	ctx := context.Background()

	w, err := wallet.NewWallet()
	require.NoError(t, err, "创建测试钱包失败")
	owner := w.Address()

	d.WETH.Mint(owner, units(DefaultCollateral))
	require.NoError(t, d.WETH.Approve(ctx, owner, d.Vault.Address(), units(DefaultCollateral)))
	require.NoError(t, d.USDO.Approve(ctx, owner, d.Vault.Address(), units(DefaultCollateral)))
	d.Backend.Bank.Fund(owner, big.NewInt(DefaultNative))
	for _, operator := range []common.Address{d.Debt.Address(), d.Lend.Address(), d.Registry.Address()} {
		d.Vault.SetApprovalForAll(owner, operator, true)
	}
	d.Backend.Commit()
	return w
}
