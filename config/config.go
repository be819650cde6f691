package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/weisyn/lending-router-go/bridge"
	"github.com/weisyn/lending-router-go/client"
	"github.com/weisyn/lending-router-go/contracts"
	"github.com/weisyn/lending-router-go/logging"
	"github.com/weisyn/lending-router-go/metrics"
	"github.com/weisyn/lending-router-go/router"
)

// Config 路由器部署配置
//
// **说明**：
// - 可从 YAML 或 JSON 文件加载（按扩展名区分），字段均有默认值
// - Routes 只覆盖列出的 kind，其余沿用 router.DefaultRoutes
// - 地址字段使用十六进制字符串
type Config struct {
	// ChainID 本链 ID（EIP-712 域）
	ChainID int64 `yaml:"chainId" json:"chainId"`

	// Admin 调度表管理员
	Admin common.Address `yaml:"admin" json:"admin"`

	// Router 路由器地址
	Router common.Address `yaml:"router" json:"router"`

	// Contracts 协作方合约地址
	Contracts ContractsConfig `yaml:"contracts" json:"contracts"`

	// Routes kind 名称 → 路由
	Routes map[string]RouteConfig `yaml:"routes" json:"routes"`

	// Estimator 跨链手续费估算
	Estimator EstimatorConfig `yaml:"estimator" json:"estimator"`

	Log     LogConfig     `yaml:"log" json:"log"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// ContractsConfig 协作方合约地址
type ContractsConfig struct {
	Vault      common.Address `yaml:"vault" json:"vault"`
	DebtMarket common.Address `yaml:"debtMarket" json:"debtMarket"`
	LendMarket common.Address `yaml:"lendMarket" json:"lendMarket"`
	Registry   common.Address `yaml:"registry" json:"registry"`
}

// RouteConfig 单条路由
type RouteConfig struct {
	// Mode call 或 module
	Mode string `yaml:"mode" json:"mode"`
	// Module 模块名（module 模式）
	Module string `yaml:"module,omitempty" json:"module,omitempty"`
	// Methods 允许的方法（call 模式，空表示不限制）
	Methods []string `yaml:"methods,omitempty" json:"methods,omitempty"`
}

// EstimatorType 手续费估算方式
type EstimatorType string

const (
	// EstimatorContract 直接询价本地解析到的代币合约
	EstimatorContract EstimatorType = "contract"
	// EstimatorRPC 通过节点 eth_call 询价
	EstimatorRPC EstimatorType = "rpc"
)

// EstimatorConfig 手续费估算配置
type EstimatorConfig struct {
	Type EstimatorType `yaml:"type" json:"type"`

	// Client rpc 模式下的节点客户端配置
	Client *client.Config `yaml:"client,omitempty" json:"client,omitempty"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level       string `yaml:"level" json:"level"`
	Development bool   `yaml:"development" json:"development"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Namespace string `yaml:"namespace" json:"namespace"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ChainID:   1,
		Estimator: EstimatorConfig{Type: EstimatorContract},
		Log:       LogConfig{Level: "info"},
		Metrics:   MetricsConfig{Namespace: "lending_router"},
	}
}

// Load 从文件加载配置（.yaml / .yml / .json）
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}
	cfg, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return cfg, nil
}

// Parse 解析配置内容，format 为文件扩展名（可带点）
//
// 未出现的字段保留 DefaultConfig 的值。
func Parse(data []byte, format string) (*Config, error) {
	cfg := DefaultConfig()
	switch strings.TrimPrefix(strings.ToLower(format), ".") {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config failed: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse json config failed: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.ChainID <= 0 {
		return fmt.Errorf("chainId must be positive")
	}
	if c.Admin == (common.Address{}) {
		return fmt.Errorf("admin address is required")
	}
	if c.Router == (common.Address{}) {
		return fmt.Errorf("router address is required")
	}
	if _, err := c.RouteTable(); err != nil {
		return err
	}
	switch c.Estimator.Type {
	case EstimatorContract, "":
	case EstimatorRPC:
		if c.Estimator.Client == nil || c.Estimator.Client.Endpoint == "" {
			return fmt.Errorf("rpc estimator requires a client endpoint")
		}
	default:
		return fmt.Errorf("unknown estimator type %q", c.Estimator.Type)
	}
	return nil
}

// RouteTable 合并默认路由与配置中的覆盖项
func (c *Config) RouteTable() (map[router.ActionKind]router.Route, error) {
	routes := router.DefaultRoutes()
	for name, rc := range c.Routes {
		kind, err := router.ParseActionKind(name)
		if err != nil {
			return nil, fmt.Errorf("routes: %w", err)
		}
		switch rc.Mode {
		case "call", "":
			routes[kind] = router.CallRoute(rc.Methods...)
		case "module":
			if rc.Module == "" {
				return nil, fmt.Errorf("routes: %s: module name is required", name)
			}
			routes[kind] = router.ModuleRoute(rc.Module)
		default:
			return nil, fmt.Errorf("routes: %s: unknown mode %q", name, rc.Mode)
		}
	}
	return routes, nil
}

// NewLogger 按配置创建日志器
func (c *Config) NewLogger() (logging.Logger, error) {
	level := c.Log.Level
	if level == "" {
		level = "info"
	}
	return logging.New(level, c.Log.Development)
}

// NewMetrics 按配置创建指标收集器（未启用时返回 nil）
func (c *Config) NewMetrics() *metrics.Collector {
	if !c.Metrics.Enabled {
		return nil
	}
	return metrics.New(c.Metrics.Namespace)
}

// NewEstimator 按配置创建手续费估算器
func (c *Config) NewEstimator(resolver contracts.Resolver) (bridge.FeeEstimator, error) {
	if c.Estimator.Type != EstimatorRPC {
		return bridge.NewContractEstimator(resolver), nil
	}
	cl, err := client.NewClient(c.Estimator.Client)
	if err != nil {
		return nil, fmt.Errorf("create estimator client failed: %w", err)
	}
	return bridge.NewRPCFeeEstimator(cl)
}

// RouterOptions 路由器选项（路由、日志、指标）
func (c *Config) RouterOptions(logger logging.Logger, m *metrics.Collector) ([]router.Option, error) {
	routes, err := c.RouteTable()
	if err != nil {
		return nil, err
	}
	opts := []router.Option{router.WithRoutes(routes), router.WithLogger(logger)}
	if m != nil {
		opts = append(opts, router.WithMetrics(m))
	}
	return opts, nil
}
