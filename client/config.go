package client

import "github.com/weisyn/lending-router-go/logging"

// Config 客户端配置
type Config struct {
	// Endpoint 节点端点地址
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Protocol 协议类型（目前仅支持 http）
	Protocol Protocol `yaml:"protocol" json:"protocol"`

	// Timeout 超时时间（秒）
	Timeout int `yaml:"timeout" json:"timeout"`

	// Retry 重试配置（nil 使用默认配置）
	Retry *RetryConfig `yaml:"retry" json:"retry"`

	// 调试模式
	Debug bool `yaml:"debug" json:"debug"`

	// 日志器（可选）
	Logger logging.Logger `yaml:"-" json:"-"`
}

// Protocol 协议类型
type Protocol string

const (
	ProtocolHTTP Protocol = "http"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Endpoint: "http://localhost:8545",
		Protocol: ProtocolHTTP,
		Timeout:  30,
		Debug:    false,
	}
}
