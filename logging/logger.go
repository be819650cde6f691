package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 日志接口
//
// args 为交替的 key / value，例如 Info("burst finished", "items", 3)。
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// zapLogger 基于 zap SugaredLogger 的实现
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger 使用已有的 zap.Logger 创建 Logger（nil 返回 Nop）
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		return Nop()
	}
	return &zapLogger{sugar: l.Sugar()}
}

// New 根据级别创建 JSON 输出的 Logger
//
// development=true 时使用 zap 的开发配置（console 编码、带调用栈）。
func New(level string, development bool) (Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return NewZapLogger(l), nil
}

func (l *zapLogger) Debug(msg string, args ...interface{}) {
	l.sugar.Debugw(msg, args...)
}

func (l *zapLogger) Info(msg string, args ...interface{}) {
	l.sugar.Infow(msg, args...)
}

func (l *zapLogger) Warn(msg string, args ...interface{}) {
	l.sugar.Warnw(msg, args...)
}

func (l *zapLogger) Error(msg string, args ...interface{}) {
	l.sugar.Errorw(msg, args...)
}

// nopLogger 丢弃所有日志
type nopLogger struct{}

// Nop 返回不输出任何内容的 Logger
func Nop() Logger {
	return nopLogger{}
}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}

// OrNop nil 时返回 Nop
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}
