package logger

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger 封装zap日志器，提供结构化日志功能
type Logger struct {
	*zap.Logger
	config Config
}

// Config 日志配置
type Config struct {
	Level      string   `yaml:"level"`       // debug, info, warn, error
	Outputs    []string `yaml:"outputs"`     // stdout, file
	OutputFile string   `yaml:"output_file"` // 日志文件路径
	Format     string   `yaml:"format"`      // json 或 console
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Outputs: []string{"stdout"},
		Format:  "json",
	}
}

// New 创建新的Logger实例
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	cores := []zapcore.Core{}

	if contains(cfg.Outputs, "stdout") {
		var encoder zapcore.Encoder
		if cfg.Format == "console" {
			encoder = zapcore.NewConsoleEncoder(encoderConfig)
		} else {
			encoder = zapcore.NewJSONEncoder(encoderConfig)
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level))
	}

	if contains(cfg.Outputs, "file") && cfg.OutputFile != "" {
		fileWriter, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file failed: %w", err)
		}
		encoder := zapcore.NewJSONEncoder(encoderConfig)
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(fileWriter), level))
	}

	core := zapcore.NewTee(cores...)
	zapLogger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	return &Logger{Logger: zapLogger, config: cfg}, nil
}

// NewNop 返回不输出任何内容的Logger，测试用。
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// ForRun 派生带租户/run字段的logger，子订单事件统一携带关联键。
func (l *Logger) ForRun(tenantID, runID string) *Logger {
	return &Logger{
		Logger: l.Logger.With(zap.String("tenant_id", tenantID), zap.String("run_id", runID)),
		config: l.config,
	}
}

// LogOrder 记录订单生命周期事件（下单/撤单/替换）
func (l *Logger) LogOrder(event, correlationID, orderID string, fields ...zap.Field) {
	base := []zap.Field{
		zap.String("event", event),
		zap.String("correlation_id", correlationID),
		zap.String("order_id", orderID),
		zap.String("ts", time.Now().UTC().Format(time.RFC3339Nano)),
	}
	l.Info("order_event", append(base, fields...)...)
}

// LogFill 记录成交事件
func (l *Logger) LogFill(correlationID, orderID, side string, price, amount, fee float64) {
	l.Info("fill_event",
		zap.String("correlation_id", correlationID),
		zap.String("order_id", orderID),
		zap.String("side", side),
		zap.Float64("price", price),
		zap.Float64("amount", amount),
		zap.Float64("fee", fee),
	)
}

// LogRisk 记录风控事件（缩量/拒绝/kill switch）
func (l *Logger) LogRisk(event string, fields ...zap.Field) {
	l.Warn("risk_event", append([]zap.Field{zap.String("event", event)}, fields...)...)
}

// LogDrift 记录订单漂移（超时替换/价格偏移/对账不一致）
func (l *Logger) LogDrift(correlationID, orderID, reason string) {
	l.Warn("drift_event",
		zap.String("correlation_id", correlationID),
		zap.String("order_id", orderID),
		zap.String("drift_reason", reason),
	)
}

// Close 关闭日志器
func (l *Logger) Close() error {
	return l.Sync()
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
