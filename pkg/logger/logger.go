package logger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"stdinfuzz/config"
	"stdinfuzz/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerParams struct {
	fx.In
	Lc        fx.Lifecycle
	AppConfig *config.AppConfig
	Telemetry telemetry.Telemetry `optional:"true"`
}

// ParseLevel maps a LOG_LEVEL value to a zap level, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger builds a development logger for debug and info levels and a
// production (JSON) logger above that. With telemetry enabled every entry is
// also emitted as an OpenTelemetry log record.
func NewLogger(p LoggerParams) *zap.Logger {
	level := ParseLevel(p.AppConfig.LogLevel)

	var cfg zap.Config
	if level > zapcore.InfoLevel {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	var opts []zap.Option
	if p.Telemetry != nil && p.Telemetry.GetLogger() != nil {
		loggerCtx, cancel := context.WithCancel(context.Background())
		p.Lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				cancel()
				return nil
			},
		})
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return &telemetryCore{
				Core:   core,
				otelLg: p.Telemetry.GetLogger(),
				ctx:    loggerCtx,
				attrsBase: []attribute.KeyValue{
					attribute.String("fuzz.action.name", "fuzzing_log"),
					attribute.String("service.name", p.AppConfig.ServiceName),
				},
			}
		}))
	}

	lg, err := cfg.Build(opts...)
	if err != nil {
		// log failed to build, return a default one
		return zap.NewExample()
	}

	p.Lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = lg.Sync() // stderr cannot always be synced
			return nil
		},
	})
	return lg
}

// telemetryCore writes through the wrapped core and mirrors every entry into
// an OpenTelemetry logger.
type telemetryCore struct {
	zapcore.Core
	otelLg    log.Logger
	ctx       context.Context
	attrsBase []attribute.KeyValue
}

func (t *telemetryCore) With(fields []zapcore.Field) zapcore.Core {
	return &telemetryCore{
		Core:      t.Core.With(fields),
		otelLg:    t.otelLg,
		ctx:       t.ctx,
		attrsBase: append(append([]attribute.KeyValue(nil), t.attrsBase...), fieldAttributes(fields)...),
	}
}

// Check adds this core, not the inner one, to the CheckedEntry.
func (t *telemetryCore) Check(ent zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if t.Enabled(ent.Level) {
		return checked.AddCore(ent, t)
	}
	return checked
}

func (t *telemetryCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if err := t.Core.Write(ent, fields); err != nil {
		return err
	}

	rec := log.Record{}
	rec.SetTimestamp(ent.Time)
	rec.SetBody(log.StringValue(ent.Message))
	rec.SetSeverityText(ent.Level.String())
	for _, attr := range t.attrsBase {
		rec.AddAttributes(log.KeyValueFromAttribute(attr))
	}
	for _, attr := range fieldAttributes(fields) {
		rec.AddAttributes(log.KeyValueFromAttribute(attr))
	}

	t.otelLg.Emit(t.ctx, rec)
	return nil
}

// fieldAttributes flattens zap fields through a map encoder so every field
// type zap knows about ends up as a typed attribute, in key order.
func fieldAttributes(fields []zapcore.Field) []attribute.KeyValue {
	if len(fields) == 0 {
		return nil
	}
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}

	keys := make([]string, 0, len(enc.Fields))
	for k := range enc.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, toAttribute(k, enc.Fields[k]))
	}
	return attrs
}

func toAttribute(key string, v any) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(key, val)
	case bool:
		return attribute.Bool(key, val)
	case int:
		return attribute.Int(key, val)
	case int64:
		return attribute.Int64(key, val)
	case int32:
		return attribute.Int64(key, int64(val))
	case uint64:
		return attribute.Int64(key, int64(val))
	case uint32:
		return attribute.Int64(key, int64(val))
	case float64:
		return attribute.Float64(key, val)
	case float32:
		return attribute.Float64(key, float64(val))
	case time.Duration:
		return attribute.String(key, val.String())
	case time.Time:
		return attribute.String(key, val.Format(time.RFC3339Nano))
	default:
		return attribute.String(key, fmt.Sprint(val))
	}
}
