package logging

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapLogger implements Logger on top of uber-go/zap. This is the backend
// used in production; NewLogger remains as a fallback when zap construction
// fails.
type ZapLogger struct {
	logger *zap.Logger
	fields []Field
}

// ZapOption configures a ZapLogger at construction time.
type ZapOption func(*zapOptions)

type zapOptions struct {
	development bool
	level       *zapcore.Level
	outputPaths []string
}

// WithDevelopmentMode switches to zap's human-readable development encoder.
func WithDevelopmentMode() ZapOption {
	return func(opts *zapOptions) {
		opts.development = true
	}
}

// WithLevel sets the minimum level at construction.
func WithLevel(level Level) ZapOption {
	return func(opts *zapOptions) {
		zl := toZapLevel(level)
		opts.level = &zl
	}
}

// WithOutputPaths overrides the log destinations (defaults to stdout).
func WithOutputPaths(paths ...string) ZapOption {
	return func(opts *zapOptions) {
		opts.outputPaths = paths
	}
}

// NewZapLogger creates the zap-backed Logger.
func NewZapLogger(options ...ZapOption) Logger {
	opts := &zapOptions{outputPaths: []string{"stdout"}}
	for _, opt := range options {
		opt(opts)
	}

	config := zap.NewProductionConfig()
	if opts.development {
		config = zap.NewDevelopmentConfig()
	}
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = opts.outputPaths
	if opts.level != nil {
		config.Level = zap.NewAtomicLevelAt(*opts.level)
	}

	logger, err := config.Build(
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		return NewLogger()
	}

	return &ZapLogger{logger: logger}
}

func toZapLevel(level Level) zapcore.Level {
	switch level {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l *ZapLogger) Debug(msg string, fields ...Field) {
	if ce := l.logger.Check(zapcore.DebugLevel, msg); ce != nil {
		ce.Write(l.convertFields(fields...)...)
	}
}

func (l *ZapLogger) Info(msg string, fields ...Field) {
	if ce := l.logger.Check(zapcore.InfoLevel, msg); ce != nil {
		ce.Write(l.convertFields(fields...)...)
	}
}

func (l *ZapLogger) Warn(msg string, fields ...Field) {
	if ce := l.logger.Check(zapcore.WarnLevel, msg); ce != nil {
		ce.Write(l.convertFields(fields...)...)
	}
}

func (l *ZapLogger) Error(msg string, fields ...Field) {
	if ce := l.logger.Check(zapcore.ErrorLevel, msg); ce != nil {
		ce.Write(l.convertFields(fields...)...)
	}
}

func (l *ZapLogger) WithFields(fields ...Field) Logger {
	child := *l
	child.fields = make([]Field, len(l.fields)+len(fields))
	copy(child.fields, l.fields)
	copy(child.fields[len(l.fields):], fields)
	return &child
}

// SetLevel is not supported after construction; zap's level is atomic and
// fixed at build time here. Use WithLevel instead.
func (l *ZapLogger) SetLevel(level Level) {
	l.logger.Info("SetLevel has no effect on the zap backend; use WithLevel at construction")
}

// SetOutput replaces the logger core with one writing to w.
func (l *ZapLogger) SetOutput(w io.Writer) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	atom := zap.NewAtomicLevel()
	atom.SetLevel(l.logger.Level())

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		atom,
	)
	l.logger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
}

// Sync flushes any buffered entries.
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

func (l *ZapLogger) convertFields(fields ...Field) []zap.Field {
	zapFields := make([]zap.Field, 0, len(l.fields)+len(fields))
	for _, f := range l.fields {
		zapFields = append(zapFields, zap.Any(f.Key, f.Value))
	}
	for _, f := range fields {
		zapFields = append(zapFields, zap.Any(f.Key, f.Value))
	}
	return zapFields
}
