package hnsw

// logging.go wraps *zap.Logger in the narrow shape this package actually
// calls: a handful of structured, key/value info/warn lines on the
// non-hot-path events (Index.Compact, shard eviction, a failed shard search
// fan-out). Insert and Search never log on success.
//
// © 2025 hnsw-index authors. MIT License.

import "go.uber.org/zap"

type zapLoggerFacade struct {
	base  *zap.Logger
	sugar *zap.SugaredLogger
}

func wrapLogger(l *zap.Logger) zapLoggerFacade {
	if l == nil {
		l = zap.NewNop()
	}
	return zapLoggerFacade{base: l, sugar: l.Sugar()}
}

func (f zapLoggerFacade) Info(msg string, kv ...interface{}) { f.sugar.Infow(msg, kv...) }
func (f zapLoggerFacade) Warn(msg string, kv ...interface{}) { f.sugar.Warnw(msg, kv...) }
func (f zapLoggerFacade) Error(msg string, kv ...interface{}) {
	f.sugar.Errorw(msg, kv...)
}

// raw returns the underlying *zap.Logger, e.g. to carry it into a rebuilt
// Index's Config during Compact.
func (f zapLoggerFacade) raw() *zap.Logger { return f.base }
