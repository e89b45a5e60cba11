package observe

import (
	"context"
	"log/slog"
)

// Category labels one class of conversational event in log output. Every
// log line emitted through this package's helpers carries the prefix
// "[HydroChat][CATEGORY]" so that operators can grep a single concern.
type Category string

const (
	CategoryIntent     Category = "INTENT"
	CategoryMissing    Category = "MISSING"
	CategoryAmbiguous  Category = "AMBIGUOUS"
	CategoryConfirm    Category = "CONFIRM"
	CategoryTool       Category = "TOOL"
	CategoryRetry      Category = "RETRY"
	CategoryError      Category = "ERROR"
	CategorySuccess    Category = "SUCCESS"
	CategoryPagination Category = "PAGINATION"
)

// IsValid reports whether c is a known category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryIntent, CategoryMissing, CategoryAmbiguous, CategoryConfirm,
		CategoryTool, CategoryRetry, CategoryError, CategorySuccess, CategoryPagination:
		return true
	}
	return false
}

// Msg prefixes msg with the category taxonomy marker.
func Msg(cat Category, msg string) string {
	return "[HydroChat][" + string(cat) + "] " + msg
}

// Log emits a category-prefixed record at the given level through the
// default logger. NRIC masking and token redaction happen downstream in the
// redact handler, so args may carry raw values without leaking them.
func Log(ctx context.Context, level slog.Level, cat Category, msg string, args ...any) {
	slog.Default().Log(ctx, level, Msg(cat, msg), args...)
}

// Debug emits a category-prefixed record at debug level.
func Debug(ctx context.Context, cat Category, msg string, args ...any) {
	Log(ctx, slog.LevelDebug, cat, msg, args...)
}

// Info emits a category-prefixed record at info level.
func Info(ctx context.Context, cat Category, msg string, args ...any) {
	Log(ctx, slog.LevelInfo, cat, msg, args...)
}

// Warn emits a category-prefixed record at warn level.
func Warn(ctx context.Context, cat Category, msg string, args ...any) {
	Log(ctx, slog.LevelWarn, cat, msg, args...)
}

// Error emits a category-prefixed record at error level.
func Error(ctx context.Context, cat Category, msg string, args ...any) {
	Log(ctx, slog.LevelError, cat, msg, args...)
}
