// Package rlog is the component-tagged logger shared across roomrtc. It
// plays the same role as the teacher's internal/logging package (one
// level/tag per subsystem, one shared destination) but is built on
// zerolog instead of a hand-rolled writer.
package rlog

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.Mutex
	base   zerolog.Logger
	levels map[string]zerolog.Level
)

func init() {
	zerolog.TimeFieldFormat = "2006-01-02 15:04:05.000"
	base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: zerolog.TimeFieldFormat}).
		With().Timestamp().Logger()
	levels = parseLevelEnv(os.Getenv("ROOMRTC_LOG_LEVEL"))
}

// parseLevelEnv parses strings like "info" or "ice=debug,srtp=warn,rtcp=error"
// into a default level plus per-component overrides, the same shape as the
// teacher's tag-based level overrides in internal/logging/level.go.
func parseLevelEnv(spec string) map[string]zerolog.Level {
	m := map[string]zerolog.Level{"": zerolog.InfoLevel}
	if spec == "" {
		return m
	}
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "=") {
			if lvl, err := zerolog.ParseLevel(part); err == nil {
				m[""] = lvl
			}
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if lvl, err := zerolog.ParseLevel(strings.TrimSpace(kv[1])); err == nil {
			m[strings.TrimSpace(kv[0])] = lvl
		}
	}
	return m
}

// SetOutput overrides the destination for all loggers (tests redirect this).
func SetOutput(w zerolog.ConsoleWriter) {
	mu.Lock()
	defer mu.Unlock()
	base = zerolog.New(w).With().Timestamp().Logger()
}

// For derives a component logger the way the teacher's Logger.WithTag does.
func For(component string) zerolog.Logger {
	mu.Lock()
	lvl, ok := levels[component]
	if !ok {
		lvl = levels[""]
	}
	mu.Unlock()
	return base.With().Str("component", component).Logger().Level(lvl)
}

// Now exists purely so call sites don't import "time" just to stamp an
// event field; mirrors the teacher's habit of small local helpers.
func Now() time.Time {
	return time.Now()
}
