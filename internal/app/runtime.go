package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

// TestModeEnv, when truthy, makes the binaries return before they connect to
// PostgreSQL, Redis or the queue.
const TestModeEnv = "MEDTRACK_TEST_MODE"

const (
	modeUnknown int32 = iota
	modeLive
	modeTest
)

var runtimeMode atomic.Int32

// InTestMode reports whether the application should skip runtime side effects.
func InTestMode() bool {
	if runtimeMode.Load() == modeUnknown {
		RefreshTestMode()
	}
	return runtimeMode.Load() == modeTest
}

// RefreshTestMode re-reads TestModeEnv. Unparsable values count as live.
func RefreshTestMode() {
	on, _ := strconv.ParseBool(os.Getenv(TestModeEnv))
	if on {
		runtimeMode.Store(modeTest)
		return
	}
	runtimeMode.Store(modeLive)
}
