// Package testing switches the process into test mode when imported, so
// the medtrack and worker binaries skip connecting to PostgreSQL and Redis.
package testing

import (
	"os"

	"github.com/medtrack/medtrack-analytics/internal/app"
)

func init() {
	Enable()
}

// Enable sets the test mode flag and refreshes the cached runtime mode.
func Enable() {
	_ = os.Setenv(app.TestModeEnv, "1")
	app.RefreshTestMode()
}
