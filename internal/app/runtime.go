package app

import (
	"os"
	"strconv"
)

// TestModeEnv names the variable that keeps binaries from touching
// Postgres, Redis or the network.
const TestModeEnv = "ODYSSEY_TEST_MODE"

// InTestMode reports whether ODYSSEY_TEST_MODE is set to a true value.
func InTestMode() bool {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	return err == nil && on
}
