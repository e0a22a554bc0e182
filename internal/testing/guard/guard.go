// Package guard flips the binaries into test mode when imported by a test,
// so main packages never dial Postgres or Redis under go test.
package guard

import (
	"os"
	"sync"
)

// EnvKey must match the key read by app.InTestMode.
const EnvKey = "BUDGETGUARD_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(EnvKey) == "" {
			_ = os.Setenv(EnvKey, "1")
		}
	})
}
