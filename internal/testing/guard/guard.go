// Package guard flips the runtime into test mode when imported by tests so
// binaries and config loaders skip external side effects.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("RESTOPOS_TEST_MODE") == "" {
			_ = os.Setenv("RESTOPOS_TEST_MODE", "1")
		}
		if os.Getenv("JWT_SECRET") == "" {
			_ = os.Setenv("JWT_SECRET", "test-secret")
		}
	})
}
