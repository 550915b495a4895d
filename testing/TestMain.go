package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("BEACON_TEST_MODE", "1")
		if os.Getenv("CATALOG_SOURCE") == "" {
			_ = os.Setenv("CATALOG_SOURCE", "default")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
