package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("PRORAB_TEST_MODE") == "" {
			_ = os.Setenv("PRORAB_TEST_MODE", "1")
		}
	})
}
