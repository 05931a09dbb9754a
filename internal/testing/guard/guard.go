package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("CASTELLAN_TEST_MODE") == "" {
			_ = os.Setenv("CASTELLAN_TEST_MODE", "1")
		}
	})
}
