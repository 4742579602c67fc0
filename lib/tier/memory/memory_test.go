package memory

import (
	"testing"

	"github.com/avollmer/strataKV/lib/tier"
	"github.com/avollmer/strataKV/lib/tier/tiertest"
)

func TestMemoryStorage(t *testing.T) {
	tiertest.RunStorageTests(t, "Memory", func(t *testing.T) tier.Storage {
		return New()
	})
}
