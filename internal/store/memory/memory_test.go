package memory

import (
	"testing"

	"github.com/zhouzirui/mindcare/backend/internal/store"
	"github.com/zhouzirui/mindcare/backend/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return New()
	})
}
