package memory

import (
	"testing"

	"affiliate-ledger/internal/repositories/interfaces"
	"affiliate-ledger/internal/repositories/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) interfaces.Store {
		return NewStore()
	})
}
