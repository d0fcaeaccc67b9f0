package reconcile

import (
	"os"
	"testing"

	"trade_engine/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(true); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}
