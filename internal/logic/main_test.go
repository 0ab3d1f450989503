package logic

import (
	"os"
	"testing"

	"github.com/blues/collab/internal/logger"
)

func TestMain(m *testing.M) {
	logger.SetDefaultLogger(logger.NewNop())
	os.Exit(m.Run())
}
