package ess

import (
	"log/slog"

	"github.com/solarautopilot/solarautopilot/pkg/log"
	"github.com/solarautopilot/solarautopilot/pkg/storage/storagemock"
)

type mockStorage = storagemock.MockDatabase

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}
