package utility

import (
	"log/slog"

	"github.com/solarautopilot/solarautopilot/pkg/log"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}
