package types

import (
	"fmt"
)

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 3

// Settings represents the configuration stored in the database.
// These are dynamic settings that can be changed without redeploying.
type Settings struct {
	// Don't apply decisions to the battery
	DryRun bool `json:"dryRun"`
	// Pause updates
	Pause bool `json:"pause"`

	// Battery Settings
	// The battery is never scheduled below this SOC.
	MinReserveSOC float64 `json:"minReserveSOC"`
	// Maximum charge rate the optimizer may schedule (in W).
	MaxChargeW float64 `json:"maxChargeW"`
	// Maximum discharge rate the optimizer may schedule (in W).
	MaxDischargeW float64 `json:"maxDischargeW"`

	// History Settings
	// Number of days of battery history to sync on every update.
	SyncHistoryDays int `json:"syncHistoryDays"`
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were made, and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	// Loop through versions to apply migrations sequentially
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: initial
			if s.MinReserveSOC == 0 {
				s.MinReserveSOC = 20.0
				migrated = true
			}
		case 2:
			// version 2: add power ratings
			if s.MaxChargeW == 0 {
				s.MaxChargeW = 5000
				migrated = true
			}
			if s.MaxDischargeW == 0 {
				s.MaxDischargeW = 5000
				migrated = true
			}
		case 3:
			// version 3: add history sync window
			if s.SyncHistoryDays == 0 {
				s.SyncHistoryDays = 5
				migrated = true
			}
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", version)
		}
	}

	return s, migrated, nil
}
