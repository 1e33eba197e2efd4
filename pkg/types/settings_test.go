package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateSettings(t *testing.T) {
	t.Run("v1: initial defaults", func(t *testing.T) {
		s, changed, err := MigrateSettings(Settings{}, 0)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, 20.0, s.MinReserveSOC)
		assert.Equal(t, 5000.0, s.MaxChargeW)
		assert.Equal(t, 5000.0, s.MaxDischargeW)
		assert.Equal(t, 5, s.SyncHistoryDays)
	})

	t.Run("v1 to v2: keeps existing reserve", func(t *testing.T) {
		s, changed, err := MigrateSettings(Settings{MinReserveSOC: 35}, 1)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, 35.0, s.MinReserveSOC)
		assert.Equal(t, 5000.0, s.MaxChargeW)
	})

	t.Run("v2 to v3: existing power ratings untouched", func(t *testing.T) {
		old := Settings{
			MinReserveSOC: 10,
			MaxChargeW:    3300,
			MaxDischargeW: 4000,
		}
		s, changed, err := MigrateSettings(old, 2)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, 3300.0, s.MaxChargeW)
		assert.Equal(t, 4000.0, s.MaxDischargeW)
		assert.Equal(t, 5, s.SyncHistoryDays)
	})

	t.Run("no change: current version", func(t *testing.T) {
		current := Settings{
			MinReserveSOC:   15,
			MaxChargeW:      2000,
			MaxDischargeW:   2000,
			SyncHistoryDays: 2,
		}
		s, changed, err := MigrateSettings(current, CurrentSettingsVersion)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, current, s)
	})
}
