package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/config"
)

func TestFactory(t *testing.T) {
	now := time.Date(2024, 1, 3, 19, 0, 0, 0, time.UTC)

	flat, err := Factory(config.PricingConfig{}, 0.8)
	require.NoError(t, err)
	assert.Equal(t, 0.8, flat.Rate(now))

	tou, err := Factory(config.PricingConfig{
		Provider: config.PricingTimeOfUse,
		Schedules: []config.Schedule{
			{DayOfWeek: "12345", StartTime: "18:00", EndTime: "21:00", PeakRate: 1.2, OffPeakRate: 0.6},
		},
	}, 0.8)
	require.NoError(t, err)
	assert.Equal(t, 1.2, tou.Rate(now))
	assert.Equal(t, 0.6, tou.Rate(now.Add(3*time.Hour)))

	bad, err := Factory(config.PricingConfig{Provider: config.PricingTimeOfUse}, 0.8)
	assert.Error(t, err)
	assert.Nil(t, bad)

	_, err = Factory(config.PricingConfig{Provider: "spot"}, 0.8)
	assert.Error(t, err)
}
