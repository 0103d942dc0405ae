package pricing

import (
	"fmt"
	"time"

	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/config"
	"github.com/elevated-systems/energyflow-dashboard/pkg/energyflow/pricing/tou"
)

// Tariff prices one kWh consumed during the hour starting at a given time.
type Tariff interface {
	// Rate returns the price per kWh at the wall-clock time t
	Rate(t time.Time) float64
}

// Flat charges the same rate at every hour.
type Flat float64

func (f Flat) Rate(time.Time) float64 {
	return float64(f)
}

// Factory creates the tariff selected by cfg. flatRate is used by the flat
// provider.
func Factory(cfg config.PricingConfig, flatRate float64) (Tariff, error) {
	switch cfg.Provider {
	case "", config.PricingFlat:
		return Flat(flatRate), nil
	case config.PricingTimeOfUse:
		s, err := tou.New(cfg.Schedules)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown pricing provider: %s", cfg.Provider)
	}
}
