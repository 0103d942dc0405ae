package render

// Band is one of the five fixed magnitude buckets of a manual prediction.
type Band struct {
	Name        string `json:"name"`
	Explanation string `json:"explanation"`
}

var bands = []struct {
	upper float64
	band  Band
}{
	{0.5, Band{"very low", "Consumption close to standby: only essential appliances running."}},
	{1.0, Band{"low", "Light use, typical of night hours or an empty home."}},
	{2.0, Band{"moderate", "Regular household activity with a few appliances on."}},
	{3.0, Band{"high", "Heavy use, usually air conditioning, electric shower or cooking."}},
}

var bandVeryHigh = Band{"very high", "Peak demand: several high-power appliances at once. Consider shifting loads."}

// ClassifyBand maps kWh to its band: <0.5, <1.0, <2.0, <3.0, >=3.0.
func ClassifyBand(kwh float64) Band {
	for _, b := range bands {
		if kwh < b.upper {
			return b.band
		}
	}
	return bandVeryHigh
}
