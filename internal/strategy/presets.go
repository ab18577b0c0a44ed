package strategy

import "strings"

// Preset returns one of the bundled strategy mixes by name. The mixes mirror
// the profiles traders actually run: conservative favors slow confirmation,
// aggressive reacts faster across more detectors, scalping runs the shortest
// periods with tight thresholds.
func Preset(name string) ([]Weighted, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "conservative":
		return Conservative(), true
	case "aggressive":
		return Aggressive(), true
	case "scalping":
		return Scalping(), true
	}
	return nil, false
}

func Conservative() []Weighted {
	return []Weighted{
		{Strategy: NewMACross(MACrossConfig{Fast: 20, Slow: 50}), Weight: 0.4},
		{Strategy: NewRSI(RSIConfig{Period: 14, Oversold: 25, Overbought: 75}), Weight: 0.3},
		{Strategy: NewBollinger(BollingerConfig{Period: 20, StdDev: 2.0}), Weight: 0.3},
	}
}

func Aggressive() []Weighted {
	return []Weighted{
		{Strategy: NewMACross(MACrossConfig{Fast: 5, Slow: 15}), Weight: 0.25},
		{Strategy: NewRSI(RSIConfig{Period: 7, Oversold: 35, Overbought: 65}), Weight: 0.25},
		{Strategy: NewMACD(MACDConfig{Fast: 8, Slow: 21, Signal: 5}), Weight: 0.25},
		{Strategy: NewVolumeSpike(VolumeSpikeConfig{Period: 10, Threshold: 2.0}), Weight: 0.25},
	}
}

func Scalping() []Weighted {
	return []Weighted{
		{Strategy: NewMACross(MACrossConfig{Fast: 3, Slow: 8}), Weight: 0.4},
		{Strategy: NewRSI(RSIConfig{Period: 5, Oversold: 40, Overbought: 60}), Weight: 0.3},
		{Strategy: NewVolumeSpike(VolumeSpikeConfig{Period: 5, Threshold: 3.0}), Weight: 0.3},
	}
}
