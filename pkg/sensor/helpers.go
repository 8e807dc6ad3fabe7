package sensor

import "github.com/ericogr/plant-autocal/pkg/config"

// buildChannelSettings extracts the enabled channels, their raw ranges for
// simulation and their per-channel sample rates.
func buildChannelSettings(cfg config.Config) (channels []int, ranges map[int][2]int, sampleRates map[int]int) {
	channels = make([]int, 0)
	ranges = make(map[int][2]int)
	sampleRates = make(map[int]int)
	for _, c := range cfg.Channels {
		if c.SampleRate != 0 {
			sampleRates[c.Channel] = c.SampleRate
		}
		if !c.Enabled {
			continue
		}
		channels = append(channels, c.Channel)
		if c.Max > c.Min {
			ranges[c.Channel] = [2]int{c.Min, c.Max}
		}
	}
	return
}
