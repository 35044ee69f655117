package app

import (
	"github.com/dokzlo13/huesync/internal/config"
	"github.com/dokzlo13/huesync/internal/hue"
)

// SessionOptions translates configuration into session options.
func SessionOptions(cfg *config.Config, address, username string) (hue.Options, error) {
	opts := hue.DefaultOptions(address, username)
	opts.UseHTTPS = cfg.Bridge.UseHTTPS

	parts, err := hue.ParseRefreshParts(cfg.Refresh.Parts)
	if err != nil {
		return hue.Options{}, err
	}
	if parts != 0 {
		opts.RefreshParts = parts
	}
	opts.RefreshInterval = cfg.Refresh.Interval.Duration()
	opts.BridgeRefreshMinute = cfg.Refresh.GetBridgeMinuteOfDay()
	opts.SortOrder = hue.ParseSortOrder(cfg.Refresh.SortOrder)
	opts.DefaultTransitionTime = cfg.Lights.GetDefaultTransitionTime()

	opts.RampDurations[hue.RampRaise] = cfg.Ramps.Raise.Duration()
	opts.RampDurations[hue.RampLower] = cfg.Ramps.Lower.Duration()
	opts.RampDurations[hue.RampCycleDim] = cfg.Ramps.CycleDim.Duration()
	opts.RampDurations[hue.RampCycleHue] = cfg.Ramps.CycleHue.Duration()
	opts.RampDurations[hue.RampCycleSat] = cfg.Ramps.CycleSat.Duration()
	opts.RampDurations[hue.RampCycleCT] = cfg.Ramps.CycleCT.Duration()

	opts.Timings = hue.Timings{
		UpdateCheckInterval: cfg.Tracking.UpdateCheckInterval.Duration(),
		UpdateCheckTimeout:  cfg.Tracking.UpdateCheckTimeout.Duration(),
		UpdateApplyInterval: cfg.Tracking.UpdateApplyInterval.Duration(),
		UpdateApplyTimeout:  cfg.Tracking.UpdateApplyTimeout.Duration(),
		SearchInterval:      cfg.Tracking.SearchInterval.Duration(),
		SearchTimeout:       cfg.Tracking.SearchTimeout.Duration(),
	}
	return opts, nil
}
