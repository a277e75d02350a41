package upload

import "github.com/beaconlabs/beacon/api"

// criticalBatteryLevel is the charge fraction below which an unplugged device
// stops uploading.
const criticalBatteryLevel = 0.1

// blockers returns the reasons the current context forbids uploading, or nil
// when uploads may proceed. An empty result is required before any batch is
// read.
func blockers(ctx api.Context) []string {
	var out []string
	if ctx.TrackingConsent != api.ConsentGranted {
		out = append(out, "consent")
	}
	if ctx.Network.Reachability == api.ReachabilityNo {
		out = append(out, "network")
	}
	if ctx.Battery.State == api.BatteryStateUnplugged && ctx.Battery.Level > 0 && ctx.Battery.Level < criticalBatteryLevel {
		out = append(out, "battery")
	}
	if ctx.LowPowerMode {
		out = append(out, "low_power_mode")
	}
	return out
}
