// Package api defines the contracts shared between the beacon core and the
// product features that plug into it: the context snapshot, tracking consent,
// the feature and transport interfaces, and the performance presets that tune
// the storage and upload pipelines.
package api

import "time"

// AppState describes the host application's runtime state.
type AppState string

const (
	AppStateActive     AppState = "active"
	AppStateInactive   AppState = "inactive"
	AppStateBackground AppState = "background"
	AppStateTerminated AppState = "terminated"
)

// AppStateSnapshot is one observed application state with the instant it was
// entered.
type AppStateSnapshot struct {
	State AppState
	Date  time.Time
}

// AppStateHistory records the application state at SDK start and every change
// observed since. The zero value reports AppStateActive.
type AppStateHistory struct {
	Initial AppStateSnapshot
	Changes []AppStateSnapshot
}

// CurrentState returns the most recently observed application state.
func (h AppStateHistory) CurrentState() AppState {
	if n := len(h.Changes); n > 0 {
		return h.Changes[n-1].State
	}
	if h.Initial.State != "" {
		return h.Initial.State
	}
	return AppStateActive
}

// Append records a state change.
func (h AppStateHistory) Append(s AppStateSnapshot) AppStateHistory {
	changes := make([]AppStateSnapshot, len(h.Changes), len(h.Changes)+1)
	copy(changes, h.Changes)
	h.Changes = append(changes, s)
	return h
}

// DeviceInfo describes the device the SDK runs on.
type DeviceInfo struct {
	Name         string
	Model        string
	OSName       string
	OSVersion    string
	Architecture string
}

// UserInfo identifies the current application user.
type UserInfo struct {
	ID    string
	Name  string
	Email string
	Extra map[string]any
}

// CarrierInfo describes the cellular carrier, when one is available.
type CarrierInfo struct {
	Name            string
	ISOCountryCode  string
	RadioTechnology string
}

// Reachability is the coarse network availability state.
type Reachability string

const (
	// ReachabilityYes means the network is reachable.
	ReachabilityYes Reachability = "yes"
	// ReachabilityNo means the network is known to be unreachable.
	ReachabilityNo Reachability = "no"
	// ReachabilityMaybe means reachability could not be determined; uploads
	// proceed optimistically.
	ReachabilityMaybe Reachability = "maybe"
)

// NetworkInfo is the current network connection info.
type NetworkInfo struct {
	Reachability Reachability
	Interfaces   []string
	Carrier      *CarrierInfo
}

// BatteryState describes how the device is powered.
type BatteryState string

const (
	BatteryStateUnknown   BatteryState = "unknown"
	BatteryStateUnplugged BatteryState = "unplugged"
	BatteryStateCharging  BatteryState = "charging"
	BatteryStateFull      BatteryState = "full"
)

// BatteryStatus is the current battery state and charge level (0.0 to 1.0).
type BatteryStatus struct {
	State BatteryState
	Level float64
}

// Context is the evolving snapshot of device, application, user and SDK state
// attached to every event write and upload. Snapshots handed out by the
// context provider are consistent: all fields were observed at the same
// point on the provider's serial lane.
type Context struct {
	// Version increases by one on every committed context mutation. Receivers
	// observing a sequence of snapshots see strictly increasing versions.
	Version uint64

	Site        string
	ClientToken string
	Service     string
	Env         string
	AppVersion  string
	SDKVersion  string
	Source      string

	Device          DeviceInfo
	AppStateHistory AppStateHistory
	LaunchTime      time.Time

	// ServerTimeOffset is the last known difference between server time and
	// device time, pushed by a ServerDateProvider.
	ServerTimeOffset time.Duration

	Network      NetworkInfo
	Battery      BatteryStatus
	LowPowerMode bool

	User            UserInfo
	TrackingConsent TrackingConsent

	// Baggages carries opaque sub-contexts contributed by features, keyed by
	// feature-chosen names.
	Baggages map[string]any
}

// Clone returns a deep copy of the mutable parts of the context so that a
// snapshot cannot alias maps still owned by the provider.
func (c Context) Clone() Context {
	if c.Baggages != nil {
		baggages := make(map[string]any, len(c.Baggages))
		for k, v := range c.Baggages {
			baggages[k] = v
		}
		c.Baggages = baggages
	}
	if c.User.Extra != nil {
		extra := make(map[string]any, len(c.User.Extra))
		for k, v := range c.User.Extra {
			extra[k] = v
		}
		c.User.Extra = extra
	}
	if c.Network.Carrier != nil {
		carrier := *c.Network.Carrier
		c.Network.Carrier = &carrier
	}
	return c
}
