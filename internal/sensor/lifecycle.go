// Package sensor classifies the FreeStyle Libre sensor lifecycle from the
// activation time reported by the LibreLinkUp API.
package sensor

// State describes the sensor lifecycle. The first seven values match the
// raw "pt" codes the API reports for an active sensor.
type State uint8

const (
	NotAvailable State = iota // no sensor detected
	NotStarted                // paired but inactive
	Starting                  // warm-up phase
	Ready                     // active and reporting
	Expired                   // past the 14-day lifetime
	ShutDown                  // manual deactivation
	Failure                   // hardware malfunction
	Undetermined              // classification fell through; never assume ready
)

func (s State) String() string {
	switch s {
	case NotAvailable:
		return "not_available"
	case NotStarted:
		return "not_started"
	case Starting:
		return "starting"
	case Ready:
		return "ready"
	case Expired:
		return "expired"
	case ShutDown:
		return "shut_down"
	case Failure:
		return "failure"
	}
	return "undetermined"
}

// FromCode maps a raw API state code to a State
func FromCode(code int) State {
	if code >= 0 && code <= int(Failure) {
		return State(code)
	}
	return Undetermined
}

const (
	// WarmupSeconds is the sensor warm-up period after activation.
	WarmupSeconds = 3600
	// LifetimeSeconds is the total sensor lifetime (14 days).
	LifetimeSeconds = 14 * 24 * 3600
)

// Info is the sensor record from the connection's "sensor" object. The
// API clears the device ID once the sensor is fully active, so an empty
// ID with a serial present means warm-up or end of life.
type Info struct {
	ID             string // deviceId, empty while not active
	Serial         string // sn
	ActivationTime int64  // "a", epoch seconds
}

// Remaining is the sensor's remaining validity decomposed for display
type Remaining struct {
	Days    int
	Hours   int
	Minutes int
	Seconds int
}

// Classify determines the lifecycle state at time now (epoch seconds).
// Remaining is only populated for the Ready state.
func Classify(info Info, now int64) (State, Remaining) {
	activation := info.ActivationTime

	switch {
	case info.ID == "" && info.Serial == "":
		return NotAvailable, Remaining{}

	case info.ID == "" && info.Serial != "" && activation > 0 &&
		activation+WarmupSeconds > now:
		return Starting, Remaining{}

	case activation > 0 && activation+WarmupSeconds <= now &&
		activation+LifetimeSeconds > now:
		diff := (activation + LifetimeSeconds) - now
		return Ready, Remaining{
			Days:    int(diff / 86400),
			Hours:   int(diff / 3600 % 24),
			Minutes: int(diff / 60 % 60),
			Seconds: int(diff % 60),
		}

	case info.ID == "" && info.Serial != "" && activation > 0 &&
		activation+LifetimeSeconds < now:
		return Expired, Remaining{}
	}

	return Undetermined, Remaining{}
}

// RemainingWarmup returns the remaining warm-up time in whole minutes,
// never negative
func RemainingWarmup(activation, now int64) int {
	remaining := (activation + WarmupSeconds) - now
	if remaining < 0 {
		return 0
	}
	return int(remaining / 60)
}
