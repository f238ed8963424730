// Package poller drives the periodic glucose update cycle: fetch,
// classify, evaluate, persist, publish.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/mrcode/librelinkup-daemon/internal/alerts"
	"github.com/mrcode/librelinkup-daemon/internal/dailylog"
	"github.com/mrcode/librelinkup-daemon/internal/history"
	"github.com/mrcode/librelinkup-daemon/internal/librelinkup"
	"github.com/mrcode/librelinkup-daemon/internal/models"
	"github.com/mrcode/librelinkup-daemon/internal/sensor"
	"github.com/mrcode/librelinkup-daemon/internal/stats"
	"github.com/mrcode/librelinkup-daemon/internal/timecode"
)

// State describes where the update cycle currently is
type State uint8

const (
	StateIdle State = iota
	StateFetching
	StateEvaluating
	StateSensorReconnecting
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateEvaluating:
		return "evaluating"
	case StateSensorReconnecting:
		return "sensor_reconnecting"
	case StateError:
		return "error"
	}
	return "unknown"
}

const (
	// statsEveryNCycles gates daily-log persistence and the statistics
	// report to every fifth cycle.
	statsEveryNCycles = 5
	// reauthAfterInvalid and restartAfterInvalid escalate consecutive
	// error+no-sensor cycles.
	reauthAfterInvalid  = 5
	restartAfterInvalid = 10
	// maxScheduleSkew caps how far behind the server clock may run
	// before the skew correction is dropped for the next tick.
	maxScheduleSkew = -60 * time.Second
)

// ErrCycleInProgress is returned when a cycle is triggered while another
// one is still running. The cycle is not reentrant.
var ErrCycleInProgress = errors.New("update cycle already in progress")

// ErrRestartRequired is returned by Run when too many consecutive
// invalid cycles accumulated and the process should be restarted by its
// supervisor.
var ErrRestartRequired = errors.New("too many invalid cycles, restart required")

// Fetcher is the API client surface the poller drives
type Fetcher interface {
	FetchGraphData(ctx context.Context) (*librelinkup.GraphData, error)
	Authenticate(ctx context.Context) error
	History() *history.Store
	FetchDuration() time.Duration
}

// Publisher receives the snapshot produced by every cycle
type Publisher interface {
	PublishSnapshot(ctx context.Context, snap models.Snapshot) error
}

// Poller owns the update cycle state machine. All exported methods are
// safe for concurrent use; the cycle itself runs at most once at a time.
type Poller struct {
	settings   *models.Settings
	client     Fetcher
	classifier *timecode.Classifier
	dailyLog   *dailylog.Store
	clock      timecode.Clock
	alerts     *alerts.Manager // optional
	publisher  Publisher       // optional

	interval time.Duration
	running  atomic.Bool

	mu               sync.RWMutex
	state            State
	snapshot         models.Snapshot
	previousValue    int
	reconnectPending bool
	invalidCount     int
	cycleCountdown   int
	restartFlagged   bool
	lastSkew         time.Duration
	skewValid        bool
}

// Option configures optional collaborators
type Option func(*Poller)

// WithAlerts attaches an alert manager checked on every valid cycle
func WithAlerts(m *alerts.Manager) Option {
	return func(p *Poller) { p.alerts = m }
}

// WithPublisher attaches a snapshot publisher
func WithPublisher(pub Publisher) Option {
	return func(p *Poller) { p.publisher = pub }
}

// WithClock overrides the wall clock, for tests
func WithClock(clock timecode.Clock) Option {
	return func(p *Poller) { p.clock = clock }
}

// New creates a poller
func New(settings *models.Settings, client Fetcher, classifier *timecode.Classifier,
	dailyLog *dailylog.Store, opts ...Option) *Poller {
	p := &Poller{
		settings:       settings,
		client:         client,
		classifier:     classifier,
		dailyLog:       dailyLog,
		clock:          timecode.SystemClock,
		interval:       time.Duration(settings.PollInterval) * time.Second,
		cycleCountdown: statsEveryNCycles,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the state of the most recent cycle transition
func (p *Poller) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Snapshot returns the state published after the last cycle
func (p *Poller) Snapshot() models.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

// RestartFlagged reports whether the invalid-cycle counter reached the
// fatal threshold
func (p *Poller) RestartFlagged() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.restartFlagged
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// RunCycle executes one complete update cycle. Overlapping invocations
// are rejected with ErrCycleInProgress; the session and history are not
// protected against a second concurrent driver.
func (p *Poller) RunCycle(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrCycleInProgress
	}
	defer p.running.Store(false)

	p.setState(StateFetching)

	data, err := p.client.FetchGraphData(ctx)
	if err != nil {
		glog.Errorf("graph fetch failed: %v", err)
		p.mu.Lock()
		p.state = StateError
		p.reconnectPending = true
		p.skewValid = false
		p.mu.Unlock()
		return err
	}

	p.setState(StateEvaluating)

	now, clockOK := p.clock.Now()
	sensorState := sensor.NotAvailable
	var remaining sensor.Remaining
	if clockOK {
		sensorState, remaining = sensor.Classify(data.Sensor, now.Unix())
	}

	validity, skew := p.classifier.Classify(data.Reading.Timestamp)
	glog.V(1).Infof("cycle: sensor %s, timestamp %s", sensorState, validity)

	trendMessage := p.trendMessage(sensorState, data.Sensor, now, clockOK, data.Reading.TrendMessage)

	delta := 0
	finalState := StateIdle

	if validity == timecode.TimecodeValid {
		p.mu.Lock()
		p.invalidCount = 0
		p.lastSkew = skew
		p.skewValid = true
		if p.reconnectPending {
			// After a gap the previous value is stale; a delta against
			// it would show a bogus jump.
			glog.Info("sensor reconnect, delta suppressed")
			p.reconnectPending = false
			finalState = StateSensorReconnecting
		} else {
			delta = data.Reading.Value - p.previousValue
		}
		p.previousValue = data.Reading.Value
		countdown := p.tickCycleCountdown()
		p.mu.Unlock()

		glog.Infof("glucose %d %s Δ %d mg/dL", data.Reading.Value, data.Reading.TrendSymbol(), delta)

		if countdown {
			p.persistAndReport(sensorState, data, now, clockOK)
		}
		if p.alerts != nil {
			if err := p.alerts.Check(data.Reading.Value, data.Reading.TrendSymbol()); err != nil {
				glog.Errorf("alert dispatch failed: %v", err)
			}
		}
	} else {
		p.handleInvalid(ctx, validity, sensorState)
	}

	snap := buildSnapshot(data, delta, trendMessage, sensorState, remaining, validity)

	p.mu.Lock()
	p.snapshot = snap
	p.state = finalState
	p.mu.Unlock()

	if p.publisher != nil {
		if err := p.publisher.PublishSnapshot(ctx, snap); err != nil {
			glog.Errorf("snapshot publish failed: %v", err)
		}
	}
	return nil
}

// tickCycleCountdown decrements the 5-cycle counter and reports whether
// this cycle triggers persistence and statistics. Caller holds the lock.
func (p *Poller) tickCycleCountdown() bool {
	p.cycleCountdown--
	if p.cycleCountdown > 0 {
		return false
	}
	p.cycleCountdown = statsEveryNCycles
	return true
}

// handleInvalid processes the degraded paths: OUT_OF_RANGE arms a
// reconnect for the next valid cycle, and repeated error+no-sensor
// cycles escalate to reauthentication and finally a restart flag.
func (p *Poller) handleInvalid(ctx context.Context, validity timecode.Validity, sensorState sensor.State) {
	p.mu.Lock()
	p.skewValid = false
	if validity == timecode.TimecodeOutOfRange {
		glog.Warning("no valid sensor data, reconnect pending")
		p.reconnectPending = true
	}

	reauth := false
	if validity == timecode.TimecodeError && sensorState == sensor.NotAvailable {
		p.invalidCount++
		switch p.invalidCount {
		case reauthAfterInvalid:
			reauth = true
		case restartAfterInvalid:
			glog.Error("invalid cycle counter exhausted, flagging restart")
			p.restartFlagged = true
			p.invalidCount = 0
		}
	}
	p.mu.Unlock()

	if reauth {
		glog.Warning("repeated invalid cycles, reauthenticating")
		if err := p.client.Authenticate(ctx); err != nil {
			glog.Errorf("reauthentication failed: %v", err)
		}
	}
}

// trendMessage overrides the API trend message for sensors that are not
// ready
func (p *Poller) trendMessage(state sensor.State, info sensor.Info, now time.Time, clockOK bool, apiMessage string) string {
	switch state {
	case sensor.Expired:
		return "sensor expired!"
	case sensor.NotAvailable:
		return "no active sensor"
	case sensor.Starting:
		if clockOK {
			minutes := sensor.RemainingWarmup(info.ActivationTime, now.Unix())
			return fmt.Sprintf("sensor ready in %d min", minutes)
		}
		return "sensor starting"
	case sensor.Ready:
		if apiMessage == "null" {
			return ""
		}
		return apiMessage
	}
	return apiMessage
}

// persistAndReport appends the current reading to the daily log and logs
// the statistics report. Only a ready sensor produces trustworthy data.
func (p *Poller) persistAndReport(sensorState sensor.State, data *librelinkup.GraphData, now time.Time, clockOK bool) {
	if sensorState != sensor.Ready || !clockOK {
		return
	}

	if err := p.dailyLog.Append(now.Unix(), uint16(data.Reading.Value)); err != nil { //nolint:gosec // mg/dL values are 0-999
		glog.Errorf("daily log append failed: %v", err)
	}

	p.logStatistics(data.Reading.Value, now)
}

func (p *Poller) logStatistics(current int, now time.Time) {
	values := p.client.History().Values()
	mean := stats.Mean(values)
	stdDev := stats.StdDev(nonZero(values), mean)

	todayMean, todayCount, err := p.dailyLog.MeanFromFile(dailylog.FilenameFor(now.Unix()))
	if err != nil {
		glog.Errorf("reading today's log: %v", err)
	}
	weekMean, weekCount, err := p.dailyLog.MeanTrailing7Days(now)
	if err != nil {
		glog.Errorf("reading weekly logs: %v", err)
	}

	glog.Info("========== Glucose Statistics =============")
	glog.Infof("current glucose value : %d mg/dL", current)
	glog.Infof("mean of history       : %.0f mg/dL", mean)
	glog.Infof("mean of today         : %.0f mg/dL (%d samples)", todayMean, todayCount)
	glog.Infof("mean of last 7 days   : %.0f mg/dL (%d samples)", weekMean, weekCount)
	glog.Infof("HbA1c of history      : %.2f %%", stats.HbA1c(mean))
	glog.Infof("TIR of history        : %.2f %%", stats.TimeInRange(nonZero(values), p.settings.TargetLow, p.settings.TargetHigh))
	glog.Infof("StdDev of history     : %.2f σ", stdDev)
	glog.Infof("CV of history         : %.2f cv", stats.CV(stdDev, mean))
	glog.Info("===========================================")
}

// nonZero filters out the "no data" sentinel slots
func nonZero(values []uint16) []uint16 {
	out := make([]uint16, 0, len(values))
	for _, v := range values {
		if v != 0 {
			out = append(out, v)
		}
	}
	return out
}

func buildSnapshot(data *librelinkup.GraphData, delta int, trendMessage string,
	sensorState sensor.State, remaining sensor.Remaining, validity timecode.Validity) models.Snapshot {
	return models.Snapshot{
		Glucose:          data.Reading.Value,
		TrendArrow:       data.Reading.TrendArrow,
		TrendSymbol:      data.Reading.TrendSymbol(),
		Delta:            delta,
		MeasurementColor: data.Reading.MeasurementColor,
		TrendMessage:     trendMessage,
		Timestamp:        data.Reading.Epoch,
		SensorState:      sensorState.String(),
		SensorDays:       remaining.Days,
		SensorHours:      remaining.Hours,
		SensorMinutes:    remaining.Minutes,
		SensorSeconds:    remaining.Seconds,
		TimestampStatus:  validity.String(),
	}
}

// AppendCurrent writes the last published reading to the daily log,
// regardless of the 5-cycle counter. External triggers (command shell,
// MQTT command) use this.
func (p *Poller) AppendCurrent() error {
	now, ok := p.clock.Now()
	if !ok {
		return fmt.Errorf("local time unavailable")
	}

	p.mu.RLock()
	value := p.snapshot.Glucose
	p.mu.RUnlock()

	if value == 0 {
		return fmt.Errorf("no reading available")
	}
	return p.dailyLog.Append(now.Unix(), uint16(value)) //nolint:gosec // mg/dL values are 0-999
}

// nextInterval computes the wait until the next cycle. A valid cycle
// shifts the tick by the measured server clock skew plus the fetch
// duration so polls track the server's five-minute grid. The raw skew
// alone decides whether the correction applies: a server clock more
// than a minute behind drops it, before fetch time is added.
func (p *Poller) nextInterval() time.Duration {
	p.mu.RLock()
	skew, valid := p.lastSkew, p.skewValid
	p.mu.RUnlock()

	if !valid || skew < maxScheduleSkew {
		return p.interval
	}
	next := p.interval + skew + p.client.FetchDuration()
	if next <= 0 {
		return p.interval
	}
	return next
}

// Run polls in a loop until the context is canceled or a restart is
// flagged. The first cycle runs immediately.
func (p *Poller) Run(ctx context.Context) error {
	glog.Infof("poll loop started, interval %s", p.interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		if err := p.RunCycle(ctx); err != nil && !errors.Is(err, ErrCycleInProgress) {
			glog.Warningf("cycle failed: %v", err)
		}
		if p.RestartFlagged() {
			return ErrRestartRequired
		}

		timer.Reset(p.nextInterval())
	}
}
