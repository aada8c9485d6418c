// Package poller refreshes every monitored device on a fixed interval, at a
// bounded rate, and hands the resulting sensor values to a publisher.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/jamesprial/drive-monitor/internal/device"
)

// DefaultInterval matches how often a monitoring consumer scans sensors.
const DefaultInterval = 20 * time.Second

// DefaultMaxPollsPerSecond bounds device refreshes when unset.
const DefaultMaxPollsPerSecond = 5

// Devices lists the devices to poll.
type Devices interface {
	Devices() []device.Device
}

// Publisher receives every sensor after each poll cycle.
type Publisher interface {
	Publish(sensors []*device.Sensor)
}

// Options configures a Poller.
type Options struct {
	Interval          time.Duration
	MaxPollsPerSecond float64
	Publisher         Publisher // optional
	Clock             clock.WithTicker
}

// Poller polls every sensor of every device once per interval.
type Poller struct {
	devices   Devices
	interval  time.Duration
	limiter   *rate.Limiter
	publisher Publisher
	clock     clock.WithTicker
}

// New returns a Poller over devices.
func New(devices Devices, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.MaxPollsPerSecond <= 0 {
		opts.MaxPollsPerSecond = DefaultMaxPollsPerSecond
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Poller{
		devices:   devices,
		interval:  opts.Interval,
		limiter:   rate.NewLimiter(rate.Limit(opts.MaxPollsPerSecond), 1),
		publisher: opts.Publisher,
		clock:     opts.Clock,
	}
}

// Result summarizes one poll cycle.
type Result struct {
	Devices int
	Failed  int
}

// PollOnce polls every sensor once. Devices are started no faster than the
// rate limit allows and refreshed concurrently; a failing device does not
// affect the others.
func (p *Poller) PollOnce(ctx context.Context) (Result, error) {
	devices := p.devices.Devices()
	res := Result{Devices: len(devices)}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		waitErr error
	)
	for _, d := range devices {
		if err := p.limiter.Wait(ctx); err != nil {
			waitErr = err
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := pollDevice(ctx, d); err != nil {
				mu.Lock()
				res.Failed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if p.publisher != nil {
		var sensors []*device.Sensor
		for _, d := range devices {
			sensors = append(sensors, d.Sensors()...)
		}
		p.publisher.Publish(sensors)
	}
	return res, waitErr
}

// pollDevice polls each sensor the way a consumer would. Every poll after
// the first is served by the device's coalesced update.
func pollDevice(ctx context.Context, d device.Device) error {
	var firstErr error
	for _, s := range d.Sensors() {
		if _, err := s.Poll(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Run polls immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		res, err := p.PollOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Warn("poll cycle interrupted", "error", err)
		}
		slog.Debug("poll cycle complete", "devices", res.Devices, "failed", res.Failed)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		}
	}
}
