package main

import (
	"sync"
	"time"
)

type Runner func()

// Monitor calls runner periodically. After creation and after every Reset it runs at
// shortInterval for shortDuration before falling back to longInterval.
type Monitor struct {
	reset chan struct{}
	quit  chan struct{}
	once  sync.Once

	longInterval  time.Duration
	shortInterval time.Duration
	shortDuration time.Duration

	runner Runner
}

func CreateMonitor(runner Runner, longInterval time.Duration, shortInterval time.Duration, shortDuration time.Duration) *Monitor {
	monitor := &Monitor{
		reset:         make(chan struct{}, 1),
		quit:          make(chan struct{}),
		longInterval:  longInterval,
		shortInterval: shortInterval,
		shortDuration: shortDuration,
		runner:        runner,
	}

	go monitor.run()

	return monitor
}

// Reset never blocks; resets requested while one is pending are merged.
func (monitor *Monitor) Reset() {
	select {
	case monitor.reset <- struct{}{}:
	default:
	}
}

func (monitor *Monitor) Stop() {
	monitor.once.Do(func() {
		close(monitor.quit)
	})
}

func (monitor *Monitor) run() {
	monitor.runner()

	ticker := time.NewTicker(monitor.shortInterval)
	shortTimer := time.NewTimer(monitor.shortDuration)
	defer func() {
		ticker.Stop()
		shortTimer.Stop()
	}()

	for {
		select {
		case <-ticker.C:
			monitor.runner()
		case <-monitor.reset:
			ticker.Stop()
			shortTimer.Stop()

			monitor.runner()

			ticker = time.NewTicker(monitor.shortInterval)
			shortTimer = time.NewTimer(monitor.shortDuration)
		case <-shortTimer.C:
			ticker.Stop()
			ticker = time.NewTicker(monitor.longInterval)
		case <-monitor.quit:
			return
		}
	}
}
