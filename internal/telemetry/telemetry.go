// Package telemetry drives the periodic sampling tick described in the
// original's api.cpp Timer<Callback> (a timerfd registered on the epoll
// loop). Go has no idiomatic timerfd equivalent reachable without cgo, so
// the tick is driven by github.com/robfig/cron/v3 instead — the one cron
// library the example pack actually vendors (tomponline-lxd) — using
// cron.SkipIfStillRunning so a slow sample never queues a second tick behind
// it, matching "ticks never overlap" from spec §4.5.
package telemetry

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/codehz/bedweb/internal/rpc"
	"github.com/codehz/bedweb/internal/sysinfo"
)

// Timer owns the cron schedule driving periodic sysinfo.* events. Every
// Sample call is submitted through the owning Reactor by the caller of
// Start (the server wiring), so cron's own goroutine never touches shared
// state directly.
type Timer struct {
	cron        *cron.Cron
	dispatch    *rpc.Dispatcher
	monitorPath string
	submit      func(func())
	log         *logrus.Logger
	onTick      func()
}

// New creates a Timer. submit must enqueue its argument onto the Reactor.
// log may be nil, in which case per-tick summaries are not logged (used by
// tests that only care about emitted events). onTick, if non-nil, runs on
// the Reactor once per completed tick after the three events are emitted —
// the server wiring uses it to bump the telemetry_ticks_total counter and
// refresh the terminal/blob gauges, since a tick is the one point that
// reliably catches state changes (a terminal exiting on its own) that don't
// go through an RPC call.
func New(dispatch *rpc.Dispatcher, monitorPath string, submit func(func()), log *logrus.Logger, onTick func()) *Timer {
	return &Timer{
		cron:        cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger))),
		dispatch:    dispatch,
		monitorPath: monitorPath,
		submit:      submit,
		log:         log,
		onTick:      onTick,
	}
}

// Start schedules the sampling tick at the given period (default 1 second,
// matching config.perid ?: 1 in the original) and begins running it. cron's
// @every schedule has one-second granularity: a period below one second runs
// once per second.
func (t *Timer) Start(period time.Duration) error {
	if period <= 0 {
		period = time.Second
	}
	spec := fmt.Sprintf("@every %s", period)
	_, err := t.cron.AddFunc(spec, t.tick)
	if err != nil {
		return fmt.Errorf("telemetry: schedule: %w", err)
	}
	t.cron.Start()
	return nil
}

// Stop halts the schedule and waits for any in-flight tick to finish.
func (t *Timer) Stop() {
	<-t.cron.Stop().Done()
}

// tick runs on cron's own goroutine; it samples synchronously (sampling is
// cheap: a handful of file reads and syscalls) then hands the three events
// to the Reactor to actually emit, preserving the "handlers run only on the
// loop goroutine" invariant for anything that touches the dispatcher.
func (t *Timer) tick() {
	cpu, cpuErr := buildCPUStatForTick()
	mem, memErr := sysinfo.ReadMemInfo()
	disk, diskErr := sysinfo.ReadDiskSpace(t.monitorPath)

	if t.log != nil && memErr == nil && diskErr == nil {
		t.log.WithFields(logrus.Fields{
			"mem_free":  humanize.IBytes(mem.FreeRAM * uint64(mem.Unit)),
			"disk_free": humanize.IBytes(disk.Free),
		}).Debug("telemetry tick")
	}

	t.submit(func() {
		if cpuErr == nil {
			t.dispatch.Emit("sysinfo.cpustat", cpu)
		}
		if memErr == nil {
			t.dispatch.Emit("sysinfo.sysinfo", mem)
		}
		if diskErr == nil {
			t.dispatch.Emit("sysinfo.diskspace", map[string]any{
				"path": t.monitorPath,
				"info": disk,
			})
		}
		if t.onTick != nil {
			t.onTick()
		}
	})
}

// buildCPUStatForTick mirrors build_cpustat in api.cpp without importing
// package api (which would create an import cycle back into telemetry);
// the JSON shape is duplicated deliberately to keep the two packages
// independent, matching the original's own Timer callback building its
// payload inline rather than through a shared helper.
func buildCPUStatForTick() (any, error) {
	snap, err := sysinfo.ReadCPUStat()
	if err != nil {
		return nil, err
	}
	cores := snap.Cores
	if cores == nil {
		cores = []sysinfo.CPUStat{}
	}
	return map[string]any{
		"global":    snap.Global,
		"separated": cores,
		"time":      time.Now().Unix(),
	}, nil
}
