package api

import (
	"encoding/json"
	"time"

	"github.com/codehz/bedweb/internal/rpc"
	"github.com/codehz/bedweb/internal/sysinfo"
)

// cpustatJSON mirrors build_cpustat in api.cpp: global counters, per-core
// counters, and the wall-clock time the snapshot was taken.
type cpustatJSON struct {
	Global sysinfo.CPUStat   `json:"global"`
	Separated []sysinfo.CPUStat `json:"separated"`
	Time      int64             `json:"time"`
}

func buildCPUStat() (cpustatJSON, error) {
	snap, err := sysinfo.ReadCPUStat()
	if err != nil {
		return cpustatJSON{}, err
	}
	cores := snap.Cores
	if cores == nil {
		cores = []sysinfo.CPUStat{}
	}
	return cpustatJSON{Global: snap.Global, Separated: cores, Time: time.Now().Unix()}, nil
}

// registerSysinfo installs sysinfo.* methods and declares the three
// telemetry event topics telemetry.Timer emits into. monitorPath is the
// default path sysinfo.diskspace reports on when the caller
// supplies none, matching config.monitor_path.
func registerSysinfo(d *rpc.Dispatcher, monitorPath string) {
	d.DeclareEvent("sysinfo.cpustat")
	d.DeclareEvent("sysinfo.sysinfo")
	d.DeclareEvent("sysinfo.diskspace")

	d.RegisterMethod("sysinfo.cpuid", func(caller rpc.Caller, params json.RawMessage) (any, *rpc.Error) {
		id, err := sysinfo.ReadCPUID()
		if err != nil {
			return nil, rpc.Errorf(rpc.KindSystem, "cpuid: %v", err)
		}
		if !id.Available {
			return nil, nil
		}
		return id, nil
	})

	d.RegisterMethod("sysinfo.cpustat", func(caller rpc.Caller, params json.RawMessage) (any, *rpc.Error) {
		stat, err := buildCPUStat()
		if err != nil {
			return nil, rpc.Errorf(rpc.KindSystem, "cpustat: %v", err)
		}
		return stat, nil
	})

	d.RegisterMethod("sysinfo.sysinfo", func(caller rpc.Caller, params json.RawMessage) (any, *rpc.Error) {
		info, err := sysinfo.ReadMemInfo()
		if err != nil {
			return nil, rpc.Errorf(rpc.KindSystem, "sysinfo: %v", err)
		}
		return info, nil
	})

	d.RegisterMethod("sysinfo.diskspace", func(caller rpc.Caller, params json.RawMessage) (any, *rpc.Error) {
		path := monitorPath
		var args []string
		if err := json.Unmarshal(params, &args); err == nil && len(args) == 1 && args[0] != "" {
			path = args[0]
		}
		space, err := sysinfo.ReadDiskSpace(path)
		if err != nil {
			return nil, rpc.Errorf(rpc.KindSystem, "diskspace: %v", err)
		}
		return space, nil
	})

	d.RegisterMethod("sysinfo.users", func(caller rpc.Caller, params json.RawMessage) (any, *rpc.Error) {
		users, err := sysinfo.ReadUsers()
		if err != nil {
			return nil, rpc.Errorf(rpc.KindSystem, "users: %v", err)
		}
		return users, nil
	})

	d.RegisterMethod("sysinfo.groups", func(caller rpc.Caller, params json.RawMessage) (any, *rpc.Error) {
		groups, err := sysinfo.ReadGroups()
		if err != nil {
			return nil, rpc.Errorf(rpc.KindSystem, "groups: %v", err)
		}
		return groups, nil
	})

	d.RegisterMethod("sysinfo.current_user", func(caller rpc.Caller, params json.RawMessage) (any, *rpc.Error) {
		user, err := sysinfo.CurrentUser()
		if err != nil {
			return nil, rpc.Errorf(rpc.KindSystem, "current_user: %v", err)
		}
		return user, nil
	})

	d.RegisterMethod("ping", func(caller rpc.Caller, params json.RawMessage) (any, *rpc.Error) {
		return "pong", nil
	})
}
