// Package sysinfo gathers host telemetry: per-CPU jiffie counters from
// /proc/stat, memory and load figures via sysinfo(2), disk space via
// statfs(2), and local account listings from /etc/passwd and /etc/group.
// Grounded on the original's src/sysinfo/{cpuinfo,meminfo,diskspace}.cpp,
// translated from raw POSIX calls to golang.org/x/sys/unix (the one Go pack
// repo that actually vendors low-level syscall wrappers, tomponline-lxd).
package sysinfo

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// CPUStat mirrors cpuinfo.h's cpu_stat: ten jiffie counters straight off a
// /proc/stat line, field order and meaning unchanged.
type CPUStat struct {
	User      uint64 `json:"user"`
	Nice      uint64 `json:"nice"`
	System    uint64 `json:"systm"`
	Idle      uint64 `json:"idle"`
	IOWait    uint64 `json:"iowait"`
	IRQ       uint64 `json:"irq"`
	SoftIRQ   uint64 `json:"softirq"`
	Steal     uint64 `json:"steal"`
	Guest     uint64 `json:"guest"`
	GuestNice uint64 `json:"guest_nice"`
}

// CPUSnapshot is the result of one /proc/stat read: an aggregate line
// ("cpu") followed by one entry per logical core ("cpu0", "cpu1", ...).
type CPUSnapshot struct {
	Global CPUStat   `json:"global"`
	Cores  []CPUStat `json:"cores"`
}

// ReadCPUStat parses /proc/stat, matching CPU::snapshot()'s loop that reads
// successive "cpuN ..." lines until a line not prefixed "cpu" ends the
// block. A short or malformed line also ends the block: the counters read
// before it are returned rather than failing the whole sysinfo.cpustat call.
func ReadCPUStat() (CPUSnapshot, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return CPUSnapshot{}, fmt.Errorf("sysinfo: open /proc/stat: %w", err)
	}
	defer f.Close()

	var snap CPUSnapshot
	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "cpu") {
			break
		}
		fields := strings.Fields(line)
		if len(fields) < 11 {
			break
		}
		stat, ok := parseCPUStat(fields[1:11])
		if !ok {
			break
		}
		if first {
			snap.Global = stat
			first = false
		} else {
			snap.Cores = append(snap.Cores, stat)
		}
	}
	return snap, scanner.Err()
}

func parseCPUStat(fields []string) (CPUStat, bool) {
	vals := make([]uint64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return CPUStat{}, false
		}
		vals[i] = v
	}
	return CPUStat{
		User: vals[0], Nice: vals[1], System: vals[2], Idle: vals[3],
		IOWait: vals[4], IRQ: vals[5], SoftIRQ: vals[6], Steal: vals[7],
		Guest: vals[8], GuestNice: vals[9],
	}, true
}

// CPUID is static CPU identification, as the original obtains from
// libcpuid. No Go package in the example pack wraps libcpuid or CPUID
// decoding (see DESIGN.md), so bedweb reports what it can read portably
// from /proc/cpuinfo and returns an incomplete record with Available=false
// when even that isn't readable — matching sysinfo.cpuid's documented
// "or null if unavailable" contract rather than guessing vendor fields.
type CPUID struct {
	Available bool   `json:"available"`
	Vendor    string `json:"vendor,omitempty"`
	ModelName string `json:"brand,omitempty"`
	Cores     int    `json:"cores,omitempty"`
}

// ReadCPUID scrapes vendor_id, model name, and a core count out of
// /proc/cpuinfo. It deliberately does not attempt the CPUID instruction
// itself — doing that safely needs either cgo+libcpuid or a hand-rolled
// asm shim, neither of which any example repo demonstrates.
func ReadCPUID() (CPUID, error) {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return CPUID{Available: false}, nil
	}
	defer f.Close()

	var id CPUID
	cores := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		switch key {
		case "vendor_id":
			if id.Vendor == "" {
				id.Vendor = val
			}
		case "model name":
			if id.ModelName == "" {
				id.ModelName = val
			}
		case "processor":
			cores++
		}
	}
	id.Cores = cores
	id.Available = id.Vendor != "" || id.ModelName != ""
	return id, scanner.Err()
}
