package sysinfo

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MemInfo mirrors meminfo.h's to_json(sysinfo) field-for-field, straight off
// the sysinfo(2) struct the original wraps with a single syscall.
type MemInfo struct {
	Uptime    int64     `json:"uptime"`
	Loads     [3]uint64 `json:"loads"`
	TotalRAM  uint64    `json:"totalram"`
	FreeRAM   uint64    `json:"freeram"`
	SharedRAM uint64    `json:"sharedram"`
	BufferRAM uint64    `json:"bufferram"`
	TotalSwap uint64    `json:"totalswap"`
	FreeSwap  uint64    `json:"freeswap"`
	Procs     uint16    `json:"procs"`
	TotalHigh uint64    `json:"totalhigh"`
	FreeHigh  uint64    `json:"freehigh"`
	Unit      uint32    `json:"mem_unit"`
}

// ReadMemInfo wraps unix.Sysinfo, golang.org/x/sys/unix's binding for the
// same sysinfo(2) call getsysinfo() uses in meminfo.cpp.
func ReadMemInfo() (MemInfo, error) {
	var raw unix.Sysinfo_t
	if err := unix.Sysinfo(&raw); err != nil {
		return MemInfo{}, fmt.Errorf("sysinfo: sysinfo(2): %w", err)
	}
	return MemInfo{
		Uptime:    raw.Uptime,
		Loads:     [3]uint64{uint64(raw.Loads[0]), uint64(raw.Loads[1]), uint64(raw.Loads[2])},
		TotalRAM:  uint64(raw.Totalram),
		FreeRAM:   uint64(raw.Freeram),
		SharedRAM: uint64(raw.Sharedram),
		BufferRAM: uint64(raw.Bufferram),
		TotalSwap: uint64(raw.Totalswap),
		FreeSwap:  uint64(raw.Freeswap),
		Procs:     raw.Procs,
		TotalHigh: uint64(raw.Totalhigh),
		FreeHigh:  uint64(raw.Freehigh),
		Unit:      uint32(raw.Unit),
	}, nil
}
