package api

import (
	"github.com/codehz/bedweb/internal/binarymux"
	"github.com/codehz/bedweb/internal/rpc"
	"github.com/codehz/bedweb/internal/terminal"
)

// Register installs the complete method/event table onto d: ping,
// sysinfo.*, fs.*, shell.*. Called once at server startup, mirroring
// prepare() in api.cpp being invoked exactly once from main.cpp.
func Register(d *rpc.Dispatcher, pool *terminal.Pool, mux *binarymux.Mux, monitorPath string) {
	registerSysinfo(d, monitorPath)
	registerFS(d, mux)
	registerShell(d, pool, mux)
}
