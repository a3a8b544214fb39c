package api

import (
	"encoding/json"
	"os"

	"github.com/codehz/bedweb/internal/binarymux"
	"github.com/codehz/bedweb/internal/rpc"
	"github.com/codehz/bedweb/internal/terminal"
)

// registerShell installs shell.* methods. pool owns terminal lifecycle; mux
// owns the client<->terminal link table that shell.open*/resize/unlink/close
// all have to maintain alongside the pool operation itself.
func registerShell(d *rpc.Dispatcher, pool *terminal.Pool, mux *binarymux.Mux) {
	d.RegisterMethod("shell.open_shell", func(caller rpc.Caller, params json.RawMessage) (any, *rpc.Error) {
		shellPath := os.Getenv("SHELL")
		if shellPath == "" {
			return nil, rpc.Errorf(rpc.KindSystem, "SHELL not set")
		}
		id, err := pool.Open(shellPath, []string{"-l"})
		if err != nil {
			return nil, rpc.Errorf(rpc.KindSystem, "open_shell: %v", err)
		}
		clientID, _ := caller.(binarymux.ClientID)
		if err := mux.LinkTerminal(clientID, id); err != nil {
			return nil, rpc.Errorf(rpc.KindInternal, "open_shell: link: %v", err)
		}
		return wireTerminalID(id), nil
	})

	d.RegisterMethod("shell.open", func(caller rpc.Caller, params json.RawMessage) (any, *rpc.Error) {
		var args struct {
			Program string
			Argv    []string
		}
		var raw [2]json.RawMessage
		if err := json.Unmarshal(params, &raw); err != nil {
			return nil, rpc.Errorf(rpc.KindProtocol, "bad params: %v", err)
		}
		if err := json.Unmarshal(raw[0], &args.Program); err != nil {
			return nil, rpc.Errorf(rpc.KindProtocol, "bad program: %v", err)
		}
		if err := json.Unmarshal(raw[1], &args.Argv); err != nil {
			return nil, rpc.Errorf(rpc.KindProtocol, "bad argv: %v", err)
		}
		id, err := pool.Open(args.Program, args.Argv)
		if err != nil {
			return nil, rpc.Errorf(rpc.KindSystem, "open: %v", err)
		}
		clientID, _ := caller.(binarymux.ClientID)
		if err := mux.LinkTerminal(clientID, id); err != nil {
			return nil, rpc.Errorf(rpc.KindInternal, "open: link: %v", err)
		}
		return wireTerminalID(id), nil
	})

	d.RegisterMethod("shell.resize", func(caller rpc.Caller, params json.RawMessage) (any, *rpc.Error) {
		var args struct {
			ID   uint32
			Rows uint16
			Cols uint16
		}
		var raw [3]json.RawMessage
		if err := json.Unmarshal(params, &raw); err != nil {
			return nil, rpc.Errorf(rpc.KindProtocol, "bad params: %v", err)
		}
		if err := json.Unmarshal(raw[0], &args.ID); err != nil {
			return nil, rpc.Errorf(rpc.KindProtocol, "bad id: %v", err)
		}
		if err := json.Unmarshal(raw[1], &args.Rows); err != nil {
			return nil, rpc.Errorf(rpc.KindProtocol, "bad rows: %v", err)
		}
		if err := json.Unmarshal(raw[2], &args.Cols); err != nil {
			return nil, rpc.Errorf(rpc.KindProtocol, "bad cols: %v", err)
		}
		id := terminal.ID(args.ID)
		clientID, _ := caller.(binarymux.ClientID)
		if !mux.IsLinked(clientID, id) {
			// No-op if the caller is not linked to id, per spec.
			return nil, nil
		}
		if err := pool.Resize(id, args.Rows, args.Cols); err != nil {
			return nil, rpc.Errorf(rpc.KindLookup, "resize: %v", err)
		}
		return nil, nil
	})

	d.RegisterMethod("shell.unlink", func(caller rpc.Caller, params json.RawMessage) (any, *rpc.Error) {
		id, perr := singleTerminalID(params)
		if perr != nil {
			return nil, perr
		}
		clientID, _ := caller.(binarymux.ClientID)
		mux.UnlinkTerminal(clientID, id)
		return nil, nil
	})

	d.RegisterMethod("shell.close", func(caller rpc.Caller, params json.RawMessage) (any, *rpc.Error) {
		id, perr := singleTerminalID(params)
		if perr != nil {
			return nil, perr
		}
		clientID, _ := caller.(binarymux.ClientID)
		if !mux.IsLinked(clientID, id) {
			return nil, nil
		}
		if err := pool.Close(id); err != nil {
			return nil, rpc.Errorf(rpc.KindLookup, "close: %v", err)
		}
		return nil, nil
	})
}

func singleTerminalID(params json.RawMessage) (terminal.ID, *rpc.Error) {
	var args [1]uint32
	if err := json.Unmarshal(params, &args); err != nil {
		return 0, rpc.Errorf(rpc.KindProtocol, "bad params: %v", err)
	}
	return terminal.ID(args[0]), nil
}

func wireTerminalID(id terminal.ID) map[string]any {
	return map[string]any{"id": uint32(id)}
}
