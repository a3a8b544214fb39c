package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codehz/bedweb/internal/binarymux"
	"github.com/codehz/bedweb/internal/rpc"
	"github.com/codehz/bedweb/internal/terminal"
)

func resultID(t *testing.T, resp rpc.Response) terminal.ID {
	t.Helper()
	result, ok := resp.Result.(map[string]any)
	require.True(t, ok, "expected a map result, got %T", resp.Result)
	id, ok := result["id"].(uint32)
	require.True(t, ok, "expected a uint32 id field, got %T", result["id"])
	return terminal.ID(id)
}

// TestShellOpenImplicitlyLinksCaller covers shell.open's documented
// implicit-link behavior (spec §4.6: "Both shell.open_shell and shell.open
// implicitly link the caller to the new terminal").
func TestShellOpenImplicitlyLinksCaller(t *testing.T) {
	d, mux := newTestDispatcher(t, "/")
	caller := binarymux.ClientID(1)

	resp := call(t, d, caller, "shell.open", []any{"cat", []string{}})
	require.Nil(t, resp.Err)
	id := resultID(t, resp)
	assert.True(t, mux.IsLinked(caller, id))

	resp = call(t, d, caller, "shell.close", []any{uint32(id)})
	require.Nil(t, resp.Err)

	time.Sleep(50 * time.Millisecond) // let the exit-reaping goroutine catch up
}

// TestShellResizeNoopWhenNotLinked covers the "no-op if the caller is not
// linked to id" contract for shell.resize and shell.close.
func TestShellResizeNoopWhenNotLinked(t *testing.T) {
	d, _ := newTestDispatcher(t, "/")
	owner := binarymux.ClientID(1)
	other := binarymux.ClientID(2)

	resp := call(t, d, owner, "shell.open", []any{"cat", []string{}})
	require.Nil(t, resp.Err)
	id := resultID(t, resp)

	resp = call(t, d, other, "shell.resize", []any{uint32(id), 40, 100})
	assert.Nil(t, resp.Err, "resize by an unlinked caller must be a silent no-op, not an error")

	resp = call(t, d, other, "shell.close", []any{uint32(id)})
	assert.Nil(t, resp.Err, "close by an unlinked caller must be a silent no-op, not an error")

	resp = call(t, d, owner, "shell.close", []any{uint32(id)})
	assert.Nil(t, resp.Err)
}

func TestShellOpenShellRequiresShellEnv(t *testing.T) {
	d, _ := newTestDispatcher(t, "/")
	t.Setenv("SHELL", "")
	resp := call(t, d, binarymux.ClientID(1), "shell.open_shell", []any{})
	require.NotNil(t, resp.Err)
	assert.Equal(t, rpc.KindSystem, resp.Err.Kind)
}

func TestUnlinkStopsOutputWithoutClosing(t *testing.T) {
	d, mux := newTestDispatcher(t, "/")
	caller := binarymux.ClientID(1)

	resp := call(t, d, caller, "shell.open", []any{"cat", []string{}})
	require.Nil(t, resp.Err)
	id := resultID(t, resp)

	resp = call(t, d, caller, "shell.unlink", []any{uint32(id)})
	require.Nil(t, resp.Err)
	assert.False(t, mux.IsLinked(caller, id))

	resp = call(t, d, caller, "shell.close", []any{uint32(id)})
	assert.Nil(t, resp.Err, "close after unlink must be a no-op since caller is no longer linked")
}
