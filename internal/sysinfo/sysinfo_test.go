package sysinfo

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCPUStat(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("/proc/stat is Linux-only")
	}
	snap, err := ReadCPUStat()
	require.NoError(t, err)
	assert.Greater(t, snap.Global.User+snap.Global.System+snap.Global.Idle, uint64(0))
}

func TestReadMemInfo(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("sysinfo(2) is Linux-only")
	}
	info, err := ReadMemInfo()
	require.NoError(t, err)
	assert.Greater(t, info.TotalRAM, uint64(0))
}

func TestReadDiskSpace(t *testing.T) {
	space, err := ReadDiskSpace("/")
	require.NoError(t, err)
	assert.Greater(t, space.Capacity, uint64(0))
	assert.GreaterOrEqual(t, space.Capacity, space.Free)
}

func TestReadUsersContainsRoot(t *testing.T) {
	users, err := ReadUsers()
	require.NoError(t, err)
	found := false
	for _, u := range users {
		if u.Name == "root" && u.UID == 0 {
			found = true
		}
	}
	assert.True(t, found, "expected root in /etc/passwd")
}

func TestCurrentUser(t *testing.T) {
	user, err := CurrentUser()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, user.UID, 0)
}
