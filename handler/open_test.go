package handler

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	unix "golang.org/x/sys/unix"

	"github.com/detbox/go-detbox/ptracer"
)

// attachTestProcess starts a sleeping child and ptrace-attaches to it so the
// path reads in the open handler have a real stopped tracee to peek at.
func attachTestProcess(t *testing.T) (int, func()) {
	t.Helper()

	// ptrace is thread based
	runtime.LockOSThread()

	cmd := exec.Command("sleep", "10")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	stop := func() {
		cmd.Process.Kill()
		cmd.Wait()
		runtime.UnlockOSThread()
	}

	if err := unix.PtraceAttach(pid); err != nil {
		stop()
		t.Skipf("ptrace attach not permitted: %v", err)
	}
	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		stop()
		t.Fatalf("wait for attach: %v", err)
	}
	return pid, func() {
		unix.PtraceDetach(pid)
		stop()
	}
}

// findWritableRegion parses /proc/pid/maps for the first rw- mapping.
func findWritableRegion(t *testing.T, pid int) uintptr {
	t.Helper()
	maps, err := os.ReadFile(fmt.Sprintf("/proc/%d/maps", pid))
	require.NoError(t, err)
	for _, line := range bytes.Split(maps, []byte{'\n'}) {
		if len(line) == 0 || !bytes.Contains(line, []byte("rw-")) {
			continue
		}
		var start uint64
		fmt.Sscanf(string(line), "%x-", &start)
		return uintptr(start)
	}
	t.Fatal("no rw- region found")
	return 0
}

func TestOpenCountsRandomDevices(t *testing.T) {
	pid, cleanup := attachTestProcess(t)
	defer cleanup()

	addr := findWritableRegion(t, pid)
	saved := make([]byte, 64)
	require.NoError(t, ptracer.PeekBytes(pid, addr, saved))
	defer ptracer.PokeBytes(pid, addr, saved)

	tests := []struct {
		name    string
		handler *openHandler
		path    string
		urandom uint32
		random  uint32
	}{
		{"open urandom", &openHandler{name: "open", pathArg: 0}, "/dev/urandom", 1, 0},
		{"creat urandom", &openHandler{name: "creat", pathArg: 0}, "/dev/urandom", 1, 0},
		{"openat random", &openHandler{name: "openat", pathArg: 1}, "/dev/random", 0, 1},
		{"openat urandom", &openHandler{name: "openat", pathArg: 1}, "/dev/urandom", 1, 0},
		{"other path", &openHandler{name: "open", pathArg: 0}, "/etc/passwd", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGlobal()
			s := ptracer.NewState(pid, g.Clock, 0)

			require.NoError(t, ptracer.PokeBytes(pid, addr, append([]byte(tt.path), 0)))

			regs := unix.PtraceRegs{}
			if tt.handler.pathArg == 0 {
				regs.Rdi = uint64(addr)
			} else {
				regs.Rdi = uint64(int64(unix.AT_FDCWD))
				regs.Rsi = uint64(addr)
			}
			ctx := &ptracer.Context{Pid: pid}
			ctx.SetRegs(regs)

			expectPost, err := tt.handler.Pre(s, ctx, g)
			require.NoError(t, err)
			assert.False(t, expectPost, "counting needs no post hook")
			assert.Equal(t, tt.urandom, g.Counters.DevUrandomOpens)
			assert.Equal(t, tt.random, g.Counters.DevRandomOpens)
		})
	}
}

func TestOpenUnreadablePathPassesThrough(t *testing.T) {
	pid, cleanup := attachTestProcess(t)
	defer cleanup()

	g := newTestGlobal()
	s := ptracer.NewState(pid, g.Clock, 0)
	h := &openHandler{name: "open", pathArg: 0}

	// a garbage pointer must not kill the supervisor; the kernel will fail
	// the syscall itself
	ctx := &ptracer.Context{Pid: pid}
	ctx.SetRegs(unix.PtraceRegs{Rdi: 1})

	expectPost, err := h.Pre(s, ctx, g)
	require.NoError(t, err)
	assert.False(t, expectPost)
	assert.Equal(t, uint32(0), g.Counters.DevUrandomOpens)
	assert.Equal(t, uint32(0), g.Counters.DevRandomOpens)
}
