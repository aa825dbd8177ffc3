package rlimit

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrepareRLimit(t *testing.T) {
	r := RLimits{
		CPU:         2,
		FileSize:    1 << 20,
		DisableCore: true,
	}
	prepared := r.PrepareRLimit()
	assert.Len(t, prepared, 3)

	assert.Equal(t, syscall.RLIMIT_CPU, prepared[0].Res)
	assert.Equal(t, uint64(2), prepared[0].Rlim.Cur)
	assert.Equal(t, uint64(2), prepared[0].Rlim.Max, "hard limit defaults to the soft limit")

	assert.Equal(t, syscall.RLIMIT_FSIZE, prepared[1].Res)
	assert.Equal(t, syscall.RLIMIT_CORE, prepared[2].Res)
	assert.Equal(t, uint64(0), prepared[2].Rlim.Max)
}

func TestPrepareRLimitCPUHard(t *testing.T) {
	r := RLimits{CPU: 2, CPUHard: 10}
	prepared := r.PrepareRLimit()
	assert.Len(t, prepared, 1)
	assert.Equal(t, uint64(2), prepared[0].Rlim.Cur)
	assert.Equal(t, uint64(10), prepared[0].Rlim.Max)
}

func TestPrepareRLimitEmpty(t *testing.T) {
	var r RLimits
	assert.Empty(t, r.PrepareRLimit())
}

func TestRLimitsString(t *testing.T) {
	r := RLimits{CPU: 1}
	assert.Contains(t, r.String(), "CPU[1 s:1 s]")
}
