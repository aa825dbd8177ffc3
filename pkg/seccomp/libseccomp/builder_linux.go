package libseccomp

import (
	"io"
	"os"

	libseccomp "github.com/seccomp/libseccomp-golang"

	"github.com/detbox/go-detbox/pkg/seccomp"
)

// Builder builds the BPF filter for the deterministic tracer: every syscall
// in Trace stops the tracee with a seccomp event, everything else runs
// unsupervised.
type Builder struct {
	Trace []string
}

var actTrace = libseccomp.ActTrace.SetReturnCode(seccomp.MsgHandle)

// Build builds the filter.
func (b *Builder) Build() (seccomp.Filter, error) {
	filter, err := libseccomp.NewFilter(libseccomp.ActAllow)
	if err != nil {
		return nil, err
	}
	defer filter.Release()

	for _, name := range b.Trace {
		syscallID, err := libseccomp.GetSyscallFromName(name)
		if err != nil {
			return nil, err
		}
		if err := filter.AddRule(syscallID, actTrace); err != nil {
			return nil, err
		}
	}
	return ExportBPF(filter)
}

// ExportBPF converts a libseccomp filter to kernel readable BPF content.
func ExportBPF(filter *libseccomp.ScmpFilter) (seccomp.Filter, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	// export BPF to pipe
	go func() {
		filter.ExportBPF(w)
		w.Close()
	}()

	// get BPF binary
	bin, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return seccomp.Filter(bin), nil
}
