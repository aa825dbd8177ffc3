package runner

// Status is the result status
type Status int

// Result status for the traced run
const (
	StatusInvalid Status = iota // 0 not initialized

	StatusNormal            // 1 exited zero
	StatusNonzeroExitStatus // 2 exited nonzero
	StatusSignalled         // 3 terminated by signal

	StatusRunnerError // 4 supervisor failure
)

var statusString = []string{
	"Invalid",
	"",
	"Nonzero Exit Status",
	"Signalled",
	"Runner Error",
}

func (t Status) String() string {
	i := int(t)
	if i >= 0 && i < len(statusString) {
		return statusString[i]
	}
	return statusString[0]
}

func (t Status) Error() string {
	return t.String()
}
