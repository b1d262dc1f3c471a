package zpool

import (
	"context"
	"fmt"
	"time"

	"github.com/bitranox/check-zpools-sub001/pkg/shell"
)

// AcquisitionError reports a failed or timed-out zpool query. It is fatal
// for the current cycle only.
type AcquisitionError struct {
	Op  string
	Err error
}

func (e *AcquisitionError) Error() string { return fmt.Sprintf("acquire %s: %v", e.Op, e.Err) }
func (e *AcquisitionError) Unwrap() error { return e.Err }

// Source produces the raw listing and status documents for one cycle.
type Source interface {
	Acquire() (rawList, rawStatus []byte, err error)
}

// Acquirer runs the zpool listing and status queries on the local host.
type Acquirer struct {
	listCmd   []string
	statusCmd []string
	timeout   time.Duration
}

func NewAcquirer(listCmd, statusCmd []string, timeout time.Duration) *Acquirer {
	if len(listCmd) == 0 {
		listCmd = []string{"zpool", "list", "-j"}
	}
	if len(statusCmd) == 0 {
		statusCmd = []string{"zpool", "status", "-j"}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Acquirer{listCmd: listCmd, statusCmd: statusCmd, timeout: timeout}
}

// Acquire runs both queries back to back. Each runs under its own timeout
// on a background context, so a daemon shutdown never truncates a query
// already in flight.
func (a *Acquirer) Acquire() ([]byte, []byte, error) {
	rawList, err := shell.Output(context.Background(), a.timeout, a.listCmd[0], a.listCmd[1:]...)
	if err != nil {
		return nil, nil, &AcquisitionError{Op: "list", Err: err}
	}
	rawStatus, err := shell.Output(context.Background(), a.timeout, a.statusCmd[0], a.statusCmd[1:]...)
	if err != nil {
		return nil, nil, &AcquisitionError{Op: "status", Err: err}
	}
	return rawList, rawStatus, nil
}
