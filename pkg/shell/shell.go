package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

type Result struct {
	Stdout []byte
	Stderr []byte
	Code   int
}

var ErrTimeout = errors.New("command timed out")

func Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	err := cmd.Run()
	res := Result{Stdout: outBuf.Bytes(), Stderr: errBuf.Bytes(), Code: exitCode(err)}
	if cctx.Err() == context.DeadlineExceeded {
		return res, ErrTimeout
	}
	return res, err
}

// Output runs name and returns its stdout, folding a timeout or non-zero
// exit into the returned error together with a stderr excerpt.
func Output(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	res, err := Run(ctx, timeout, name, args...)
	if err == nil {
		return res.Stdout, nil
	}
	if errors.Is(err, ErrTimeout) {
		return res.Stdout, fmt.Errorf("%s: %w after %s", name, ErrTimeout, timeout)
	}
	return res.Stdout, fmt.Errorf("%s: exit %d: %s", name, res.Code, stderrExcerpt(res.Stderr))
}

func stderrExcerpt(b []byte) string {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return "no stderr"
	}
	if len(s) > 200 {
		s = s[len(s)-200:]
	}
	return s
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}
