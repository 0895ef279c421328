// Package count implements the reference filter that limits how many
// times a chain may be used within a sliding time window, aborting the
// connection once the limit is exceeded. Grounded on
// _examples/original_source/plugins/count.py, including its SysLock
// mkdir-based cross-process lock (os.Mkdir is atomic on POSIX
// filesystems, so it doubles as a lock primitive without needing flock).
package count

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/3hhh/qubes-qrexec-proxy/internal/ioutil"
	"github.com/3hhh/qubes-qrexec-proxy/internal/logging"
	"github.com/3hhh/qubes-qrexec-proxy/internal/pipe"
	"github.com/3hhh/qubes-qrexec-proxy/internal/plugin"
	"github.com/3hhh/qubes-qrexec-proxy/internal/registry"
	"github.com/3hhh/qubes-qrexec-proxy/internal/session"
)

const Name = "count"

const defaultStateDir = "/var/lib/qrexec-proxy/state/count"

func init() {
	registry.Register(Name, plugin.RoleFilter, construct)
}

func construct(logger *logging.Logger, meta session.Meta, config map[string]any) (any, error) {
	limit, err := intParam(config, "limit")
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("count: limit must be > 0")
	}

	interval, err := floatParam(config, "limit_interval")
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		return nil, fmt.Errorf("count: limit_interval must be > 0")
	}

	stateDir := defaultStateDir
	if v, ok := config["state_dir"]; ok {
		if s, ok := v.(string); ok && s != "" {
			stateDir = s
		}
	}
	if err := os.MkdirAll(stateDir, 0o750); err != nil {
		return nil, fmt.Errorf("count: create state dir %s: %w", stateDir, err)
	}

	return &Filter{
		logger:   logger,
		chain:    meta.Chain,
		limit:    limit,
		interval: interval,
		stateDir: stateDir,
	}, nil
}

// Filter rejects connections once `limit` have been seen within
// `interval`, identified by the chain name — so every invocation of the
// same chain shares one counter file regardless of which process it runs
// in.
type Filter struct {
	logger   *logging.Logger
	chain    string
	limit    int
	interval time.Duration
	stateDir string
}

func (f *Filter) Proxy(ctx context.Context, srcR *pipe.Reader, srcW *pipe.Writer, dstR *pipe.Reader, dstW *pipe.Writer) error {
	if err := f.checkCount(ctx); err != nil {
		return err
	}

	errs := make(chan error, 2)
	go func() { _, err := ioutil.Copy(ctx, srcR, dstW, -1, true); errs <- err }()
	go func() { _, err := ioutil.Copy(ctx, dstR, srcW, -1, true); errs <- err }()

	var first error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}

// AbortError is returned when the connection count limit was reached for
// the chain, matching the Python plugin's AbortException.
type AbortError struct {
	Chain string
	Limit int
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("the connection limit of %d was reached for the chain %s", e.Limit, e.Chain)
}

func (f *Filter) checkCount(ctx context.Context) error {
	countFile := filepath.Join(f.stateDir, f.chain)
	lock := newSysLock(countFile)
	if err := lock.Acquire(ctx); err != nil {
		return fmt.Errorf("count: acquire lock for chain %s: %w", f.chain, err)
	}
	defer lock.Release()

	return f.updateCounters(countFile)
}

// updateCounters reads the newline-delimited list of past connection
// timestamps, drops everything outside the sliding window, aborts if the
// window is already at the limit, and otherwise appends the current
// timestamp before writing the file back.
func (f *Filter) updateCounters(countFile string) error {
	now := time.Now().Unix()
	windowSecs := int64(f.interval.Seconds())

	data, err := os.ReadFile(countFile)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("count: read state file %s: %w", countFile, err)
	}

	var kept []string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		ts, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			continue
		}
		if now-ts < windowSecs {
			kept = append(kept, line)
		}
	}

	if len(kept) >= f.limit {
		return &session.AdmissionError{Chain: f.chain, Plugin: Name, Cause: &AbortError{Chain: f.chain, Limit: f.limit}}
	}
	kept = append(kept, strconv.FormatInt(now, 10))

	return os.WriteFile(countFile, []byte(strings.Join(kept, "\n")), 0o640)
}

func intParam(config map[string]any, key string) (int, error) {
	v, ok := config[key]
	if !ok {
		return 0, fmt.Errorf("count: missing required config parameter %q", key)
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("count: config parameter %q has unsupported type %T", key, v)
	}
}

func floatParam(config map[string]any, key string) (time.Duration, error) {
	v, ok := config[key]
	if !ok {
		return 0, fmt.Errorf("count: missing required config parameter %q", key)
	}
	var seconds float64
	switch n := v.(type) {
	case float64:
		seconds = n
	case int:
		seconds = float64(n)
	default:
		return 0, fmt.Errorf("count: config parameter %q has unsupported type %T", key, v)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
