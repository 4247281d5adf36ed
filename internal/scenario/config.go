// Package scenario loads and runs TOML-described synchronization scenarios:
// a set of named objects plus per-thread op scripts. Scenarios stand in for
// in-kernel consumers of the wait core and drive every exported operation
// end to end.
package scenario

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"kwait/internal/object"
	"kwait/internal/waitq"
)

// Op names for thread script steps.
const (
	OpWait      = "wait"
	OpWaitAll   = "wait-all"
	OpSignal    = "signal"
	OpSignalOne = "signal-one"
	OpPulse     = "pulse"
	OpUnsignal  = "unsignal"
	OpSleep     = "sleep"
	OpInterrupt = "interrupt"
	OpCreate    = "create"
	OpFind      = "find"
	OpRelease   = "release"
	OpUnlink    = "unlink"
	OpName      = "name"
)

// Config is a parsed scenario file.
type Config struct {
	Scenario Meta           `toml:"scenario"`
	Objects  []ObjectConfig `toml:"objects"`
	Threads  []ThreadConfig `toml:"threads"`
}

// Meta holds scenario-wide settings.
type Meta struct {
	Name  string `toml:"name"`
	Trace string `toml:"trace"` // off, lifecycle, all
}

// ObjectConfig declares an object created before any thread starts. Paths
// may be nested; missing intermediate components are created as directories.
type ObjectConfig struct {
	Path  string `toml:"path"`
	Kind  string `toml:"kind"`  // directory, event, queued-lock, timer, device, pipe, endpoint
	State string `toml:"state"` // not-signaled (default), signaled, signaled-one
}

// ThreadConfig is one scripted thread.
type ThreadConfig struct {
	Name string     `toml:"name"`
	Ops  []OpConfig `toml:"ops"`
}

// OpConfig is a single scripted step. Which fields apply depends on Op; the
// loader rejects combinations that make no sense rather than guessing.
type OpConfig struct {
	Op            string   `toml:"op"`
	Object        string   `toml:"object"`
	Objects       []string `toml:"objects"`
	Kind          string   `toml:"kind"`
	State         string   `toml:"state"`
	Timeout       string   `toml:"timeout"` // duration, or "forever" (default)
	Interruptible bool     `toml:"interruptible"`
	Target        string   `toml:"target"`   // interrupt: thread to wake
	Duration      string   `toml:"duration"` // sleep
	NewName       string   `toml:"new_name"` // name
	Want          string   `toml:"want"`     // expected outcome, empty = ok
}

// Load parses and validates a scenario file.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	names := make(map[string]bool, len(c.Threads))
	for _, th := range c.Threads {
		if th.Name == "" {
			return fmt.Errorf("thread with empty name")
		}
		if names[th.Name] {
			return fmt.Errorf("duplicate thread name %q", th.Name)
		}
		names[th.Name] = true
	}
	for _, oc := range c.Objects {
		if oc.Path == "" {
			return fmt.Errorf("object with empty path")
		}
		if _, err := parseKind(oc.Kind); err != nil {
			return fmt.Errorf("object %q: %w", oc.Path, err)
		}
		if _, err := parseState(oc.State); err != nil {
			return fmt.Errorf("object %q: %w", oc.Path, err)
		}
	}
	for _, th := range c.Threads {
		for i, op := range th.Ops {
			if err := validateOp(op, names); err != nil {
				return fmt.Errorf("thread %q op %d (%s): %w", th.Name, i+1, op.Op, err)
			}
		}
	}
	return nil
}

func validateOp(op OpConfig, threads map[string]bool) error {
	switch op.Op {
	case OpWait, OpWaitAll:
		if op.Object == "" && len(op.Objects) == 0 {
			return fmt.Errorf("needs object or objects")
		}
		if op.Object != "" && len(op.Objects) > 0 {
			return fmt.Errorf("object and objects are mutually exclusive")
		}
		if _, err := parseTimeout(op.Timeout); err != nil {
			return err
		}
	case OpSignal, OpSignalOne, OpPulse, OpUnsignal, OpFind, OpRelease, OpUnlink:
		if op.Object == "" {
			return fmt.Errorf("needs object")
		}
	case OpSleep:
		if _, err := time.ParseDuration(op.Duration); err != nil {
			return fmt.Errorf("bad duration %q: %w", op.Duration, err)
		}
	case OpInterrupt:
		if op.Target == "" {
			return fmt.Errorf("needs target")
		}
		if !threads[op.Target] {
			return fmt.Errorf("unknown target thread %q", op.Target)
		}
	case OpCreate:
		if op.Object == "" {
			return fmt.Errorf("needs object")
		}
		if _, err := parseKind(op.Kind); err != nil {
			return err
		}
		if _, err := parseState(op.State); err != nil {
			return err
		}
	case OpName:
		if op.Object == "" || op.NewName == "" {
			return fmt.Errorf("needs object and new_name")
		}
	default:
		return fmt.Errorf("unknown op %q", op.Op)
	}
	switch op.Want {
	case "", "ok", "timeout", "interrupted", "not-found", "already-named", "too-late", "invalid":
	default:
		return fmt.Errorf("unknown want %q", op.Want)
	}
	return nil
}

func parseKind(s string) (object.Kind, error) {
	switch s {
	case "", "event":
		return object.KindEvent, nil
	case "directory":
		return object.KindDirectory, nil
	case "queued-lock":
		return object.KindQueuedLock, nil
	case "timer":
		return object.KindTimer, nil
	case "device":
		return object.KindDevice, nil
	case "pipe":
		return object.KindPipe, nil
	case "endpoint":
		return object.KindEndpoint, nil
	default:
		return object.KindInvalid, fmt.Errorf("unknown kind %q", s)
	}
}

func parseState(s string) (waitq.SignalState, error) {
	switch s {
	case "", "not-signaled":
		return waitq.NotSignaled, nil
	case "signaled":
		return waitq.Signaled, nil
	case "signaled-one":
		return waitq.SignaledForOne, nil
	default:
		return waitq.NotSignaled, fmt.Errorf("unknown state %q", s)
	}
}

func parseTimeout(s string) (time.Duration, error) {
	if s == "" || strings.EqualFold(s, "forever") {
		return waitq.WaitForever, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("bad timeout %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative timeout %q", s)
	}
	return d, nil
}
