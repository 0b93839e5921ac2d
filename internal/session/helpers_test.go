package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

// shellSupervisor runs script with /bin/sh in place of the assistant.
// The project identifier is available to the script as $1.
func shellSupervisor(script string, sink EventSink) *Supervisor {
	return NewSupervisor(SupervisorConfig{
		Command:         "/bin/sh",
		Args:            []string{"-c", script, "sh"},
		GracefulTimeout: 500 * time.Millisecond,
	}, sink, nil)
}

func newTestRegistry(t *testing.T, script string, cfg RegistryConfig) (*Registry, *Recorder) {
	t.Helper()
	rec := &Recorder{}
	reg := NewRegistry(cfg, shellSupervisor(script, rec), rec, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		require.NoError(t, reg.Shutdown(ctx))
	})
	return reg, rec
}

func outputTexts(lines []OutputLine, src Source) []string {
	var out []string
	for _, l := range lines {
		if l.Source == src {
			out = append(out, l.Text)
		}
	}
	return out
}
