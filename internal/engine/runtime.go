// Package engine builds Chaos engine command lines and runs them to
// completion, one at a time.
package engine

import (
	"slices"
	"strconv"
	"strings"

	"github.com/nvandessel/chaosrun/internal/experiment"
)

// JMX configures the remote management agent the JVM exposes while an
// experiment runs.
type JMX struct {
	Enabled      bool
	Port         int
	Authenticate bool
	SSL          bool
	PasswordFile string
}

// Runtime is the fixed part of every engine invocation. It is copied into
// the dispatcher and never changes during a sweep.
type Runtime struct {
	Java          string   // JVM launcher, usually "java"
	Heap          string   // -Xmx value, e.g. "200G"
	GC            string   // -XX:+<GC> selector; empty leaves the JVM default
	KillOnOOM     bool     // kill -9 the JVM on OutOfMemoryError
	HeapDumpOnOOM bool     // write a heap dump on OutOfMemoryError
	JMX           JMX
	JVMArgs       []string // extra JVM options placed before -jar
	JarFile       string
	ConfigFile    string
}

// DefaultRuntime mirrors the settings experiments have always been run with.
func DefaultRuntime() Runtime {
	return Runtime{
		Java:          "java",
		Heap:          "200G",
		GC:            "UseConcMarkSweepGC",
		KillOnOOM:     true,
		HeapDumpOnOOM: true,
		JMX: JMX{
			Enabled:      true,
			Port:         21000,
			PasswordFile: "config/jmxremote.password",
		},
		ConfigFile: "config/default_config.yml",
	}
}

// Prefix returns the runtime flags shared by every invocation, ending with
// the engine config selector.
func (r Runtime) Prefix() []string {
	args := []string{r.Java}
	if r.Heap != "" {
		args = append(args, "-Xmx"+r.Heap)
	}
	if r.KillOnOOM {
		// No shell sits between us and the JVM, so the command is not quoted.
		args = append(args, "-XX:OnOutOfMemoryError=kill -9 %p")
	}
	if r.HeapDumpOnOOM {
		args = append(args, "-XX:+HeapDumpOnOutOfMemoryError")
	}
	if r.JMX.Enabled {
		args = append(args,
			"-Dcom.sun.management.jmxremote=true",
			"-Dcom.sun.management.jmxremote.port="+strconv.Itoa(r.JMX.Port),
			"-Dcom.sun.management.jmxremote.authenticate="+strconv.FormatBool(r.JMX.Authenticate),
			"-Dcom.sun.management.jmxremote.ssl="+strconv.FormatBool(r.JMX.SSL),
		)
		if r.JMX.PasswordFile != "" {
			args = append(args, "-Dcom.sun.management.jmxremote.password.file="+r.JMX.PasswordFile)
		}
	}
	if r.GC != "" {
		args = append(args, "-XX:+"+r.GC)
	}
	args = append(args, r.JVMArgs...)
	return append(args, "-jar", r.JarFile, "-c", r.ConfigFile)
}

// Command builds the full argument vector for spec.
func (r Runtime) Command(spec experiment.ExperimentSpec) InvocationCommand {
	args := r.Prefix()
	args = append(args, "-m", string(spec.Engine), "-s", string(spec.Simulation))

	switch spec.Engine {
	case experiment.EngineEmbargo:
		args = append(args,
			"-wf", spec.WardenFile,
			"-ws", string(spec.Strategy),
			"-rs", string(spec.Reversal),
		)
	case experiment.EngineCloud, experiment.EngineNyx:
		args = append(args, "--numRuns", strconv.Itoa(spec.NumRuns))
		if spec.LogID != "" {
			args = append(args, "--logId", spec.LogID)
		}
		if spec.Engine == experiment.EngineNyx && spec.WithBots {
			args = append(args, "--withBots")
		}
	}

	return InvocationCommand(append(args, spec.Extra...))
}

func (r Runtime) clone() Runtime {
	r.JVMArgs = slices.Clone(r.JVMArgs)
	return r
}

// InvocationCommand is the literal argument vector of one engine process.
// Element 0 is the executable.
type InvocationCommand []string

// String renders the command for display, quoting arguments that contain
// whitespace or quotes.
func (c InvocationCommand) String() string {
	parts := make([]string, len(c))
	for i, arg := range c {
		if arg == "" || strings.ContainsAny(arg, " \t\n'\"") {
			parts[i] = "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
			continue
		}
		parts[i] = arg
	}
	return strings.Join(parts, " ")
}
