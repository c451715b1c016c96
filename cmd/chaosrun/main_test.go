package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/chaosrun/internal/config"
	"github.com/nvandessel/chaosrun/internal/engine"
	"github.com/nvandessel/chaosrun/internal/ledger"
	"github.com/nvandessel/chaosrun/internal/notify"
	"github.com/nvandessel/chaosrun/internal/workspace"
)

// fakeProcess stands in for the JVM.
type fakeProcess struct {
	codes []int
	onRun func(argv []string)
	calls [][]string
}

func (p *fakeProcess) Run(argv []string) (int, error) {
	p.calls = append(p.calls, slices.Clone(argv))
	if p.onRun != nil {
		p.onRun(argv)
	}
	i := len(p.calls) - 1
	if i < len(p.codes) {
		return p.codes[i], nil
	}
	return 0, nil
}

type fakeNotifier struct {
	subject, body string
	sent          int
}

func (n *fakeNotifier) Send(_ context.Context, subject, body string) error {
	n.subject, n.body = subject, body
	n.sent++
	return nil
}

// setupWorkdir moves the test into a fresh directory and stubs the engine.
func setupWorkdir(t *testing.T, codes ...int) (string, *fakeProcess) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("CHAOSRUN_OTEL_ENDPOINT", "")

	proc := &fakeProcess{codes: codes}
	oldProcess, oldLook := newProcess, lookPath
	newProcess = func(io.Writer, io.Writer) engine.Process { return proc }
	lookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	t.Cleanup(func() {
		newProcess, lookPath = oldProcess, oldLook
	})
	return dir, proc
}

func writeInput(t *testing.T, name, content string) {
	t.Helper()
	if err := os.WriteFile(name, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func flagValue(argv []string, flag string) string {
	i := slices.Index(argv, flag)
	if i < 0 || i+1 >= len(argv) {
		return ""
	}
	return argv[i+1]
}

func TestRun_StratEndToEnd(t *testing.T) {
	dir, proc := setupWorkdir(t, 0, 3)
	writeInput(t, "w.txt", "AS1\n")

	out, err := runCLI(t, "run", "--strat", "--warden", "w.txt", "--jarFile", "e.jar", "--skip-build")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(proc.calls) != 8 {
		t.Fatalf("engine ran %d times, want 8", len(proc.calls))
	}

	first := proc.calls[0]
	if first[0] != "java" || flagValue(first, "-jar") != "e.jar" || flagValue(first, "-c") != "config/default_config.yml" {
		t.Errorf("prefix = %v", first)
	}
	if flagValue(first, "-m") != "EMBARGO" || flagValue(first, "-wf") != "w.txt" || flagValue(first, "-rs") != "NONE" {
		t.Errorf("tail = %v", first)
	}
	for _, argv := range proc.calls {
		if flagValue(argv, "-rs") != "NONE" {
			t.Errorf("strat invocation with reversal %q", flagValue(argv, "-rs"))
		}
	}
	if !strings.Contains(out, "8/8 invocations dispatched, 1 exited non-zero") {
		t.Errorf("summary = %q", out)
	}

	for _, d := range []string{"logs", "serial"} {
		if info, err := os.Stat(filepath.Join(dir, d)); err != nil || !info.IsDir() {
			t.Errorf("%s/ not created: %v", d, err)
		}
	}

	metaLogs, _ := filepath.Glob(filepath.Join(dir, "logs", "expMetaLog_*"))
	if len(metaLogs) != 1 {
		t.Fatalf("meta logs = %v, want exactly one", metaLogs)
	}
	f, err := os.Open(metaLogs[0])
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var events []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("malformed meta log line: %v", err)
		}
		events = append(events, e)
	}
	if len(events) != 10 {
		t.Fatalf("meta log has %d lines, want 10", len(events))
	}
	if events[0]["event"] != "sweep_start" || events[9]["event"] != "sweep_end" {
		t.Errorf("meta log framing = %v ... %v", events[0]["event"], events[9]["event"])
	}

	ctx := context.Background()
	store, err := ledger.Open(ctx, filepath.Join(dir, "logs", "ledger.db"))
	if err != nil {
		t.Fatalf("ledger.Open failed: %v", err)
	}
	defer store.Close()
	sweeps, err := store.ListSweeps(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(sweeps) != 1 || sweeps[0].Dispatched != 8 || sweeps[0].Failures != 1 || sweeps[0].FinishedAt == nil {
		t.Fatalf("sweeps = %+v", sweeps)
	}
	if !strings.HasPrefix(sweeps[0].ID, "strat-") {
		t.Errorf("sweep ID = %q", sweeps[0].ID)
	}
	failed, err := store.List(ctx, ledger.ListOptions{FailedOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 || failed[0].Seq != 1 || failed[0].ExitCode != 3 {
		t.Errorf("failed runs = %+v", failed)
	}
}

func TestRun_HonestStagesEachTarget(t *testing.T) {
	_, proc := setupWorkdir(t)
	writeInput(t, "w.txt", "AS100\nAS200")
	writeInput(t, "d.txt", "AS9\n")

	var staged []string
	proc.onRun = func(argv []string) {
		data, err := os.ReadFile(flagValue(argv, "-wf"))
		if err != nil {
			t.Errorf("staged file unreadable: %v", err)
			return
		}
		staged = append(staged, string(data))
	}

	if _, err := runCLI(t, "run", "--honest", "--warden", "w.txt", "--deployer", "d.txt", "--jarFile", "e.jar", "--skip-build"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if want := []string{"AS100\n", "AS200"}; !slices.Equal(staged, want) {
		t.Errorf("staged = %q, want %q", staged, want)
	}
}

func TestRun_SetupErrors(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T)
		args    []string
		want    string
	}{
		{
			name:    "logs already present",
			prepare: func(t *testing.T) { os.Mkdir("logs", 0755) },
			args:    []string{"run", "--perf", "--warden", "w.txt", "--jarFile", "e.jar", "--skip-build"},
			want:    "output directory already exists",
		},
		{
			name: "two families",
			args: []string{"run", "--perf", "--rev", "--warden", "w.txt", "--jarFile", "e.jar"},
			want: "none of the others can be",
		},
		{
			name: "no family",
			args: []string{"run", "--warden", "w.txt", "--jarFile", "e.jar"},
			want: "at least one of the flags",
		},
		{
			name: "missing jar flag",
			args: []string{"run", "--perf", "--warden", "w.txt"},
			want: "jarFile",
		},
		{
			name: "missing warden",
			args: []string{"run", "--rev", "--jarFile", "e.jar", "--skip-build"},
			want: "warden file must be provided",
		},
		{
			name: "warden not found",
			args: []string{"run", "--rev", "--warden", "nope.txt", "--jarFile", "e.jar", "--skip-build"},
			want: "input not found",
		},
		{
			name: "vs without deployer",
			args: []string{"run", "--vs", "--warden", "w.txt", "--jarFile", "e.jar", "--skip-build"},
			want: "deployer file must be provided",
		},
		{
			name: "bad numRuns",
			args: []string{"run", "--reactive", "--numRuns", "0", "--jarFile", "e.jar", "--skip-build"},
			want: "--numRuns must be at least 1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, proc := setupWorkdir(t)
			writeInput(t, "w.txt", "AS1\n")
			if tt.prepare != nil {
				tt.prepare(t)
			}

			_, err := runCLI(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want it to contain %q", err, tt.want)
			}
			if len(proc.calls) != 0 {
				t.Errorf("engine ran %d times after a setup error", len(proc.calls))
			}
		})
	}
}

func TestRun_ExistingLogsIsErrExists(t *testing.T) {
	setupWorkdir(t)
	writeInput(t, "w.txt", "AS1\n")
	if err := os.Mkdir("serial", 0755); err != nil {
		t.Fatal(err)
	}

	_, err := runCLI(t, "run", "--perf", "--warden", "w.txt", "--jarFile", "e.jar", "--skip-build")
	if !errors.Is(err, workspace.ErrExists) {
		t.Fatalf("error = %v, want ErrExists", err)
	}
	if _, err := os.Stat("logs"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("logs/ created despite setup failure")
	}
}

func TestRun_BuildFailureStopsBeforeBootstrap(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses the false utility")
	}
	_, proc := setupWorkdir(t)
	writeInput(t, "w.txt", "AS1\n")
	t.Setenv("CHAOSRUN_BUILD_COMMAND", "false")

	_, err := runCLI(t, "run", "--perf", "--warden", "w.txt", "--jarFile", "e.jar")
	if err == nil {
		t.Fatal("expected build failure")
	}
	if len(proc.calls) != 0 {
		t.Errorf("engine ran after build failure")
	}
	if _, err := os.Stat("logs"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("logs/ created after build failure")
	}
}

func TestRun_JavaMissing(t *testing.T) {
	setupWorkdir(t)
	writeInput(t, "w.txt", "AS1\n")
	lookPath = func(name string) (string, error) { return "", errors.New(name + " not found in PATH") }

	_, err := runCLI(t, "run", "--perf", "--warden", "w.txt", "--jarFile", "e.jar", "--skip-build")
	if err == nil || !strings.Contains(err.Error(), "java not found") {
		t.Fatalf("error = %v", err)
	}
}

func TestRun_NotifiesOnCompletion(t *testing.T) {
	setupWorkdir(t)
	t.Setenv("CHAOSRUN_NOTIFY_ENABLED", "true")
	t.Setenv("CHAOSRUN_SMTP_HOST", "smtp.example.com")
	t.Setenv("CHAOSRUN_NOTIFY_FROM", "chaos@example.com")
	t.Setenv("CHAOSRUN_NOTIFY_TO", "a@example.com,b@example.com")

	fake := &fakeNotifier{}
	var got config.NotifyConfig
	old := newNotifier
	newNotifier = func(c config.NotifyConfig) notify.Notifier {
		got = c
		return fake
	}
	t.Cleanup(func() { newNotifier = old })

	if _, err := runCLI(t, "run", "--diversity", "--numRuns", "7", "--logId", "d7", "--jarFile", "e.jar", "--skip-build"); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if fake.sent != 1 {
		t.Fatalf("notifications sent = %d, want 1", fake.sent)
	}
	if fake.subject != "Chaos Run d7 Complete" {
		t.Errorf("subject = %q", fake.subject)
	}
	if !strings.HasPrefix(fake.body, "7 Run for ID d7 for Chaos is done.") {
		t.Errorf("body = %q", fake.body)
	}
	if got.Host != "smtp.example.com" || len(got.To) != 2 {
		t.Errorf("notifier config = %+v", got)
	}
}

func TestRun_JSONSummary(t *testing.T) {
	setupWorkdir(t, 1)

	out, err := runCLI(t, "run", "--reactive", "--withBots", "--jarFile", "e.jar", "--skip-build", "--json")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	var summary map[string]any
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("summary is not JSON: %v\n%s", err, out)
	}
	if summary["planned"] != float64(1) || summary["failures"] != float64(1) {
		t.Errorf("summary = %v", summary)
	}
}

func TestPlan_DoesNotTouchWorkspace(t *testing.T) {
	_, proc := setupWorkdir(t)
	writeInput(t, "w.txt", "AS1\n")
	if err := os.Mkdir("logs", 0755); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "plan", "--rev", "--warden", "w.txt", "--jarFile", "e.jar")
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 6 {
		t.Fatalf("plan printed %d lines, want 6:\n%s", len(lines), out)
	}
	for _, line := range lines {
		if !strings.Contains(line, "-rs LYING") {
			t.Errorf("rev plan line without lying reversal: %s", line)
		}
	}
	if len(proc.calls) != 0 {
		t.Errorf("plan launched the engine")
	}
	if _, err := os.Stat("serial"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("plan created serial/")
	}
}

func TestPlan_JSON(t *testing.T) {
	setupWorkdir(t)
	writeInput(t, "w.txt", "AS1\n")

	out, err := runCLI(t, "plan", "--defection", "--warden", "w.txt", "--jarFile", "e.jar", "--json")
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	var plan struct {
		Family string `json:"family"`
		Count  int    `json:"count"`
		Runs   []struct {
			Argv []string `json:"argv"`
		} `json:"runs"`
	}
	if err := json.Unmarshal([]byte(out), &plan); err != nil {
		t.Fatalf("plan is not JSON: %v", err)
	}
	if plan.Family != "defection" || plan.Count != 4 || len(plan.Runs) != 4 {
		t.Errorf("plan = %+v", plan)
	}
}

func TestRuns_ListsLedger(t *testing.T) {
	setupWorkdir(t, 0, 2)

	if _, err := runCLI(t, "run", "--intersection", "--jarFile", "e.jar", "--skip-build"); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	out, err := runCLI(t, "runs")
	if err != nil {
		t.Fatalf("runs failed: %v", err)
	}
	if !strings.Contains(out, "CLOUD") {
		t.Errorf("runs output = %q", out)
	}

	out, err = runCLI(t, "runs", "--sweeps", "--json")
	if err != nil {
		t.Fatalf("runs --sweeps failed: %v", err)
	}
	var sweeps struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &sweeps); err != nil || sweeps.Count != 1 {
		t.Errorf("sweeps = %s (%v)", out, err)
	}
}

func TestRuns_NoLedger(t *testing.T) {
	setupWorkdir(t)
	if _, err := runCLI(t, "runs"); err == nil || !strings.Contains(err.Error(), "no ledger") {
		t.Errorf("error = %v", err)
	}
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, "version", "--json")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	var v map[string]string
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("version is not JSON: %v", err)
	}
	if v["version"] != version {
		t.Errorf("version = %q, want %q", v["version"], version)
	}
}

func TestSignalContext_StopCancels(t *testing.T) {
	ctx, stop := signalContext(context.Background())
	stop()
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled by stop")
	}
}
