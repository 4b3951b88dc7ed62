package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"presence-rpc/client"
	"presence-rpc/config"
	"presence-rpc/logging"
	"presence-rpc/message"
	"presence-rpc/registry"
	"presence-rpc/server"
)

type cliTestEnv struct {
	server     *server.Server
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	t.Setenv(config.EnvClientID, "")
	t.Setenv("HOME", t.TempDir())

	base := t.TempDir()
	configPath := filepath.Join(base, "config.toml")
	contents := fmt.Sprintf("[client]\nid = \"123\"\ncommand_timeout_ms = 2000\n\n[socket]\ndir = %q\n\n[logging]\nlevel = \"error\"\nformat = \"text\"\n", base)
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	svr := server.NewServer(server.WithClientID("123"))
	errCh := make(chan error, 1)
	go func() { errCh <- svr.Serve("unix", filepath.Join(base, "discord-ipc-0")) }()
	t.Cleanup(func() {
		svr.Shutdown(time.Second)
		<-errCh
	})
	waitForSocket(t, filepath.Join(base, "discord-ipc-0"))

	return &cliTestEnv{server: svr, configPath: configPath}
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if info, err := os.Stat(path); err == nil && info.Mode()&os.ModeSocket != 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("socket %s never appeared", path)
}

func (env *cliTestEnv) run(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestSetAndClear(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	out, err := env.run(t, ctx, "set", "--details", "Editing main.go", "--type", "listening", "--start", "now", "--large-image", "logo")
	if err != nil {
		t.Fatalf("set: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Editing main.go") {
		t.Fatalf("expected accepted activity in output, got %q", out)
	}
	act := env.server.Activity(os.Getpid())
	if act == nil || act.Type != message.ActivityListening || act.Assets == nil || act.Timestamps == nil {
		t.Fatalf("peer did not record activity: %+v", act)
	}

	out, err = env.run(t, ctx, "clear")
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if strings.TrimSpace(out) != "presence cleared" {
		t.Fatalf("unexpected clear output %q", out)
	}
	if env.server.Activity(os.Getpid()) != nil {
		t.Fatal("expected activity cleared")
	}
}

func TestSetDefaultsToListening(t *testing.T) {
	env := setupCLITestEnv(t)

	if out, err := env.run(t, context.Background(), "set", "--details", "Lo-fi beats"); err != nil {
		t.Fatalf("set: %v\n%s", err, out)
	}
	act := env.server.Activity(os.Getpid())
	if act == nil || act.Type != message.ActivityListening {
		t.Fatalf("expect listening by default, got %+v", act)
	}
}

func TestAuthorizePrintsCode(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, context.Background(), "authorize", "--scope", "rpc")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if strings.TrimSpace(out) == "" {
		t.Fatal("expected an authorization code")
	}

	out, err = env.run(t, context.Background(), "authorize", "--access-token", "tok")
	if err != nil || !strings.Contains(out, `"access_token": "tok"`) {
		t.Fatalf("authenticate: %v\n%s", err, out)
	}
}

func TestWatchPrintsEvents(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := env.run(t, ctx, "watch", "activity_join")
		done <- result{out, err}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for env.server.Dispatch(message.EvtActivityJoin, map[string]string{"secret": "party"}) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("watch never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	cancel()

	res := <-done
	if res.err != nil {
		t.Fatalf("watch: %v", res.err)
	}
	if !strings.Contains(res.out, `"evt":"ACTIVITY_JOIN"`) || !strings.Contains(res.out, "party") {
		t.Fatalf("expected event line, got %q", res.out)
	}
}

func TestMissingClientID(t *testing.T) {
	t.Setenv(config.EnvClientID, "")
	t.Setenv("HOME", t.TempDir())

	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"clear"})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "client.id is required") {
		t.Fatalf("expected missing client id error, got %v", err)
	}
}

func TestActivityFlags(t *testing.T) {
	now := time.Unix(1700000000, 0)

	act, err := activityFlags{details: "x", kind: "Watching", start: "now", end: "25m"}.activity(now)
	if err != nil {
		t.Fatalf("activity: %v", err)
	}
	if act.Type != message.ActivityWatching || act.Timestamps.Start != now.UnixMilli() || act.Timestamps.End != now.Add(25*time.Minute).UnixMilli() {
		t.Fatalf("unexpected activity %+v %+v", act, act.Timestamps)
	}
	if act.Assets != nil {
		t.Fatal("expected no assets without asset flags")
	}

	if _, err := (activityFlags{kind: "dancing"}).activity(now); err == nil {
		t.Fatal("expected unknown type error")
	}
	if _, err := (activityFlags{start: "yesterday"}).activity(now); err == nil {
		t.Fatal("expected bad start error")
	}
	if _, err := (activityFlags{start: "1700000100", end: "1700000000"}).activity(now); err == nil {
		t.Fatal("expected end before start error")
	}
}

func TestMetricsExporter(t *testing.T) {
	env := setupCLITestEnv(t)
	ctx := context.Background()

	exp, err := startMetrics("127.0.0.1:0", logging.NewNop())
	if err != nil {
		t.Fatalf("startMetrics: %v", err)
	}
	defer exp.Close()

	cli, _, err := client.Dial(ctx, "123",
		client.WithRegistry(&registry.SocketRegistry{Dirs: []string{filepath.Dir(env.configPath)}}),
		client.WithMiddleware(exp.middleware()))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cli.Close()
	exp.attach(cli)

	if _, err := cli.Subscribe(ctx, message.EvtGuildStatus, "g"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	resp, err := http.Get("http://" + exp.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		`presence_rpc_calls_total{cmd="SUBSCRIBE",mode="sync",outcome="ok"} 1`,
		`presence_rpc_pending_waiters 0`,
		`go_goroutines`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestWatchRejectsBadMetricsAddr(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := env.run(t, context.Background(), "watch", "activity_join", "--metrics-addr", "no-port")
	if err == nil || !strings.Contains(err.Error(), "metrics listener") {
		t.Fatalf("expected metrics listener error, got %v", err)
	}
}
