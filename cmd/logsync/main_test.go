package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestRootCommandSyncs(t *testing.T) {
	root := t.TempDir()
	backup := filepath.Join(root, "backup")
	os.Mkdir(backup, 0o755)
	live := filepath.Join(root, "querylog.json")
	os.WriteFile(live, []byte(`{"T":"2099-01-01T00:00:00Z","QH":"future"}`+"\n"), 0o644)
	os.WriteFile(filepath.Join(backup, "querylog-peer.json"), []byte(`{"T":"2098-01-01T00:00:00Z","QH":"peer"}`+"\n"), 0o644)

	cmd := newRootCommand()
	cmd.SetArgs([]string{"--name", "dns1", "--path", live, "--backup", backup, "--log-level", "error"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(live)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"T":"2098-01-01T00:00:00Z","QH":"peer"}` + "\n" + `{"T":"2099-01-01T00:00:00Z","QH":"future"}` + "\n"
	if string(got) != want {
		t.Errorf("querylog = %q, want %q", got, want)
	}
	if _, err := os.Stat(filepath.Join(backup, "querylog-dns1.json")); err != nil {
		t.Errorf("backup missing: %v", err)
	}
}

func TestRootCommandRequiresName(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--path", "/nonexistent", "--backup", "/nonexistent", "--log-level", "error"})
	if err := cmd.Execute(); err == nil {
		t.Error("missing --name accepted")
	}
}

func TestMergeCommand(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	os.WriteFile(a, []byte(`{"T":"2024-01-01T00:00:02Z"}`+"\n"), 0o644)
	os.WriteFile(b, []byte("not-json\n"+`{"T":"2024-01-01T00:00:01Z"}`+"\n"), 0o644)
	out := filepath.Join(dir, "out.json")

	cmd := newRootCommand()
	cmd.SetArgs([]string{"merge", "-o", out, a, b})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(out)
	want := `{"T":"2024-01-01T00:00:01Z"}` + "\n" + `{"T":"2024-01-01T00:00:02Z"}` + "\n"
	if string(got) != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestMergeCommandStdout(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	os.WriteFile(a, []byte(`{"T":"2024-01-01T00:00:02Z"}`+"\n"+`{"T":"2024-01-01T00:00:01Z"}`+"\n"), 0o644)

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"merge", "--log-level", "error", a})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	want := `{"T":"2024-01-01T00:00:01Z"}` + "\n" + `{"T":"2024-01-01T00:00:02Z"}` + "\n"
	if out.String() != want {
		t.Errorf("stdout = %q, want %q", out.String(), want)
	}
}

func TestMergeCommandFailureWritesNothing(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(good, []byte(`{"T":"2024-01-01T00:00:01Z"}`+"\n"), 0o644)
	os.WriteFile(bad, []byte(`{"QH":"no time"}`+"\n"), 0o644)

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"merge", "--log-level", "error", good, bad})
	if err := cmd.Execute(); err == nil {
		t.Fatal("merge with a fatal shard succeeded")
	}
	if out.Len() != 0 {
		t.Errorf("failed merge wrote %q", out.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cmd = newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"merge", "--log-level", "error", good})
	if err := cmd.ExecuteContext(ctx); err == nil {
		t.Fatal("cancelled merge succeeded")
	}
	if out.Len() != 0 {
		t.Errorf("cancelled merge wrote %q", out.String())
	}
}
