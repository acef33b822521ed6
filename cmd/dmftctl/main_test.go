package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/dmftctl/internal/testutil/testlog"
	"gopkg.in/yaml.v3"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.PersistentPreRun = nil
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeInput(t *testing.T, dir string) string {
	t.Helper()
	input := fmt.Sprintf(`[model]
seedname = %q
lattice = "chain"
nelec = 1.0
kanamori = [[2.0, 0.0, 0.0]]

[system]
beta = 5.0
n_iw = 64
nk = 8

[control]
max_step = 2
sigma_mix = 0.7

[impurity_solver]
name = "hartree-fock"

[impurity_solver.options]
max_iter = 20
`, filepath.Join(dir, "chain"))
	path := filepath.Join(dir, "input.toml")
	if err := os.WriteFile(path, []byte(input), 0o600); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func TestTemplateRefusesOverwrite(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "hubbard.toml")
	if _, err := execute(t, "template", "hubbard", path); err != nil {
		t.Fatalf("template: %v", err)
	}
	if _, err := execute(t, "template", "hubbard", path); err == nil {
		t.Fatalf("expected overwrite to be refused")
	}
	if _, err := execute(t, "template", "t2g", path, "--force"); err != nil {
		t.Fatalf("template --force: %v", err)
	}
	out, err := execute(t, "validate", path)
	if err != nil {
		t.Fatalf("validate template: %v", err)
	}
	if !strings.Contains(out, "[impurity_solver]") {
		t.Fatalf("expected encoded parameters, got: %s", out)
	}
}

func TestValidateRejectsUnknownKey(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[control]\nmax_steps = 3\n"), 0o600); err != nil {
		t.Fatalf("write input: %v", err)
	}
	if _, err := execute(t, "validate", path); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestPreRunInspect(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	input := writeInput(t, dir)

	if _, err := execute(t, "pre", input); err != nil {
		t.Fatalf("pre: %v", err)
	}
	out, err := execute(t, "run", input, "--ranks", "2")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "iterations 1-2") {
		t.Fatalf("unexpected run output: %s", out)
	}
	if _, err := execute(t, "run", input, "--restart"); err != nil {
		t.Fatalf("restart: %v", err)
	}

	archive := filepath.Join(dir, "chain.out.db")
	out, err = execute(t, "inspect", archive, "--format", "yaml")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var s archiveSummary
	if err := yaml.Unmarshal([]byte(out), &s); err != nil {
		t.Fatalf("decode inspect output: %v\n%s", err, out)
	}
	if s.Iterations != 4 || len(s.History) != 4 {
		t.Fatalf("expected 4 iterations, got %d with %d history rows", s.Iterations, len(s.History))
	}
	if s.RunID == "" {
		t.Fatalf("expected a run id")
	}

	out, err = execute(t, "inspect", archive)
	if err != nil {
		t.Fatalf("inspect text: %v", err)
	}
	if !strings.Contains(out, "ITERATION") {
		t.Fatalf("expected history table, got: %s", out)
	}
}

func TestInspectMissingArchive(t *testing.T) {
	testlog.Start(t)
	if _, err := execute(t, "inspect", filepath.Join(t.TempDir(), "none.db")); err == nil {
		t.Fatalf("expected missing archive error")
	}
}
