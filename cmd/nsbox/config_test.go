package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadAppConfig(t *testing.T) {
	path := writeFile(t, "config.yaml", `
logger:
  level: debug
  format: console
sandbox:
  cgroupRoot: /sys/fs/cgroup/nsbox.slice
  helperPath: /usr/libexec/sandbox-init
  helperStderrMaxBytes: 4096
`)
	cfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Logger.Level != "debug" || cfg.Logger.Format != "console" {
		t.Fatalf("logger = %+v", cfg.Logger)
	}
	if cfg.Sandbox.CgroupRoot != "/sys/fs/cgroup/nsbox.slice" || cfg.Sandbox.HelperStderrMaxBytes != 4096 {
		t.Fatalf("sandbox = %+v", cfg.Sandbox)
	}
}

func TestLoadAppConfigErrors(t *testing.T) {
	if _, err := loadAppConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("an explicit missing config should fail")
	}
	bad := writeFile(t, "bad.yaml", "sandbox: [\n")
	if _, err := loadAppConfig(bad); err == nil {
		t.Fatal("malformed yaml should fail")
	}
	negative := writeFile(t, "neg.yaml", "sandbox:\n  helperStderrMaxBytes: -1\n")
	if _, err := loadAppConfig(negative); err == nil {
		t.Fatal("negative helperStderrMaxBytes should fail")
	}
}

func TestToEngineConfigSeccomp(t *testing.T) {
	profile := writeFile(t, "seccomp.json", `{"defaultAction":"SCMP_ACT_ALLOW","syscalls":[{"names":["ptrace","kexec_load"],"action":"SCMP_ACT_ERRNO"}]}`)
	cfg, err := SandboxConfig{SeccompProfile: profile}.toEngineConfig()
	if err != nil {
		t.Fatalf("toEngineConfig: %v", err)
	}
	if cfg.Seccomp == nil || len(cfg.Seccomp.Syscalls) != 1 || cfg.Seccomp.Syscalls[0].Names[1] != "kexec_load" {
		t.Fatalf("seccomp = %+v", cfg.Seccomp)
	}

	invalid := writeFile(t, "invalid.json", `{"defaultAction":"SCMP_ACT_NOPE"}`)
	if _, err := (SandboxConfig{SeccompProfile: invalid}).toEngineConfig(); err == nil {
		t.Fatal("unsupported action should fail")
	}

	cfg, err = SandboxConfig{}.toEngineConfig()
	if err != nil || cfg.Seccomp != nil {
		t.Fatalf("no profile: cfg=%+v err=%v", cfg, err)
	}
}
