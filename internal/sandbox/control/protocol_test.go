package control

import (
	"bytes"
	"testing"

	"nsbox/internal/sandbox/request"
	"nsbox/internal/sandbox/spec"

	"github.com/google/go-cmp/cmp"
)

func TestInitRequestRoundTrip(t *testing.T) {
	req := InitRequest{
		Cmd:        []string{"sh", "-c", "echo hi"},
		WorkDir:    ".",
		UID:        1000,
		GID:        1000,
		HostName:   "sandbox",
		DomainName: "sandbox",
		Chroot:     "/tmp",
		Mounts: []spec.MountSpec{
			{Kind: request.MountTmpfs, Target: "/"},
			{Kind: request.MountBind, Source: "/bin", Target: "/bin", ReadOnly: true},
		},
		FIFOs:     []Stream{{Index: 1, Path: "/tmp/@canary"}},
		CopyFiles: []Stream{{Index: 0, Path: "/tmp/o", Stdout: true}},
		StdoutFD:  NoFD,
		StderrFD:  4,
		CgroupFD:  5,
		Seccomp: &SeccompProfile{
			DefaultAction: "SCMP_ACT_ALLOW",
			Syscalls:      []SeccompRule{{Names: []string{"ptrace"}, Action: "SCMP_ACT_ERRNO"}},
		},
	}
	var buf bytes.Buffer
	if err := Encode(&buf, req); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(req, got); diff != "" {
		t.Fatalf("init request mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode(bytes.NewBufferString("not json")); err == nil {
		t.Fatal("expected error")
	}
}

func TestSeccompProfileValidate(t *testing.T) {
	cases := []struct {
		name    string
		profile SeccompProfile
		wantErr bool
	}{
		{name: "allow list", profile: SeccompProfile{DefaultAction: "SCMP_ACT_ERRNO", Syscalls: []SeccompRule{{Names: []string{"read"}, Action: "SCMP_ACT_ALLOW"}}}},
		{name: "lower case action", profile: SeccompProfile{DefaultAction: "scmp_act_allow"}},
		{name: "unknown default", profile: SeccompProfile{DefaultAction: "SCMP_ACT_NOTIFY"}, wantErr: true},
		{name: "unknown rule action", profile: SeccompProfile{DefaultAction: "SCMP_ACT_ALLOW", Syscalls: []SeccompRule{{Names: []string{"read"}, Action: "deny"}}}, wantErr: true},
		{name: "rule without names", profile: SeccompProfile{DefaultAction: "SCMP_ACT_ALLOW", Syscalls: []SeccompRule{{Action: "SCMP_ACT_KILL"}}}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.profile.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate() err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
