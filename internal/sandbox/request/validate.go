package request

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strings"

	"nsbox/pkg/errors"
)

// hostNameMax mirrors the kernel's HOST_NAME_MAX.
const hostNameMax = 64

var mountSchema = &object{
	fields: []field{
		{"type", enumType{choices: map[string]any{
			"tmpfs": MountTmpfs,
			"proc":  MountProc,
			"bind":  MountBind,
		}}},
		{"dest", pathType{absolute: true}},
		{"src", pathType{}},
		{"options", stringType{}},
		{"ro", boolType{}},
	},
	build: buildMount,
}

var pipeSchema = &object{
	fields: streamFields(true),
	build:  buildPipe,
}

var copyFileSchema = &object{
	fields: streamFields(false),
	build:  buildCopyFile,
}

var requestSchema = &object{
	fields: []field{
		{"cmd", stringListType{nonEmpty: true, program: true}},
		{"env", stringListType{verify: func(s string) string {
			if !strings.Contains(s, "=") {
				return "expecting NAME=value"
			}
			return ""
		}}},
		{"workDir", stringType{nonEmpty: true}},
		{"uid", intType{max: math.MaxInt32}},
		{"gid", intType{max: math.MaxInt32}},
		{"hostName", stringType{maxLen: hostNameMax}},
		{"domainName", stringType{maxLen: hostNameMax}},
		{"chroot", pathType{}},
		{"vaRandomize", boolType{}},
		{"mounts", listType{elem: mountSchema}},
		{"pipes", listType{elem: pipeSchema}},
		{"copyFiles", listType{elem: copyFileSchema}},
		{"timeLimit", secondsType{}},
		{"memoryLimit", intType{max: math.MaxInt64}},
		{"pidsLimit", intType{max: math.MaxInt64}},
	},
	build: buildRequest,
}

func streamFields(withFIFO bool) []field {
	fields := []field{
		{"dest", sinkType{}},
		{"src", pathType{}},
	}
	if withFIFO {
		fields = append(fields, field{"fifo", pathType{}})
	}
	return append(fields,
		field{"stdout", boolType{}},
		field{"stderr", boolType{}},
		field{"limit", intType{max: math.MaxInt64}},
	)
}

// Parse decodes and validates a job description. The returned error is a
// *errors.Error with a request-tier code whose message starts with the
// path of the first offending field.
func Parse(data []byte) (Request, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Request{}, errors.ValidationError("", "empty request")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Request{}, errors.Wrapf(err, errors.MalformedDocument, "malformed request: %v", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Request{}, errors.New(errors.MalformedDocument).WithMessage("malformed request: trailing data")
	}
	v, err := requestSchema.check("", raw)
	if err != nil {
		return Request{}, err
	}
	return v.(Request), nil
}

func buildRequest(at string, v values) (any, error) {
	if !v.has("cmd") {
		return nil, missing(at, "cmd")
	}
	req := Request{
		Cmd:         v.strings("cmd"),
		Env:         v.strings("env"),
		WorkDir:     v.str("workDir", "/"),
		UID:         int(v.int64("uid", 0)),
		GID:         int(v.int64("gid", 0)),
		HostName:    v.str("hostName", DefaultIdentity),
		DomainName:  v.str("domainName", DefaultIdentity),
		Chroot:      v.str("chroot", ""),
		VARandomize: v.boolean("vaRandomize", true),
	}
	if items, ok := v["mounts"].([]any); ok {
		for _, item := range items {
			req.Mounts = append(req.Mounts, item.(Mount))
		}
	}
	if items, ok := v["pipes"].([]any); ok {
		for _, item := range items {
			req.Pipes = append(req.Pipes, item.(Pipe))
		}
	}
	if items, ok := v["copyFiles"].([]any); ok {
		for _, item := range items {
			req.CopyFiles = append(req.CopyFiles, item.(CopyFile))
		}
	}
	if f, ok := v["timeLimit"].(float64); ok {
		req.TimeLimit = &f
	}
	if n, ok := v["memoryLimit"].(int64); ok {
		req.MemoryLimit = &n
	}
	if n, ok := v["pidsLimit"].(int64); ok {
		req.PidsLimit = &n
	}
	if err := checkStreamRouting(at, req); err != nil {
		return nil, err
	}
	return req, nil
}

// checkStreamRouting rejects a second claim on the command's stdout or stderr.
func checkStreamRouting(at string, req Request) error {
	var stdoutTaken, stderrTaken bool
	claim := func(entry string, stdout, stderr bool) error {
		if stdout {
			if stdoutTaken {
				return invalid(fieldPath(entry, "stdout"), "stdout already routed")
			}
			stdoutTaken = true
		}
		if stderr {
			if stderrTaken {
				return invalid(fieldPath(entry, "stderr"), "stderr already routed")
			}
			stderrTaken = true
		}
		return nil
	}
	for i, p := range req.Pipes {
		if err := claim(indexPath(fieldPath(at, "pipes"), i), p.Stdout, p.Stderr); err != nil {
			return err
		}
	}
	for i, c := range req.CopyFiles {
		if err := claim(indexPath(fieldPath(at, "copyFiles"), i), c.Stdout, c.Stderr); err != nil {
			return err
		}
	}
	return nil
}

func missing(at, name string) error {
	return invalid(at, "'"+name+"' missing")
}

func buildMount(at string, v values) (any, error) {
	if !v.has("type") {
		return nil, missing(at, "type")
	}
	if !v.has("dest") {
		return nil, missing(at, "dest")
	}
	m := Mount{
		Kind:     v["type"].(MountKind),
		Dest:     v.str("dest", ""),
		Options:  v.str("options", ""),
		ReadOnly: v.boolean("ro", false),
	}
	if m.Kind == MountBind {
		if !v.has("src") {
			return nil, invalid(at, "'src' missing, required for bind mounts")
		}
		m.Src = v.str("src", "")
	}
	return m, nil
}

func buildPipe(at string, v values) (any, error) {
	if !v.has("dest") {
		return nil, missing(at, "dest")
	}
	if v.has("src") && v.has("fifo") {
		return nil, invalid(fieldPath(at, "fifo"), "conflicts with 'src'")
	}
	p := Pipe{
		Kind:   PipeStream,
		Dest:   v["dest"].(Sink),
		Stdout: v.boolean("stdout", false),
		Stderr: v.boolean("stderr", false),
		Limit:  v.int64("limit", Unlimited),
	}
	for _, name := range []string{"src", "fifo"} {
		if v.has(name) {
			p.Kind = PipeFIFO
			p.FIFO = v.str(name, "")
		}
	}
	if p.Kind == PipeStream && !p.Stdout && !p.Stderr {
		return nil, invalid(at, "one of 'stdout', 'stderr', 'src' or 'fifo' is required")
	}
	return p, nil
}

func buildCopyFile(at string, v values) (any, error) {
	if !v.has("dest") {
		return nil, missing(at, "dest")
	}
	if !v.has("src") {
		return nil, missing(at, "src")
	}
	return CopyFile{
		Dest:   v["dest"].(Sink),
		Src:    v.str("src", ""),
		Stdout: v.boolean("stdout", false),
		Stderr: v.boolean("stderr", false),
		Limit:  v.int64("limit", Unlimited),
	}, nil
}
