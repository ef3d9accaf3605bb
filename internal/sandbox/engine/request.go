package engine

import (
	"io"

	"nsbox/internal/sandbox/control"
	"nsbox/internal/sandbox/spec"
)

// buildInitRequest carries the plan over to the helper. Descriptor slots
// start empty and are filled in while the helper's files are laid out.
func buildInitRequest(runSpec spec.RunSpec, seccomp *control.SeccompProfile) control.InitRequest {
	req := control.InitRequest{
		Cmd:         runSpec.Cmd,
		Env:         runSpec.Env,
		WorkDir:     runSpec.WorkDir,
		UID:         runSpec.UID,
		GID:         runSpec.GID,
		HostName:    runSpec.HostName,
		DomainName:  runSpec.DomainName,
		Chroot:      runSpec.Chroot,
		VARandomize: runSpec.VARandomize,
		Mounts:      runSpec.Mounts,
		StdoutFD:    control.NoFD,
		StderrFD:    control.NoFD,
		CgroupFD:    control.NoFD,
		Seccomp:     seccomp,
	}
	if req.Env == nil {
		req.Env = []string{}
	}
	for _, p := range runSpec.Pipes {
		if p.FIFO == "" {
			continue
		}
		req.FIFOs = append(req.FIFOs, control.Stream{Index: p.Index, Path: p.FIFO, Stdout: p.Stdout, Stderr: p.Stderr})
	}
	for _, c := range runSpec.CopyFiles {
		req.CopyFiles = append(req.CopyFiles, control.Stream{Index: c.Index, Path: c.Src, Stdout: c.Stdout, Stderr: c.Stderr})
	}
	return req
}

func jsonToPipe(req control.InitRequest) io.ReadCloser {
	reader, writer := io.Pipe()
	go func() {
		err := control.Encode(writer, req)
		_ = writer.CloseWithError(err)
	}()
	return reader
}
