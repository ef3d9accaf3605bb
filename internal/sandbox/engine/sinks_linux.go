//go:build linux

package engine

import (
	"fmt"
	"os"

	"nsbox/internal/sandbox/fdutil"
	"nsbox/internal/sandbox/request"
	"nsbox/internal/sandbox/spec"
	"nsbox/pkg/errors"

	"go.uber.org/multierr"
)

// stream is a pipe or copy-file entry bound to its opened sink.
type stream struct {
	name string
	spec spec.StreamSpec
	sink *os.File
}

type sinkSet struct {
	pipes  []*stream
	copies []*stream
}

// openSinks opens every destination before anything else is set up, so a
// bad sink fails the run without side effects inside the sandbox.
func openSinks(runSpec spec.RunSpec) (*sinkSet, error) {
	set := &sinkSet{}
	open := func(kind string, specs []spec.StreamSpec) ([]*stream, error) {
		out := make([]*stream, 0, len(specs))
		for _, s := range specs {
			name := fmt.Sprintf("%s[%d]", kind, s.Index)
			f, err := openSink(s.Sink)
			if err != nil {
				return out, errors.Wrapf(err, errors.SinkOpenFailed, "%s.dest: %v", name, err)
			}
			out = append(out, &stream{name: name, spec: s, sink: f})
		}
		return out, nil
	}
	var err error
	if set.pipes, err = open("pipes", runSpec.Pipes); err != nil {
		_ = set.Close()
		return nil, err
	}
	if set.copies, err = open("copyFiles", runSpec.CopyFiles); err != nil {
		_ = set.Close()
		return nil, err
	}
	return set, nil
}

func openSink(s request.Sink) (*os.File, error) {
	if s.IsFD() {
		return fdutil.Dup(s.FD, s.String())
	}
	return os.OpenFile(s.Path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
}

func (s *sinkSet) pipe(index int) *stream {
	if index < 0 || index >= len(s.pipes) {
		return nil
	}
	return s.pipes[index]
}

func (s *sinkSet) copy(index int) *stream {
	if index < 0 || index >= len(s.copies) {
		return nil
	}
	return s.copies[index]
}

func (s *sinkSet) Close() error {
	var errs error
	for _, list := range [][]*stream{s.pipes, s.copies} {
		for _, st := range list {
			errs = multierr.Append(errs, st.sink.Close())
		}
	}
	return errs
}
