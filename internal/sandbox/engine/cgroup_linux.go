//go:build linux

package engine

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"nsbox/internal/sandbox/result"
	"nsbox/internal/sandbox/spec"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const (
	cgroupMount       = "/sys/fs/cgroup"
	cgroupPrefix      = "nsbox-"
	cgroupPollTimeout = 100 // ms
	cgroupRemoveWait  = 2 * time.Second
)

// jobCgroup is the per-run hierarchy <root>/nsbox-<id>/{init,job}. The
// helper lives in init so that only the command's processes count
// against the limits set on job.
type jobCgroup struct {
	path    string
	initDir *os.File
	jobDir  *os.File
	limits  spec.ResourceLimit
}

// cgroupEvents are the counters that turn into limit outcomes.
type cgroupEvents struct {
	OOMKills int64
	PidsMax  int64
}

func createJobCgroup(root, id string, limits spec.ResourceLimit) (cg *jobCgroup, err error) {
	if root == "" {
		root, err = currentCgroupParent()
		if err != nil {
			return nil, err
		}
	}
	path := filepath.Join(root, cgroupPrefix+id)
	if err := os.Mkdir(path, 0755); err != nil {
		return nil, fmt.Errorf("create cgroup path: %w", err)
	}
	cg = &jobCgroup{path: path, limits: limits}
	defer func() {
		if err != nil {
			_ = cg.destroy()
		}
	}()

	controllers := controllerList(limits)
	// The parent may already delegate these or refuse; only the write into
	// our own cgroup below is mandatory.
	_ = writeCgroupValue(root, "cgroup.subtree_control", controllers)
	if err := writeCgroupValue(path, "cgroup.subtree_control", controllers); err != nil {
		return nil, fmt.Errorf("enable controllers %q: %w", controllers, err)
	}
	for _, name := range []string{"init", "job"} {
		if err := os.Mkdir(filepath.Join(path, name), 0755); err != nil {
			return nil, fmt.Errorf("create %s cgroup: %w", name, err)
		}
	}
	if err := applyCgroupLimits(filepath.Join(path, "job"), limits); err != nil {
		return nil, err
	}
	if cg.initDir, err = os.Open(filepath.Join(path, "init")); err != nil {
		return nil, fmt.Errorf("open init cgroup: %w", err)
	}
	if cg.jobDir, err = os.Open(filepath.Join(path, "job")); err != nil {
		return nil, fmt.Errorf("open job cgroup: %w", err)
	}
	return cg, nil
}

func controllerList(limits spec.ResourceLimit) string {
	var ctrl []string
	if limits.MemoryBytes > 0 {
		ctrl = append(ctrl, "+memory")
	}
	if limits.PIDs > 0 {
		ctrl = append(ctrl, "+pids")
	}
	return strings.Join(ctrl, " ")
}

func applyCgroupLimits(cgroupPath string, limits spec.ResourceLimit) error {
	if limits.MemoryBytes > 0 {
		if err := writeCgroupValue(cgroupPath, "memory.max", strconv.FormatInt(limits.MemoryBytes, 10)); err != nil {
			return fmt.Errorf("set memory.max: %w", err)
		}
		// Not every kernel has swap accounting.
		_ = writeCgroupValue(cgroupPath, "memory.swap.max", "0")
	}
	if limits.PIDs > 0 {
		if err := writeCgroupValue(cgroupPath, "pids.max", strconv.FormatInt(limits.PIDs, 10)); err != nil {
			return fmt.Errorf("set pids.max: %w", err)
		}
	}
	return nil
}

// currentCgroupParent returns the parent of the cgroup this process runs in.
func currentCgroupParent() (string, error) {
	data, err := os.ReadFile("/proc/self/cgroup")
	if err != nil {
		return "", fmt.Errorf("read own cgroup: %w", err)
	}
	rel, ok := parseUnifiedCgroup(data)
	if !ok {
		return "", fmt.Errorf("no cgroup v2 entry in /proc/self/cgroup")
	}
	return cgroupParent(rel), nil
}

// cgroupParent maps a unified hierarchy path onto the mount. A process at
// the root of its cgroup namespace gets the mount itself.
func cgroupParent(rel string) string {
	dir := filepath.Join(cgroupMount, rel)
	if dir == cgroupMount {
		return dir
	}
	return filepath.Dir(dir)
}

func parseUnifiedCgroup(data []byte) (string, bool) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if rel, ok := strings.CutPrefix(sc.Text(), "0::"); ok {
			return rel, true
		}
	}
	return "", false
}

// events reads the job cgroup's limit counters.
func (c *jobCgroup) events() cgroupEvents {
	var ev cgroupEvents
	job := filepath.Join(c.path, "job")
	if c.limits.MemoryBytes > 0 {
		if data, err := os.ReadFile(filepath.Join(job, "memory.events")); err == nil {
			ev.OOMKills = parseEventCount(data, "oom_kill")
		}
	}
	if c.limits.PIDs > 0 {
		if data, err := os.ReadFile(filepath.Join(job, "pids.events")); err == nil {
			ev.PidsMax = parseEventCount(data, "max")
		}
	}
	return ev
}

func (ev cgroupEvents) outcome() (result.Result, bool) {
	switch {
	case ev.OOMKills > 0:
		return result.MemoryLimit(), true
	case ev.PidsMax > 0:
		return result.PidsLimit(), true
	default:
		return result.Result{}, false
	}
}

func parseEventCount(data []byte, key string) int64 {
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || fields[0] != key {
			continue
		}
		val, _ := strconv.ParseInt(fields[1], 10, 64)
		return val
	}
	return 0
}

type eventFile struct {
	f   *os.File
	key string
	set func(*cgroupEvents, int64)
}

// watch polls the job's event files and reports the first limit hit.
// Kernfs signals a change with POLLPRI; re-reading through the same
// descriptor rearms it.
func (c *jobCgroup) watch(done <-chan struct{}, report func(result.Result)) {
	job := filepath.Join(c.path, "job")
	var watched []eventFile
	open := func(name, key string, set func(*cgroupEvents, int64)) {
		f, err := os.Open(filepath.Join(job, name))
		if err != nil {
			return
		}
		watched = append(watched, eventFile{f: f, key: key, set: set})
	}
	if c.limits.MemoryBytes > 0 {
		open("memory.events", "oom_kill", func(ev *cgroupEvents, n int64) { ev.OOMKills = n })
	}
	if c.limits.PIDs > 0 {
		open("pids.events", "max", func(ev *cgroupEvents, n int64) { ev.PidsMax = n })
	}
	defer func() {
		for _, w := range watched {
			_ = w.f.Close()
		}
	}()
	if len(watched) == 0 {
		return
	}

	fds := make([]unix.PollFd, len(watched))
	for i, w := range watched {
		fds[i] = unix.PollFd{Fd: int32(w.f.Fd()), Events: unix.POLLPRI}
	}
	buf := make([]byte, 512)
	for {
		select {
		case <-done:
			return
		default:
		}
		var ev cgroupEvents
		for i, w := range watched {
			fds[i].Revents = 0
			n, err := unix.Pread(int(fds[i].Fd), buf, 0)
			if err != nil || n <= 0 {
				continue
			}
			w.set(&ev, parseEventCount(buf[:n], w.key))
		}
		if res, hit := ev.outcome(); hit {
			report(res)
			return
		}
		if _, err := unix.Poll(fds, cgroupPollTimeout); err != nil && err != unix.EINTR {
			return
		}
	}
}

// kill terminates every process left in the hierarchy.
func (c *jobCgroup) kill() error {
	return writeCgroupValue(c.path, "cgroup.kill", "1")
}

// destroy kills what is left and removes the hierarchy bottom-up.
func (c *jobCgroup) destroy() error {
	var errs error
	for _, f := range []*os.File{c.initDir, c.jobDir} {
		if f != nil {
			errs = multierr.Append(errs, f.Close())
		}
	}
	// cgroup.kill is missing before Linux 5.14; rmdir reports what survived.
	_ = c.kill()
	for _, dir := range []string{filepath.Join(c.path, "job"), filepath.Join(c.path, "init"), c.path} {
		errs = multierr.Append(errs, removeCgroupDir(dir))
	}
	return errs
}

// removeCgroupDir retries while the kernel finishes tearing down killed
// members.
func removeCgroupDir(dir string) error {
	deadline := time.Now().Add(cgroupRemoveWait)
	for {
		err := unix.Rmdir(dir)
		if err == nil || err == unix.ENOENT {
			return nil
		}
		if err != unix.EBUSY || time.Now().After(deadline) {
			return fmt.Errorf("remove cgroup %s: %w", dir, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func writeCgroupValue(cgroupPath, name, value string) error {
	return os.WriteFile(filepath.Join(cgroupPath, name), []byte(value), 0644)
}
