//go:build linux

package initproc

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"

	"nsbox/internal/sandbox/request"
	"nsbox/internal/sandbox/spec"
	"nsbox/pkg/errors"

	"golang.org/x/sys/unix"
)

// statfs flags a read-only bind remount has to repeat, because the kernel
// refuses to clear them on a mount owned by another user namespace.
var lockedMountFlags = []struct {
	st    uint64
	mount uintptr
}{
	{unix.ST_NOSUID, unix.MS_NOSUID},
	{unix.ST_NODEV, unix.MS_NODEV},
	{unix.ST_NOEXEC, unix.MS_NOEXEC},
	{unix.ST_NOATIME, unix.MS_NOATIME},
	{unix.ST_NODIRATIME, unix.MS_NODIRATIME},
	{unix.ST_RELATIME, unix.MS_RELATIME},
}

func setupMounts(root string, mounts []spec.MountSpec) error {
	if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
		return errors.Wrapf(err, errors.NamespaceSetupFailed, "make mounts private: %v", err)
	}
	for i, m := range mounts {
		target := mountTarget(root, m.Target)
		if err := applyMount(m, target); err != nil {
			return errors.Wrapf(err, errors.MountFailed, "mounts[%d]: %s on %s: %v", i, m.Kind, target, err)
		}
	}
	return nil
}

// mountTarget resolves dest inside the future root.
func mountTarget(root, dest string) string {
	if root == "" {
		return filepath.Clean(dest)
	}
	return filepath.Join(root, dest)
}

// applyMount creates a missing target once and retries.
func applyMount(m spec.MountSpec, target string) error {
	err := mountOnce(m, target)
	if !stderrors.Is(err, unix.ENOENT) {
		return err
	}
	if err := ensureMountTarget(m, target); err != nil {
		return err
	}
	return mountOnce(m, target)
}

func mountOnce(m spec.MountSpec, target string) error {
	var ro uintptr
	if m.ReadOnly {
		ro = unix.MS_RDONLY
	}
	switch m.Kind {
	case request.MountTmpfs:
		return unix.Mount("tmpfs", target, "tmpfs", ro, m.Options)
	case request.MountProc:
		return unix.Mount("proc", target, "proc", unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC|ro, m.Options)
	case request.MountBind:
		if err := unix.Mount(m.Source, target, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
			return err
		}
		if m.ReadOnly {
			return remountReadOnly(target)
		}
		return nil
	default:
		return fmt.Errorf("unsupported mount type %v", m.Kind)
	}
}

func remountReadOnly(target string) error {
	var st unix.Statfs_t
	if err := unix.Statfs(target, &st); err != nil {
		return fmt.Errorf("statfs: %w", err)
	}
	flags := uintptr(unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY) | lockedFlags(uint64(st.Flags))
	if err := unix.Mount("", target, "", flags, ""); err != nil {
		return fmt.Errorf("remount readonly: %w", err)
	}
	return nil
}

func lockedFlags(stFlags uint64) uintptr {
	var flags uintptr
	for _, f := range lockedMountFlags {
		if stFlags&f.st != 0 {
			flags |= f.mount
		}
	}
	return flags
}

func ensureMountTarget(m spec.MountSpec, target string) error {
	if m.Kind == request.MountBind {
		info, err := os.Stat(m.Source)
		if err != nil {
			return fmt.Errorf("stat mount source: %w", err)
		}
		if !info.IsDir() {
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("mkdir mount target dir: %w", err)
			}
			file, err := os.OpenFile(target, os.O_CREATE, 0644)
			if err != nil {
				return fmt.Errorf("create mount target file: %w", err)
			}
			return file.Close()
		}
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		return fmt.Errorf("mkdir mount target: %w", err)
	}
	return nil
}

// enterRoot switches into the chroot, if any, and the working directory.
// A relative working directory is taken from the new root.
func enterRoot(root, workDir string) error {
	if root != "" {
		if err := unix.Chroot(root); err != nil {
			return errors.Wrapf(err, errors.ChrootFailed, "chroot %s: %v", root, err)
		}
		if err := unix.Chdir("/"); err != nil {
			return errors.Wrapf(err, errors.ChrootFailed, "chdir /: %v", err)
		}
	}
	dir := workDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join("/", dir)
	}
	if err := unix.Chdir(dir); err != nil {
		return errors.Wrapf(err, errors.ChrootFailed, "workDir %s: %v", workDir, err)
	}
	return nil
}
