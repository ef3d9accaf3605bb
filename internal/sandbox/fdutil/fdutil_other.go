//go:build !linux

package fdutil

// SealInherited is a no-op where the sandbox is unsupported.
func SealInherited() error {
	return nil
}
