package engine

import (
	"fmt"
	"io"
)

const drainBufferSize = 32 * 1024

// drain copies src into dst until EOF. When limit is not negative and src
// yields more than limit bytes, exactly limit bytes reach dst and drain
// returns with exceeded set. Exactly limit bytes followed by EOF is not an
// overflow.
func drain(dst io.Writer, src io.Reader, limit int64) (written int64, exceeded bool, err error) {
	buf := make([]byte, drainBufferSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if limit >= 0 && written+int64(n) > limit {
				chunk = chunk[:limit-written]
				exceeded = true
			}
			if len(chunk) > 0 {
				if _, werr := dst.Write(chunk); werr != nil {
					return written, false, fmt.Errorf("write sink: %w", werr)
				}
				written += int64(len(chunk))
			}
			if exceeded {
				return written, true, nil
			}
		}
		if rerr == io.EOF {
			return written, false, nil
		}
		if rerr != nil {
			return written, false, fmt.Errorf("read stream: %w", rerr)
		}
	}
}
