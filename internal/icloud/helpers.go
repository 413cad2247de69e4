package icloud

import (
	"bytes"
	"io"
	"time"
)

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

// msToTime converts a Unix-millisecond timestamp to UTC. A zero input
// produces the zero time.Time rather than the 1970 epoch, so callers
// can distinguish "absent" from "epoch".
func msToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}

	return time.UnixMilli(ms).UTC()
}
