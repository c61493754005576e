package reqid

import (
	"fmt"
	"os"
	"sync/atomic"
)

var prefix string
var reqid uint64

func init() {
	hostname, err := os.Hostname()
	if hostname == "" || err != nil {
		hostname = "localhost"
	}
	prefix = hostname
}

// OverridePrefix replaces the hostname prefix, e.g. with the worker process name.
func OverridePrefix(p string) {
	prefix = p
}

// NextRequestID generates the next request ID in the sequence.
func NextRequestID() string {
	return fmt.Sprintf("%s-%09d", prefix, atomic.AddUint64(&reqid, 1))
}
