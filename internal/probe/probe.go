package probe

import (
	"net"
	"strconv"
	"time"

	gopsnet "github.com/shirou/gopsutil/v4/net"
)

// Prober answers whether a local TCP port currently has a listener, and
// best-effort who owns it. Implementations must be safe for concurrent use.
type Prober interface {
	// IsBound reports whether any process listens on the TCP port.
	IsBound(port int) bool
	// Owner returns the PID of the listening process. ok is false when the
	// owner cannot be determined; the port may still be bound in that case.
	Owner(port int) (pid int, ok bool)
}

// TCP probes ports by connecting to the loopback interface, falling back to
// a bind attempt for listeners not reachable via loopback.
type TCP struct {
	DialTimeout time.Duration
}

func (t TCP) IsBound(port int) bool {
	d := t.DialTimeout
	if d <= 0 {
		d = 500 * time.Millisecond
	}
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	if conn, err := net.DialTimeout("tcp", addr, d); err == nil {
		_ = conn.Close()
		return true
	}
	// The listener may be bound to a non-loopback interface. If we can bind
	// the port ourselves, nobody holds it. Only an address-in-use error
	// proves a listener; EACCES on a privileged port says nothing and must
	// not mark the port bound.
	l, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return addrInUse(err)
	}
	_ = l.Close()
	return false
}

func (t TCP) Owner(port int) (int, bool) {
	conns, err := gopsnet.Connections("tcp")
	if err != nil {
		return 0, false
	}
	for _, c := range conns {
		if c.Status == "LISTEN" && int(c.Laddr.Port) == port && c.Pid > 0 {
			return int(c.Pid), true
		}
	}
	return 0, false
}
