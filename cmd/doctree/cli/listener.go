package cli

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"
)

// Listener wraps a net.Listener. Accepted connections get read and write
// deadlines which are pushed back after every successful operation.
type Listener struct {
	net.Listener
	Timeout time.Duration
}

func (l *Listener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	MetricsOpenConnections.Inc()

	conn := &Conn{Conn: c, Timeout: l.Timeout}
	if err := conn.extendDeadline(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Conn wraps a net.Conn and tracks it in the open connections metric.
type Conn struct {
	net.Conn
	Timeout time.Duration

	closeOnce sync.Once
}

// extendDeadline sets the deadline for the next operation. Without a timeout,
// no deadline is set at all.
func (c *Conn) extendDeadline() error {
	if c.Timeout <= 0 {
		return c.Conn.SetDeadline(time.Time{})
	}
	return c.Conn.SetDeadline(time.Now().Add(c.Timeout))
}

func (c *Conn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if !isTimeoutError(err) && c.Timeout > 0 {
		if err2 := c.extendDeadline(); err == nil {
			err = err2
		}
	}

	return n, err
}

func (c *Conn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if !isTimeoutError(err) && c.Timeout > 0 {
		if err2 := c.extendDeadline(); err == nil {
			err = err2
		}
	}

	return n, err
}

func (c *Conn) Close() error {
	c.closeOnce.Do(MetricsOpenConnections.Dec)

	return c.Conn.Close()
}

// NewListener binds to the TCP address or, if sock is not empty, to the UNIX
// socket at this path.
func NewListener(address, sock string, timeout time.Duration) (net.Listener, error) {
	var l net.Listener
	var err error
	if sock != "" {
		l, err = listenUnix(sock)
	} else {
		l, err = net.Listen("tcp", address)
	}
	if err != nil {
		return nil, err
	}

	return &Listener{
		Listener: l,
		Timeout:  timeout,
	}, nil
}

// listenUnix binds to a UNIX socket. A stale socket file from a previous run is
// removed, but other files are left alone.
func listenUnix(path string) (net.Listener, error) {
	stat, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else {
		if stat.Mode()&os.ModeSocket == 0 {
			return nil, errors.New("specified path is not a socket")
		}
		if err := os.Remove(path); err != nil {
			return nil, err
		}
	}

	return net.Listen("unix", path)
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
