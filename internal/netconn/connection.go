// Package netconn holds the per-socket line-framing buffer. A TCP read can
// deliver a partial frame, multiple frames, or both; Connection accumulates
// raw bytes and hands back complete, newline-terminated lines.
package netconn

import "bytes"

// Connection buffers inbound bytes for one client socket until complete
// "\n"-terminated lines can be extracted. It holds no socket reference of
// its own; callers own the net.Conn and only feed bytes in.
type Connection struct {
	buf []byte
}

// New returns an empty Connection.
func New() *Connection {
	return &Connection{}
}

// Append adds newly read bytes to the buffer and reports whether the buffer
// now contains at least one complete line.
func (c *Connection) Append(data []byte) bool {
	c.buf = append(c.buf, data...)
	return bytes.IndexByte(c.buf, '\n') >= 0
}

// Drain extracts every complete line currently buffered, in order. Each line
// has its trailing "\r" (if present) stripped and empty lines are dropped.
// Any trailing partial line is retained in the buffer for the next Append.
func (c *Connection) Drain() []string {
	var lines []string
	for {
		idx := bytes.IndexByte(c.buf, '\n')
		if idx < 0 {
			break
		}
		line := c.buf[:idx]
		c.buf = c.buf[idx+1:]
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) > 0 {
			lines = append(lines, string(line))
		}
	}
	return lines
}
