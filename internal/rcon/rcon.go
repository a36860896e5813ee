// Package rcon implements the Minecraft (Source-style) RCON protocol:
// little-endian framed packets of [length, request id, type, body, 2x NUL]
// over a plain TCP connection.
package rcon

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log"
	"net"
	"sync"
	"time"
)

// Packet types defined by the protocol.
const (
	typeResponse = 0
	typeCommand  = 2
	typeLogin    = 3
)

const maxPayload = 4096

// Error marks an RCON communication failure. Command failures are always an
// *Error, never a silently empty response.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("rcon %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

func wrap(op string, err error) error {
	return &Error{Op: op, Err: err}
}

// Client is a session against one RCON endpoint. Methods are serialized by
// an internal mutex; the server answers strictly in order.
type Client struct {
	addr     string
	password string
	timeout  time.Duration

	mu        sync.Mutex
	conn      net.Conn
	requestID int32
}

// New creates a client. No connection is made until Connect.
func New(addr, password string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{addr: addr, password: password, timeout: timeout}
}

// Connect dials and authenticates. Connecting an already-connected client is
// a no-op.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return wrap("connect", err)
	}

	c.conn = conn
	id, _, _, err := c.roundTrip(typeLogin, c.password)
	if err != nil {
		conn.Close()
		c.conn = nil
		return wrap("login", err)
	}
	// The server answers a failed login with request id -1.
	if id == -1 {
		conn.Close()
		c.conn = nil
		return wrap("login", fmt.Errorf("authentication refused by %s", c.addr))
	}
	log.Printf("[rcon] connected to %s", c.addr)
	return nil
}

// Disconnect closes the session. Safe to call when not connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		log.Printf("[rcon] error closing connection to %s: %v", c.addr, err)
	}
	c.conn = nil
}

// IsConnected reports the local connection flag. It does not probe the wire;
// use TestConnection for that.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Command sends one command and returns the textual response. The connection
// is assumed lost on any failure. An empty response with a nil error is a
// legitimate protocol outcome, not a failure.
func (c *Client) Command(command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return "", wrap("command", fmt.Errorf("not connected to %s", c.addr))
	}

	_, _, body, err := c.roundTrip(typeCommand, command)
	if err != nil {
		c.conn.Close()
		c.conn = nil
		return "", wrap("command", err)
	}
	return body, nil
}

// TestConnection verifies the session with a cheap round trip. On failure
// the connection flag is cleared.
func (c *Client) TestConnection() bool {
	if !c.IsConnected() {
		return false
	}
	if _, err := c.Command("list"); err != nil {
		log.Printf("[rcon] connection test failed: %v", err)
		return false
	}
	return true
}

// roundTrip writes one packet and reads one response packet. Caller holds
// the mutex and owns connection-state cleanup on error.
func (c *Client) roundTrip(packetType int32, payload string) (id int32, ptype int32, body string, err error) {
	if len(payload) > maxPayload {
		return 0, 0, "", fmt.Errorf("payload exceeds %d bytes", maxPayload)
	}

	c.requestID++
	reqID := c.requestID

	deadline := time.Now().Add(c.timeout)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return 0, 0, "", err
	}

	// Frame: length (excluding itself), id, type, body, NUL, NUL.
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, int32(len(payload)+10))
	binary.Write(buf, binary.LittleEndian, reqID)
	binary.Write(buf, binary.LittleEndian, packetType)
	buf.WriteString(payload)
	buf.Write([]byte{0, 0})
	if _, err := c.conn.Write(buf.Bytes()); err != nil {
		return 0, 0, "", err
	}

	var length int32
	if err := binary.Read(c.conn, binary.LittleEndian, &length); err != nil {
		return 0, 0, "", err
	}
	if length < 10 || length > maxPayload+10 {
		return 0, 0, "", fmt.Errorf("invalid response length %d", length)
	}
	frame := make([]byte, length)
	if _, err := readFull(c.conn, frame); err != nil {
		return 0, 0, "", err
	}

	id = int32(binary.LittleEndian.Uint32(frame[0:4]))
	ptype = int32(binary.LittleEndian.Uint32(frame[4:8]))
	body = string(bytes.TrimRight(frame[8:], "\x00"))
	return id, ptype, body, nil
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := conn.Read(buf[read:])
		read += n
		if err != nil {
			return read, err
		}
	}
	return read, nil
}
