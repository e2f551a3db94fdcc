// Package control implements the local command socket: fixed-size binary commands in,
// short human-readable replies out.
package control

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPath is where the daemon listens.
const DefaultPath = "/tmp/linkd_socket"

const (
	TypeInterval int32 = 1
	TypeExit     int32 = 2
	TypeStatus   int32 = 3
)

// CommandSize is the encoded size of a Command.
const CommandSize = 8

// ReplyOK is the reply to a successful command.
const ReplyOK = "Command executed successfully"

// Command is {type int32, payload uint32} in host byte order.
// For TypeInterval the payload is the new sweep interval in seconds.
type Command struct {
	Type    int32
	Payload uint32
}

func (c Command) MarshalBinary() ([]byte, error) {
	b := make([]byte, CommandSize)
	binary.NativeEndian.PutUint32(b[0:], uint32(c.Type))
	binary.NativeEndian.PutUint32(b[4:], c.Payload)
	return b, nil
}

func (c *Command) UnmarshalBinary(b []byte) error {
	if len(b) != CommandSize {
		return fmt.Errorf("command is %d bytes, want %d", len(b), CommandSize)
	}
	c.Type = int32(binary.NativeEndian.Uint32(b[0:]))
	c.Payload = binary.NativeEndian.Uint32(b[4:])
	return nil
}

func (c Command) String() string {
	switch c.Type {
	case TypeInterval:
		return fmt.Sprintf("interval %ds", c.Payload)
	case TypeExit:
		return "exit"
	case TypeStatus:
		return "status"
	default:
		return fmt.Sprintf("type %d (%d)", c.Type, c.Payload)
	}
}

// Request carries one command to the handler. The handler must send exactly one reply.
type Request struct {
	Command Command
	Reply   chan<- string
}

// Server accepts connections on a unix stream socket and forwards their commands.
type Server struct {
	path     string
	ln       net.Listener
	requests chan Request
	wg       sync.WaitGroup
}

// Listen binds path, replacing a stale socket left by a previous run.
func Listen(path string) (*Server, error) {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	zap.S().Infof("control socket listening on %s.", path)
	return &Server{path: path, ln: ln, requests: make(chan Request)}, nil
}

// Requests delivers decoded commands. It is never closed.
func (s *Server) Requests() <-chan Request {
	return s.requests
}

// Serve accepts connections until ctx is done or the listener fails.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.SetDeadline(time.Now())
	}()
	buf := make([]byte, CommandSize)
	for {
		_, err := io.ReadFull(conn, buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				zap.S().Debugf("control: connection closed: %s", err)
			}
			return
		}
		var cmd Command
		cmd.UnmarshalBinary(buf)
		zap.S().Infof("control: received %s.", cmd)

		reply := make(chan string, 1)
		select {
		case s.requests <- Request{Command: cmd, Reply: reply}:
		case <-ctx.Done():
			return
		}
		var text string
		select {
		case text = <-reply:
		case <-ctx.Done():
			return
		}
		_, err = conn.Write(append([]byte(text), 0))
		if err != nil {
			zap.S().Debugf("control: writing reply: %s", err)
			return
		}
	}
}

// Close stops listening and removes the socket file.
func (s *Server) Close() error {
	err := s.ln.Close()
	if rerr := os.Remove(s.path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
		return rerr
	}
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Client sends commands to a Server.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
}

func Dial(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

// Send writes cmd and waits for its reply.
func (c *Client) Send(cmd Command) (string, error) {
	b, _ := cmd.MarshalBinary()
	_, err := c.conn.Write(b)
	if err != nil {
		return "", fmt.Errorf("sending %s: %w", cmd, err)
	}
	reply, err := c.r.ReadString(0)
	if err != nil {
		return "", fmt.Errorf("reading reply to %s: %w", cmd, err)
	}
	return reply[:len(reply)-1], nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}
