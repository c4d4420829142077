package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/lor00x/goldap/message"
)

// Connection represents an LDAP client connection
type Connection struct {
	conn     net.Conn
	reader   *Reader
	mu       sync.Mutex
	closed   bool
	boundDN  string
	handlers OperationHandlers
}

// OperationHandlers defines callbacks for the read-only operations a
// directory fixture serves. Anything else is answered with a protocol error.
type OperationHandlers struct {
	OnBind   func(*Connection, *message.LDAPMessage) error
	OnSearch func(*Connection, *message.LDAPMessage) error
	OnUnbind func(*Connection, *message.LDAPMessage) error
}

// NewConnection creates a new LDAP connection wrapper
func NewConnection(conn net.Conn, handlers OperationHandlers) *Connection {
	return &Connection{
		conn:     conn,
		reader:   NewReader(conn),
		handlers: handlers,
	}
}

// Handle processes incoming LDAP messages until the client disconnects,
// unbinds, or ctx is cancelled.
func (c *Connection) Handle(ctx context.Context) error {
	defer c.Close()
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		msg, err := c.reader.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || c.isClosed() {
				slog.Debug("Client disconnected", "remote", c.conn.RemoteAddr())
				return nil
			}
			slog.Error("Failed to read LDAP message", "error", err, "remote", c.conn.RemoteAddr())
			return err
		}

		if err := c.dispatch(msg); err != nil {
			slog.Error("Failed to handle LDAP operation", "error", err, "operation", msg.ProtocolOpName())
		}
		if c.isClosed() {
			return nil
		}
	}
}

// dispatch routes the message to the appropriate handler
func (c *Connection) dispatch(msg *message.LDAPMessage) error {
	switch msg.ProtocolOp().(type) {
	case message.BindRequest:
		if c.handlers.OnBind != nil {
			return c.handlers.OnBind(c, msg)
		}

	case message.SearchRequest:
		if c.handlers.OnSearch != nil {
			return c.handlers.OnSearch(c, msg)
		}

	case message.AbandonRequest:
		// Abandon has no response.
		return nil

	case message.UnbindRequest:
		if c.handlers.OnUnbind != nil {
			if err := c.handlers.OnUnbind(c, msg); err != nil {
				return err
			}
		}
		return c.Close()

	default:
		slog.Warn("Unsupported LDAP operation", "operation", msg.ProtocolOpName())
		return c.WriteError(msg.MessageID(), message.ResultCodeUnwillingToPerform, "Operation not supported by this directory")
	}

	return nil
}

// WriteResponse writes an LDAP response message
func (c *Connection) WriteResponse(messageID message.MessageID, response message.ProtocolOp) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection closed")
	}

	msg := message.NewLDAPMessageWithProtocolOp(response)
	msg.SetMessageID(int(messageID))

	return WriteLDAPMessage(c.conn, msg)
}

// WriteError writes an error response
func (c *Connection) WriteError(messageID message.MessageID, resultCode int, diagnosticMessage string) error {
	resp := NewBindResponse(resultCode)
	resp.SetDiagnosticMessage(diagnosticMessage)
	return c.WriteResponse(messageID, resp)
}

// RemoteAddr returns the remote address of the connection
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetBoundDN sets the bound DN for this connection after successful authentication
func (c *Connection) SetBoundDN(dn string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.boundDN = dn
}

// BoundDN returns the currently bound DN, empty for anonymous sessions
func (c *Connection) BoundDN() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.boundDN
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close closes the connection
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	return c.conn.Close()
}
