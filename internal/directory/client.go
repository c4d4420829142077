package directory

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/smarzola/dirsync/pkg/config"
)

// Client is an authenticated connection to the remote directory.
type Client struct {
	conn *ldap.Conn
	url  string
}

// Dial connects to cfg.URL, upgrades with StartTLS when asked and performs a
// simple bind. An empty bind DN leaves the connection anonymous.
func Dial(ctx context.Context, cfg config.DirectoryConfig) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid directory URL %q: %w", cfg.URL, err)
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	tlsConfig := &tls.Config{
		ServerName:         u.Hostname(),
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // operator opt-in for lab directories
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	start := time.Now()
	opts := []ldap.DialOpt{ldap.DialWithDialer(&net.Dialer{Timeout: timeout})}
	if u.Scheme == "ldaps" {
		opts = append(opts, ldap.DialWithTLSConfig(tlsConfig))
	}

	conn, err := ldap.DialURL(cfg.URL, opts...)
	if err != nil {
		slog.Error("Directory dial failed", "url", cfg.URL, "error", err, "duration", time.Since(start))
		return nil, wrapError("dial", "", err)
	}
	if timeout > 0 {
		conn.SetTimeout(timeout)
	}

	if cfg.StartTLS && u.Scheme != "ldaps" {
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, wrapError("starttls", "", err)
		}
	}

	if cfg.BindDN != "" {
		if err := conn.Bind(cfg.BindDN, cfg.BindPassword); err != nil {
			conn.Close()
			return nil, wrapError("bind", "", err)
		}
	}

	slog.Debug("Connected to directory", "url", cfg.URL, "bind_dn", cfg.BindDN, "starttls", cfg.StartTLS, "duration", time.Since(start))
	return &Client{conn: conn, url: cfg.URL}, nil
}

// Search runs one search round trip.
func (c *Client) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	return c.conn.Search(req)
}

// Pager returns a pager bound to this connection.
func (c *Client) Pager(pageSize uint32) *Pager {
	return NewPager(c, pageSize)
}

// Close unbinds and closes the connection.
func (c *Client) Close() {
	c.conn.Close()
}
