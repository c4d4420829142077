package fixture

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"
	"github.com/lor00x/goldap/message"

	"github.com/smarzola/dirsync/internal/protocol"
	"github.com/smarzola/dirsync/internal/schema"
	"github.com/smarzola/dirsync/pkg/config"
	"github.com/smarzola/dirsync/pkg/crypto"
)

// Server serves a Directory read-only over LDAP.
type Server struct {
	cfg      config.FixtureConfig
	dir      *Directory
	hasher   *crypto.PasswordHasher
	bindHash string
	version  string
	listener net.Listener
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewServer creates a fixture server. The configured bind password is hashed
// up front so it never sits in memory in clear.
func NewServer(cfg *config.Config, dir *Directory, version string) (*Server, error) {
	s := &Server{
		cfg:     cfg.Fixture,
		dir:     dir,
		hasher:  crypto.NewPasswordHasher(cfg.Security.Argon2Config),
		version: version,
	}
	if dir.Bind.DN != "" {
		hash, err := s.hasher.Hash(dir.Bind.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash fixture bind password: %w", err)
		}
		s.bindHash = hash
		dir.Bind.Password = ""
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Start starts listening. Port 0 picks a free port; see Addr.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.cfg.BindAddress, fmt.Sprint(s.cfg.Port))

	var err error
	s.listener, err = net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP listener: %w", err)
	}

	slog.Info("Fixture directory starting", "address", s.listener.Addr().String(), "base_dn", s.dir.BaseDN, "entries", s.dir.Len())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	return nil
}

// Addr returns the listening address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// URL returns an ldap:// URL for the listening address.
func (s *Server) URL() string {
	return "ldap://" + s.listener.Addr().String()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				slog.Error("Failed to accept connection", "error", err)
				continue
			}
		}

		slog.Debug("New connection", "remote", conn.RemoteAddr())

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	handlers := protocol.OperationHandlers{
		OnBind:   s.handleBind,
		OnSearch: s.handleSearch,
		OnUnbind: s.handleUnbind,
	}

	ldapConn := protocol.NewConnection(conn, handlers)
	if err := ldapConn.Handle(s.ctx); err != nil && err != context.Canceled {
		slog.Debug("Connection closed", "remote", conn.RemoteAddr(), "error", err)
	}
}

// Stop closes the listener and all open connections.
func (s *Server) Stop() error {
	if s.listener != nil {
		s.cancel()
		s.listener.Close()
		s.wg.Wait()
	}
	return nil
}

func (s *Server) anonymousAllowed() bool {
	return s.dir.Bind.DN == ""
}

func (s *Server) handleBind(conn *protocol.Connection, msg *message.LDAPMessage) error {
	bindReq := msg.ProtocolOp().(message.BindRequest)
	bindDN := string(bindReq.Name())
	password := string(bindReq.AuthenticationSimple())

	slog.Debug("Bind request", "dn", bindDN)

	if bindDN == "" || password == "" {
		if s.anonymousAllowed() {
			conn.SetBoundDN("")
			return conn.WriteResponse(msg.MessageID(), protocol.NewBindResponse(message.ResultCodeSuccess))
		}
		slog.Debug("Anonymous bind rejected")
		return conn.WriteResponse(msg.MessageID(), protocol.NewBindResponse(message.ResultCodeInvalidCredentials))
	}

	if s.anonymousAllowed() || !dnEqual(bindDN, s.dir.Bind.DN) {
		slog.Debug("Unknown bind DN", "dn", bindDN)
		return conn.WriteResponse(msg.MessageID(), protocol.NewBindResponse(message.ResultCodeInvalidCredentials))
	}

	valid, err := s.hasher.Verify(password, s.bindHash)
	if err != nil || !valid {
		slog.Debug("Password verification failed", "dn", bindDN)
		return conn.WriteResponse(msg.MessageID(), protocol.NewBindResponse(message.ResultCodeInvalidCredentials))
	}

	conn.SetBoundDN(s.dir.Bind.DN)
	slog.Debug("Bind successful", "dn", bindDN)
	return conn.WriteResponse(msg.MessageID(), protocol.NewBindResponse(message.ResultCodeSuccess))
}

func (s *Server) handleSearch(conn *protocol.Connection, msg *message.LDAPMessage) error {
	searchReq := msg.ProtocolOp().(message.SearchRequest)
	baseDN := string(searchReq.BaseObject())
	scope := int(searchReq.Scope())

	if baseDN == "" && scope == ScopeBase {
		return s.handleRootDSE(conn, msg)
	}

	if !s.anonymousAllowed() && conn.BoundDN() == "" {
		return conn.WriteResponse(msg.MessageID(), protocol.NewSearchResultDone(int(ldap.LDAPResultInsufficientAccessRights)))
	}

	filterStr, err := serializeFilter(searchReq.Filter())
	if err == nil && filterStr == "" {
		filterStr = "(objectClass=*)"
	}
	var filter *schema.Filter
	if err == nil {
		filter, err = schema.ParseFilter(filterStr)
	}
	if err != nil {
		slog.Debug("Unsupported search filter", "error", err)
		return conn.WriteResponse(msg.MessageID(), protocol.NewSearchResultDone(message.ResultCodeProtocolError))
	}

	slog.Debug("Search request", "baseDN", baseDN, "scope", scope, "filter", filterStr)

	entries, ok := s.dir.Search(baseDN, scope, filter)
	if !ok {
		return conn.WriteResponse(msg.MessageID(), protocol.NewSearchResultDone(message.ResultCodeNoSuchObject))
	}

	sel := newSelection(searchReq.Attributes())
	for _, entry := range entries {
		result := protocol.NewSearchResultEntry(entry.DN)
		for name, values := range entry.Attributes {
			if sel.wants(name) {
				protocol.AddAttribute(&result, name, values...)
			}
		}
		for name, values := range entry.Binary {
			if sel.wants(name) {
				protocol.AddBinaryAttribute(&result, name, values...)
			}
		}
		if sel.operational || sel.named["entrydn"] {
			protocol.AddAttribute(&result, "entryDN", entry.DN)
		}

		if err := conn.WriteResponse(msg.MessageID(), result); err != nil {
			return err
		}
	}

	slog.Debug("Search completed", "baseDN", baseDN, "results", len(entries))
	return conn.WriteResponse(msg.MessageID(), protocol.NewSearchResultDone(message.ResultCodeSuccess))
}

func (s *Server) handleRootDSE(conn *protocol.Connection, msg *message.LDAPMessage) error {
	entry := protocol.NewSearchResultEntry("")
	protocol.AddAttribute(&entry, "objectClass", "top")
	protocol.AddAttribute(&entry, "namingContexts", s.dir.BaseDN)
	protocol.AddAttribute(&entry, "supportedLDAPVersion", "3")
	protocol.AddAttribute(&entry, "vendorName", "dirsync fixture")
	protocol.AddAttribute(&entry, "vendorVersion", s.version)

	if err := conn.WriteResponse(msg.MessageID(), entry); err != nil {
		return err
	}
	return conn.WriteResponse(msg.MessageID(), protocol.NewSearchResultDone(message.ResultCodeSuccess))
}

func (s *Server) handleUnbind(conn *protocol.Connection, msg *message.LDAPMessage) error {
	slog.Debug("Unbind request", "remote", conn.RemoteAddr())
	return nil
}

// selection is the attribute list of a search request.
type selection struct {
	all         bool
	operational bool
	named       map[string]bool
}

func newSelection(attrs message.AttributeSelection) selection {
	sel := selection{all: len(attrs) == 0, named: make(map[string]bool, len(attrs))}
	for _, a := range attrs {
		switch name := strings.ToLower(string(a)); name {
		case "*":
			sel.all = true
		case "+":
			sel.operational = true
		default:
			sel.named[name] = true
		}
	}
	return sel
}

func (sel selection) wants(name string) bool {
	return sel.all || sel.named[strings.ToLower(name)]
}

// dnEqual compares two DNs for equality (case-insensitive)
func dnEqual(dn1, dn2 string) bool {
	return strings.EqualFold(strings.TrimSpace(dn1), strings.TrimSpace(dn2))
}

// serializeFilter converts a decoded search filter back to its string form
func serializeFilter(f message.Filter) (string, error) {
	if f == nil {
		return "", nil
	}

	switch filter := f.(type) {
	case message.FilterEqualityMatch:
		return fmt.Sprintf("(%s=%s)", filter.AttributeDesc(), ldap.EscapeFilter(string(filter.AssertionValue()))), nil

	case message.FilterPresent:
		return fmt.Sprintf("(%s=*)", string(filter)), nil

	case message.FilterAnd:
		return joinFilters("&", filter)

	case message.FilterOr:
		return joinFilters("|", filter)

	case message.FilterNot:
		inner, err := serializeFilter(filter.Filter)
		if err != nil {
			return "", err
		}
		return "(!" + inner + ")", nil

	case message.FilterGreaterOrEqual:
		return fmt.Sprintf("(%s>=%s)", filter.AttributeDesc(), ldap.EscapeFilter(string(filter.AssertionValue()))), nil

	case message.FilterLessOrEqual:
		return fmt.Sprintf("(%s<=%s)", filter.AttributeDesc(), ldap.EscapeFilter(string(filter.AssertionValue()))), nil

	case message.FilterApproxMatch:
		return fmt.Sprintf("(%s~=%s)", filter.AttributeDesc(), ldap.EscapeFilter(string(filter.AssertionValue()))), nil

	case message.FilterSubstrings:
		var initial, final string
		var anys []string
		for _, sub := range filter.Substrings() {
			switch v := sub.(type) {
			case message.SubstringInitial:
				initial = ldap.EscapeFilter(string(v))
			case message.SubstringAny:
				anys = append(anys, ldap.EscapeFilter(string(v)))
			case message.SubstringFinal:
				final = ldap.EscapeFilter(string(v))
			}
		}
		parts := append([]string{initial}, anys...)
		parts = append(parts, final)
		return fmt.Sprintf("(%s=%s)", filter.Type_(), strings.Join(parts, "*")), nil

	default:
		return "", fmt.Errorf("unsupported filter type %T", f)
	}
}

func joinFilters[T ~[]message.Filter](op string, filters T) (string, error) {
	var sb strings.Builder
	sb.WriteString("(" + op)
	for _, sub := range filters {
		part, err := serializeFilter(sub)
		if err != nil {
			return "", err
		}
		sb.WriteString(part)
	}
	sb.WriteString(")")
	return sb.String(), nil
}
