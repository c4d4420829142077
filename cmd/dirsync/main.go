package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/smarzola/dirsync/internal/directory"
	"github.com/smarzola/dirsync/internal/fixture"
	"github.com/smarzola/dirsync/internal/models"
	"github.com/smarzola/dirsync/internal/store"
	"github.com/smarzola/dirsync/internal/syncer"
	"github.com/smarzola/dirsync/pkg/config"
	"github.com/smarzola/dirsync/pkg/crypto"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func init() {
	// Keep library output off the unstructured standard logger.
	log.SetOutput(io.Discard)
	log.SetFlags(0)
	log.SetPrefix("")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "dirsync",
	Short:         "dirsync - synchronize directory users into a local identity store",
	Long:          "Pulls user entries from an LDAP directory, maps them to local identities with configurable expressions and keeps them in SQLite",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	sourcePath  string
	fixturePath string
	eventKind   string
	eventLimit  int
	identSource string
	identName   string
	identEmail  string
	maxPages    int
)

func init() {
	syncCmd.Flags().StringVar(&sourcePath, "source", "", "source definition file (default $DIRSYNC_SOURCE_PATH)")
	syncCmd.Flags().IntVar(&maxPages, "max-pages", 0, "stop after this many pages, 0 for all")
	fixtureCmd.Flags().StringVar(&fixturePath, "fixture", "", "fixture file (default $DIRSYNC_FIXTURE_PATH)")
	eventsListCmd.Flags().StringVar(&eventKind, "kind", "", "only list events of this kind")
	eventsListCmd.Flags().IntVar(&eventLimit, "limit", 50, "maximum number of events, 0 for all")
	identitiesListCmd.Flags().StringVar(&identSource, "source", "", "only list identities synced from this source")
	identitiesCreateCmd.Flags().StringVar(&identName, "name", "", "display name")
	identitiesCreateCmd.Flags().StringVar(&identEmail, "email", "", "email address")

	identitiesCmd.AddCommand(identitiesListCmd, identitiesCreateCmd, identitiesSetAttributeCmd, identitiesSetPasswordCmd)
	eventsCmd.AddCommand(eventsListCmd)
	rootCmd.AddCommand(syncCmd, fixtureCmd, identitiesCmd, eventsCmd, versionCmd)
}

// setup loads configuration and installs the logger.
func setup() *config.Config {
	cfg := config.Load()
	initLogging(cfg.Logging.Level, cfg.Logging.Format)
	cfg.Print()
	return cfg
}

func openStore(ctx context.Context, cfg *config.Config) (*store.SQLiteStore, error) {
	st := store.NewSQLiteStore(cfg)
	if err := st.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	return st, nil
}

func initLogging(level, format string) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	switch level {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg := setup()
	if sourcePath != "" {
		cfg.SourcePath = sourcePath
	}

	src, err := config.LoadSource(cfg.SourcePath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	client, err := directory.Dial(ctx, cfg.Directory)
	if err != nil {
		if directory.IsRetryable(err) {
			return fmt.Errorf("directory unavailable, retry later: %w", err)
		}
		return err
	}
	defer client.Close()

	s, err := syncer.New(src, client.Pager(src.PageSize).WithMaxPages(maxPages), st)
	if err != nil {
		return err
	}

	res, err := s.Sync(ctx)
	out := cmd.OutOrStdout()
	for _, msg := range s.Messages() {
		fmt.Fprintln(out, msg)
	}
	fmt.Fprintf(out, "%s: %s\n", src.Name, res)
	if err != nil {
		var stopErr *syncer.StopSyncError
		if errors.As(err, &stopErr) {
			return fmt.Errorf("fix property mapping %q and rerun: %w", stopErr.Mapping, err)
		}
		if directory.IsRetryable(err) {
			return fmt.Errorf("directory unavailable, retry later: %w", err)
		}
		return err
	}
	slog.Debug("Sync pass finished", "source", src.Name, "count", res.Count())
	return nil
}

func runFixture(cmd *cobra.Command, _ []string) error {
	cfg := setup()
	if fixturePath != "" {
		cfg.Fixture.Path = fixturePath
	}

	dir, err := fixture.Load(cfg.Fixture.Path)
	if err != nil {
		return err
	}

	srv, err := fixture.NewServer(cfg, dir, version)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start fixture directory: %w", err)
	}

	slog.Info("Fixture directory is running", "url", srv.URL())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down fixture directory")
	return srv.Stop()
}

func runIdentitiesList(cmd *cobra.Command, _ []string) error {
	cfg := setup()
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	identities, err := st.ListIdentities(cmd.Context(), identSource)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tNAME\tEMAIL\tSOURCE\tKEY\tACTIVE\tPASSWORD")
	for _, i := range identities {
		password := "set"
		if crypto.IsUnusable(i.PasswordHash) {
			password = "unusable"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\t%s\n", i.Username, i.Name, i.Email, i.Source, i.UniquenessKey, i.IsActive, password)
	}
	return w.Flush()
}

func runIdentitiesCreate(cmd *cobra.Command, args []string) error {
	cfg := setup()
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	identity, err := st.CreateLocalIdentity(cmd.Context(), args[0], identName, identEmail)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created identity %s (%s)\n", identity.Username, identity.UUID)
	return nil
}

func runIdentitiesSetAttribute(cmd *cobra.Command, args []string) error {
	cfg := setup()
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetAttribute(cmd.Context(), args[0], args[1], args[2]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "set %s on %s\n", args[1], args[0])
	return nil
}

func runIdentitiesSetPassword(cmd *cobra.Command, args []string) error {
	cfg := setup()

	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	password, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read password: %w", err)
	}
	password = strings.TrimRight(password, "\r\n")

	hash, err := crypto.NewPasswordHasher(cfg.Security.Argon2Config).Hash(password)
	if err != nil {
		return err
	}

	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetPassword(cmd.Context(), args[0], hash); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "password set for %s\n", args[0])
	return nil
}

func runEventsList(cmd *cobra.Command, _ []string) error {
	cfg := setup()
	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	evs, err := st.ListEvents(cmd.Context(), models.EventKind(eventKind), eventLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tSOURCE\tMESSAGE")
	for _, e := range evs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Kind, e.Source, e.Message)
	}
	return w.Flush()
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one user sync pass for the configured source",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

var fixtureCmd = &cobra.Command{
	Use:   "fixture-server",
	Short: "Serve a YAML fixture as a read-only LDAP directory",
	Args:  cobra.NoArgs,
	RunE:  runFixture,
}

var identitiesCmd = &cobra.Command{
	Use:   "identities",
	Short: "Inspect and manage local identities",
}

var identitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List identities",
	Args:  cobra.NoArgs,
	RunE:  runIdentitiesList,
}

var identitiesCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create a local identity",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentitiesCreate,
}

var identitiesSetAttributeCmd = &cobra.Command{
	Use:   "set-attribute <username> <name> <value>",
	Short: "Set an identity attribute, e.g. ldap_uniq to link a directory user",
	Args:  cobra.ExactArgs(3),
	RunE:  runIdentitiesSetAttribute,
}

var identitiesSetPasswordCmd = &cobra.Command{
	Use:   "set-password <username>",
	Short: "Set a local fallback password, read from stdin",
	Args:  cobra.ExactArgs(1),
	RunE:  runIdentitiesSetPassword,
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect the audit event log",
}

var eventsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent events, newest first",
	Args:  cobra.NoArgs,
	RunE:  runEventsList,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("dirsync version %s (commit: %s)\n", version, commit)
	},
}
