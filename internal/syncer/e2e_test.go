package syncer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarzola/dirsync/internal/directory"
	"github.com/smarzola/dirsync/internal/fixture"
	"github.com/smarzola/dirsync/internal/models"
	"github.com/smarzola/dirsync/internal/store"
	"github.com/smarzola/dirsync/pkg/config"
	"github.com/smarzola/dirsync/pkg/crypto"
)

func startFixture(t *testing.T) (*config.Config, *store.SQLiteStore) {
	t.Helper()

	cfg := &config.Config{
		Database: config.DatabaseConfig{Path: t.TempDir() + "/e2e.db", MaxOpenConns: 1, MaxIdleConns: 1},
		Fixture:  config.FixtureConfig{BindAddress: "127.0.0.1", Port: 0},
		Security: config.SecurityConfig{Argon2Config: config.Argon2Config{
			Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
		}},
	}

	dir, err := fixture.Load("../fixture/testdata/directory.yaml")
	require.NoError(t, err)
	srv, err := fixture.NewServer(cfg, dir, "test")
	require.NoError(t, err)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })

	cfg.Directory = config.DirectoryConfig{
		URL:          srv.URL(),
		BindDN:       "cn=sync,dc=example,dc=com",
		BindPassword: "s3cret",
		Timeout:      5,
	}

	st := store.NewSQLiteStore(cfg)
	require.NoError(t, st.Initialize(context.Background()))
	t.Cleanup(func() { st.Close() })
	return cfg, st
}

func adSource() *config.Source {
	return &config.Source{
		Name:                  "corp",
		SyncUsers:             true,
		BaseDN:                "dc=example,dc=com",
		AdditionalUserDN:      "ou=users",
		UserObjectFilter:      "(objectClass=user)",
		Scope:                 "sub",
		ObjectUniquenessField: "objectSid",
		PageSize:              2,
		PropertyMappings: []config.PropertyMapping{
			{Name: "identity", Expression: `{"username": ldap.sAMAccountName, "name": ldap.cn, "email": ldap.mail}`},
			{Name: "dn", Expression: `{"attributes": {"distinguishedName": dn}}`},
		},
	}
}

func runPass(t *testing.T, cfg *config.Config, st *store.SQLiteStore, src *config.Source) (Result, *UserSynchronizer) {
	t.Helper()
	ctx := context.Background()

	client, err := directory.Dial(ctx, cfg.Directory)
	require.NoError(t, err)
	defer client.Close()

	sync, err := New(src, client.Pager(src.PageSize), st)
	require.NoError(t, err)
	res, err := sync.Sync(ctx)
	require.NoError(t, err)
	return res, sync
}

func TestSyncFromFixtureDirectory(t *testing.T) {
	cfg, st := startFixture(t)
	ctx := context.Background()

	res, sync := runPass(t, cfg, st, adSource())
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 2, res.Synced)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Skipped)
	assert.Zero(t, res.HookFailures)
	assert.Contains(t, sync.Messages(), "Cannot find uniqueness field in attributes: 'cn=Carol Poe,ou=users,dc=example,dc=com'")

	alice, err := st.GetIdentityByKey(ctx, "corp", "S-1-5-21-7")
	require.NoError(t, err)
	require.NotNil(t, alice)
	assert.Equal(t, "alice", alice.Username)
	assert.Equal(t, "Alice Doe", alice.Name)
	assert.Equal(t, "alice@example.com", alice.Email)
	assert.True(t, alice.IsActive)
	assert.True(t, crypto.IsUnusable(alice.PasswordHash))
	assert.Equal(t, "cn=Alice Doe,ou=users,dc=example,dc=com", alice.Attributes["distinguishedName"])
	assert.Equal(t, "S-1-5-21-7", alice.Attributes[models.UniquenessAttribute])

	bob, err := st.GetIdentityByUsername(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, bob)
	assert.False(t, bob.IsActive, "ACCOUNTDISABLE deactivates")
	assert.Empty(t, bob.Email)

	svc, err := st.GetIdentityByUsername(ctx, "svc-backup")
	require.NoError(t, err)
	assert.Nil(t, svc, "entries outside the users base are not synced")

	warnings, err := st.ListEvents(ctx, models.EventSyncWarning, 0)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, "corp", warnings[0].Source)
}

func TestSyncFromFixtureDirectoryIsIdempotent(t *testing.T) {
	cfg, st := startFixture(t)
	ctx := context.Background()
	hasher := crypto.NewPasswordHasher(cfg.Security.Argon2Config)

	_, _ = runPass(t, cfg, st, adSource())

	// A local fallback password set after the directory's last change survives
	// the next pass.
	hash, err := hasher.Hash("fallback")
	require.NoError(t, err)
	require.NoError(t, st.SetPassword(ctx, "alice", hash))

	res, _ := runPass(t, cfg, st, adSource())
	assert.Equal(t, 2, res.Synced)
	assert.Zero(t, res.Created)
	assert.Equal(t, 2, res.Updated)

	identities, err := st.ListIdentities(ctx, "corp")
	require.NoError(t, err)
	assert.Len(t, identities, 2)

	alice, err := st.GetIdentityByUsername(ctx, "alice")
	require.NoError(t, err)
	ok, err := hasher.Verify("fallback", alice.PasswordHash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSyncFromFixtureDirectoryMergesLocalIdentity(t *testing.T) {
	cfg, st := startFixture(t)
	ctx := context.Background()

	// A pre-existing local account with the same username is an integrity
	// failure until an operator links it through ldap_uniq.
	_, err := st.CreateLocalIdentity(ctx, "alice", "Alice (local)", "")
	require.NoError(t, err)

	res, _ := runPass(t, cfg, st, adSource())
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Created)

	failures, err := st.ListEvents(ctx, models.EventConfigurationError, 0)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Message, "set the user's Attribute 'ldap_uniq' to 'S-1-5-21-7'")

	require.NoError(t, st.SetAttribute(ctx, "alice", models.UniquenessAttribute, "S-1-5-21-7"))

	res, _ = runPass(t, cfg, st, adSource())
	assert.Zero(t, res.Failed)
	assert.Equal(t, 2, res.Synced)
	assert.Zero(t, res.Created, "alice is adopted, bob exists from the first pass")
	assert.Equal(t, 2, res.Updated)

	alice, err := st.GetIdentityByKey(ctx, "corp", "S-1-5-21-7")
	require.NoError(t, err)
	require.NotNil(t, alice)
	assert.Equal(t, "Alice Doe", alice.Name)
	assert.Equal(t, "corp", alice.Source)
}

func TestSyncFromFixtureDirectoryBadCredentials(t *testing.T) {
	cfg, _ := startFixture(t)
	cfg.Directory.BindPassword = "wrong"

	_, err := directory.Dial(context.Background(), cfg.Directory)
	var dirErr *directory.Error
	require.ErrorAs(t, err, &dirErr)
	assert.Equal(t, directory.ErrorCategoryAuthentication, dirErr.Category)
	assert.False(t, dirErr.Retryable)
}
