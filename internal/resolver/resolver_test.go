package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarzola/dirsync/internal/directory"
	"github.com/smarzola/dirsync/internal/models"
	"github.com/smarzola/dirsync/internal/store"
)

type fakeUpserter struct {
	calls    []string
	existing map[string]*models.Identity
}

func (f *fakeUpserter) FindIdentityForKey(_ context.Context, _, key string) (*models.Identity, error) {
	return f.existing[key], nil
}

func (f *fakeUpserter) UpsertByUniqueAttribute(_ context.Context, source, key string, props map[string]any) (*store.UpsertResult, error) {
	f.calls = append(f.calls, source+"/"+key)
	identity := models.NewIdentity(source, key)
	if err := identity.Apply(props); err != nil {
		return nil, err
	}
	return &store.UpsertResult{Identity: identity, Created: len(f.calls) == 1}, nil
}

func TestKey(t *testing.T) {
	r := New(&fakeUpserter{}, "ldap", "uid")

	key, err := r.Key(directory.Entry{DN: "uid=alice", Attributes: map[string]any{"uid": []string{"alice"}}})
	require.NoError(t, err)
	assert.Equal(t, "alice", key)

	key, err = r.Key(directory.Entry{DN: "uid=alice", Attributes: map[string]any{"UID": []string{"first", "second"}}})
	require.NoError(t, err)
	assert.Equal(t, "first", key)
}

func TestKeyDecodesBinarySID(t *testing.T) {
	r := New(&fakeUpserter{}, "ad", "objectSid")
	sid := []byte{
		0x01, 0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x05,
		0x15, 0x00, 0x00, 0x00,
		0x07, 0x00, 0x00, 0x00,
	}

	key, err := r.Key(directory.Entry{DN: "cn=alice", Attributes: map[string]any{"objectSid": [][]byte{sid}}})
	require.NoError(t, err)
	assert.Equal(t, "S-1-5-21-7", key)
}

func TestKeyMissing(t *testing.T) {
	r := New(&fakeUpserter{}, "ldap", "uid")

	_, err := r.Key(directory.Entry{DN: "cn=b,dc=example,dc=com", Attributes: map[string]any{
		"cn":   []string{"b"},
		"mail": []string{"b@example.com"},
		"uid":  []string{},
	}})

	var missing *MissingUniquenessError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "uid", missing.Attribute)
	assert.Equal(t, "cn=b,dc=example,dc=com", missing.DN)
	assert.Equal(t, []string{"cn", "mail", "uid"}, missing.Present)
}

func TestResolveAndUpsert(t *testing.T) {
	fake := &fakeUpserter{}
	r := New(fake, "ldap", "uid")

	res, err := r.ResolveAndUpsert(context.Background(), "alice", map[string]any{"username": "alice"})
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, []string{"ldap/alice"}, fake.calls)
}

func TestResolveAndUpsertRequiresUsername(t *testing.T) {
	fake := &fakeUpserter{}
	r := New(fake, "ldap", "uid")

	for _, props := range []map[string]any{
		{"name": "alice"},
		{"username": ""},
		{"username": nil},
	} {
		_, err := r.ResolveAndUpsert(context.Background(), "alice", props)
		assert.ErrorIs(t, err, store.ErrIntegrity)
	}
	assert.Empty(t, fake.calls)
}

func TestExisting(t *testing.T) {
	known := models.NewIdentity("ldap", "alice")
	r := New(&fakeUpserter{existing: map[string]*models.Identity{"alice": known}}, "ldap", "uid")

	got, err := r.Existing(context.Background(), "alice")
	require.NoError(t, err)
	assert.Same(t, known, got)

	got, err = r.Existing(context.Background(), "bob")
	require.NoError(t, err)
	assert.Nil(t, got)
}
