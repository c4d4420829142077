package fixture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarzola/dirsync/internal/schema"
)

func dns(t *testing.T, dir *Directory, base string, scope int, filterStr string) []string {
	t.Helper()
	filter, err := schema.ParseFilter(filterStr)
	require.NoError(t, err)
	entries, ok := dir.Search(base, scope, filter)
	require.True(t, ok)
	out := []string{}
	for _, e := range entries {
		out = append(out, e.DN)
	}
	return out
}

func TestLoad(t *testing.T) {
	dir, err := Load("testdata/directory.yaml")
	require.NoError(t, err)

	assert.Equal(t, "dc=example,dc=com", dir.BaseDN)
	assert.Equal(t, "cn=sync,dc=example,dc=com", dir.Bind.DN)
	assert.Equal(t, 7, dir.Len())

	alice := dir.Get("CN=Alice Doe,OU=Users,DC=example,DC=com")
	require.NotNil(t, alice)
	assert.Equal(t, "alice", alice.GetAttribute("sAMAccountName"))
	assert.Equal(t, "512", alice.GetAttribute("userAccountControl"))
	assert.Equal(t, []string{"top", "person", "organizationalPerson", "user"}, alice.GetAttributes("objectClass"))
	require.Len(t, alice.Binary["objectSid"], 1)
	assert.Equal(t, byte(0x07), alice.Binary["objectSid"][0][12])
}

func TestSearchScopes(t *testing.T) {
	dir, err := Load("testdata/directory.yaml")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"cn=Alice Doe,ou=users,dc=example,dc=com",
		"cn=Bob Roe,ou=users,dc=example,dc=com",
		"cn=Carol Poe,ou=users,dc=example,dc=com",
		"cn=backup,ou=services,dc=example,dc=com",
	}, dns(t, dir, "dc=example,dc=com", ScopeSub, "(objectClass=user)"))

	assert.Equal(t, []string{
		"cn=Alice Doe,ou=users,dc=example,dc=com",
		"cn=Bob Roe,ou=users,dc=example,dc=com",
		"cn=Carol Poe,ou=users,dc=example,dc=com",
	}, dns(t, dir, "ou=users,dc=example,dc=com", ScopeOne, ""))

	assert.Equal(t, []string{"ou=users,dc=example,dc=com", "ou=services,dc=example,dc=com"},
		dns(t, dir, "dc=example,dc=com", ScopeOne, "(objectClass=organizationalUnit)"))

	assert.Equal(t, []string{"ou=users,dc=example,dc=com"},
		dns(t, dir, "ou=users,dc=example,dc=com", ScopeBase, "(objectClass=*)"))

	assert.Equal(t, []string{"cn=Bob Roe,ou=users,dc=example,dc=com"},
		dns(t, dir, "dc=example,dc=com", ScopeSub, "(&(objectClass=user)(sAMAccountName=b*))"))
}

func TestSearchUnknownBase(t *testing.T) {
	dir, err := Load("testdata/directory.yaml")
	require.NoError(t, err)

	filter, _ := schema.ParseFilter("")
	_, ok := dir.Search("ou=missing,dc=example,dc=com", ScopeSub, filter)
	assert.False(t, ok)
}

func TestSearchNamingContextWithoutEntry(t *testing.T) {
	dir, err := Parse([]byte(`
base_dn: dc=example,dc=org
entries:
  - dn: uid=alice,dc=example,dc=org
    attributes:
      objectClass: person
      uid: alice
`))
	require.NoError(t, err)

	assert.Equal(t, []string{"uid=alice,dc=example,dc=org"}, dns(t, dir, "dc=example,dc=org", ScopeSub, "(uid=alice)"))
	assert.Empty(t, dir.Bind.DN)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no base dn", `entries: []`},
		{"outside base", `
base_dn: dc=example,dc=com
entries:
  - dn: uid=a,dc=other,dc=com
    attributes: {objectClass: person}
`},
		{"duplicate", `
base_dn: dc=example,dc=com
entries:
  - dn: uid=a,dc=example,dc=com
    attributes: {objectClass: person}
  - dn: UID=a,dc=example,dc=com
    attributes: {objectClass: person}
`},
		{"missing objectClass", `
base_dn: dc=example,dc=com
entries:
  - dn: uid=a,dc=example,dc=com
    attributes: {uid: a}
`},
		{"missing dn", `
base_dn: dc=example,dc=com
entries:
  - attributes: {objectClass: person}
`},
		{"bad base64", `
base_dn: dc=example,dc=com
entries:
  - dn: uid=a,dc=example,dc=com
    attributes: {objectClass: person}
    binary: {objectGUID: "not base64!"}
`},
		{"nested value", `
base_dn: dc=example,dc=com
entries:
  - dn: uid=a,dc=example,dc=com
    attributes:
      objectClass: person
      manager: {dn: x}
`},
		{"invalid yaml", `base_dn: [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("testdata/missing.yaml")
	assert.Error(t, err)
}
