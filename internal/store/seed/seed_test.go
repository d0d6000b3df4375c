package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go-groupchat/internal/models"
	"go-groupchat/internal/store/memstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixture = `
users:
  - id: alice
    username: Alice
  - id: root
    username: Root
    roles: [super-admin]
channels:
  - id: general
    groupId: g1
    name: General
    members: [alice, bob]
    banned: [bob]
    admins: [alice]
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAndApply(t *testing.T) {
	data, err := Load(writeFile(t, "seed.yaml", fixture))
	require.NoError(t, err)
	require.Len(t, data.Users, 2)
	require.Len(t, data.Channels, 1)

	s := memstore.New()
	require.NoError(t, data.Apply(context.Background(), s))

	u, err := s.FindUser(context.Background(), "root")
	require.NoError(t, err)
	assert.Equal(t, []models.Role{models.RoleSuperAdmin}, u.Roles)

	ch, err := s.FindChannel(context.Background(), "general")
	require.NoError(t, err)
	assert.Equal(t, "g1", ch.GroupId)
	assert.Equal(t, "General", ch.Name)
	assert.True(t, ch.IsMember("alice"))
	assert.True(t, ch.IsBanned("bob"))
	assert.True(t, ch.IsAdmin("alice"))
}

func TestLoadRejectsMissingIds(t *testing.T) {
	_, err := Load(writeFile(t, "seed.yaml", "users:\n  - username: nobody\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
