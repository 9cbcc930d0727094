package userstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "users.txt"))
	require.NoError(t, err)
	require.Empty(t, s.Usernames())
}

func TestRegisterPersistsAndRejectsDuplicate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "users.txt")
	s, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, s.Register("alice", "pass_alice"))
	require.True(t, s.Exists("alice"))
	require.Error(t, s.Register("alice", "other"))

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(contents), "alice,pass_alice")
}

func TestAuthenticate(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "users.txt"))
	require.NoError(t, err)
	require.NoError(t, s.Register("bob", "secret"))

	require.True(t, s.Authenticate("bob", "secret"))
	require.False(t, s.Authenticate("bob", "wrong"))
	require.False(t, s.Authenticate("nobody", "secret"))
}

func TestLoadReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.txt")
	require.NoError(t, os.WriteFile(path, []byte("alice,pw1\nbob,pw2\n"), 0o600))

	s, err := Load(path)
	require.NoError(t, err)
	require.True(t, s.Authenticate("alice", "pw1"))
	require.True(t, s.Authenticate("bob", "pw2"))
}
