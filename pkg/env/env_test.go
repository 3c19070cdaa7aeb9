package env

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetters(t *testing.T) {
	t.Setenv("CHAT_TEST_STRING", "value")
	t.Setenv("CHAT_TEST_INT", "42")
	t.Setenv("CHAT_TEST_BAD_INT", "forty")
	t.Setenv("CHAT_TEST_BOOL", "true")
	t.Setenv("CHAT_TEST_DURATION", "3s")

	assert.Equal(t, "value", GetString("CHAT_TEST_STRING", "x"))
	assert.Equal(t, "x", GetString("CHAT_TEST_UNSET", "x"))
	assert.Equal(t, 42, GetInt("CHAT_TEST_INT", 1))
	assert.Equal(t, 1, GetInt("CHAT_TEST_BAD_INT", 1))
	assert.True(t, GetBool("CHAT_TEST_BOOL", false))
	assert.Equal(t, 3*time.Second, GetDuration("CHAT_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, GetDuration("CHAT_TEST_UNSET", time.Second))
}

func TestGetStringSlice(t *testing.T) {
	t.Setenv("CHAT_TEST_HOSTS", "cass-1, cass-2,,cass-3 ")
	assert.Equal(t, []string{"cass-1", "cass-2", "cass-3"}, GetStringSlice("CHAT_TEST_HOSTS", nil))

	t.Setenv("CHAT_TEST_EMPTY_HOSTS", " , ")
	assert.Equal(t, []string{"localhost"}, GetStringSlice("CHAT_TEST_EMPTY_HOSTS", []string{"localhost"}))
}

func TestGetStringFromFile(t *testing.T) {
	secretPath := filepath.Join(t.TempDir(), "jwt_secret")
	assert.NoError(t, os.WriteFile(secretPath, []byte("from-file\n"), 0o600))

	t.Setenv("CHAT_TEST_SECRET", "from-env")
	assert.Equal(t, "from-env", GetStringFromFile("CHAT_TEST_SECRET", ""))

	t.Setenv("CHAT_TEST_SECRET_FILE", secretPath)
	assert.Equal(t, "from-file", GetStringFromFile("CHAT_TEST_SECRET", ""))
}

func TestMustGetStringPanics(t *testing.T) {
	assert.Panics(t, func() { MustGetString("CHAT_TEST_DEFINITELY_UNSET") })
}
