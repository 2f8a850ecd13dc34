package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	err := cmd.Execute()
	return out.String(), err
}

func TestStoreThenVerify(t *testing.T) {
	mr := miniredis.RunT(t)
	common := []string{"--redis-addr", mr.Addr(), "--passphrase", "segredo", "--vault-key", "cofre"}

	out, err := run(t, append([]string{"store", "--keys", "sk-aaaa1111bbbb, sk-cccc2222dddd"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "2 API key(s)")
	assert.True(t, mr.Exists("cofre"))

	stored, err := mr.Get("cofre")
	require.NoError(t, err)
	assert.NotContains(t, stored, "sk-aaaa1111bbbb")

	out, err = run(t, append([]string{"verify"}, common...)...)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "0\tsk-a...bbbb", lines[0])
	assert.Equal(t, "1\tsk-c...dddd", lines[1])
}

func TestVerify_WrongPassphrase(t *testing.T) {
	mr := miniredis.RunT(t)

	_, err := run(t, "store", "--keys", "sk-aaaa1111bbbb", "--redis-addr", mr.Addr(), "--passphrase", "certa")
	require.NoError(t, err)

	_, err = run(t, "verify", "--redis-addr", mr.Addr(), "--passphrase", "errada")
	require.Error(t, err)
}

func TestStore_RequiresKeysAndRedis(t *testing.T) {
	t.Setenv("API_KEYS", "")

	_, err := run(t, "store", "--redis-addr", "127.0.0.1:1", "--passphrase", "x")
	require.Error(t, err)

	_, err = run(t, "store", "--keys", "sk-1", "--redis-addr", "", "--passphrase", "x")
	require.Error(t, err)
}

func TestStats_ReadsGatewayCounters(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.HSet("gw:stats:total", "admitted", "7", "exhausted", "2")

	out, err := run(t, "stats", "--redis-addr", mr.Addr(), "--key-prefix", "gw")
	require.NoError(t, err)
	assert.Contains(t, out, "total\tadmitted=7 exhausted=2 store_error=0")
	assert.Contains(t, out, "minuto atual\tadmitted=0")
}

func TestStore_UsesRedisDBFromEnv(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_DB", "2")

	_, err := run(t, "store", "--keys", "sk-aaaa1111bbbb", "--redis-addr", mr.Addr(), "--passphrase", "segredo", "--vault-key", "cofre")
	require.NoError(t, err)
	assert.True(t, mr.DB(2).Exists("cofre"))
	assert.False(t, mr.Exists("cofre"))

	out, err := run(t, "verify", "--redis-addr", mr.Addr(), "--passphrase", "segredo", "--vault-key", "cofre")
	require.NoError(t, err)
	assert.Contains(t, out, "sk-a...bbbb")
}
