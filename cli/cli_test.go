package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the root command. Cobra keeps flag values between runs, so
// every test passes the flags it depends on explicitly.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func sqliteFlags(t *testing.T) []string {
	t.Helper()
	return []string{"--db-driver", "sqlite", "--db-dsn", filepath.Join(t.TempDir(), "loyalty.db")}
}

func TestSeed_List(t *testing.T) {
	out, err := run(t, "seed", "--list")

	require.NoError(t, err)
	assert.Contains(t, out, "worked-example")
	assert.Contains(t, out, "suspicious-cashier")
}

func TestSeedThenShowAccount(t *testing.T) {
	db := sqliteFlags(t)

	// GIVEN: the worked example seeded into a sqlite file
	out, err := run(t, append([]string{"seed", "worked-example", "--list=false"}, db...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "loaded scenario worked-example")

	// WHEN: showing alice in a separate invocation
	out, err = run(t, append([]string{"account", "show", "alice001"}, db...)...)

	// THEN: the balance was persisted
	require.NoError(t, err)
	assert.Contains(t, out, "points:     141")
	assert.Contains(t, out, "role:       regular")
}

func TestAccountVerify(t *testing.T) {
	db := sqliteFlags(t)

	// GIVEN: the suspicious-cashier scenario, with one held purchase
	_, err := run(t, append([]string{"seed", "suspicious-cashier", "--list=false"}, db...)...)
	require.NoError(t, err)

	// WHEN: verifying alice
	out, err := run(t, append([]string{"account", "verify", "alice001"}, db...)...)

	// THEN: the stored balance matches and the held points are reported
	require.NoError(t, err)
	assert.Contains(t, out, "stored:       40")
	assert.Contains(t, out, "computed:     40")
	assert.Contains(t, out, "held:         50")
}

func TestAccountCreate(t *testing.T) {
	db := sqliteFlags(t)

	out, err := run(t, append([]string{"account", "create", "mgr00002", "--name", "Mina", "--role", "manager"}, db...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "created mgr00002 (manager)")

	_, err = run(t, append([]string{"account", "create", "mgr00002", "--name", "Mina", "--role", "manager"}, db...)...)
	assert.Error(t, err, "duplicate utorid")

	_, err = run(t, append([]string{"account", "create", "x0000001", "--role", "janitor"}, db...)...)
	assert.Error(t, err)
}

func TestPromotionCreateAndList(t *testing.T) {
	db := sqliteFlags(t)
	start := time.Now().UTC().Add(time.Hour).Format(time.RFC3339)
	end := time.Now().UTC().Add(48 * time.Hour).Format(time.RFC3339)
	path := filepath.Join(t.TempDir(), "promo.json")
	doc := fmt.Sprintf(`{"name":"Exam Week","description":"Extra points","type":"automatic","startTime":%q,"endTime":%q,"rate":0.04}`, start, end)
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	out, err := run(t, append([]string{"promotion", "create", "-f", path}, db...)...)
	require.NoError(t, err)
	assert.Contains(t, out, `created promotion 1 "Exam Week" (automatic)`)

	out, err = run(t, append([]string{"promotion", "list"}, db...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Exam Week")
	assert.Contains(t, out, "1 promotion(s)")
}

func TestPromotionCreate_RejectsPastStart(t *testing.T) {
	db := sqliteFlags(t)
	path := filepath.Join(t.TempDir(), "promo.json")
	doc := `{"name":"Old","description":"d","type":"one-time","startTime":"2020-01-01T00:00:00Z","endTime":"2020-02-01T00:00:00Z"}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	_, err := run(t, append([]string{"promotion", "create", "-f", path}, db...)...)
	assert.ErrorContains(t, err, "startTime")
}

func TestMigrate(t *testing.T) {
	out, err := run(t, append([]string{"migrate"}, sqliteFlags(t)...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "migrated sqlite store")

	_, err = run(t, "migrate", "--db-driver", "mysql", "--db-dsn", "x")
	assert.ErrorContains(t, err, "mysql")
}
