package sync

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mirror-sync-service/internal/config"
	"mirror-sync-service/internal/httpclient"
)

func TestReplicateAdmins(t *testing.T) {
	env := newTestEnv(t, widgetRegistry(), nil)
	ctx := context.Background()
	hash := []byte("$2b$12$abcdefghijklmnopqrstuv")

	env.master.with(func(fm *fakeMaster) {
		fm.admins = []map[string]any{
			{"id": 1, "email": "root@example.org", "password": base64.StdEncoding.EncodeToString(hash), "role": "admin", "token": "live-token"},
			{"id": 2, "email": "", "password": "eA==", "role": "admin"},
			{"id": 3, "email": "x@example.org", "password": "***not base64***", "role": "admin"},
			{"id": "4", "email": "four@example.org", "password": "eA==", "role": "editor"},
		}
	})

	report, err := env.manager.admins.ReplicateAdmins(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Replicated)
	assert.Equal(t, 2, report.Failed)

	cred, err := env.store.GetCredential(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, hash, cred.PasswordHash)
	assert.Equal(t, "live-token", cred.SessionToken)

	cred, err = env.store.GetCredential(ctx, "4")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "editor", cred.Role)

	// A second pass overwrites rather than duplicates.
	env.master.with(func(fm *fakeMaster) {
		fm.admins = []map[string]any{{"id": 1, "email": "renamed@example.org", "password": "eA==", "token": "next"}}
	})
	_, err = env.manager.admins.ReplicateAdmins(ctx)
	require.NoError(t, err)
	cred, err = env.store.GetCredential(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "renamed@example.org", cred.Email)
	assert.Equal(t, []byte("x"), cred.PasswordHash)
}

func TestReplicateAdmins_FetchFailure(t *testing.T) {
	env := newTestEnv(t, widgetRegistry(), func(c *config.Config) { c.Sync.ReplicateAdmins = true })
	env.master.with(func(fm *fakeMaster) { fm.failPaths[adminExportPath] = http.StatusInternalServerError })

	_, err := env.manager.admins.ReplicateAdmins(context.Background())
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, httpclient.StatusOf(err))

	// The cycle itself survives a failed admin export.
	report, err := env.manager.RunCycle(context.Background(), ModeFull)
	require.NoError(t, err)
	assert.NotEmpty(t, report.AdminError)
}

func TestDecodeAdmin_RequiresFields(t *testing.T) {
	_, err := decodeAdmin(adminPayload{Email: "a@b", Password: "eA=="})
	assert.Error(t, err)

	_, err = decodeAdmin(adminPayload{ID: json.RawMessage(`5`), Email: "a@b"})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "5", vErr.RecordID)
}
