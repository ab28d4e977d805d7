package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Exercises the full lockout cycle over HTTP: repeated failures trip the
// lockout, correct credentials are refused while locked, an admin release
// restores access. Needs Docker for the postgres container.
func TestLockoutCycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	testDB, err := SetupTestDatabase(ctx)
	require.NoError(t, err)
	defer testDB.Teardown(ctx)

	server, err := NewTestServer(ctx, testDB.DB)
	require.NoError(t, err)
	defer server.Close()

	email, password := TestUser("lockout")
	user, err := SeedUser(ctx, testDB.Pool, email, password, "user")
	require.NoError(t, err)

	adminEmail, adminPassword := TestUser("admin")
	_, err = SeedUser(ctx, testDB.Pool, adminEmail, adminPassword, "admin")
	require.NoError(t, err)

	// Five straight failures hit the default threshold
	for i := 0; i < 4; i++ {
		result, status, err := server.Login(email, "WrongPassword1!")
		require.NoError(t, err)
		assert.Equal(t, 401, status)
		assert.Equal(t, "invalid_credentials", result.Status)
	}

	result, status, err := server.Login(email, "WrongPassword1!")
	require.NoError(t, err)
	assert.Equal(t, 403, status)
	assert.Equal(t, "locked", result.Status)
	assert.Greater(t, result.LockedForSeconds, 0)

	// Correct credentials are refused while the lockout holds
	result, status, err = server.Login(email, password)
	require.NoError(t, err)
	assert.Equal(t, 403, status)
	assert.Equal(t, "locked", result.Status)

	// Admin releases the lockout
	adminResult, status, err := server.Login(adminEmail, adminPassword)
	require.NoError(t, err)
	require.Equal(t, 200, status)
	require.NotEmpty(t, adminResult.AccessToken)

	resp, err := server.RequestWithAuth("DELETE", "/admin/users/"+user.ID.String()+"/lockout", adminResult.AccessToken, nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	// Access restored
	result, status, err = server.Login(email, password)
	require.NoError(t, err)
	assert.Equal(t, 200, status)
	assert.Equal(t, "ok", result.Status)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.SessionID)
}
