package cli

import (
	"context"
	"testing"

	"github.com/runnerr0/procedura/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin_SendsCredentials(t *testing.T) {
	svc := newFakeService()
	svc.replies[protocol.SignIn] = protocol.OK(map[string]any{"userId": "u-1", "email": "ana@example.com"})

	cmd := &LoginCommand{globals: testGlobals()}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.signIn(context.Background(), svc, "ana@example.com", "secret"))
	})

	req := svc.sent()[0]
	assert.Equal(t, "ana@example.com", req.Payload.Email)
	assert.Equal(t, "secret", req.Payload.Password)
	assert.Contains(t, output, "Signed in as ana@example.com (u-1)")
}

func TestLogin_BadCredentials(t *testing.T) {
	svc := newFakeService()
	svc.replies[protocol.SignIn] = protocol.Fail("Invalid login credentials")

	cmd := &LoginCommand{globals: testGlobals()}
	err := cmd.signIn(context.Background(), svc, "ana@example.com", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid login credentials")
}

func TestLogin_UsesPasswordFromEnv(t *testing.T) {
	t.Setenv(passwordEnv, "from-env")
	svc := newFakeService()
	svc.replies[protocol.SignIn] = protocol.OK(map[string]any{"userId": "u-1"})

	cmd := &LoginCommand{Email: "ana@example.com", globals: testGlobals(), service: svc}
	captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})
	assert.Equal(t, "from-env", svc.sent()[0].Payload.Password)
}

func TestLogout(t *testing.T) {
	svc := newFakeService()
	svc.replies[protocol.SignOut] = protocol.OK(nil)

	cmd := &LogoutCommand{globals: testGlobals(), service: svc}
	output := captureOutput(t, func() {
		require.NoError(t, cmd.Execute(nil))
	})
	assert.Contains(t, output, "Signed out.")
}
