package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddr(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", ":8080", false},
		{"9000", ":9000", false},
		{"127.0.0.1:9000", "127.0.0.1:9000", false},
		{"90 00", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAddr(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("INACTIVITY_TIMEOUT", "")
	t.Setenv("CANCEL_PRESSES", "")
	t.Setenv("CANCEL_WINDOW", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Session.InactivityTimeout)
	assert.Equal(t, 3, cfg.Session.CancelPresses)
	assert.Equal(t, time.Second, cfg.Session.CancelWindow)
}

func TestLoadSessionOverrides(t *testing.T) {
	t.Setenv("INACTIVITY_TIMEOUT", "5m")
	t.Setenv("CANCEL_PRESSES", "0")
	t.Setenv("CANCEL_WINDOW", "1500ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Session.InactivityTimeout)
	assert.Equal(t, 1, cfg.Session.CancelPresses)
	assert.Equal(t, 1500*time.Millisecond, cfg.Session.CancelWindow)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("INACTIVITY_TIMEOUT", "soon")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("INACTIVITY_TIMEOUT", "-1m")
	_, err = Load()
	assert.Error(t, err)
}

func TestMatrixConfigValidate(t *testing.T) {
	cfg := MatrixConfig{}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "MATRIX_HOMESERVER")
	assert.ErrorContains(t, err, "MATRIX_ROOM_ID")
	assert.ErrorContains(t, err, "MATRIX_OPERATOR_ID")

	cfg = MatrixConfig{
		Homeserver:  "https://matrix.example.org",
		RoomID:      "!room:example.org",
		OperatorID:  "@helper:example.org",
		AccessToken: "token",
	}
	assert.NoError(t, cfg.Validate())

	cfg.AccessToken = ""
	cfg.UserID = "@relay:example.org"
	assert.ErrorContains(t, cfg.Validate(), "MATRIX_PASSWORD")
	cfg.Password = "secret"
	assert.NoError(t, cfg.Validate())
}

func TestLoadMatrixFromEnv(t *testing.T) {
	t.Setenv("MATRIX_HOMESERVER", "https://matrix.example.org")
	t.Setenv("MATRIX_ROOM_ID", " !room:example.org ")
	t.Setenv("MATRIX_OPERATOR_ID", "@helper:example.org")
	t.Setenv("MATRIX_ACCESS_TOKEN", "token")
	t.Setenv("MATRIX_LEAVE_WHEN_EMPTY", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "!room:example.org", cfg.Matrix.RoomID)
	assert.True(t, cfg.Matrix.LeaveWhenEmpty)
	assert.Equal(t, "safe-connect-relay", cfg.Matrix.DeviceName)
	assert.NoError(t, cfg.Matrix.Validate())
}
