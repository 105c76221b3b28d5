// internal/session/session_test.go
package session

import (
	"testing"

	"linkdispatch/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestStateDefaults(t *testing.T) {
	s := NewState()

	assert.Equal(t, Uninitialised, s.Lifecycle())
	assert.Equal(t, config.NoStringValue, s.SessionID())
	assert.Equal(t, config.NoStringValue, s.RandomizedBundleToken())
	assert.Equal(t, config.NoStringValue, s.RandomizedDeviceToken())
	assert.Equal(t, config.NoStringValue, s.SessionParams())

	assert.False(t, s.HasSession())
	assert.False(t, s.HasUser())
	assert.False(t, s.HasRandomizedDeviceToken())
}

func TestStateIdentitySnapshot(t *testing.T) {
	s := NewState()
	s.SetSessionID("s1")
	s.SetRandomizedBundleToken("b1")
	s.SetRandomizedDeviceToken("d1")

	id := s.Identity()
	assert.Equal(t, "s1", id.SessionID)
	assert.Equal(t, "b1", id.RandomizedBundleToken)
	assert.Equal(t, "d1", id.RandomizedDeviceToken)

	assert.True(t, s.HasSession())
	assert.True(t, s.HasUser())
	assert.True(t, s.HasRandomizedDeviceToken())
}

func TestLifecycleString(t *testing.T) {
	assert.Equal(t, "uninitialised", Uninitialised.String())
	assert.Equal(t, "initialising", Initialising.String())
	assert.Equal(t, "initialised", Initialised.String())
	assert.Equal(t, "unknown", Lifecycle(99).String())
}
