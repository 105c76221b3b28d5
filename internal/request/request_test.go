// internal/request/request_test.go
package request

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEndpointTraits(t *testing.T) {
	cases := []struct {
		endpoint      Endpoint
		needsSession  bool
		retryEligible bool
		trackingFree  bool
	}{
		{InitSession, false, true, false},
		{CreateLink, false, false, true},
		{IdentifyUser, true, true, false},
		{Logout, true, false, false},
		{Event, true, true, false},
		{Custom, true, true, false},
	}

	for _, c := range cases {
		assert.Equal(t, c.needsSession, c.endpoint.NeedsSession(), "%s needs session", c.endpoint)
		assert.Equal(t, c.retryEligible, c.endpoint.RetryEligible(), "%s retry eligible", c.endpoint)
		assert.Equal(t, c.trackingFree, c.endpoint.TrackingFree(), "%s tracking free", c.endpoint)
	}
}

func TestEndpointPaths(t *testing.T) {
	assert.Equal(t, "/v1/open", New(InitSession, nil).Path())
	assert.Equal(t, "/v1/url", New(CreateLink, nil).Path())
	assert.Equal(t, "/v1/profile", New(IdentifyUser, nil).Path())
	assert.Equal(t, "/v1/logout", New(Logout, nil).Path())
	assert.Equal(t, "/v1/event", New(Event, nil).Path())
	assert.Equal(t, "/custom/path", NewCustom("/custom/path", nil, true).Path())
}

func TestWaitLocks(t *testing.T) {
	r := New(Event, nil)
	assert.False(t, r.Locked())

	r.AddWaitLock(SDKInitWait)
	r.AddWaitLock(UserSetWait)
	assert.True(t, r.Locked())
	assert.True(t, r.HasWaitLock(SDKInitWait))

	r.RemoveWaitLock(SDKInitWait)
	assert.True(t, r.Locked(), "하나라도 남아있으면 여전히 locked")
	assert.False(t, r.HasWaitLock(SDKInitWait))

	r.RemoveWaitLock(UserSetWait)
	assert.False(t, r.Locked())
}

func TestCallbacksClearedAreSilent(t *testing.T) {
	var succeeded, failed, duplicated int

	r := New(CreateLink, nil)
	r.SetCallbacks(
		func(map[string]any, Identity) { succeeded++ },
		func(int, string) { failed++ },
	)
	r.SetDuplicateHandler(func() { duplicated++ })

	r.ClearCallbacks()

	// 재시도 직전에 비워진 콜백은 어떤 결과에도 반응하지 않는다.
	r.Succeed(map[string]any{}, Identity{})
	r.Fail(500, "boom")
	r.Duplicate()

	assert.Zero(t, succeeded)
	assert.Zero(t, failed)
	assert.Zero(t, duplicated)
	assert.False(t, r.HasDuplicateHandler())
}

func TestSerializationRoundTrip(t *testing.T) {
	r := New(IdentifyUser, map[string]any{
		KeyIdentity: "user-7",
		"nested":    map[string]any{"a": float64(1)},
	})
	r.RetryCount = 2
	r.InitiatedByClient = true
	r.AddWaitLock(SDKInitWait)

	b, err := r.ToJSON()
	assert.NoError(t, err)

	got, err := FromJSON(b)
	assert.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, IdentifyUser, got.Endpoint)
	assert.Equal(t, r.Payload, got.Payload)
	assert.Equal(t, 2, got.RetryCount)
	assert.True(t, got.InitiatedByClient)
	assert.True(t, got.Persistable)

	// wait lock 은 프로세스 수명에 묶인 상태: 복원 시 비어있어야 한다.
	assert.False(t, got.Locked())
}

func TestSerializationCustomPath(t *testing.T) {
	r := NewCustom("/v2/custom", map[string]any{"k": "v"}, true)

	b, err := r.ToJSON()
	assert.NoError(t, err)

	got, err := FromJSON(b)
	assert.NoError(t, err)
	assert.Equal(t, Custom, got.Endpoint)
	assert.Equal(t, "/v2/custom", got.Path())
	assert.True(t, got.IsGet)
}

func TestFromJSONRejectsBrokenEntries(t *testing.T) {
	_, err := FromJSON([]byte(`{"endpoint":"no_such_endpoint"}`))
	assert.Error(t, err)

	_, err = FromJSON([]byte(`not json`))
	assert.Error(t, err)
}

func TestCanonicalKeyOrderIndependent(t *testing.T) {
	a := map[string]any{
		"channel": "cli",
		"alias":   "smoke",
		"data":    map[string]any{"b": float64(2), "a": float64(1)},
	}
	b := map[string]any{
		"data":    map[string]any{"a": float64(1), "b": float64(2)},
		"alias":   "smoke",
		"channel": "cli",
	}

	assert.Equal(t, CanonicalKey(a), CanonicalKey(b))
}

func TestCanonicalKeyDistinguishesValues(t *testing.T) {
	a := map[string]any{"alias": "smoke"}
	b := map[string]any{"alias": "smoke2"}
	assert.NotEqual(t, CanonicalKey(a), CanonicalKey(b))

	// 배열은 순서가 의미를 가진다.
	x := map[string]any{"tags": []any{"a", "b"}}
	y := map[string]any{"tags": []any{"b", "a"}}
	assert.NotEqual(t, CanonicalKey(x), CanonicalKey(y))
}
