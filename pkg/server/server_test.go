package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/auth"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/geomatch"
)

type stubRuleSource struct {
	rules []*contracts.ExecutionRule
}

func (s *stubRuleSource) ActiveRules(context.Context) ([]*contracts.ExecutionRule, error) {
	return s.rules, nil
}

type stubFenceSource struct{}

func (stubFenceSource) Geofence(context.Context, string) (*contracts.Geofence, error) {
	return nil, errors.New("not found")
}

func asActor(r *http.Request, a auth.Actor) *http.Request {
	return r.WithContext(auth.WithActor(r.Context(), a))
}

func newTestServer(t *testing.T, matcher *geomatch.Matcher) http.Handler {
	t.Helper()
	return New(Deps{Matcher: matcher}).Routes()
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestNearbyValidation(t *testing.T) {
	h := newTestServer(t, nil)

	for _, url := range []string{
		"/contracts/nearby",
		"/contracts/nearby?latitude=40.7",
		"/contracts/nearby?latitude=abc&longitude=1",
		"/contracts/nearby?latitude=91&longitude=0",
		"/contracts/nearby?latitude=0&longitude=-181",
		"/contracts/nearby?latitude=0&longitude=0&radius=-5",
		"/contracts/nearby?latitude=0&longitude=0&radius=abc",
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, url)
	}
}

func TestNearbyReturnsSortedRules(t *testing.T) {
	lat1, lng1, r1 := 40.7580, -73.9855, 10.0
	lat2, lng2, r2 := 40.7484, -73.9857, 10.0
	source := &stubRuleSource{rules: []*contracts.ExecutionRule{
		{ID: "esb", RuleType: contracts.RuleTypeLocation, CenterLatitude: &lat2, CenterLongitude: &lng2, RadiusMeters: &r2},
		{ID: "tsq", RuleType: contracts.RuleTypeLocation, CenterLatitude: &lat1, CenterLongitude: &lng1, RadiusMeters: &r1},
	}}
	h := newTestServer(t, geomatch.NewMatcher(source, stubFenceSource{}, nil))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/contracts/nearby?latitude=40.7550&longitude=-73.9850&radius=2000", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count int `json:"count"`
		Rules []struct {
			Rule struct {
				ID string `json:"id"`
			} `json:"rule"`
			DistanceMeters float64 `json:"distance_meters"`
		} `json:"rules"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	assert.Equal(t, "tsq", body.Rules[0].Rule.ID, "nearest first")
	assert.Less(t, body.Rules[0].DistanceMeters, body.Rules[1].DistanceMeters)
}

func TestProtectedRoutesRequireActor(t *testing.T) {
	h := newTestServer(t, nil)

	cases := []struct {
		method, path string
	}{
		{http.MethodPost, "/location/update"},
		{http.MethodPost, "/contracts"},
		{http.MethodGet, "/contracts"},
		{http.MethodPost, "/contracts/rules"},
		{http.MethodGet, "/contracts/rules"},
		{http.MethodGet, "/contracts/rules/pending"},
		{http.MethodPost, "/contracts/rules/pending/r1/reject"},
		{http.MethodPost, "/contracts/geofences"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, strings.NewReader("{}")))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "AuthRequired", body["error"])
	}
}

func TestLocationUpdateValidation(t *testing.T) {
	h := newTestServer(t, nil)
	actor := auth.Actor{UserID: "u1", PublicKey: "GDQP2KPQGKIHYJGXNUIYOMHARUARCA7DJT5FO2FFOOKY3B2WSQHG4W37"}

	cases := []string{
		`not json`,
		`{}`,
		`{"latitude": 40.7}`,
		`{"latitude": 91, "longitude": 0}`,
		`{"latitude": 0, "longitude": 200}`,
	}
	for _, payload := range cases {
		req := asActor(httptest.NewRequest(http.MethodPost, "/location/update", strings.NewReader(payload)), actor)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, payload)
	}
}
