package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/sessionkit/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func mint(t *testing.T, subject string, exp time.Time) core.Credential {
	t.Helper()
	claims := core.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(exp),
	}}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test"))
	require.NoError(t, err)
	return core.Credential(signed)
}

type fakeSource struct {
	mu     sync.Mutex
	cred   core.Credential
	next   core.Credential
	err    error
	renews int
}

func (s *fakeSource) AccessCredential() core.Credential {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cred
}

func (s *fakeSource) RenewFrom(context.Context, core.Credential) (core.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renews++
	if s.err != nil {
		s.cred = ""
		return "", s.err
	}
	s.cred = s.next
	return s.next, nil
}

func (s *fakeSource) renewCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renews
}

type seen struct {
	mu     sync.Mutex
	auth   []string
	bodies []string
}

func (s *seen) record(r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auth = append(s.auth, r.Header.Get("Authorization"))
	s.bodies = append(s.bodies, string(body))
}

// acceptOnly answers 200 for the given credential and status otherwise.
func acceptOnly(t *testing.T, good core.Credential, status int, log *seen) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.record(r)
		if r.Header.Get("Authorization") == "Bearer "+good.String() {
			_, _ = io.WriteString(w, `{"ok":true}`)
			return
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"error":{"code":"denied","message":"denied"}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestPipeline(src SessionSource) *Pipeline {
	return NewPipeline(src, WithClock(func() time.Time { return testNow }))
}

func TestPipelineAttachesCredential(t *testing.T) {
	cred := mint(t, "u", testNow.Add(time.Hour))
	log := &seen{}
	srv := acceptOnly(t, cred, http.StatusUnauthorized, log)
	src := &fakeSource{cred: cred}

	resp, err := newTestPipeline(src).Client(time.Second).Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"Bearer " + cred.String()}, log.auth)
	assert.Zero(t, src.renewCount())
}

func TestPipelineProactiveRenewal(t *testing.T) {
	stale := mint(t, "u", testNow.Add(4*time.Minute))
	fresh := mint(t, "u", testNow.Add(time.Hour))
	log := &seen{}
	srv := acceptOnly(t, fresh, http.StatusUnauthorized, log)
	src := &fakeSource{cred: stale, next: fresh}

	resp, err := newTestPipeline(src).Client(time.Second).Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, src.renewCount())
	assert.Equal(t, []string{"Bearer " + fresh.String()}, log.auth, "stale credential never sent")
}

func TestPipelineReactiveRenewalReplaysBody(t *testing.T) {
	revoked := mint(t, "u", testNow.Add(time.Hour))
	fresh := mint(t, "u2", testNow.Add(time.Hour))
	log := &seen{}
	srv := acceptOnly(t, fresh, http.StatusUnauthorized, log)
	src := &fakeSource{cred: revoked, next: fresh}

	req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"n":1}`))
	require.NoError(t, err)
	req.GetBody = nil // force buffering

	resp, err := newTestPipeline(src).Client(time.Second).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, src.renewCount())
	assert.Equal(t, []string{"Bearer " + revoked.String(), "Bearer " + fresh.String()}, log.auth)
	assert.Equal(t, []string{`{"n":1}`, `{"n":1}`}, log.bodies)
}

func TestPipelineReplaysOnlyOnce(t *testing.T) {
	cred := mint(t, "u", testNow.Add(time.Hour))
	log := &seen{}
	srv := acceptOnly(t, "nobody", http.StatusUnauthorized, log)
	src := &fakeSource{cred: cred, next: mint(t, "u2", testNow.Add(time.Hour))}

	resp, err := newTestPipeline(src).Client(time.Second).Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 1, src.renewCount())
	assert.Len(t, log.auth, 2)
}

func TestPipelineNeverRetriesClientErrors(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusForbidden, http.StatusInternalServerError} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			log := &seen{}
			srv := acceptOnly(t, "nobody", status, log)
			src := &fakeSource{cred: mint(t, "u", testNow.Add(time.Hour))}

			resp, err := newTestPipeline(src).Client(time.Second).Get(srv.URL)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, status, resp.StatusCode)
			assert.Zero(t, src.renewCount())
			assert.Len(t, log.auth, 1)
		})
	}
}

func TestPipelineAnonymousUnauthorizedIsReturned(t *testing.T) {
	log := &seen{}
	srv := acceptOnly(t, "nobody", http.StatusUnauthorized, log)
	src := &fakeSource{}

	resp, err := newTestPipeline(src).Client(time.Second).Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, src.renewCount())
	assert.Equal(t, []string{""}, log.auth)
}

func TestPipelineRenewalFailureFailsRequest(t *testing.T) {
	log := &seen{}
	srv := acceptOnly(t, "nobody", http.StatusUnauthorized, log)
	src := &fakeSource{cred: mint(t, "u", testNow.Add(time.Hour)), err: core.ErrRenewalFailed}

	_, err := newTestPipeline(src).Client(time.Second).Get(srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrRenewalFailed)
	assert.Equal(t, core.KindRenewalFailed, TransportError(err).Kind)
	assert.Len(t, log.auth, 1)
}

func TestPipelineProactiveFailureSendsNothing(t *testing.T) {
	log := &seen{}
	srv := acceptOnly(t, "nobody", http.StatusUnauthorized, log)
	src := &fakeSource{cred: mint(t, "u", testNow.Add(-time.Minute)), err: core.ErrRenewalFailed}

	_, err := newTestPipeline(src).Client(time.Second).Get(srv.URL)
	assert.ErrorIs(t, err, core.ErrRenewalFailed)
	assert.Empty(t, log.auth)
}

// swappingSource simulates another trigger renewing while a request is out
type swappingSource struct {
	fakeSource
	swapTo core.Credential
}

func TestPipelineReusesCredentialRenewedMeanwhile(t *testing.T) {
	old := mint(t, "u", testNow.Add(time.Hour))
	renewed := mint(t, "u2", testNow.Add(time.Hour))
	src := &swappingSource{fakeSource: fakeSource{cred: old}, swapTo: renewed}

	var auth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = append(auth, r.Header.Get("Authorization"))
		if r.Header.Get("Authorization") == "Bearer "+renewed.String() {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		src.mu.Lock()
		src.cred = src.swapTo
		src.mu.Unlock()
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	resp, err := newTestPipeline(src).Client(time.Second).Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, src.renewCount())
	assert.Equal(t, []string{"Bearer " + old.String(), "Bearer " + renewed.String()}, auth)
}
