package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalancePrintsServerJSON(t *testing.T) {
	var gotSubject string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/economy/balance", r.URL.Path)
		gotSubject = r.Header.Get(subjectHeader)
		_, _ = w.Write([]byte(`{"subject_id":"u1","liquid":500,"banked":0}`))
	}))
	defer srv.Close()

	stdout, _, err := executeCLI(t, "--addr", srv.URL, "balance", "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", gotSubject)
	assert.Contains(t, stdout, "\"liquid\": 500")
}

func TestProfileRequiresSubject(t *testing.T) {
	_, _, err := executeCLI(t, "--addr", "http://127.0.0.1:0", "profile")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg(s)")
}

func TestResetRequiresConfirm(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	_, _, err := executeCLI(t, "--addr", srv.URL, "--admin-token", "s3cret", "reset")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--confirm")
	assert.False(t, called)
}

func TestResetSendsAdminToken(t *testing.T) {
	var gotToken, gotActor string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/admin/reset", r.URL.Path)
		gotToken = r.Header.Get(adminHeader)
		gotActor = r.Header.Get(subjectHeader)
		_, _ = w.Write([]byte(`{"reset":true}`))
	}))
	defer srv.Close()

	stdout, _, err := executeCLI(t, "--addr", srv.URL, "--admin-token", "s3cret", "reset", "--confirm", "--actor", "ops")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", gotToken)
	assert.Equal(t, "ops", gotActor)
	assert.Contains(t, stdout, "ledger reset")
}

func TestResetReadsTokenFromEnv(t *testing.T) {
	t.Setenv("ECON_ADMIN_TOKEN", "from-env")
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get(adminHeader)
		_, _ = w.Write([]byte(`{"reset":true}`))
	}))
	defer srv.Close()

	_, _, err := executeCLI(t, "--addr", srv.URL, "reset", "--confirm")
	require.NoError(t, err)
	assert.Equal(t, "from-env", gotToken)
}

func TestServerErrorEnvelopeIsSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"invalid admin token"}}`))
	}))
	defer srv.Close()

	_, _, err := executeCLI(t, "--addr", srv.URL, "--admin-token", "wrong", "reset", "--confirm")
	require.Error(t, err)
	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "unauthorized", apiErr.Code)
}

func TestKPIPrintsCounters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ops/kpi", r.URL.Path)
		_, _ = w.Write([]byte(`{"flow_total":3,"flow_conflict":1}`))
	}))
	defer srv.Close()

	stdout, _, err := executeCLI(t, "--addr", srv.URL, "kpi")
	require.NoError(t, err)
	assert.Contains(t, stdout, "\"flow_total\": 3")
}

func executeCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("ECON_CTL_ADDR", "")

	root := newRootCmd()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}
