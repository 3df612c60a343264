package handlers

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateStatusLifecycle(t *testing.T) {
	env := newTestEnv(t, "alice")

	rec := env.do(t, http.MethodGet, "/gate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeJSON(t, rec)
	assert.Equal(t, false, resp["present"])
	assert.Equal(t, false, resp["unlocked"])

	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodPost, "/gate", `{"pin":"1234"}`).Code)

	rec = env.do(t, http.MethodGet, "/gate", "")
	resp = decodeJSON(t, rec)
	assert.Equal(t, true, resp["present"])
	assert.Equal(t, true, resp["unlocked"])

	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodPost, "/gate/lock", "").Code)
	rec = env.do(t, http.MethodGet, "/gate", "")
	assert.Equal(t, false, decodeJSON(t, rec)["unlocked"])
}

func TestGateVerify(t *testing.T) {
	env := newTestEnv(t, "alice")

	// Verify before any credential exists.
	rec := env.do(t, http.MethodPost, "/gate/verify", `{"pin":"1234"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "gate_required", decodeJSON(t, rec)["code"])

	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodPost, "/gate", `{"pin":"1234"}`).Code)
	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodPost, "/gate/lock", "").Code)

	rec = env.do(t, http.MethodPost, "/gate/verify", `{"pin":"9999"}`)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/gate/verify", `{"pin":"1234"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, env.gate.Unlocked("alice"))
}

func TestGateCreateEmptyPIN(t *testing.T) {
	env := newTestEnv(t, "alice")

	rec := env.do(t, http.MethodPost, "/gate", `{"pin":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
