package middleware

import (
	"encoding/json"
	"net/http"

	coreerrors "afrochain/core/errors"
	"afrochain/core/types"
)

// WriteEnvelope writes env as JSON with the given status.
func WriteEnvelope(w http.ResponseWriter, status int, env types.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func writeError(w http.ResponseWriter, status int, err *coreerrors.Error) {
	WriteEnvelope(w, status, types.Fail("", err))
}
