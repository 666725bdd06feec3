package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"afrochain/core/broker"
	coreerrors "afrochain/core/errors"
	"afrochain/core/types"
	"afrochain/gateway/middleware"
	"afrochain/native/provenance"
	"afrochain/native/supplychain"
	"afrochain/observability"
)

const defaultMaxBody = 1 << 20

type api struct {
	broker  Broker
	timeout time.Duration
	maxBody int64
	logger  *slog.Logger
}

// StatusFor maps an envelope onto the HTTP status written with it.
func StatusFor(env types.Envelope) int {
	if env.Success {
		return http.StatusOK
	}
	if env.Error == nil {
		return http.StatusInternalServerError
	}
	switch env.Error.Kind {
	case coreerrors.KindValidation, coreerrors.KindCredential:
		return http.StatusBadRequest
	case coreerrors.KindNotFound:
		return http.StatusNotFound
	case coreerrors.KindInvalidTransition:
		return http.StatusConflict
	case coreerrors.KindIntegrity:
		return http.StatusUnprocessableEntity
	case coreerrors.KindNetwork:
		return http.StatusBadGateway
	case coreerrors.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// handle runs fn under the request timeout and writes its envelope.
func (a *api) handle(module string, fn func(r *http.Request) types.Envelope) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if a.timeout > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
			defer cancel()
			r = r.WithContext(ctx)
		}
		env := fn(r)
		status := StatusFor(env)
		if status >= http.StatusInternalServerError {
			a.logger.Warn("request failed", "module", module, "path", r.URL.Path, "status", status, "error", env.Error)
		}
		middleware.WriteEnvelope(w, status, env)
		observability.API().Observe(module, r.Method, status, time.Since(start))
	}
}

// decode reads a JSON body into dst, rejecting unknown fields.
func (a *api) decode(r *http.Request, dst any) error {
	limit := a.maxBody
	if limit <= 0 {
		limit = defaultMaxBody
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return coreerrors.Validation("request body required")
		}
		return coreerrors.Validation("malformed request body: %v", err)
	}
	return nil
}

func mountPayments(a *api, r chi.Router) {
	r.Post("/", a.handle("payments", func(r *http.Request) types.Envelope {
		var req broker.PaymentRequest
		if err := a.decode(r, &req); err != nil {
			return types.Fail(req.Network, err)
		}
		return a.broker.ProcessPayment(r.Context(), req)
	}))
}

func mountBalances(a *api, r chi.Router) {
	r.Get("/{network}/{address}", a.handle("payments", func(r *http.Request) types.Envelope {
		return a.broker.Balance(r.Context(), chi.URLParam(r, "network"), chi.URLParam(r, "address"))
	}))
}

func mountTx(a *api, r chi.Router) {
	r.Get("/{network}/{ref}", a.handle("payments", func(r *http.Request) types.Envelope {
		return a.broker.TxStatus(r.Context(), chi.URLParam(r, "network"), chi.URLParam(r, "ref"))
	}))
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

func mountEscrows(a *api, r chi.Router) {
	r.Post("/", a.handle("escrow", func(r *http.Request) types.Envelope {
		var req broker.EscrowRequest
		if err := a.decode(r, &req); err != nil {
			return types.Fail("", err)
		}
		return a.broker.DeployEscrow(r.Context(), req)
	}))
	r.Get("/{id}", a.handle("escrow", func(r *http.Request) types.Envelope {
		return a.broker.GetEscrow(r.Context(), chi.URLParam(r, "id"))
	}))
	r.Post("/{id}/release", a.handle("escrow", func(r *http.Request) types.Envelope {
		return a.broker.ReleaseEscrow(r.Context(), chi.URLParam(r, "id"))
	}))
	r.Post("/{id}/refund", a.handle("escrow", func(r *http.Request) types.Envelope {
		return a.broker.RefundEscrow(r.Context(), chi.URLParam(r, "id"))
	}))
	r.Post("/{id}/dispute", a.handle("escrow", func(r *http.Request) types.Envelope {
		var req disputeRequest
		if err := a.decode(r, &req); err != nil {
			return types.Fail("", err)
		}
		return a.broker.RaiseDispute(r.Context(), chi.URLParam(r, "id"), req.Reason)
	}))
}

func mountCertificates(a *api, r chi.Router) {
	r.Post("/", a.handle("certificates", func(r *http.Request) types.Envelope {
		var attrs provenance.Attributes
		if err := a.decode(r, &attrs); err != nil {
			return types.Fail("", err)
		}
		return a.broker.MintCertificate(r.Context(), attrs)
	}))
	r.Get("/{batchId}/verify", a.handle("certificates", func(r *http.Request) types.Envelope {
		return a.broker.VerifyCertificate(r.Context(), chi.URLParam(r, "batchId"))
	}))
}

func mountBatches(a *api, r chi.Router) {
	r.Post("/{batchId}/steps", a.handle("supply", func(r *http.Request) types.Envelope {
		var step supplychain.StepInput
		if err := a.decode(r, &step); err != nil {
			return types.Fail("", err)
		}
		return a.broker.AppendSupplyChainStep(r.Context(), chi.URLParam(r, "batchId"), step)
	}))
	r.Get("/{batchId}/steps", a.handle("supply", func(r *http.Request) types.Envelope {
		return a.broker.SupplyChainHistory(r.Context(), chi.URLParam(r, "batchId"))
	}))
}
