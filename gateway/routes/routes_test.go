package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"afrochain/config"
	"afrochain/core/broker"
	coreerrors "afrochain/core/errors"
	"afrochain/core/mode"
	"afrochain/core/types"
	"afrochain/gateway/idempotency"
	"afrochain/gateway/middleware"
	"afrochain/native/escrow"
	"afrochain/native/payments"
	"afrochain/native/provenance"
	"afrochain/native/supplychain"
	"afrochain/storage"
)

var (
	farmer  = "0x" + strings.Repeat("f1", 20)
	arbiter = "0x" + strings.Repeat("a2", 20)
)

func newSimBroker(t *testing.T) *broker.Broker {
	t.Helper()
	cfg := config.Default()
	cfg.Simulation.Latency = config.Duration{}
	db := storage.NewMemDB()
	ctrl, err := mode.New(context.Background(), cfg, db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctrl.Close() })

	reg, err := supplychain.NewRegistry(db)
	require.NoError(t, err)
	supply := supplychain.NewLedger(ctrl.Topics(), reg)
	return broker.New(ctrl, broker.Services{
		Payments:     payments.NewOrchestrator(ctrl, nil, nil),
		Escrow:       escrow.NewEngine(escrow.NewKVStore(db), ctrl.Contracts()),
		Certificates: provenance.NewService(provenance.NewKVStore(db), ctrl.Tokens(), supply),
		Supply:       supply,
	}, nil)
}

type reply struct {
	Success bool              `json:"success"`
	Data    json.RawMessage   `json:"data"`
	Error   *coreerrors.Error `json:"error"`
	Network string            `json:"network"`
}

type client struct {
	t       *testing.T
	handler http.Handler
	token   string
}

func (c *client) do(method, path, body string, header ...string) (int, reply, http.Header) {
	c.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	var out reply
	require.NoError(c.t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out, rec.Header()
}

func newClient(t *testing.T) *client {
	t.Helper()
	store, err := idempotency.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	handler := New(Config{
		Broker:         newSimBroker(t),
		Idempotency:    idempotency.NewGuard(store, 1<<20, nil),
		RequestTimeout: 5 * time.Second,
	})
	return &client{t: t, handler: handler}
}

func TestEscrowLifecycleOverHTTP(t *testing.T) {
	c := newClient(t)

	body := `{"farmer":"` + farmer + `","arbiter":"` + arbiter + `","amount":"2"}`
	code, res, _ := c.do(http.MethodPost, "/v1/escrows", body)
	require.Equal(t, http.StatusOK, code)
	require.True(t, res.Success)
	require.Equal(t, "ethereum-simulated", res.Network)
	var contract escrow.Contract
	require.NoError(t, json.Unmarshal(res.Data, &contract))
	require.Equal(t, escrow.StatusActive, contract.Status)

	code, _, _ = c.do(http.MethodPost, "/v1/escrows/"+contract.ID+"/dispute", `{"reason":"mould"}`)
	require.Equal(t, http.StatusOK, code)

	code, _, _ = c.do(http.MethodPost, "/v1/escrows/"+contract.ID+"/release", "")
	require.Equal(t, http.StatusOK, code)

	code, res, _ = c.do(http.MethodPost, "/v1/escrows/"+contract.ID+"/refund", "")
	require.Equal(t, http.StatusConflict, code)
	require.False(t, res.Success)
	require.Equal(t, coreerrors.KindInvalidTransition, res.Error.Kind)
	require.Equal(t, "COMPLETED", res.Error.From)

	code, res, _ = c.do(http.MethodGet, "/v1/escrows/"+contract.ID, "")
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(res.Data, &contract))
	require.Equal(t, escrow.StatusCompleted, contract.Status)

	code, res, _ = c.do(http.MethodGet, "/v1/escrows/missing", "")
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, coreerrors.KindNotFound, res.Error.Kind)
}

func TestPaymentReplayWithIdempotencyKey(t *testing.T) {
	c := newClient(t)
	balanceOf := func() broker.BalanceReport {
		code, res, _ := c.do(http.MethodGet, "/v1/balances/hedera/0.0.4321", "")
		require.Equal(t, http.StatusOK, code)
		var report broker.BalanceReport
		require.NoError(t, json.Unmarshal(res.Data, &report))
		return report
	}
	before := balanceOf()
	body := `{"network":"hedera","to":"0.0.4321","amount":"3"}`

	code, first, _ := c.do(http.MethodPost, "/v1/payments", body, idempotency.HeaderKey, "pay-1")
	require.Equal(t, http.StatusOK, code)
	code, second, header := c.do(http.MethodPost, "/v1/payments", body, idempotency.HeaderKey, "pay-1")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "true", header.Get(idempotency.HeaderReplayed))
	require.JSONEq(t, string(first.Data), string(second.Data))

	_, fresh, _ := c.do(http.MethodPost, "/v1/payments", body)
	require.NotEqual(t, string(first.Data), string(fresh.Data))

	code, res, _ := c.do(http.MethodPost, "/v1/payments", `{"network":"hedera","to":"0.0.4321","amount":"4"}`, idempotency.HeaderKey, "pay-1")
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, coreerrors.KindValidation, res.Error.Kind)

	// one keyed payment plus one unkeyed
	after := balanceOf()
	require.Equal(t, "6", after.Balance.Sub(before.Balance).String())
}

func TestPaymentErrorsMapToStatus(t *testing.T) {
	c := newClient(t)

	code, res, _ := c.do(http.MethodPost, "/v1/payments", `{"network":"ethereum","to":"`+farmer+`","amount":"1"}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, coreerrors.KindCredential, res.Error.Kind)

	code, res, _ = c.do(http.MethodPost, "/v1/payments", `{"network":"ethereum","bogus":true}`)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, coreerrors.KindValidation, res.Error.Kind)

	code, _, _ = c.do(http.MethodPost, "/v1/payments", "")
	require.Equal(t, http.StatusBadRequest, code)
}

func TestCertificateAndSupplyChainOverHTTP(t *testing.T) {
	c := newClient(t)

	code, res, _ := c.do(http.MethodGet, "/v1/batches/unknown/steps", "")
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "hedera-simulated", res.Network)

	code, res, _ = c.do(http.MethodPost, "/v1/certificates", `{"batchId":"B-9","product":"Coffee","origin":"Sidama","quantity":"120"}`)
	require.Equal(t, http.StatusOK, code, "%+v", res.Error)

	code, _, _ = c.do(http.MethodPost, "/v1/batches/B-9/steps", `{"stepName":"Washed","location":"Sidama","operator":"coop-4"}`)
	require.Equal(t, http.StatusOK, code)

	code, res, _ = c.do(http.MethodGet, "/v1/batches/B-9/steps", "")
	require.Equal(t, http.StatusOK, code)
	var steps []supplychain.RecordedStep
	require.NoError(t, json.Unmarshal(res.Data, &steps))
	require.Len(t, steps, 2)
	require.Equal(t, provenance.IssuanceStep, steps[0].StepName)
	require.Equal(t, "Washed", steps[1].StepName)

	code, res, _ = c.do(http.MethodGet, "/v1/certificates/B-9/verify", "")
	require.Equal(t, http.StatusOK, code)
	var report provenance.Report
	require.NoError(t, json.Unmarshal(res.Data, &report))
	require.Equal(t, provenance.StatusAuthentic, report.Status)
}

func TestHealthz(t *testing.T) {
	c := newClient(t)
	code, res, _ := c.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, code)
	var report broker.HealthReport
	require.NoError(t, json.Unmarshal(res.Data, &report))
	require.Equal(t, types.ModeSimulated, report.Modes["ethereum"])
	require.Equal(t, types.ModeSimulated, report.Modes["hedera"])
}

func TestRoutesRequireScopedToken(t *testing.T) {
	handler := New(Config{
		Broker: newSimBroker(t),
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    true,
			HMACSecret: "secret",
		}, nil),
	})
	c := &client{t: t, handler: handler}

	code, res, _ := c.do(http.MethodGet, "/v1/batches/B-1/steps", "")
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, coreerrors.KindCredential, res.Error.Kind)

	sign := func(scope string) string {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub":   "coop-1",
			"scope": scope,
			"exp":   time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte("secret"))
		require.NoError(t, err)
		return token
	}

	c.token = sign("payments")
	code, _, _ = c.do(http.MethodGet, "/v1/batches/B-1/steps", "")
	require.Equal(t, http.StatusForbidden, code)

	c.token = sign("provenance")
	code, _, _ = c.do(http.MethodGet, "/v1/batches/B-1/steps", "")
	require.Equal(t, http.StatusNotFound, code)

	// health stays open
	c.token = ""
	code, _, _ = c.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, code)
}

func TestStatusFor(t *testing.T) {
	cases := map[coreerrors.Kind]int{
		coreerrors.KindValidation:        http.StatusBadRequest,
		coreerrors.KindCredential:        http.StatusBadRequest,
		coreerrors.KindNotFound:          http.StatusNotFound,
		coreerrors.KindInvalidTransition: http.StatusConflict,
		coreerrors.KindIntegrity:         http.StatusUnprocessableEntity,
		coreerrors.KindNetwork:           http.StatusBadGateway,
		coreerrors.KindInternal:          http.StatusInternalServerError,
		coreerrors.KindRateLimited:       http.StatusTooManyRequests,
	}
	for kind, want := range cases {
		env := types.Envelope{Error: &coreerrors.Error{Kind: kind}}
		require.Equal(t, want, StatusFor(env), string(kind))
	}
	require.Equal(t, http.StatusOK, StatusFor(types.OK("hedera", nil)))
}

func TestEachRequestObservedOnce(t *testing.T) {
	obs := middleware.NewObservability(middleware.ObservabilityConfig{Enabled: true, MetricsPrefix: "routes_once"}, nil)
	handler := New(Config{
		Broker:        newSimBroker(t),
		Observability: obs,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    true,
			HMACSecret: "secret",
		}, nil),
	})
	c := &client{t: t, handler: handler}

	code, _, _ := c.do(http.MethodGet, "/v1/batches/B-1/steps", "")
	require.Equal(t, http.StatusUnauthorized, code)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "coop-1",
		"scope": "provenance",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)
	c.token = token
	code, _, _ = c.do(http.MethodGet, "/v1/batches/B-1/steps", "")
	require.Equal(t, http.StatusNotFound, code)
	c.token = ""
	code, _, _ = c.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, code)

	rec := httptest.NewRecorder()
	obs.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	require.Contains(t, body, `routes_once_requests_total{method="GET",route="batches",status="401"} 1`)
	require.Contains(t, body, `routes_once_requests_total{method="GET",route="batches",status="404"} 1`)
	require.Contains(t, body, `routes_once_requests_total{method="GET",route="health",status="200"} 1`)
	require.NotContains(t, body, `route="root"`)
}
