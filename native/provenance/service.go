// Package provenance mints and verifies batch provenance certificates backed
// by a non-fungible token on the hashgraph.
package provenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	coreerrors "afrochain/core/errors"
	"afrochain/core/events"
	"afrochain/core/keylock"
	"afrochain/ledger"
	"afrochain/native/supplychain"
	"afrochain/storage"
)

// IssuanceStep is the supply-chain step recorded when a certificate is minted.
const IssuanceStep = "Certificate Issued"

// SupplyChain is the subset of the supply-chain ledger the service needs.
type SupplyChain interface {
	AppendStep(ctx context.Context, batchID string, in supplychain.StepInput) (supplychain.Ack, error)
	History(ctx context.Context, batchID string) ([]supplychain.RecordedStep, error)
}

// Service mints one certificate per batch and verifies it on demand.
type Service struct {
	store   Store
	tokens  ledger.TokenService
	chain   SupplyChain
	locks   keylock.Locker
	emitter events.Emitter
	nowFn   func() time.Time
	logger  *slog.Logger
}

// NewService wires the certificate store, the token service used to anchor
// certificates and the supply-chain ledger used for traceability. chain may
// be nil, in which case traceability checks always fail.
func NewService(store Store, tokens ledger.TokenService, chain SupplyChain) *Service {
	return &Service{
		store:   store,
		tokens:  tokens,
		chain:   chain,
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
		logger:  slog.Default().With("component", "provenance"),
	}
}

func (s *Service) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.nowFn = now
}

func (s *Service) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	s.emitter = emitter
}

func (s *Service) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger.With("component", "provenance")
	}
}

func normalise(attrs Attributes) (Attributes, error) {
	attrs.BatchID = strings.TrimSpace(attrs.BatchID)
	attrs.Product = strings.TrimSpace(attrs.Product)
	attrs.Origin = strings.TrimSpace(attrs.Origin)
	if attrs.Product == "" {
		return attrs, coreerrors.Validation("product required")
	}
	if attrs.Origin == "" {
		return attrs, coreerrors.Validation("origin required")
	}
	if attrs.Quantity.IsNegative() {
		return attrs, coreerrors.Validation("quantity must not be negative")
	}
	if attrs.BatchID == "" {
		attrs.BatchID = uuid.NewString()
	}
	return attrs, nil
}

// Mint issues the certificate for a batch. A batch is minted at most once.
func (s *Service) Mint(ctx context.Context, attrs Attributes) (*Certificate, error) {
	if s.tokens == nil {
		return nil, coreerrors.Credential("certificate token service not configured")
	}
	attrs, err := normalise(attrs)
	if err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(attrs.BatchID)
	defer unlock()

	if _, err := s.store.Get(attrs.BatchID); err == nil {
		return nil, coreerrors.Validation("certificate for batch %s already minted", attrs.BatchID)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, coreerrors.Internal("load certificate", err)
	}

	hash, err := ContentHash(attrs)
	if err != nil {
		return nil, coreerrors.Validation("attributes are not serialisable: %v", err)
	}
	meta := buildMetadata(attrs, hash)
	metaCID, err := MetadataCID(meta)
	if err != nil {
		return nil, coreerrors.Internal("content address metadata", err)
	}
	receipt, err := s.tokens.MintNFT(ctx, []byte(metaCID))
	if err != nil {
		return nil, coreerrors.From(err)
	}
	cert := &Certificate{
		BatchID:        attrs.BatchID,
		TokenRef:       receipt.TokenRef,
		SerialNumber:   receipt.SerialNumber,
		TransactionRef: receipt.TransactionRef,
		Metadata:       meta,
		MetadataCID:    metaCID,
		ContentHash:    hash,
		Attributes:     attrs,
		MintedAt:       s.nowFn().UTC(),
	}
	if err := s.store.Create(cert); err != nil {
		s.logger.Error("certificate minted on ledger but not recorded",
			"batch", cert.BatchID,
			"token", cert.TokenRef,
			"serial", cert.SerialNumber,
			"tx", cert.TransactionRef,
			"error", err)
		return nil, coreerrors.Internal("store certificate", err)
	}
	s.logger.Info("certificate minted", "batch", cert.BatchID, "token", cert.TokenRef, "serial", cert.SerialNumber)
	s.recordIssuance(ctx, cert)
	s.emitter.Emit(events.Wrap(NewMintedEvent(cert)))
	return cert, nil
}

// recordIssuance opens the batch trail. The certificate stands on its own if
// this fails; verification will then report the batch as untraceable.
func (s *Service) recordIssuance(ctx context.Context, cert *Certificate) {
	if s.chain == nil {
		return
	}
	_, err := s.chain.AppendStep(ctx, cert.BatchID, supplychain.StepInput{
		StepName: IssuanceStep,
		Location: cert.Attributes.Origin,
		Operator: cert.Attributes.Farmer,
		Payload: map[string]any{
			"tokenRef":     cert.TokenRef,
			"serialNumber": cert.SerialNumber,
			"contentHash":  cert.ContentHash,
		},
	})
	if err != nil {
		s.logger.Warn("issuance step not recorded", "batch", cert.BatchID, "error", err)
	}
}

// Get returns the stored certificate.
func (s *Service) Get(batchID string) (*Certificate, error) {
	cert, err := s.store.Get(strings.TrimSpace(batchID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, coreerrors.NotFound("no certificate for batch %s", batchID)
	}
	if err != nil {
		return nil, coreerrors.Internal("load certificate", err)
	}
	return cert, nil
}

// Verify recomputes the certificate hash and cross-checks it with the ledger
// anchor and the batch supply-chain trail. A missing certificate or a hash
// mismatch is FAKE; any other failing check is SUSPICIOUS.
func (s *Service) Verify(ctx context.Context, batchID string) (Report, error) {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return Report{}, coreerrors.Validation("batch id required")
	}
	report := Report{BatchID: batchID, VerifiedAt: s.nowFn().UTC()}

	cert, err := s.Get(batchID)
	if coreerrors.KindOf(err) == coreerrors.KindNotFound {
		report.Checks = []Check{
			{Name: CheckCertificatePresent, Detail: err.Error(), Kind: string(coreerrors.KindNotFound)},
			{Name: CheckHashMatch, Detail: "skipped: no certificate"},
			{Name: CheckSupplyChainTraceable, Detail: "skipped: no certificate"},
			{Name: CheckOriginConsistent, Detail: "skipped: no certificate"},
		}
		report.Status = StatusFake
		s.emitter.Emit(events.Wrap(NewVerifiedEvent(report)))
		return report, nil
	}
	if err != nil {
		return Report{}, err
	}
	report.ContentHash = cert.ContentHash

	steps, historyErr := s.history(ctx, batchID)
	report.Checks = []Check{
		{Name: CheckCertificatePresent, Passed: true, Detail: fmt.Sprintf("token %s serial %d", cert.TokenRef, cert.SerialNumber)},
		s.checkHash(ctx, cert),
		checkTraceable(steps, historyErr),
		checkOrigin(cert, steps, historyErr),
	}
	report.Status = verdict(report.Checks)
	s.logger.Info("certificate verified", "batch", batchID, "status", report.Status)
	s.emitter.Emit(events.Wrap(NewVerifiedEvent(report)))
	return report, nil
}

func (s *Service) history(ctx context.Context, batchID string) ([]supplychain.RecordedStep, error) {
	if s.chain == nil {
		return nil, coreerrors.NotFound("supply chain ledger not configured")
	}
	return s.chain.History(ctx, batchID)
}

func (s *Service) checkHash(ctx context.Context, cert *Certificate) Check {
	check := Check{Name: CheckHashMatch}
	recomputed, err := ContentHash(cert.Attributes)
	if err != nil {
		check.Detail = err.Error()
		check.Kind = string(coreerrors.KindInternal)
		return check
	}
	if recomputed != cert.ContentHash {
		check.Detail = fmt.Sprintf("recomputed hash %s does not match stored %s", recomputed, cert.ContentHash)
		check.Kind = string(coreerrors.KindIntegrity)
		return check
	}
	expectedCID, err := MetadataCID(buildMetadata(cert.Attributes, recomputed))
	if err != nil {
		check.Detail = err.Error()
		check.Kind = string(coreerrors.KindInternal)
		return check
	}
	if s.tokens == nil || cert.SerialNumber <= 0 {
		check.Passed = true
		check.Detail = "local hash matches; ledger anchor unavailable"
		return check
	}
	anchored, err := s.tokens.NFTMetadata(ctx, cert.TokenRef, cert.SerialNumber)
	if err != nil {
		check.Passed = true
		check.Detail = "local hash matches; ledger anchor unavailable: " + err.Error()
		return check
	}
	if string(anchored) != expectedCID {
		check.Detail = fmt.Sprintf("ledger anchor %s does not match recomputed metadata %s", anchored, expectedCID)
		check.Kind = string(coreerrors.KindIntegrity)
		return check
	}
	check.Passed = true
	check.Detail = "hash matches ledger anchor " + expectedCID
	return check
}

func checkTraceable(steps []supplychain.RecordedStep, err error) Check {
	check := Check{Name: CheckSupplyChainTraceable}
	switch {
	case err != nil:
		check.Detail = err.Error()
		check.Kind = string(coreerrors.KindOf(err))
		return check
	case len(steps) == 0:
		check.Detail = "no supply chain steps recorded"
		return check
	}
	for _, step := range steps {
		if !step.Intact {
			check.Detail = fmt.Sprintf("step %d (%s) failed its integrity check", step.SequenceNumber, step.StepName)
			check.Kind = string(coreerrors.KindIntegrity)
			return check
		}
	}
	check.Passed = true
	check.Detail = fmt.Sprintf("%d steps recorded", len(steps))
	return check
}

func checkOrigin(cert *Certificate, steps []supplychain.RecordedStep, err error) Check {
	check := Check{Name: CheckOriginConsistent}
	if err != nil || len(steps) == 0 {
		check.Detail = "no supply chain steps to compare"
		return check
	}
	for _, step := range steps {
		if step.BatchID != cert.BatchID {
			check.Detail = fmt.Sprintf("step %d belongs to batch %s", step.SequenceNumber, step.BatchID)
			return check
		}
	}
	first := strings.TrimSpace(steps[0].Location)
	if first != "" && !strings.EqualFold(first, cert.Attributes.Origin) {
		check.Detail = fmt.Sprintf("first step at %q, certificate origin %q", first, cert.Attributes.Origin)
		return check
	}
	check.Passed = true
	check.Detail = "origin " + cert.Attributes.Origin
	return check
}

func verdict(checks []Check) Status {
	status := StatusAuthentic
	for _, c := range checks {
		if c.Passed {
			continue
		}
		if c.Name == CheckCertificatePresent || c.Name == CheckHashMatch {
			return StatusFake
		}
		status = StatusSuspicious
	}
	return status
}
