package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"coaching_payments_echo/internal/apperrors"
	"coaching_payments_echo/internal/gateway"
	"coaching_payments_echo/internal/models"
	"coaching_payments_echo/internal/outbox"
	"coaching_payments_echo/internal/store"
)

const (
	statusCacheTTL    = time.Hour
	expireBatchSize   = 100
	maxHistoryEntries = 100
	declinedReason    = "payment declined by gateway"
	abandonedReason   = "payment initiation abandoned"
)

type PaymentConfig struct {
	DefaultGateway models.PaymentGateway
	GatewayTimeout time.Duration
	// CallbackBaseURL is the public origin gateways post callbacks to.
	CallbackBaseURL string
	// SuccessEffects run in the same database transaction as every
	// pending -> succeeded change, after the entitlement is granted.
	SuccessEffects []store.Effect
}

// PaymentService drives transactions through their lifecycle. It is the only
// writer of transaction status.
type PaymentService struct {
	store        *store.TransactionStore
	adapters     map[models.PaymentGateway]gateway.Adapter
	entitlements *Entitlements
	cache        Cache
	cfg          PaymentConfig
	logger       *zap.Logger
	now          func() time.Time
}

// NewPaymentService wires the orchestrator. cache may be nil.
func NewPaymentService(
	st *store.TransactionStore,
	adapters []gateway.Adapter,
	entitlements *Entitlements,
	cache Cache,
	cfg PaymentConfig,
	logger *zap.Logger,
) *PaymentService {
	byName := make(map[models.PaymentGateway]gateway.Adapter, len(adapters))
	for _, a := range adapters {
		byName[models.PaymentGateway(a.Name())] = a
	}
	cfg.CallbackBaseURL = strings.TrimRight(cfg.CallbackBaseURL, "/")
	return &PaymentService{
		store:        st,
		adapters:     byName,
		entitlements: entitlements,
		cache:        cache,
		cfg:          cfg,
		logger:       logger.With(zap.String("component", "payment_service")),
		now:          time.Now,
	}
}

type BeginRequest struct {
	UserID         string
	UserEmail      string
	ProductKind    models.ProductKind
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	// Gateway is optional; the configured default is used when empty.
	Gateway   models.PaymentGateway
	Metadata  map[string]string
	AuthToken string
}

type BeginResult struct {
	TransactionID    string
	GatewayReference string
	RedirectURL      string
	SessionToken     string
	Status           models.TransactionStatus
	// Existing is true when a retry returned the purchase already in flight.
	Existing bool
}

// Begin accepts a purchase intent and drives it to pending. A gateway error
// or timeout leaves the transaction failed and is returned to the caller
// with the gateway's own message.
func (s *PaymentService) Begin(ctx context.Context, req BeginRequest) (*BeginResult, error) {
	adapter, err := s.validateBegin(ctx, &req)
	if err != nil {
		return nil, err
	}

	metadata := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		metadata[k] = v
	}
	if req.UserEmail != "" {
		metadata[models.MetaUserEmail] = req.UserEmail
	}

	txn := &models.PaymentTransaction{
		Gateway:        req.Gateway,
		UserID:         req.UserID,
		ProductKind:    req.ProductKind,
		IdempotencyKey: req.IdempotencyKey,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Metadata:       metadata,
	}
	id, err := s.store.Create(ctx, txn)
	if err != nil {
		if apperrors.IsConflict(err) {
			return s.resumeExisting(ctx, req, err)
		}
		return nil, err
	}

	log := s.logger.With(zap.String("transaction_id", id), zap.String("gateway", adapter.Name()))

	gwCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	result, gwErr := adapter.Initiate(gwCtx, gateway.PaymentRequest{
		TransactionID: id,
		UserID:        req.UserID,
		UserEmail:     req.UserEmail,
		Amount:        req.Amount,
		Currency:      req.Currency,
		ProductKind:   string(req.ProductKind),
		CallbackURL:   s.callbackURL(req.Gateway),
		AuthToken:     req.AuthToken,
	})
	cancel()

	// The outcome must be recorded even if the caller has gone away.
	writeCtx := context.WithoutCancel(ctx)

	if gwErr != nil {
		log.Warn("Gateway initiation failed", zap.Error(gwErr))
		s.fail(writeCtx, id, gatewayMessage(gwErr), log)
		return nil, gwErr
	}

	updated, err := s.store.UpdateStatus(writeCtx, id, models.TransactionStatusPending,
		store.WithGatewayReference(result.GatewayReference),
		store.WithMetadata(map[string]string{
			models.MetaRedirectURL:  result.RedirectURL,
			models.MetaSessionToken: result.SessionToken,
		}),
	)
	if err != nil {
		log.Error("Failed to record gateway reference", zap.String("gateway_reference", result.GatewayReference), zap.Error(err))
		s.fail(writeCtx, id, "could not record gateway reference", log)
		return nil, err
	}

	log.Info("Payment initiated", zap.String("gateway_reference", result.GatewayReference))
	return &BeginResult{
		TransactionID:    updated.ID,
		GatewayReference: result.GatewayReference,
		RedirectURL:      result.RedirectURL,
		SessionToken:     result.SessionToken,
		Status:           updated.Status,
	}, nil
}

func (s *PaymentService) validateBegin(ctx context.Context, req *BeginRequest) (gateway.Adapter, error) {
	if req.UserID == "" {
		return nil, &apperrors.ValidationError{Field: "userId", Message: "is required"}
	}
	if req.IdempotencyKey == "" {
		return nil, &apperrors.ValidationError{Field: "idempotencyKey", Message: "is required"}
	}
	if !req.ProductKind.IsValid() {
		return nil, &apperrors.ValidationError{Field: "productKind", Message: "unknown product"}
	}
	if !req.Amount.IsPositive() {
		return nil, &apperrors.ValidationError{Field: "amount", Message: "must be positive"}
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return nil, &apperrors.ValidationError{Field: "amount", Message: "at most two decimal places"}
	}
	for k := range req.Metadata {
		if models.ServerMetaKey(k) {
			return nil, &apperrors.ValidationError{Field: "metadata." + k, Message: "is reserved"}
		}
	}
	req.Currency = strings.ToUpper(req.Currency)
	if len(req.Currency) != 3 {
		return nil, &apperrors.ValidationError{Field: "currency", Message: "must be a 3-letter code"}
	}

	if req.Gateway == "" {
		req.Gateway = s.cfg.DefaultGateway
	}
	adapter, ok := s.adapters[req.Gateway]
	if !ok {
		return nil, &apperrors.ValidationError{Field: "gateway", Message: fmt.Sprintf("gateway %q is not available", req.Gateway)}
	}
	if req.Gateway == models.PaymentGatewayRelay {
		if req.Currency != gateway.RelayCurrency {
			return nil, &apperrors.ValidationError{Field: "currency", Message: fmt.Sprintf("the relay gateway only charges %s", gateway.RelayCurrency)}
		}
		if !req.Amount.IsInteger() {
			return nil, &apperrors.ValidationError{Field: "amount", Message: "the relay gateway only charges whole amounts"}
		}
	}

	if s.entitlements != nil {
		if err := s.entitlements.CheckEligible(ctx, req.UserID, req.ProductKind, req.Metadata); err != nil {
			return nil, err
		}
	}
	return adapter, nil
}

// resumeExisting handles a retry that collided with an active purchase. A
// pending one is handed back as-is; one still being initiated is a conflict.
func (s *PaymentService) resumeExisting(ctx context.Context, req BeginRequest, conflict error) (*BeginResult, error) {
	existing, err := s.store.FindActiveByIntent(ctx, req.UserID, req.ProductKind, req.IdempotencyKey)
	if err != nil {
		// it resolved between the insert and this read
		return nil, conflict
	}
	if existing.Status != models.TransactionStatusPending {
		return nil, conflict
	}
	if !existing.Amount.Equal(req.Amount) || existing.Currency != req.Currency || existing.Gateway != req.Gateway {
		return nil, &apperrors.ConflictError{
			Resource:      "payment_transaction",
			TransactionID: existing.ID,
			Message:       "idempotency key was already used for a different purchase",
		}
	}

	s.logger.Info("Reusing pending payment",
		zap.String("transaction_id", existing.ID),
		zap.String("gateway_reference", existing.Reference()))
	return &BeginResult{
		TransactionID:    existing.ID,
		GatewayReference: existing.Reference(),
		RedirectURL:      existing.Meta(models.MetaRedirectURL),
		SessionToken:     existing.Meta(models.MetaSessionToken),
		Status:           existing.Status,
		Existing:         true,
	}, nil
}

func (s *PaymentService) fail(ctx context.Context, id, reason string, log *zap.Logger) {
	_, err := s.store.UpdateStatus(ctx, id, models.TransactionStatusFailed,
		store.WithFailureReason(reason),
		outbox.Enqueue,
	)
	if err != nil {
		log.Error("Failed to mark transaction failed", zap.Error(err))
	}
}

func (s *PaymentService) callbackURL(gw models.PaymentGateway) string {
	return fmt.Sprintf("%s/payments/callback/%s", s.cfg.CallbackBaseURL, gw)
}

type ReconcileResult struct {
	GatewayReference string
	Transaction      *models.PaymentTransaction
	Disposition      models.CallbackDisposition
	Outcome          gateway.Outcome
}

// Reconcile applies an inbound gateway callback. The callback's own claim is
// never trusted: the outcome is confirmed with the gateway before any status
// change. Duplicate and lost-race deliveries are acknowledged without
// re-applying side effects.
func (s *PaymentService) Reconcile(ctx context.Context, gatewayName string, payload gateway.CallbackPayload) (*ReconcileResult, error) {
	gw := models.PaymentGateway(gatewayName)
	adapter, ok := s.adapters[gw]
	if !ok {
		return nil, &apperrors.NotFoundError{Resource: "gateway", Key: gatewayName}
	}

	entry := &models.PaymentCallbackHistory{PaymentGateway: gw, Metadata: payloadJSON(payload)}
	defer s.recordCallback(ctx, entry)

	parsed, err := adapter.ParseCallback(payload)
	if err != nil {
		entry.Disposition = models.CallbackError
		entry.Detail = err.Error()
		return nil, err
	}
	ref := parsed.GatewayReference
	entry.GatewayReference = ref
	log := s.logger.With(zap.String("gateway", gatewayName), zap.String("gateway_reference", ref))

	txn, err := s.store.FindByGatewayReference(ctx, ref)
	if err == nil && txn.Gateway != gw {
		err = &apperrors.NotFoundError{Resource: "payment_transaction", Key: ref}
	}
	if err != nil {
		if apperrors.IsNotFound(err) {
			log.Warn("Callback for unknown transaction", zap.Any("claimed", parsed.Claimed))
			entry.Disposition = models.CallbackNotFound
		} else {
			entry.Disposition = models.CallbackError
			entry.Detail = err.Error()
		}
		return nil, err
	}
	entry.TransactionID = txn.ID
	log = log.With(zap.String("transaction_id", txn.ID))

	result := &ReconcileResult{GatewayReference: ref, Transaction: txn}

	if txn.Status.IsTerminal() {
		if claimed := parsed.Claimed; claimed != gateway.OutcomeUnknown && !outcomeMatches(claimed, txn.Status) {
			log.Warn("Duplicate callback disagrees with stored status",
				zap.String("claimed", string(claimed)),
				zap.String("status", string(txn.Status)))
		}
		entry.Disposition = models.CallbackDuplicate
		result.Disposition = models.CallbackDuplicate
		return result, nil
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	outcome, err := adapter.Verify(verifyCtx, *parsed)
	cancel()
	if err != nil {
		log.Error("Callback verification failed", zap.Error(err))
		entry.Disposition = models.CallbackError
		entry.Detail = err.Error()
		return nil, fmt.Errorf("failed to verify callback: %w", err)
	}
	entry.VerifiedOutcome = string(outcome)
	result.Outcome = outcome

	if parsed.Claimed != gateway.OutcomeUnknown && parsed.Claimed != outcome {
		log.Warn("Callback claim differs from verified outcome",
			zap.String("claimed", string(parsed.Claimed)),
			zap.String("verified", string(outcome)))
	}

	var (
		to      models.TransactionStatus
		effects []store.Effect
	)
	switch outcome {
	case gateway.OutcomeSucceeded:
		to = models.TransactionStatusSucceeded
		if s.entitlements != nil {
			effects = append(effects, s.entitlements.Grant())
		}
		effects = append(effects, s.cfg.SuccessEffects...)
	case gateway.OutcomeFailed:
		to = models.TransactionStatusFailed
		effects = append(effects, store.WithFailureReason(declinedReason))
	default:
		log.Info("Gateway has no final outcome yet")
		entry.Disposition = models.CallbackPending
		result.Disposition = models.CallbackPending
		return result, nil
	}
	effects = append(effects, outbox.Enqueue)

	writeCtx := context.WithoutCancel(ctx)
	updated, err := s.store.UpdateStatus(writeCtx, txn.ID, to, effects...)
	if err != nil {
		if apperrors.IsInvalidTransition(err) {
			// a concurrent delivery already applied it
			log.Info("Transition already applied", zap.Error(err))
			if current, findErr := s.store.FindByID(writeCtx, txn.ID); findErr == nil {
				result.Transaction = current
			}
			entry.Disposition = models.CallbackDuplicate
			result.Disposition = models.CallbackDuplicate
			return result, nil
		}
		log.Error("Failed to apply verified outcome", zap.String("to", string(to)), zap.Error(err))
		entry.Disposition = models.CallbackError
		entry.Detail = err.Error()
		return nil, err
	}

	log.Info("Payment reconciled", zap.String("status", string(updated.Status)))
	entry.Disposition = models.CallbackApplied
	result.Transaction = updated
	result.Disposition = models.CallbackApplied
	return result, nil
}

func (s *PaymentService) recordCallback(ctx context.Context, entry *models.PaymentCallbackHistory) {
	if err := s.store.RecordCallback(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Error("Failed to record callback", zap.String("gateway_reference", entry.GatewayReference), zap.Error(err))
	}
}

// Status returns the user's transaction for a gateway reference. Terminal
// results are cached; pending ones are always read fresh.
func (s *PaymentService) Status(ctx context.Context, userID, ref string) (*models.PaymentTransaction, error) {
	txn, err := GetOrSet(s.cache, ctx, statusCacheKey(ref), statusCacheTTL,
		func() (*models.PaymentTransaction, error) {
			return s.store.FindByGatewayReference(ctx, ref)
		},
		func(t *models.PaymentTransaction) bool { return t.Status.IsTerminal() },
	)
	if err != nil {
		return nil, err
	}
	if txn.UserID != userID {
		// do not reveal that the reference exists
		return nil, &apperrors.NotFoundError{Resource: "payment_transaction", Key: ref}
	}
	return txn, nil
}

// History lists the user's transactions, newest first.
func (s *PaymentService) History(ctx context.Context, userID string, limit int) ([]models.PaymentTransaction, error) {
	if limit <= 0 || limit > maxHistoryEntries {
		limit = maxHistoryEntries
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// ExpireStale expires pending transactions created more than window ago and
// fails ones that never left created. It returns how many were closed.
func (s *PaymentService) ExpireStale(ctx context.Context, window time.Duration) (int, error) {
	cutoff := s.now().Add(-window)
	closed := 0

	sweeps := []struct {
		from    models.TransactionStatus
		to      models.TransactionStatus
		effects []store.Effect
	}{
		{models.TransactionStatusPending, models.TransactionStatusExpired, []store.Effect{outbox.Enqueue}},
		{models.TransactionStatusCreated, models.TransactionStatusFailed, []store.Effect{store.WithFailureReason(abandonedReason), outbox.Enqueue}},
	}

	for _, sweep := range sweeps {
		for {
			batch, err := s.store.ListStale(ctx, sweep.from, cutoff, expireBatchSize)
			if err != nil {
				return closed, err
			}

			progressed := 0
			for _, txn := range batch {
				if ctx.Err() != nil {
					return closed, ctx.Err()
				}
				_, err := s.store.UpdateStatus(ctx, txn.ID, sweep.to, sweep.effects...)
				if err != nil {
					if apperrors.IsInvalidTransition(err) {
						// resolved by a callback in the meantime
						progressed++
						continue
					}
					s.logger.Error("Failed to close stale transaction",
						zap.String("transaction_id", txn.ID),
						zap.String("to", string(sweep.to)),
						zap.Error(err))
					continue
				}
				progressed++
				closed++
				s.logger.Info("Closed stale transaction",
					zap.String("transaction_id", txn.ID),
					zap.String("status", string(sweep.to)))
			}

			if len(batch) < expireBatchSize || progressed == 0 {
				break
			}
		}
	}
	return closed, nil
}

func statusCacheKey(ref string) string {
	return "payment:status:" + ref
}

func outcomeMatches(claimed gateway.Outcome, status models.TransactionStatus) bool {
	switch claimed {
	case gateway.OutcomeSucceeded:
		return status == models.TransactionStatusSucceeded
	case gateway.OutcomeFailed:
		return status == models.TransactionStatusFailed || status == models.TransactionStatusExpired
	default:
		return false
	}
}

// gatewayMessage is the text shown to the buyer for a failed initiation.
func gatewayMessage(err error) string {
	var gwErr *apperrors.GatewayError
	if errors.As(err, &gwErr) && gwErr.Message != "" {
		return gwErr.Message
	}
	return err.Error()
}

func payloadJSON(payload gateway.CallbackPayload) json.RawMessage {
	if len(payload.Fields) == 0 {
		return json.RawMessage(`{}`)
	}
	data, err := json.Marshal(payload.Fields)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

// Lookup finds a transaction by id or gateway reference, for operators.
func (s *PaymentService) Lookup(ctx context.Context, key string) (*models.PaymentTransaction, error) {
	txn, err := s.store.FindByID(ctx, key)
	if err == nil {
		return txn, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}
	return s.store.FindByGatewayReference(ctx, key)
}
