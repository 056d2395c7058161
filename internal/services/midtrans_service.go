package services

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"

	"coaching_payments_echo/internal/apperrors"
	"coaching_payments_echo/internal/gateway"
	"coaching_payments_echo/internal/models"
)

const midtransName = "midtrans"

type snapCreator interface {
	CreateTransaction(req *snap.Request) (*snap.Response, *midtrans.Error)
}

type statusChecker interface {
	CheckTransaction(orderID string) (*coreapi.TransactionStatusResponse, *midtrans.Error)
}

// MidtransService is the server side of the token relay. It is the only
// component that holds the Midtrans server key.
type MidtransService struct {
	snap      snapCreator
	core      statusChecker
	serverKey string
}

func NewMidtransService(serverKey string, isProduction bool) *MidtransService {
	env := midtrans.Sandbox
	if isProduction {
		env = midtrans.Production
	}

	var s snap.Client
	s.New(serverKey, env)

	var c coreapi.Client
	c.New(serverKey, env)

	return &MidtransService{
		snap:      &s,
		core:      &c,
		serverKey: serverKey,
	}
}

// CreateSessionToken creates a Snap transaction for txn. The transaction id
// is used as the Midtrans order id. Midtrans only takes whole IDR amounts, and
// anything else is refused rather than charged differently.
func (s *MidtransService) CreateSessionToken(txn *models.PaymentTransaction, finishURL string) (*snap.Response, error) {
	if txn.Currency != gateway.RelayCurrency {
		return nil, &apperrors.ValidationError{Field: "currency", Message: "only " + gateway.RelayCurrency + " can be charged"}
	}
	if !txn.Amount.IsInteger() {
		return nil, &apperrors.ValidationError{Field: "amount", Message: "must be a whole amount"}
	}
	amount := txn.Amount.IntPart()
	req := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  txn.ID,
			GrossAmt: amount,
		},
		Items: &[]midtrans.ItemDetails{
			{
				ID:    string(txn.ProductKind),
				Name:  string(txn.ProductKind),
				Price: amount,
				Qty:   1,
			},
		},
	}
	if email := txn.Meta(models.MetaUserEmail); email != "" {
		req.CustomerDetail = &midtrans.CustomerDetails{Email: email}
	}
	if finishURL != "" {
		req.Callbacks = &snap.Callbacks{Finish: finishURL}
	}

	resp, mErr := s.snap.CreateTransaction(req)
	if mErr != nil {
		return nil, fromMidtransError(mErr)
	}
	return resp, nil
}

// CheckStatus asks the Core API for the order's status and checks the
// response signature before trusting it.
func (s *MidtransService) CheckStatus(orderID string) (gateway.Outcome, error) {
	resp, mErr := s.core.CheckTransaction(orderID)
	if mErr != nil {
		return gateway.OutcomeUnknown, fromMidtransError(mErr)
	}
	if resp.OrderID != orderID {
		return gateway.OutcomeUnknown, &apperrors.GatewayError{Gateway: midtransName, Message: "status response is for a different order"}
	}
	if !s.VerifySignature(resp.OrderID, resp.StatusCode, resp.GrossAmount, resp.SignatureKey) {
		return gateway.OutcomeUnknown, &apperrors.GatewayError{Gateway: midtransName, Message: "status response signature mismatch"}
	}

	outcome := gateway.MidtransOutcome(resp.TransactionStatus, resp.FraudStatus)
	if outcome == gateway.OutcomeUnknown {
		outcome = gateway.OutcomePending
	}
	return outcome, nil
}

// VerifySignature checks signature = SHA512(order_id + status_code + gross_amount + server key).
func (s *MidtransService) VerifySignature(orderID, statusCode, grossAmount, signatureKey string) bool {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + s.serverKey))
	expected := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signatureKey)) == 1
}

func fromMidtransError(e *midtrans.Error) error {
	return &apperrors.GatewayError{
		Gateway:    midtransName,
		StatusCode: e.StatusCode,
		Message:    e.Message,
		Err:        e.RawError,
	}
}
