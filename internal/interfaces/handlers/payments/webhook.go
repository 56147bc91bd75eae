package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	investsvc "wekeza-backend/internal/application/investments"
	"wekeza-backend/internal/domain"
	"wekeza-backend/internal/pkg/money"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type WebhookHandler struct {
	DB            *gorm.DB
	Investments   *investsvc.Service
	WebhookSecret string
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type paymentIntentObject struct {
	ID             string            `json:"id"`
	AmountReceived int               `json:"amount_received"`
	Currency       string            `json:"currency"`
	Status         string            `json:"status"`
	Metadata       map[string]string `json:"metadata"`
}

// HandleWebhook POST /api/v1/stripe/webhook — raw body, signature verification, then process.
func (wh *WebhookHandler) HandleWebhook(c *fiber.Ctx) error {
	rawBody := c.BodyRaw()
	sig := c.Get("Stripe-Signature")

	if len(rawBody) == 0 {
		log.Warn().Msg("Stripe webhook received empty body (ensure no global body parser consumes the webhook body)")
		return c.Status(400).SendString("Webhook Error: empty body")
	}

	if err := verifyStripeSignature(rawBody, sig, wh.WebhookSecret); err != nil {
		log.Warn().Err(err).Bool("has_sig", sig != "").Bool("has_secret", wh.WebhookSecret != "").Msg("Stripe webhook signature verification failed")
		return c.Status(400).SendString(fmt.Sprintf("Webhook Error: %s", err.Error()))
	}

	var event stripeEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		log.Warn().Err(err).Msg("Stripe webhook JSON parse failed")
		return c.Status(400).SendString(fmt.Sprintf("Webhook Error: %s", err.Error()))
	}

	if event.Type == "payment_intent.succeeded" {
		var pi paymentIntentObject
		if err := json.Unmarshal(event.Data.Object, &pi); err != nil {
			return c.Status(200).SendString("ok")
		}

		// Domain errors still return 200 so Stripe does not retry forever;
		// the payment row keeps the evidence for operator reconciliation.
		if err := wh.handlePaymentIntentSucceeded(c.Context(), pi, event.ID, rawBody); err != nil {
			log.Error().Err(err).Str("payment_intent", pi.ID).Msg("Stripe webhook processing failed")
			return c.Status(200).SendString("ok")
		}
	}

	return c.Status(200).SendString("ok")
}

func (wh *WebhookHandler) handlePaymentIntentSucceeded(ctx context.Context, pi paymentIntentObject, eventID string, rawBody []byte) error {
	poolIDStr := pi.Metadata["pool_id"]
	investorIDStr := pi.Metadata["investor_id"]
	amountStr := pi.Metadata["amount"]
	if poolIDStr == "" || investorIDStr == "" || amountStr == "" {
		return nil // not one of ours, skip silently
	}

	poolID, err := uuid.Parse(poolIDStr)
	if err != nil {
		return nil
	}
	investorID, err := uuid.Parse(investorIDStr)
	if err != nil {
		return nil
	}
	amount, err := money.ParseAmount(amountStr)
	if err != nil || !amount.IsPositive() {
		return nil
	}
	var trancheID *uuid.UUID
	if t := pi.Metadata["tranche_id"]; t != "" {
		tid, err := uuid.Parse(t)
		if err != nil {
			return nil
		}
		trancheID = &tid
	}
	targetID := poolID
	if trancheID != nil {
		targetID = *trancheID
	}

	// Idempotency marker first: a replayed event finds the row and stops.
	duplicate := false
	err = wh.DB.Transaction(func(tx *gorm.DB) error {
		var existing domain.Payment
		if err := tx.Where("stripe_payment_intent_id = ?", pi.ID).First(&existing).Error; err == nil {
			duplicate = true
			return nil
		}
		payment := domain.Payment{
			StripePaymentIntentID: pi.ID,
			StripeEventID:         eventID,
			InvestorID:            investorID,
			PoolID:                poolID,
			TargetID:              targetID,
			AmountPaidCents:       pi.AmountReceived,
			Currency:              pi.Currency,
			Status:                "processing",
			RawPaymentIntent:      datatypes.JSON(rawBody),
		}
		return tx.Create(&payment).Error
	})
	if err != nil {
		return err
	}
	if duplicate {
		return nil
	}

	var investor domain.User
	if err := wh.DB.Where("user_id = ?", investorID).First(&investor).Error; err != nil {
		wh.markPayment(pi.ID, "failed")
		return errors.New("payment references an unknown investor")
	}
	wallet := ""
	if investor.WalletAddress != nil {
		wallet = *investor.WalletAddress
	}

	_, err = wh.Investments.Invest(ctx, investsvc.InvestInput{
		InvestorID:     investorID,
		InvestorWallet: wallet,
		PoolID:         poolID,
		TrancheID:      trancheID,
		Amount:         amount,
	})
	if err != nil {
		wh.markPayment(pi.ID, "failed")
		return err
	}

	wh.markPayment(pi.ID, pi.Status)
	return nil
}

func (wh *WebhookHandler) markPayment(paymentIntentID, status string) {
	if err := wh.DB.Model(&domain.Payment{}).
		Where("stripe_payment_intent_id = ?", paymentIntentID).
		Update("status", status).Error; err != nil {
		log.Error().Err(err).Str("payment_intent", paymentIntentID).Msg("Could not update payment status")
	}
}

// verifyStripeSignature verifies the Stripe-Signature header using the webhook secret.
func verifyStripeSignature(payload []byte, sigHeader, secret string) error {
	if sigHeader == "" || secret == "" {
		return errors.New("missing signature or secret")
	}

	var timestamp string
	var signatures []string

	parts := strings.Split(sigHeader, ",")
	for _, part := range parts {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return errors.New("invalid signature format")
	}

	signedPayload := timestamp + "." + string(payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	expectedSig := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expectedSig)) {
			// Check tolerance (5 minutes)
			ts, err := strconv.ParseInt(timestamp, 10, 64)
			if err != nil {
				return errors.New("invalid timestamp")
			}
			diff := time.Now().Unix() - ts
			if diff < 0 {
				diff = -diff
			}
			if diff > 300 {
				return errors.New("timestamp too old")
			}
			return nil
		}
	}

	return errors.New("signature mismatch")
}
