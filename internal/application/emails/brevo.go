package emails

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const brevoAPI = "https://api.brevo.com/v3/smtp/email"

// BrevoSendRequest matches Brevo API v3 send transactional email body.
type BrevoSendRequest struct {
	Sender      BrevoSender   `json:"sender"`
	To          []BrevoTo     `json:"to"`
	Subject     string        `json:"subject"`
	HTMLContent string        `json:"htmlContent"`
	ReplyTo     *BrevoReplyTo `json:"replyTo,omitempty"`
}

type BrevoSender struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type BrevoTo struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type BrevoReplyTo struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Sender sends transactional emails (welcome, distribution settled). Nil =
// no-op: notifications are optional and never fail a money path.
type Sender interface {
	SendWelcome(ctx context.Context, toEmail, firstName string) error
	SendDistributionSettled(ctx context.Context, toEmail, firstName, amount, poolName string) error
}

// BrevoClient sends emails via the Brevo (Sendinblue) API.
type BrevoClient struct {
	APIKey   string
	MailFrom string
	Client   *http.Client
}

func (c *BrevoClient) from() string {
	if c.MailFrom != "" {
		return c.MailFrom
	}
	return "noreply@wekeza.africa"
}

// send sends one email via Brevo API.
func (c *BrevoClient) send(ctx context.Context, toEmail, subject, html string) error {
	if c.APIKey == "" {
		return nil
	}
	body := BrevoSendRequest{
		Sender:      BrevoSender{Email: c.from(), Name: "Wekeza"},
		To:          []BrevoTo{{Email: toEmail}},
		Subject:     subject,
		HTMLContent: html,
		ReplyTo:     &BrevoReplyTo{Email: "support@wekeza.africa", Name: "Wekeza Support"},
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, brevoAPI, bytes.NewReader(bodyBytes))
	if err != nil {
		return err
	}
	req.Header.Set("api-key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.Client == nil {
		c.Client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("brevo send failed: status %d", resp.StatusCode)
	}
	return nil
}

// SendWelcome sends the welcome email after account creation.
func (c *BrevoClient) SendWelcome(ctx context.Context, toEmail, firstName string) error {
	if c.APIKey == "" {
		return nil
	}
	if firstName == "" {
		firstName = "there"
	}
	return c.send(ctx, toEmail, "Welcome to Wekeza!", EmailLayout(welcomeContent(firstName)))
}

// SendDistributionSettled notifies a holder that a dividend payout settled.
func (c *BrevoClient) SendDistributionSettled(ctx context.Context, toEmail, firstName, amount, poolName string) error {
	if c.APIKey == "" {
		return nil
	}
	if firstName == "" {
		firstName = "there"
	}
	subject := fmt.Sprintf("Your payout from %s has settled", poolName)
	return c.send(ctx, toEmail, subject, EmailLayout(distributionContent(firstName, amount, poolName)))
}

func welcomeContent(userName string) string {
	dashboardURL := "https://wekeza.africa/"
	return fmt.Sprintf(`
    <h1>Welcome aboard, %s!</h1>
    <p>Thank you for joining <strong>Wekeza</strong>. Your account has been created, and you can now browse investment pools backed by real-world assets and trade receivables.</p>
    <p>Once your eligibility check completes you can invest in any active pool and follow your returns from your dashboard.</p>
    <center>
      <a href="%s" class="wekeza-button">Explore Active Pools</a>
    </center>
    <p style="margin-top: 20px; font-size: 14px; color: #666;">
      If you did not sign up for this account, please contact our support team immediately.
    </p>
    <p>— The Wekeza Team</p>
`, EscapeHTML(userName), dashboardURL)
}

func distributionContent(userName, amount, poolName string) string {
	dashboardURL := "https://wekeza.africa/"
	return fmt.Sprintf(`
    <h1>Payout Settled</h1>
    <p>Hi %s,</p>
    <p>A yield distribution from <strong>%s</strong> has settled on chain. Your share of <strong>%s USDC</strong> has been transferred to your wallet.</p>
    <center>
      <a href="%s" class="wekeza-button">View Your Portfolio</a>
    </center>
    <p>— The Wekeza Team</p>
`, EscapeHTML(userName), EscapeHTML(poolName), EscapeHTML(amount), dashboardURL)
}
