// Package notify pages the on-call moderator over SMS via the Twilio API
// when a report is too urgent to wait in the moderator channels.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/modflow/ModFlow/internal/models"
)

// messageCreator is the slice of the Twilio API the pager uses; tests
// substitute a fake.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Opts holds configuration options for the pager.
type Opts struct {
	AccountSID string
	AuthToken  string
	From       string
	OnCall     string
}

// Option defines a configuration option for the pager.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFrom sets the sending phone number.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// WithOnCall sets the on-call moderator's phone number.
func WithOnCall(number string) Option {
	return func(o *Opts) { o.OnCall = number }
}

// Pager sends urgent-report pages by SMS.
type Pager struct {
	api    messageCreator
	from   string
	onCall string
}

// NewPager creates a pager. Options fall back to the TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN, TWILIO_FROM_NUMBER, and MODFLOW_ONCALL_NUMBER
// environment variables.
func NewPager(opts ...Option) (*Pager, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.OnCall == "" {
		cfg.OnCall = os.Getenv("MODFLOW_ONCALL_NUMBER")
	}
	slog.Debug("Twilio pager config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "",
		"OnCall_set", cfg.OnCall != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" || cfg.OnCall == "" {
		return nil, fmt.Errorf("from and on-call numbers must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &Pager{api: client.Api, from: cfg.From, onCall: cfg.OnCall}, nil
}

// PageUrgent sends an SMS about a report at or above the paging threshold.
func (p *Pager) PageUrgent(ctx context.Context, id string, category models.AbuseCategory, urgency int) error {
	body := fmt.Sprintf("[ModFlow] %s report %s filed at %s urgency — review needed now.",
		category.Display(), id, models.UrgencyDisplay(urgency))
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(p.onCall)
	params.SetFrom(p.from)
	params.SetBody(body)

	if _, err := p.api.CreateMessage(params); err != nil {
		return fmt.Errorf("failed to page on-call moderator: %w", err)
	}
	slog.Info("paged on-call moderator", "report", id, "category", category)
	return nil
}

// Escalate sends an SMS confirming a case was escalated to the competent
// authority, so the on-call moderator can follow up out of band.
func (p *Pager) Escalate(ctx context.Context, id string, category models.AbuseCategory) error {
	body := fmt.Sprintf("[ModFlow] %s report %s escalated to the competent authority — follow up and confirm receipt.",
		category.Display(), id)
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(p.onCall)
	params.SetFrom(p.from)
	params.SetBody(body)

	if _, err := p.api.CreateMessage(params); err != nil {
		return fmt.Errorf("failed to send escalation page: %w", err)
	}
	slog.Info("escalation paged", "report", id, "category", category)
	return nil
}
