// Package notify delivers the conversation join link once the AI coach is ready.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/harunnryd/rehearsal/pkg/errorsx"
	"github.com/harunnryd/rehearsal/pkg/logging"
	"github.com/harunnryd/rehearsal/pkg/tavus"
)

// Notifier announces a ready conversation.
type Notifier interface {
	ConversationReady(ctx context.Context, conv tavus.Conversation) error
}

// Noop drops every notification.
type Noop struct{}

func (Noop) ConversationReady(context.Context, tavus.Conversation) error { return nil }

type messageCreator interface {
	CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error)
}

type TwilioConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	From       string `mapstructure:"from"`
	To         string `mapstructure:"to"`
}

func (c TwilioConfig) Validate() error {
	var missing []string
	if strings.TrimSpace(c.AccountSID) == "" {
		missing = append(missing, "account_sid")
	}
	if strings.TrimSpace(c.AuthToken) == "" {
		missing = append(missing, "auth_token")
	}
	if strings.TrimSpace(c.From) == "" {
		missing = append(missing, "from")
	}
	if strings.TrimSpace(c.To) == "" {
		missing = append(missing, "to")
	}
	if len(missing) > 0 {
		return fmt.Errorf("twilio notify config missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// TwilioSMS texts the join link through the Twilio Messages API.
type TwilioSMS struct {
	cfg    TwilioConfig
	client messageCreator
	logger *slog.Logger
}

func NewTwilioSMS(cfg TwilioConfig, logger *slog.Logger) *TwilioSMS {
	return &TwilioSMS{cfg: cfg, logger: logging.NewComponentLogger(logger, "notify")}
}

// MessageBody is the text sent for a ready conversation.
func MessageBody(conv tavus.Conversation) string {
	return "Your AI coach is ready: " + conv.ConversationURL
}

func (n *TwilioSMS) ConversationReady(ctx context.Context, conv tavus.Conversation) error {
	_ = ctx
	if err := n.cfg.Validate(); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonNotifySend)
	}
	if conv.ConversationURL == "" {
		return errorsx.Wrap(errors.New("conversation has no join url"), errorsx.ReasonNotifySend)
	}
	client := n.client
	if client == nil {
		rest := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: n.cfg.AccountSID,
			Password: n.cfg.AuthToken,
		})
		client = rest.Api
	}
	params := &api.CreateMessageParams{}
	params.SetTo(n.cfg.To)
	params.SetFrom(n.cfg.From)
	params.SetBody(MessageBody(conv))

	resp, err := client.CreateMessage(params)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("send join link: %w", err), errorsx.ReasonNotifySend)
	}
	if resp == nil || resp.Sid == nil {
		return errorsx.Wrap(errors.New("missing message sid"), errorsx.ReasonNotifySend)
	}
	n.logger.Info("join link sent",
		slog.String("conversation_id", conv.ConversationID),
		slog.String("message_sid", *resp.Sid))
	return nil
}
