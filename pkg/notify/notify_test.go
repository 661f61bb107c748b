package notify

import (
	"context"
	"errors"
	"testing"

	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/harunnryd/rehearsal/pkg/errorsx"
	"github.com/harunnryd/rehearsal/pkg/tavus"
)

type stubCreator struct {
	last *api.CreateMessageParams
	sid  string
	err  error
}

func (s *stubCreator) CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error) {
	s.last = params
	if s.err != nil {
		return nil, s.err
	}
	return &api.ApiV2010Message{Sid: &s.sid}, nil
}

var validConfig = TwilioConfig{AccountSID: "AC1", AuthToken: "token", From: "+200", To: "+100"}

func TestTwilioSMSSendsJoinLink(t *testing.T) {
	stub := &stubCreator{sid: "SM123"}
	n := NewTwilioSMS(validConfig, nil)
	n.client = stub

	conv := tavus.Conversation{ConversationID: "c1", ConversationURL: "https://tavus.daily.co/c1"}
	if err := n.ConversationReady(context.Background(), conv); err != nil {
		t.Fatalf("send: %v", err)
	}
	if stub.last == nil || stub.last.To == nil || *stub.last.To != "+100" {
		t.Fatalf("expected To param")
	}
	if stub.last.From == nil || *stub.last.From != "+200" {
		t.Fatalf("expected From param")
	}
	if stub.last.Body == nil || *stub.last.Body != "Your AI coach is ready: https://tavus.daily.co/c1" {
		t.Fatalf("unexpected body")
	}
}

func TestTwilioSMSFailures(t *testing.T) {
	conv := tavus.Conversation{ConversationID: "c1", ConversationURL: "u"}

	n := NewTwilioSMS(TwilioConfig{AccountSID: "AC1"}, nil)
	n.client = &stubCreator{sid: "SM1"}
	if err := n.ConversationReady(context.Background(), conv); !errorsx.HasReason(err, errorsx.ReasonNotifySend) {
		t.Fatalf("expected notify error for missing config, got %v", err)
	}

	n = NewTwilioSMS(validConfig, nil)
	n.client = &stubCreator{err: errors.New("boom")}
	if err := n.ConversationReady(context.Background(), conv); !errorsx.HasReason(err, errorsx.ReasonNotifySend) {
		t.Fatalf("expected notify error, got %v", err)
	}

	if err := (Noop{}).ConversationReady(context.Background(), conv); err != nil {
		t.Fatalf("noop: %v", err)
	}
}
