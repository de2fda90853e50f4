package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/gymledger/internal/config"
	"github.com/mamadbah2/gymledger/internal/domain/models"
	"github.com/mamadbah2/gymledger/internal/service/commands"
	client "github.com/mamadbah2/gymledger/pkg/clients/whatsapp"
)

const replyTimeout = 10 * time.Second

// MessagingService describes the operations the HTTP layer can perform.
type MessagingService interface {
	VerifyWebhookToken(mode, verifyToken, challenge string) (string, error)
	HandleWebhook(ctx context.Context, payload models.WebhookPayload) WebhookResult
}

// CommandStatus is what happened to one inbound message.
type CommandStatus string

const (
	// StatusDone means the command ran.
	StatusDone CommandStatus = "done"
	// StatusRejected means the dispatcher refused the command; the sender
	// still gets the reason.
	StatusRejected CommandStatus = "rejected"
	// StatusIgnored covers unknown senders and messages without text.
	StatusIgnored CommandStatus = "ignored"
)

// CommandOutcome reports one inbound message.
type CommandOutcome struct {
	MessageID string             `json:"message_id"`
	From      string             `json:"from"`
	Command   models.CommandType `json:"command,omitempty"`
	Status    CommandStatus      `json:"status"`
	Error     string             `json:"error,omitempty"`
	Replied   bool               `json:"replied"`
}

// WebhookResult lists the outcome of every message in a callback, in order.
type WebhookResult struct {
	Outcomes []CommandOutcome `json:"outcomes"`
}

// Count returns the number of messages that ended with status.
func (r WebhookResult) Count(status CommandStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Undelivered returns the number of replies that could not be sent.
func (r WebhookResult) Undelivered() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status != StatusIgnored && !o.Replied {
			n++
		}
	}
	return n
}

// MetaWhatsAppService is the production implementation backed by WhatsApp Cloud API.
type MetaWhatsAppService struct {
	cfg        config.WhatsAppConfig
	client     client.Client
	dispatcher commands.Dispatcher
	allowed    map[string]bool
	logger     *zap.Logger
}

// NewMetaWhatsAppService wires a new service instance. Only the numbers in
// cfg.Senders() may issue commands.
func NewMetaWhatsAppService(cfg config.WhatsAppConfig, client client.Client, dispatcher commands.Dispatcher, logger *zap.Logger) *MetaWhatsAppService {
	svc := &MetaWhatsAppService{
		cfg:        cfg,
		client:     client,
		dispatcher: dispatcher,
		allowed:    make(map[string]bool),
		logger:     logger,
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	for _, sender := range cfg.Senders() {
		svc.allowed[sender] = true
	}
	return svc
}

// VerifyWebhookToken validates the callback verification token.
func (s *MetaWhatsAppService) VerifyWebhookToken(mode, verifyToken, challenge string) (string, error) {
	if mode == "" || verifyToken == "" {
		return "", errors.New("missing mode or verify token")
	}

	if !strings.EqualFold(mode, "subscribe") {
		return "", fmt.Errorf("unsupported hub.mode %s", mode)
	}

	if verifyToken != s.cfg.VerifyToken {
		return "", errors.New("invalid verify token")
	}

	return challenge, nil
}

// HandleWebhook runs the commands carried by a callback and replies to each
// sender. Failures are reported per message rather than aborting the batch:
// a command that already recorded a sale must not run again.
func (s *MetaWhatsAppService) HandleWebhook(ctx context.Context, payload models.WebhookPayload) WebhookResult {
	var result WebhookResult
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				result.Outcomes = append(result.Outcomes, s.handleInboundMessage(ctx, msg))
			}
		}
	}
	return result
}

func (s *MetaWhatsAppService) handleInboundMessage(ctx context.Context, msg models.InboundMessage) CommandOutcome {
	outcome := CommandOutcome{MessageID: msg.ID, From: msg.From, Status: StatusIgnored}
	if !s.allowed[msg.From] {
		s.logger.Warn("ignoring message from unknown sender", zap.String("from", msg.From))
		return outcome
	}

	text := extractMessageText(msg)
	if text == "" {
		return outcome
	}

	cmd := models.ParseCommand(text)
	outcome.Command = cmd.Type
	s.logger.Info("parsed inbound command",
		zap.String("from", msg.From),
		zap.String("command", string(cmd.Type)),
		zap.Strings("args", cmd.Args))

	reply, err := s.dispatcher.HandleCommand(ctx, cmd, msg.From)
	outcome.Status = StatusDone
	if err != nil {
		reply = replyForError(err)
		outcome.Status = StatusRejected
		outcome.Error = err.Error()
		s.logger.Warn("command failed", zap.String("command", string(cmd.Type)), zap.Error(err))
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	if _, err := s.client.SendTextMessage(ctxWithTimeout, client.SendTextMessageRequest{
		To:   msg.From,
		Body: reply,
	}); err != nil {
		s.logger.Error("failed to send command reply",
			zap.String("message_id", msg.ID),
			zap.String("status", string(outcome.Status)),
			zap.Error(err))
		return outcome
	}
	outcome.Replied = true
	return outcome
}

func replyForError(err error) string {
	if errors.Is(err, commands.ErrUnsupportedCommand) {
		return "Unknown command. Send /help for the list."
	}
	return "Could not complete the command: " + err.Error()
}

func extractMessageText(msg models.InboundMessage) string {
	if msg.Text != nil {
		return strings.TrimSpace(msg.Text.Body)
	}

	if msg.Interactive != nil {
		if msg.Interactive.ButtonReply != nil {
			return msg.Interactive.ButtonReply.ID
		}
		if msg.Interactive.ListReply != nil {
			return msg.Interactive.ListReply.ID
		}
	}

	return ""
}
