package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lostfound/im-realtime-service/config"
	"github.com/lostfound/im-realtime-service/internal/domain/event"
	"github.com/lostfound/im-realtime-service/internal/domain/model"
	"github.com/lostfound/im-realtime-service/internal/domain/registry"
	"github.com/lostfound/im-realtime-service/internal/worker"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// [DELIVERY_SERVICE] PRIMARY INTERFACE FOR TRANSPORT HANDLERS (HTTP/WebSocket)
type Deliverer interface {
	SendMessage(ctx context.Context, in SendMessageInput) (*model.Message, error)
	DeleteMessage(ctx context.Context, id, requester string) (*model.Message, error)
	EditMessage(ctx context.Context, id, requester, content string) (*model.Message, error)
	MarkRead(ctx context.Context, id, reader string) (*model.Message, error)
	MarkConversationRead(ctx context.Context, reader, other string) (int64, error)
	ListMessages(ctx context.Context, me, other string, limit, skip int) ([]*model.Message, error)
	ListConversations(ctx context.Context, me string) ([]*model.ConversationSummary, error)
	UnreadCount(ctx context.Context, me string) (int64, error)
	Typing(ctx context.Context, from, conversationID, other string, started bool) (bool, error)
}

type SendMessageInput struct {
	From     string `json:"-"`
	To       string `json:"to_user"`
	Content  string `json:"content"`
	PostID   string `json:"post_id,omitempty"`
	PostLink string `json:"post_link,omitempty"`
	ReplyTo  string `json:"reply_to,omitempty"`
}

// EmailIntent asks the mail service to tell an addressee about a message.
type EmailIntent struct {
	Recipient      string    `json:"recipient"`
	Sender         string    `json:"sender"`
	SenderName     string    `json:"sender_name"`
	Preview        string    `json:"preview"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	PostLink       string    `json:"post_link,omitempty"`
	SentAt         time.Time `json:"sent_at"`
}

// EmailPublisher hands email intents to the out-of-process mail sender.
type EmailPublisher interface {
	PublishEmail(ctx context.Context, intent EmailIntent) error
}

type DeliveryService struct {
	hub           registry.Hubber
	users         Directory
	conversations ConversationStore
	messages      MessageStore
	notifier      Notifier
	email         EmailPublisher
	pool          worker.Submitter
	cfg           config.MessagingConfig
	recorder      Recorder
	logger        *slog.Logger
	now           func() time.Time
}

var _ Deliverer = (*DeliveryService)(nil)

// NewDeliveryService wires the delivery engine. email may be nil when no
// broker is configured; recorder may be nil.
func NewDeliveryService(
	hub registry.Hubber,
	users Directory,
	conversations ConversationStore,
	messages MessageStore,
	notifier Notifier,
	email EmailPublisher,
	pool worker.Submitter,
	cfg config.MessagingConfig,
	recorder Recorder,
	logger *slog.Logger,
) *DeliveryService {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &DeliveryService{
		hub:           hub,
		users:         users,
		conversations: conversations,
		messages:      messages,
		notifier:      notifier,
		email:         email,
		pool:          pool,
		cfg:           cfg,
		recorder:      recorder,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SendMessage persists a direct message and then tells whoever is online.
// Notifications and email are scheduled on the worker pool and never affect
// the result.
func (s *DeliveryService) SendMessage(ctx context.Context, in SendMessageInput) (msg *model.Message, err error) {
	ctx, span := startSpan(ctx, "DeliveryService.SendMessage",
		attribute.String("from", in.From), attribute.String("to", in.To))
	defer func() { endSpan(span, err) }()

	if err := model.ValidateIdentity(in.From); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.To) == "" {
		return nil, model.Invalid("to_user", "is required")
	}
	pair, err := model.NewPair(in.From, in.To)
	if err != nil {
		return nil, err
	}
	if err := s.validateContent(in.Content); err != nil {
		return nil, err
	}

	// [CONCURRENCY_OPTIMIZATION] recipient check and reply snapshot are independent
	var (
		recipient *model.User
		reply     *model.Message
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := s.users.Lookup(gCtx, in.To)
		if errors.Is(err, model.ErrNotFound) {
			return model.ErrRecipientNotFound
		}
		if err != nil {
			return fmt.Errorf("lookup recipient: %w", err)
		}
		if !u.CanConnect() {
			return model.ErrRecipientNotFound
		}
		recipient = u
		return nil
	})
	if in.ReplyTo != "" {
		g.Go(func() error {
			reply = s.replyTarget(gCtx, in.ReplyTo, pair)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := s.now()
	conv, err := s.conversations.UpsertConversation(ctx, pair, now)
	if err != nil {
		return nil, fmt.Errorf("upsert conversation: %w", err)
	}

	msg = &model.Message{
		ID:             model.NewSortableID(),
		ConversationID: conv.ID,
		From:           in.From,
		To:             in.To,
		Content:        in.Content,
		PostID:         in.PostID,
		PostLink:       in.PostLink,
		Timestamp:      now,
	}
	if reply != nil {
		msg.ReplyTo = reply.ID
		msg.ReplyContent = model.Snippet(reply.Content, s.cfg.ReplySnippetLen)
		msg.ReplyAuthor = reply.From
	}
	if err := s.messages.InsertMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if err := s.conversations.TouchConversation(ctx, conv.ID, msg.ID, now); err != nil {
		s.logger.Warn("CONVERSATION_TOUCH_FAILED", "conversation_id", conv.ID, "message_id", msg.ID, "err", err)
	}
	s.recorder.MessageSent()

	// [REALTIME] after the durable write only
	ev := event.NewMessageCreated(msg)
	for _, id := range pair.Members() {
		s.hub.SendTo(id, ev)
	}

	s.scheduleSideEffects(msg, recipient)
	return msg, nil
}

// replyTarget returns the referenced message when it belongs to the same
// conversation pair. Bad references are ignored.
func (s *DeliveryService) replyTarget(ctx context.Context, id string, pair model.Pair) *model.Message {
	ref, err := s.messages.GetMessage(ctx, id)
	if err != nil {
		if !errors.Is(err, model.ErrNotFound) {
			s.logger.Warn("REPLY_LOOKUP_FAILED", "reply_to", id, "err", err)
		}
		return nil
	}
	if ref.Participants() != pair {
		return nil
	}
	return ref
}

func (s *DeliveryService) scheduleSideEffects(msg *model.Message, recipient *model.User) {
	sender := msg.From
	// [DURABLE] the recipient's notification is part of the send contract;
	// only the email intent may be shed under load
	s.pool.SubmitDurable("notify_message", func(ctx context.Context) error {
		_, err := s.notifier.Notify(ctx, NotifyInput{
			Target:        msg.To,
			Category:      model.CategoryMessage,
			Title:         "New message from " + sender,
			Body:          model.Snippet(msg.Content, s.cfg.ReplySnippetLen),
			RelatedPostID: msg.PostID,
			RelatedUser:   sender,
			Payload: map[string]any{
				"message_id":      msg.ID,
				"conversation_id": msg.ConversationID,
			},
		})
		return err
	})

	if s.email == nil {
		return
	}
	s.pool.Submit("email_intent", func(ctx context.Context) error {
		senderName := sender
		if u, err := s.users.Lookup(ctx, sender); err == nil {
			senderName = u.DisplayName()
		}
		return s.email.PublishEmail(ctx, EmailIntent{
			Recipient:      recipient.Username,
			Sender:         sender,
			SenderName:     senderName,
			Preview:        model.Snippet(msg.Content, s.cfg.ReplySnippetLen),
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			PostLink:       msg.PostLink,
			SentAt:         msg.Timestamp,
		})
	})
}

// DeleteMessage recalls a message. The record stays in place with the
// tombstone text so ordering and ids do not change. Repeating the call is a
// no-op.
func (s *DeliveryService) DeleteMessage(ctx context.Context, id, requester string) (msg *model.Message, err error) {
	ctx, span := startSpan(ctx, "DeliveryService.DeleteMessage", attribute.String("message_id", id))
	defer func() { endSpan(span, err) }()

	msg, err = s.ownMessage(ctx, id, requester)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return msg, nil
	}

	now := s.now()
	if s.cfg.DeleteWindow > 0 && now.Sub(msg.Timestamp) > s.cfg.DeleteWindow {
		return nil, model.ErrDeleteWindowExpired
	}
	if err := s.messages.SoftDeleteMessage(ctx, msg.ID, model.TombstoneContent, now); err != nil {
		return nil, fmt.Errorf("delete message: %w", err)
	}
	msg.Content = model.TombstoneContent
	msg.IsDeleted = true
	msg.DeletedAt = &now

	s.pushToParticipants(msg, event.NewMessageDeleted(msg, requester, now))
	return msg, nil
}

// EditMessage replaces the content of a message within the edit window.
func (s *DeliveryService) EditMessage(ctx context.Context, id, requester, content string) (msg *model.Message, err error) {
	ctx, span := startSpan(ctx, "DeliveryService.EditMessage", attribute.String("message_id", id))
	defer func() { endSpan(span, err) }()

	if err := s.validateContent(content); err != nil {
		return nil, err
	}
	msg, err = s.ownMessage(ctx, id, requester)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, model.ErrMessageDeleted
	}

	now := s.now()
	if s.cfg.EditWindow > 0 && now.Sub(msg.Timestamp) > s.cfg.EditWindow {
		return nil, model.ErrEditWindowExpired
	}
	if err := s.messages.EditMessage(ctx, msg.ID, content, now); err != nil {
		return nil, fmt.Errorf("edit message: %w", err)
	}
	msg.Content = content
	msg.IsEdited = true
	msg.EditedAt = &now

	s.pushToParticipants(msg, event.NewMessageEdited(msg))
	return msg, nil
}

func (s *DeliveryService) ownMessage(ctx context.Context, id, requester string) (*model.Message, error) {
	if strings.TrimSpace(id) == "" {
		return nil, model.Invalid("message_id", "is required")
	}
	msg, err := s.messages.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.From != requester {
		return nil, model.ErrNotSender
	}
	return msg, nil
}

// MarkRead marks a message as read by its recipient and tells the sender.
// Marking an already read message changes nothing.
func (s *DeliveryService) MarkRead(ctx context.Context, id, reader string) (msg *model.Message, err error) {
	ctx, span := startSpan(ctx, "DeliveryService.MarkRead", attribute.String("message_id", id))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(id) == "" {
		return nil, model.Invalid("message_id", "is required")
	}
	msg, err = s.messages.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.To != reader {
		return nil, model.ErrNotRecipient
	}
	if msg.IsRead {
		return msg, nil
	}

	now := s.now()
	changed, err := s.messages.MarkMessageRead(ctx, msg.ID, now)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	msg.IsRead = true
	if !changed {
		// a concurrent reader won; its receipt has been sent
		return msg, nil
	}
	msg.ReadAt = &now

	s.hub.SendTo(msg.From, event.NewMessageRead(msg, reader, now))
	return msg, nil
}

// MarkConversationRead marks everything other sent to reader as read.
func (s *DeliveryService) MarkConversationRead(ctx context.Context, reader, other string) (n int64, err error) {
	ctx, span := startSpan(ctx, "DeliveryService.MarkConversationRead")
	defer func() { endSpan(span, err) }()

	conv, err := s.findConversation(ctx, reader, other)
	if err != nil || conv == nil {
		return 0, err
	}

	now := s.now()
	n, err = s.messages.MarkConversationRead(ctx, conv.ID, reader, now)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	if n > 0 {
		s.hub.SendTo(other, event.NewMessagesRead(reader, n, now))
	}
	return n, nil
}

// ListMessages returns a chronological page of the conversation between me
// and other, tombstones included.
func (s *DeliveryService) ListMessages(ctx context.Context, me, other string, limit, skip int) ([]*model.Message, error) {
	conv, err := s.findConversation(ctx, me, other)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return []*model.Message{}, nil
	}
	limit, skip = page(limit, skip)
	return s.messages.ListMessages(ctx, conv.ID, limit, skip)
}

// findConversation returns nil without error when the pair never talked.
func (s *DeliveryService) findConversation(ctx context.Context, me, other string) (*model.Conversation, error) {
	pair, err := model.NewPair(me, other)
	if err != nil {
		return nil, err
	}
	conv, err := s.conversations.FindConversation(ctx, pair)
	if errors.Is(err, model.ErrNotFound) {
		return nil, nil
	}
	return conv, err
}

// ListConversations builds the inbox of me, most recent first.
func (s *DeliveryService) ListConversations(ctx context.Context, me string) (out []*model.ConversationSummary, err error) {
	ctx, span := startSpan(ctx, "DeliveryService.ListConversations")
	defer func() { endSpan(span, err) }()

	if err := model.ValidateIdentity(me); err != nil {
		return nil, err
	}
	convs, err := s.conversations.ListConversations(ctx, me)
	if err != nil {
		return nil, err
	}

	out = make([]*model.ConversationSummary, len(convs))
	others := make([]string, len(convs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, conv := range convs {
		others[i] = conv.Participants.Other(me)
		out[i] = &model.ConversationSummary{
			ID:        conv.ID,
			OtherUser: others[i],
			IsOnline:  s.hub.IsOnline(others[i]),
			UpdatedAt: conv.UpdatedAt,
		}
		g.Go(func() error {
			unread, err := s.messages.CountUnread(gCtx, conv.ID, me)
			if err != nil {
				return err
			}
			out[i].UnreadCount = unread
			if conv.LastMessageID == "" {
				return nil
			}
			last, err := s.messages.GetMessage(gCtx, conv.LastMessageID)
			if errors.Is(err, model.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			out[i].LastMessage = last
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("build conversation summaries: %w", err)
	}

	infos, err := s.users.Resolve(ctx, others)
	if err != nil {
		// [RESILIENCE] profile data is decoration; keep the inbox usable
		s.logger.Warn("CONVERSATION_PROFILES_UNAVAILABLE", "user", me, "err", err)
		return out, nil
	}
	for _, sum := range out {
		sum.OtherInfo = infos[sum.OtherUser]
	}
	return out, nil
}

func (s *DeliveryService) UnreadCount(ctx context.Context, me string) (int64, error) {
	if err := model.ValidateIdentity(me); err != nil {
		return 0, err
	}
	return s.messages.CountUnread(ctx, "", me)
}

// Typing mirrors a typing indicator to other. It reports whether the frame
// was queued; an offline counterpart is not an error.
func (s *DeliveryService) Typing(_ context.Context, from, conversationID, other string, started bool) (bool, error) {
	if _, err := model.NewPair(from, other); err != nil {
		return false, err
	}
	if strings.TrimSpace(conversationID) == "" {
		return false, model.Invalid("conversation_id", "is required")
	}
	return s.hub.SendTo(other, event.NewTyping(from, conversationID, started)), nil
}

func (s *DeliveryService) pushToParticipants(msg *model.Message, ev event.Eventer) {
	for _, id := range msg.Participants().Members() {
		s.hub.SendTo(id, ev)
	}
}

func (s *DeliveryService) validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return model.Invalid("content", "is empty")
	}
	if limit := s.cfg.MaxContentLength; limit > 0 && utf8.RuneCountInString(content) > limit {
		return model.Invalid("content", fmt.Sprintf("exceeds %d characters", limit))
	}
	return nil
}

func page(limit, skip int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if skip < 0 {
		skip = 0
	}
	return limit, skip
}
