package engine

import (
	"context"
	"errors"

	"crewline/internal/domain"
	"crewline/internal/events"
)

// SendMessage drops a message into the recipient's inbox.
func (e Engine) SendMessage(ctx context.Context, sender, recipient, subject, body string) (domain.Message, error) {
	if sender == "" || recipient == "" {
		return domain.Message{}, errors.New("sender and recipient are required")
	}
	if body == "" {
		return domain.Message{}, errors.New("body is required")
	}
	m := domain.Message{
		ID:        e.newID(),
		Sender:    sender,
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		SentAt:    e.timestamp(),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertMessage(ctx, tx, m); err != nil {
		return domain.Message{}, err
	}
	e.Events.Record(ctx, tx, "message.sent", "message", m.ID, sender, events.EventPayload{"recipient": recipient})
	if err := tx.Commit(); err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

// ListMessages returns a recipient's inbox, newest first.
func (e Engine) ListMessages(ctx context.Context, recipient string, unreadOnly bool) ([]domain.Message, error) {
	return e.Repo.ListMessages(ctx, recipient, unreadOnly)
}

// MarkMessageRead stamps a message as read. Fails with repo.ErrNotFound if
// the message is unknown or was already read.
func (e Engine) MarkMessageRead(ctx context.Context, id string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.MarkMessageRead(ctx, tx, id, e.timestamp()); err != nil {
		return err
	}
	return tx.Commit()
}
