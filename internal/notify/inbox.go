package notify

import (
	"context"
	"encoding/json"

	"caseline/internal/domain"
	"caseline/internal/repo"
)

// Inbox stores notifications as rows users read from /me/notifications.
type Inbox struct {
	Repo repo.Repo
}

func (i Inbox) Send(ctx context.Context, n Notification) error {
	payload := "{}"
	if len(n.Data) > 0 {
		data, err := json.Marshal(n.Data)
		if err != nil {
			return err
		}
		payload = string(data)
	}
	return i.Repo.InsertNotification(ctx, domain.Notification{
		ID:          n.ID,
		RecipientID: n.RecipientID,
		Kind:        n.Kind,
		Title:       n.Title,
		Body:        n.Body,
		PayloadJSON: payload,
		CreatedAt:   n.CreatedAt,
	})
}
