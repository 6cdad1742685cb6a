package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Log writes each notification to the process log.
type Log struct {
	Logger *logrus.Entry
}

func (l Log) Send(ctx context.Context, n Notification) error {
	if l.Logger == nil {
		return nil
	}
	l.Logger.WithContext(ctx).WithFields(logrus.Fields{
		"notification_id": n.ID,
		"kind":            n.Kind,
		"recipient_id":    n.RecipientID,
	}).Info(n.Title)
	return nil
}
