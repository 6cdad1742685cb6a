package repo

import (
	"context"
	"database/sql"

	"github.com/go-faster/errors"

	"caseline/internal/domain"
)

func (r Repo) InsertNotification(ctx context.Context, n domain.Notification) error {
	payload := n.PayloadJSON
	if payload == "" {
		payload = "{}"
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO notifications(id,recipient_id,kind,title,body,payload_json,created_at,read_at) VALUES (?,?,?,?,?,?,?,?)`,
		n.ID, n.RecipientID, n.Kind, n.Title, n.Body, payload, n.CreatedAt, nullableStringPtr(n.ReadAt))
	if err != nil {
		return errors.Wrap(err, "insert notification")
	}
	return nil
}

func (r Repo) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	query := `SELECT id,recipient_id,kind,title,body,payload_json,created_at,read_at FROM notifications WHERE recipient_id=?`
	args := []any{recipientID}
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list notifications")
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var readAt sql.NullString
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Kind, &n.Title, &n.Body, &n.PayloadJSON, &n.CreatedAt, &readAt); err != nil {
			return nil, errors.Wrap(err, "scan notification")
		}
		n.ReadAt = stringPtr(readAt)
		res = append(res, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list notifications")
	}
	return res, nil
}

func (r Repo) MarkNotificationRead(ctx context.Context, id, recipientID, at string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET read_at=COALESCE(read_at, ?) WHERE id=? AND recipient_id=?`, at, id, recipientID)
	if err != nil {
		return errors.Wrap(err, "mark notification read")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
