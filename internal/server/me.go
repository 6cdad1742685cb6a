package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-faster/errors"

	"caseline/internal/domain"
	"caseline/internal/engine"
	"caseline/internal/engine/auth"
	"caseline/internal/repo"
)

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func (h handlers) now() time.Time {
	if h.e.Now != nil {
		return h.e.Now().UTC()
	}
	return time.Now().UTC()
}

func (h handlers) registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current user, permissions and visible teams",
		Tags:        []string{"me"},
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*output[MeResponse], error) {
		u, err := h.caller(ctx, "")
		if err != nil {
			return nil, h.respond(ctx, err)
		}
		teams, err := h.e.VisibleTeams(ctx, u)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		p, _ := principalFromContext(ctx)
		return reply(MeResponse{
			User:        u,
			Permissions: nonNilSlice(h.e.Auth.Permissions(u.Role)),
			Teams:       nonNilSlice(teams),
			AuthSource:  p.Source,
		}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "my-notifications",
		Method:      http.MethodGet,
		Path:        "/me/notifications",
		Summary:     "Notifications addressed to the current user",
		Tags:        []string{"me"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		Unread bool `query:"unread"`
		Limit  int  `query:"limit" default:"50"`
	}) (*output[NotificationList], error) {
		u, err := h.caller(ctx, auth.PermNotificationRead)
		if err != nil {
			return nil, h.respond(ctx, err)
		}
		items, err := h.e.Repo.ListNotifications(ctx, u.ID, input.Unread, normalizeLimit(input.Limit))
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(NotificationList{Items: nonNilSlice(items)}), nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "read-notification",
		Method:        http.MethodPost,
		Path:          "/me/notifications/{id}/read",
		Summary:       "Mark a notification as read",
		Tags:          []string{"me"},
		DefaultStatus: http.StatusNoContent,
		Errors:        commonErrors,
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		u, err := h.caller(ctx, auth.PermNotificationRead)
		if err != nil {
			return nil, h.respond(ctx, err)
		}
		err = h.e.Repo.MarkNotificationRead(ctx, input.ID, u.ID, h.now().Format(time.RFC3339))
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				err = engine.NotFoundError{Kind: "notification", ID: input.ID}
			}
			return nil, h.fail(ctx, err)
		}
		return &struct{}{}, nil
	})
}

func eventResponse(evt domain.Event) EventResponse {
	payload := map[string]any{}
	if strings.TrimSpace(evt.Payload) != "" {
		_ = json.Unmarshal([]byte(evt.Payload), &payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func (h handlers) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit trail, newest first",
		Tags:        []string{"events"},
		Errors:      commonErrors,
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"incident,case,worker"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*output[EventPage], error) {
		if _, err := h.caller(ctx, auth.PermEventRead); err != nil {
			return nil, h.respond(ctx, err)
		}
		limit := normalizeLimit(input.Limit)
		var cursor int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, h.fail(ctx, engine.ValidationError{Field: "cursor", Reason: "must be an event id"})
			}
			cursor = parsed
		}
		items, err := h.e.Repo.LatestEvents(ctx, repo.EventFilters{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursor,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		page := EventPage{Items: []EventResponse{}}
		if len(items) > limit {
			page.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			page.Items = append(page.Items, eventResponse(evt))
		}
		return reply(page), nil
	})
}

func (h handlers) registerDevAuth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for a known user",
		Tags:        []string{"auth"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest
	}) (*output[DevLoginResponse], error) {
		userID := strings.TrimSpace(input.Body.UserID)
		if userID == "" {
			return nil, h.fail(ctx, engine.ValidationError{Field: "user_id", Reason: "is required"})
		}
		if strings.TrimSpace(h.auth.JWTSecret) == "" {
			return nil, h.fail(ctx, engine.ValidationError{Field: "user_id", Reason: "dev login needs a jwt secret"})
		}
		u, err := h.e.Actor(ctx, userID)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		now := time.Now().UTC()
		ttl := h.auth.TokenTTL
		if ttl <= 0 {
			ttl = 12 * time.Hour
		}
		token, err := signToken(h.auth.JWTSecret, u.ID, u.Role, ttl, now)
		if err != nil {
			return nil, h.fail(ctx, err)
		}
		return reply(DevLoginResponse{Token: token, ExpiresAt: now.Add(ttl).Format(time.RFC3339)}), nil
	})
}
