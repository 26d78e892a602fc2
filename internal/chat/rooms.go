package chat

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"ohtalk/server/internal/apperr"
	"ohtalk/server/internal/models"
	"ohtalk/server/internal/store"

	"github.com/samber/lo"
)

// RoomDirectory owns rooms and their membership
type RoomDirectory struct {
	*deps
}

// LeaveResult reports what leaving did to the room
type LeaveResult struct {
	RoomDeleted bool   `json:"roomDeleted"`
	NewOwnerID  string `json:"newOwnerId,omitempty"`
}

// CreateRoom creates a GROUP room, or returns the existing DIRECT room between the two participants.
// The requester is always a participant and becomes OWNER of a new room.
func (r *RoomDirectory) CreateRoom(ctx context.Context, requesterID string, req CreateRoomRequest) (models.Room, error) {
	if requesterID == "" {
		return models.Room{}, apperr.BadRequest("requester is required")
	}
	if err := validateRequest(req); err != nil {
		return models.Room{}, err
	}
	name := strings.TrimSpace(req.Name)
	if req.Type == models.RoomGroup && name == "" {
		return models.Room{}, apperr.BadRequest("group chat room name is required")
	}

	participants := lo.Uniq(append([]string{requesterID}, req.MemberIDs...))
	users, err := r.requireUsers(ctx, r.store, participants)
	if err != nil {
		return models.Room{}, err
	}

	switch req.Type {
	case models.RoomDirect:
		if len(participants) != 2 {
			return models.Room{}, apperr.BadRequest("a direct chat room needs exactly 2 participants")
		}
		return r.openDirect(ctx, requesterID, participants, users)
	default:
		if len(participants) < 2 {
			return models.Room{}, apperr.BadRequest("a group chat room needs at least 2 participants")
		}
		return r.createGroup(ctx, requesterID, name, participants)
	}
}

// requireUsers resolves ids against the user directory, failing with every missing id.
func (r *RoomDirectory) requireUsers(ctx context.Context, q store.Queries, ids []string) (map[string]models.User, error) {
	found, err := q.FindUsers(ctx, ids)
	if err != nil {
		return nil, dbErr(err)
	}
	users := lo.KeyBy(found, func(u models.User) string { return u.ID })
	missing := lo.Filter(ids, func(id string, _ int) bool {
		_, ok := users[id]
		return !ok
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, apperr.NotFound("users not found: %s", strings.Join(missing, ", "))
	}
	return users, nil
}

func (r *RoomDirectory) createGroup(ctx context.Context, ownerID, name string, participants []string) (models.Room, error) {
	now := r.now()
	room := models.Room{Name: &name, Type: models.RoomGroup, CreatedAt: now, UpdatedAt: now}

	err := r.store.WithTx(ctx, func(q store.Queries) error {
		if err := q.CreateRoom(ctx, &room); err != nil {
			return dbErr(err)
		}
		return addMembers(ctx, q, room.ID, ownerID, participants, now)
	})
	if err != nil {
		return models.Room{}, classify(err)
	}
	r.log.Info("Group chat room created", "chatRoomId", room.ID, "members", len(participants))
	return room, nil
}

// openDirect is idempotent per unordered pair. A concurrent creation of the same pair loses on the
// unique direct key and retries once as a lookup.
func (r *RoomDirectory) openDirect(ctx context.Context, requesterID string, participants []string, users map[string]models.User) (models.Room, error) {
	key := models.DirectPairKey(participants[0], participants[1])
	names := lo.Map(participants, func(id string, _ int) string { return users[id].Username })
	sort.Strings(names)
	name := strings.Join(names, ", ")

	var room models.Room
	attempt := func() error {
		return r.store.WithTx(ctx, func(q store.Queries) error {
			existing, err := q.FindDirectRoom(ctx, key)
			switch {
			case err == nil:
				room = existing
				return r.rejoinDirect(ctx, q, existing, participants)
			case !errors.Is(err, store.ErrNotFound):
				return dbErr(err)
			}

			now := r.now()
			room = models.Room{Name: &name, Type: models.RoomDirect, DirectKey: &key, CreatedAt: now, UpdatedAt: now}
			if err := q.CreateRoom(ctx, &room); err != nil {
				return err
			}
			return addMembers(ctx, q, room.ID, requesterID, participants, now)
		})
	}

	err := attempt()
	if errors.Is(err, store.ErrConflict) {
		r.log.Debug("Direct chat room created concurrently, retrying as lookup", "directKey", key)
		err = attempt()
	}
	if err != nil {
		return models.Room{}, classify(err)
	}
	return room, nil
}

// rejoinDirect restores a participant who had left the existing direct room.
func (r *RoomDirectory) rejoinDirect(ctx context.Context, q store.Queries, room models.Room, participants []string) error {
	members, err := q.ListMembers(ctx, room.ID)
	if err != nil {
		return dbErr(err)
	}
	present := lo.Map(members, func(m models.Member, _ int) string { return m.UserID })
	for _, userID := range lo.Without(participants, present...) {
		member := models.Member{RoomID: room.ID, UserID: userID, Role: models.RoleMember, NotificationEnabled: true, JoinedAt: r.now()}
		if err := q.AddMember(ctx, &member); err != nil {
			return dbErr(err)
		}
	}
	return nil
}

func addMembers(ctx context.Context, q store.Queries, roomID, ownerID string, userIDs []string, at time.Time) error {
	for _, userID := range userIDs {
		member := models.Member{
			RoomID:              roomID,
			UserID:              userID,
			Role:                lo.Ternary(userID == ownerID, models.RoleOwner, models.RoleMember),
			NotificationEnabled: true,
			JoinedAt:            at,
		}
		if err := q.AddMember(ctx, &member); err != nil {
			return dbErr(err)
		}
	}
	return nil
}

// AddMembers invites users into a GROUP room. Users already in the room are skipped.
func (r *RoomDirectory) AddMembers(ctx context.Context, requesterID, roomID string, userIDs []string) ([]string, error) {
	userIDs = lo.Uniq(lo.Compact(userIDs))
	if len(userIDs) == 0 {
		return nil, apperr.BadRequest("userIds must not be empty")
	}

	var added []string
	err := r.store.WithTx(ctx, func(q store.Queries) error {
		room, err := q.LockRoom(ctx, roomID)
		if err := lookup(err, apperr.NotFound("chat room not found")); err != nil {
			return err
		}
		if room.Type == models.RoomDirect {
			return apperr.BadRequest("cannot add members to a direct chat room")
		}
		if err := requireMember(ctx, q, roomID, requesterID); err != nil {
			return err
		}

		members, err := q.ListMembers(ctx, roomID)
		if err != nil {
			return dbErr(err)
		}
		present := lo.Map(members, func(m models.Member, _ int) string { return m.UserID })
		added = lo.Without(userIDs, present...)
		if len(added) == 0 {
			return nil
		}
		if _, err := r.requireUsers(ctx, q, added); err != nil {
			return err
		}
		now := r.now()
		for _, userID := range added {
			member := models.Member{RoomID: roomID, UserID: userID, Role: models.RoleMember, NotificationEnabled: true, JoinedAt: now}
			if err := q.AddMember(ctx, &member); err != nil {
				return dbErr(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}

	if len(added) > 0 {
		r.publish(ctx, Event{Type: EventMembersAdded, RoomID: roomID, Payload: MembershipPayload{UserIDs: added}})
	}
	return added, nil
}

// RenameRoom changes the name of a GROUP room
func (r *RoomDirectory) RenameRoom(ctx context.Context, requesterID, roomID, newName string) (models.Room, error) {
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return models.Room{}, apperr.BadRequest("chat room name must not be blank")
	}
	if len([]rune(newName)) > 50 {
		return models.Room{}, apperr.BadRequest("chat room name exceeds 50 characters")
	}

	var room models.Room
	err := r.store.WithTx(ctx, func(q store.Queries) error {
		var err error
		room, err = q.LockRoom(ctx, roomID)
		if err := lookup(err, apperr.NotFound("chat room not found")); err != nil {
			return err
		}
		if room.Type == models.RoomDirect {
			return apperr.BadRequest("cannot rename a direct chat room")
		}
		if err := requireMember(ctx, q, roomID, requesterID); err != nil {
			return err
		}
		room.Name = &newName
		room.UpdatedAt = r.now()
		return lookup(q.RenameRoom(ctx, roomID, newName, room.UpdatedAt), apperr.NotFound("chat room not found"))
	})
	if err != nil {
		return models.Room{}, classify(err)
	}

	r.publish(ctx, Event{Type: EventRoomRenamed, RoomID: roomID, Payload: room.ToResponse()})
	return room, nil
}

// Leave removes userID from the room. An emptied room is deleted; a GROUP room whose owner
// leaves passes ownership to the earliest-joined remaining member.
func (r *RoomDirectory) Leave(ctx context.Context, roomID, userID string) (LeaveResult, error) {
	var result LeaveResult
	err := r.store.WithTx(ctx, func(q store.Queries) error {
		room, err := q.LockRoom(ctx, roomID)
		if err := lookup(err, apperr.NotFound("chat room not found")); err != nil {
			return err
		}
		member, err := q.GetMember(ctx, roomID, userID)
		if err := lookup(err, apperr.NotFound("chat room member not found")); err != nil {
			return err
		}
		if err := q.RemoveMember(ctx, roomID, userID); err != nil {
			return dbErr(err)
		}

		remaining, err := q.ListMembers(ctx, roomID)
		if err != nil {
			return dbErr(err)
		}
		if len(remaining) == 0 {
			result.RoomDeleted = true
			return lookup(q.DeleteRoom(ctx, roomID), apperr.NotFound("chat room not found"))
		}
		if room.Type == models.RoomGroup && member.Role == models.RoleOwner {
			successor := remaining[0]
			for _, m := range remaining[1:] {
				if m.JoinedBefore(successor) {
					successor = m
				}
			}
			if err := q.UpdateMemberRole(ctx, roomID, successor.UserID, models.RoleOwner); err != nil {
				return dbErr(err)
			}
			result.NewOwnerID = successor.UserID
		}
		return nil
	})
	if err != nil {
		return LeaveResult{}, classify(err)
	}

	if result.RoomDeleted {
		r.log.Info("Chat room deleted after last member left", "chatRoomId", roomID)
	}
	// Subscribers drop the leaver's topic subscription on this event, so it goes out even for a deleted room
	r.publish(ctx, Event{Type: EventMemberLeft, RoomID: roomID, Payload: MembershipPayload{
		UserIDs:     []string{userID},
		NewOwner:    result.NewOwnerID,
		RoomDeleted: result.RoomDeleted,
	}})
	return result, nil
}

// ListRoomsForUser summarizes every room the user belongs to, most recently active first.
func (r *RoomDirectory) ListRoomsForUser(ctx context.Context, userID string) ([]models.RoomSummary, error) {
	memberships, err := r.store.ListMembershipsForUser(ctx, userID)
	if err != nil {
		return nil, dbErr(err)
	}

	summaries := make([]models.RoomSummary, 0, len(memberships))
	for _, membership := range memberships {
		summary, err := r.summarize(ctx, membership)
		if errors.Is(err, store.ErrNotFound) {
			// Room deleted between the two reads
			continue
		}
		if err != nil {
			return nil, classify(err)
		}
		summaries = append(summaries, summary)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].LastActivity().After(summaries[j].LastActivity())
	})
	return summaries, nil
}

func (r *RoomDirectory) summarize(ctx context.Context, membership models.Member) (models.RoomSummary, error) {
	room, err := r.store.GetRoom(ctx, membership.RoomID)
	if err != nil {
		return models.RoomSummary{}, err
	}
	members, err := r.store.ListMembers(ctx, room.ID)
	if err != nil {
		return models.RoomSummary{}, err
	}
	users, err := r.store.FindUsers(ctx, lo.Map(members, func(m models.Member, _ int) string { return m.UserID }))
	if err != nil {
		return models.RoomSummary{}, err
	}
	byID := lo.KeyBy(users, func(u models.User) string { return u.ID })

	unread, err := r.store.CountMessagesAfter(ctx, room.ID, membership.LastReadMessageID, membership.UserID)
	if err != nil {
		return models.RoomSummary{}, err
	}

	summary := models.RoomSummary{
		ID:   room.ID,
		Name: room.Name,
		Type: room.Type,
		Members: lo.Map(members, func(m models.Member, _ int) models.RoomMemberResponse {
			return r.mapper.Member(m, byID[m.UserID])
		}),
		UnreadCount:         unread,
		NotificationEnabled: membership.NotificationEnabled,
		CreatedAt:           room.CreatedAt,
		UpdatedAt:           room.UpdatedAt,
	}

	last, err := r.store.LastMessage(ctx, room.ID)
	switch {
	case err == nil:
		rendered, err := render(ctx, r.deps, r.store, []models.Message{last})
		if err != nil {
			return models.RoomSummary{}, err
		}
		summary.LastMessage = &rendered[0]
	case !errors.Is(err, store.ErrNotFound):
		return models.RoomSummary{}, err
	}
	return summary, nil
}

// SetNotification toggles notifications for one membership
func (r *RoomDirectory) SetNotification(ctx context.Context, roomID, userID string, enabled bool) error {
	err := r.store.SetNotification(ctx, roomID, userID, enabled)
	return lookup(err, apperr.NotFound("chat room member not found"))
}

// Member returns userID's membership, failing FORBIDDEN when absent.
func (r *RoomDirectory) Member(ctx context.Context, roomID, userID string) (models.Member, error) {
	if _, err := r.store.GetRoom(ctx, roomID); err != nil {
		return models.Member{}, lookup(err, apperr.NotFound("chat room not found"))
	}
	member, err := r.store.GetMember(ctx, roomID, userID)
	if err != nil {
		return models.Member{}, lookup(err, apperr.Forbidden("not a member of this chat room"))
	}
	return member, nil
}

func requireMember(ctx context.Context, q store.Queries, roomID, userID string) error {
	_, err := q.GetMember(ctx, roomID, userID)
	return lookup(err, apperr.Forbidden("not a member of this chat room"))
}
