package database_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolchat/internal/database"
	"schoolchat/internal/database/dbtest"
	"schoolchat/pkg/interfaces"
	"schoolchat/pkg/types"
)

func TestManager_Directory(t *testing.T) {
	store := dbtest.Seeded(t)
	ctx := context.Background()

	user, err := store.GetUser(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, "Brian", user.FirstName)
	assert.Equal(t, 0, user.CurseCount)

	_, err = store.GetUser(ctx, "ghost")
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))

	section, err := store.GetSection(ctx, "section-7a")
	require.NoError(t, err)
	assert.Equal(t, "grade-7", section.GradeLevelID)

	_, err = store.GetGradeLevel(ctx, "grade-9")
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))

	ids, err := store.ListSectionMemberIDs(ctx, "section-7a")
	require.NoError(t, err)
	assert.Equal(t, []string{"student-1", "student-2", "teacher-1"}, ids)

	members, err := store.ListGradeLevelMembers(ctx, "grade-7")
	require.NoError(t, err)
	got := make([]string, 0, len(members))
	for _, u := range members {
		got = append(got, u.ID)
	}
	assert.Equal(t, []string{"student-1", "student-2", "student-3", "teacher-1"}, got)
}

func TestManager_IncrementCurseCount(t *testing.T) {
	store := dbtest.Seeded(t)
	ctx := context.Background()

	require.NoError(t, store.IncrementCurseCount(ctx, "student-1"))
	require.NoError(t, store.IncrementCurseCount(ctx, "student-1"))
	user, err := store.GetUser(ctx, "student-1")
	require.NoError(t, err)
	assert.Equal(t, 2, user.CurseCount)

	err = store.IncrementCurseCount(ctx, "ghost")
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))
}

func TestManager_Seed_Idempotent(t *testing.T) {
	store := dbtest.Seeded(t)
	ctx := context.Background()
	require.NoError(t, store.IncrementCurseCount(ctx, "student-2"))

	seed, err := database.LoadSeedFile(dbtest.SeedPath())
	require.NoError(t, err)
	require.NoError(t, store.Seed(ctx, seed))

	ids, err := store.ListSectionMemberIDs(ctx, "section-7a")
	require.NoError(t, err)
	assert.Len(t, ids, 3)

	user, err := store.GetUser(ctx, "student-2")
	require.NoError(t, err)
	assert.Equal(t, 1, user.CurseCount)
}

func TestManager_DirectMessages(t *testing.T) {
	store := dbtest.Seeded(t)
	ctx := context.Background()

	first := &types.DirectMessage{Content: types.StringPtr("hi"), SenderID: "student-1", ReceiverID: "student-2"}
	require.NoError(t, store.CreateDirectMessage(ctx, first))
	assert.NotEmpty(t, first.ID)
	assert.NotNil(t, first.Images)
	assert.False(t, first.Seen)

	time.Sleep(2 * time.Millisecond)
	reply := &types.DirectMessage{Content: types.StringPtr("hello"), SenderID: "student-2", ReceiverID: "student-1", Images: types.Images([]string{"a.png"})}
	require.NoError(t, store.CreateDirectMessage(ctx, reply))

	other := &types.DirectMessage{Content: types.StringPtr("unrelated"), SenderID: "student-3", ReceiverID: "student-1"}
	require.NoError(t, store.CreateDirectMessage(ctx, other))

	conv, err := store.ListConversation(ctx, "student-2", "student-1")
	require.NoError(t, err)
	require.Len(t, conv, 2)
	assert.Equal(t, first.ID, conv[0].ID)
	assert.Equal(t, reply.ID, conv[1].ID)
	assert.Equal(t, []string{"a.png"}, []string(conv[1].Images))

	unread, err := store.ListUnreadDirectMessages(ctx, "student-1")
	require.NoError(t, err)
	assert.Len(t, unread, 2)

	require.NoError(t, store.MarkConversationSeen(ctx, "student-1", "student-2"))
	unread, err = store.ListUnreadDirectMessages(ctx, "student-1")
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, other.ID, unread[0].ID)

	seen, err := store.MarkDirectMessageSeen(ctx, other.ID)
	require.NoError(t, err)
	assert.True(t, seen.Seen)

	_, err = store.MarkDirectMessageSeen(ctx, "missing")
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))

	require.NoError(t, store.DeleteDirectMessage(ctx, first.ID))
	_, err = store.GetDirectMessage(ctx, first.ID)
	assert.True(t, errors.Is(err, interfaces.ErrNotFound))
	assert.True(t, errors.Is(store.DeleteDirectMessage(ctx, first.ID), interfaces.ErrNotFound))
}

func TestManager_SectionAndGradeLevelMessages(t *testing.T) {
	store := dbtest.Seeded(t)
	ctx := context.Background()

	sm := &types.SectionMessage{Content: types.StringPtr("homework"), SenderID: "teacher-1", SectionID: "section-7a"}
	require.NoError(t, store.CreateSectionMessage(ctx, sm))

	sm.Content = types.StringPtr("homework due friday")
	require.NoError(t, store.UpdateSectionMessage(ctx, sm))

	list, err := store.ListSectionMessages(ctx, "section-7a")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "homework due friday", *list[0].Content)

	assert.True(t, errors.Is(store.UpdateSectionMessage(ctx, &types.SectionMessage{ID: "nope"}), interfaces.ErrNotFound))
	require.NoError(t, store.DeleteSectionMessage(ctx, sm.ID))

	gm := &types.GradeLevelMessage{Content: types.StringPtr("assembly"), SenderID: "teacher-1", GradeLevelID: "grade-7"}
	require.NoError(t, store.CreateGradeLevelMessage(ctx, gm))
	glist, err := store.ListGradeLevelMessages(ctx, "grade-7")
	require.NoError(t, err)
	require.Len(t, glist, 1)
	assert.Equal(t, gm.ID, glist[0].ID)

	got, err := store.GetGradeLevelMessage(ctx, gm.ID)
	require.NoError(t, err)
	assert.Equal(t, "assembly", *got.Content)
	require.NoError(t, store.DeleteGradeLevelMessage(ctx, gm.ID))
}

func TestManager_Notifications(t *testing.T) {
	store := dbtest.Seeded(t)
	ctx := context.Background()

	old := &types.Notification{UserID: "student-2", Topic: "New Message", Message: "Brian sent you a message", Read: true, CreatedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &types.Notification{UserID: "student-2", Topic: "New Message", Message: "Brian sent you a message"}
	require.NoError(t, store.CreateNotification(ctx, old))
	require.NoError(t, store.CreateNotification(ctx, fresh))

	list, err := store.ListNotifications(ctx, "student-2", 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, fresh.ID, list[0].ID)

	assert.True(t, errors.Is(store.MarkNotificationRead(ctx, fresh.ID, "student-1"), interfaces.ErrNotFound))

	purged, err := store.PurgeReadNotifications(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	require.NoError(t, store.MarkNotificationRead(ctx, fresh.ID, "student-2"))
	purged, err = store.PurgeReadNotifications(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), purged)
}

func TestManager_ConcurrentWrites(t *testing.T) {
	store := dbtest.Seeded(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg := &types.DirectMessage{Content: types.StringPtr("ping"), SenderID: "student-1", ReceiverID: "student-3"}
			assert.NoError(t, store.CreateDirectMessage(ctx, msg))
		}()
	}
	wg.Wait()

	conv, err := store.ListConversation(ctx, "student-1", "student-3")
	require.NoError(t, err)
	assert.Len(t, conv, 20)
}

func TestManager_HealthCheckAndClose(t *testing.T) {
	store := dbtest.New(t)
	ctx := context.Background()
	require.NoError(t, store.HealthCheck(ctx))

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
	err := store.CreateNotification(ctx, &types.Notification{UserID: "u"})
	assert.True(t, errors.Is(err, database.ErrManagerClosed))
}

func TestManager_HistoryOrderedByCreatedAt(t *testing.T) {
	store := dbtest.Seeded(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	// Inserted newest first, with the two directions interleaved.
	late := &types.DirectMessage{Content: types.StringPtr("late"), SenderID: "student-2", ReceiverID: "student-1", CreatedAt: base.Add(2 * time.Hour)}
	early := &types.DirectMessage{Content: types.StringPtr("early"), SenderID: "student-1", ReceiverID: "student-2", CreatedAt: base}
	middle := &types.DirectMessage{Content: types.StringPtr("middle"), SenderID: "student-2", ReceiverID: "student-1", CreatedAt: base.Add(time.Hour)}
	for _, m := range []*types.DirectMessage{late, early, middle} {
		require.NoError(t, store.CreateDirectMessage(ctx, m))
	}

	conv, err := store.ListConversation(ctx, "student-1", "student-2")
	require.NoError(t, err)
	require.Len(t, conv, 3)
	assert.Equal(t, []string{early.ID, middle.ID, late.ID}, []string{conv[0].ID, conv[1].ID, conv[2].ID})

	newer := &types.SectionMessage{Content: types.StringPtr("second"), SenderID: "teacher-1", SectionID: "section-7a", CreatedAt: base.Add(time.Minute)}
	older := &types.SectionMessage{Content: types.StringPtr("first"), SenderID: "student-1", SectionID: "section-7a", CreatedAt: base}
	require.NoError(t, store.CreateSectionMessage(ctx, newer))
	require.NoError(t, store.CreateSectionMessage(ctx, older))

	history, err := store.ListSectionMessages(ctx, "section-7a")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, older.ID, history[0].ID)
	assert.Equal(t, newer.ID, history[1].ID)
}

func TestManager_DuplicateIDRejected(t *testing.T) {
	store := dbtest.Seeded(t)
	ctx := context.Background()

	msg := &types.DirectMessage{ID: "fixed-id", Content: types.StringPtr("one"), SenderID: "student-1", ReceiverID: "student-2"}
	require.NoError(t, store.CreateDirectMessage(ctx, msg))

	again := &types.DirectMessage{ID: "fixed-id", Content: types.StringPtr("two"), SenderID: "student-1", ReceiverID: "student-2"}
	err := store.CreateDirectMessage(ctx, again)
	require.Error(t, err)
	assert.True(t, errors.Is(err, database.ErrDuplicateID))

	got, err := store.GetDirectMessage(ctx, "fixed-id")
	require.NoError(t, err)
	assert.Equal(t, "one", *got.Content)
}
