package messaging_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/eroomgame/eroom-server/cache"
	"github.com/eroomgame/eroom-server/messaging"
	"github.com/eroomgame/eroom-server/model"
	"github.com/eroomgame/eroom-server/notify"
	"github.com/eroomgame/eroom-server/social"
	"github.com/eroomgame/eroom-server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type msgFixture struct {
	svc    *messaging.Service
	social *social.Service
	db     *gorm.DB
	cache  cache.Cache
	pubsub cache.PubSub
	alice  *model.User
	bob    *model.User
}

func newMsgFixture(t *testing.T) *msgFixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	n := notify.NewService(db, ps, logger)
	soc := social.NewService(db, n, logger)
	svc := messaging.NewService(db, c, ps, soc, n, 10, logger)
	return &msgFixture{
		svc:    svc,
		social: soc,
		db:     db,
		cache:  c,
		pubsub: ps,
		alice:  testutil.CreateUser(t, db, "alice", "alice@example.com"),
		bob:    testutil.CreateUser(t, db, "bob", "bob@example.com"),
	}
}

// ---- Conversations ----

func TestGetOrCreateConversation_SameRowEitherOrder(t *testing.T) {
	f := newMsgFixture(t)

	c1, err := f.svc.GetOrCreateConversation(f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	c2, err := f.svc.GetOrCreateConversation(f.bob.ID, f.alice.ID)
	require.NoError(t, err)

	assert.Equal(t, c1.ID, c2.ID)

	var total int64
	require.NoError(t, f.db.Model(&model.Conversation{}).Count(&total).Error)
	assert.Equal(t, int64(1), total)
}

func TestGetOrCreateConversation_Self(t *testing.T) {
	f := newMsgFixture(t)

	_, err := f.svc.GetOrCreateConversation(f.alice.ID, f.alice.ID)
	assert.ErrorIs(t, err, messaging.ErrSelfConversation)
}

func TestGetOrCreateConversation_CachesParticipantInfo(t *testing.T) {
	f := newMsgFixture(t)

	conv, err := f.svc.GetOrCreateConversation(f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	parts := conv.ParticipantMap()
	require.Len(t, parts, 2)
	assert.Equal(t, "alice", parts["1"].Username)
	assert.Equal(t, "bob", parts["2"].Username)
	assert.Equal(t, 0, conv.UnreadFor(f.alice.ID))
	assert.Equal(t, 0, conv.UnreadFor(f.bob.ID))
}

func TestConversation_NonParticipantRejected(t *testing.T) {
	f := newMsgFixture(t)
	carol := testutil.CreateUser(t, f.db, "carol", "carol@example.com")

	conv, err := f.svc.GetOrCreateConversation(f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	_, err = f.svc.Conversation(conv.ID, carol.ID)
	assert.ErrorIs(t, err, messaging.ErrNotParticipant)
}

// ---- SendMessage ----

func TestSendMessage_UpdatesSnapshotAndUnread(t *testing.T) {
	f := newMsgFixture(t)
	conv, err := f.svc.GetOrCreateConversation(f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.svc.SendMessage(context.Background(), conv.ID, f.alice.ID, "hello", "")
		require.NoError(t, err)
	}

	fresh, err := f.svc.Conversation(conv.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", fresh.LastContent)
	assert.Equal(t, f.alice.ID, fresh.LastSenderID)
	assert.Equal(t, model.MessageText, fresh.LastType)
	assert.NotNil(t, fresh.LastSentAt)
	assert.Equal(t, 3, fresh.UnreadFor(f.bob.ID))
	assert.Equal(t, 0, fresh.UnreadFor(f.alice.ID))
}

func TestSendMessage_SenderInReadBy(t *testing.T) {
	f := newMsgFixture(t)
	conv, err := f.svc.GetOrCreateConversation(f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	msg, err := f.svc.SendMessage(context.Background(), conv.ID, f.alice.ID, "hi", "")
	require.NoError(t, err)
	assert.Equal(t, []int64{f.alice.ID}, msg.ReadByIDs())
	assert.Equal(t, "alice", msg.SenderName)
}

func TestSendMessage_EmptyAndWhitespace(t *testing.T) {
	f := newMsgFixture(t)
	conv, err := f.svc.GetOrCreateConversation(f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	_, err = f.svc.SendMessage(context.Background(), conv.ID, f.alice.ID, "", "")
	assert.ErrorIs(t, err, messaging.ErrEmptyMessage)

	_, err = f.svc.SendMessage(context.Background(), conv.ID, f.alice.ID, "   \n\t ", "")
	assert.ErrorIs(t, err, messaging.ErrEmptyMessage)
}

func TestSendMessage_LengthBoundary(t *testing.T) {
	f := newMsgFixture(t)
	conv, err := f.svc.GetOrCreateConversation(f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	// Limit counts runes, not bytes.
	atLimit := strings.Repeat("あ", model.MaxMessageRunes)
	_, err = f.svc.SendMessage(context.Background(), conv.ID, f.alice.ID, atLimit, "")
	assert.NoError(t, err)

	overLimit := strings.Repeat("あ", model.MaxMessageRunes+1)
	_, err = f.svc.SendMessage(context.Background(), conv.ID, f.alice.ID, overLimit, "")
	assert.ErrorIs(t, err, messaging.ErrTooLong)
}

func TestSendMessage_NonParticipant(t *testing.T) {
	f := newMsgFixture(t)
	carol := testutil.CreateUser(t, f.db, "carol", "carol@example.com")
	conv, err := f.svc.GetOrCreateConversation(f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	_, err = f.svc.SendMessage(context.Background(), conv.ID, carol.ID, "hi", "")
	assert.ErrorIs(t, err, messaging.ErrNotParticipant)
}

func TestSendMessage_NotifiesRecipient(t *testing.T) {
	f := newMsgFixture(t)
	conv, err := f.svc.GetOrCreateConversation(f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	_, err = f.svc.SendMessage(context.Background(), conv.ID, f.alice.ID, "hi", "")
	require.NoError(t, err)

	var notifs []model.Notification
	require.NoError(t, f.db.Where("user_id = ? AND type = ?", f.bob.ID, model.NotifMessage).Find(&notifs).Error)
	assert.Len(t, notifs, 1)
}

// ---- Blocks and visibility ----

func TestSendMessage_BlockedRecipientStillStored(t *testing.T) {
	f := newMsgFixture(t)
	conv, err := f.svc.GetOrCreateConversation(f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	// Bob blocks alice, alice sends anyway.
	_, err = f.social.ToggleBlock(f.bob.ID, f.alice.ID)
	require.NoError(t, err)

	msg, err := f.svc.SendMessage(context.Background(), conv.ID, f.alice.ID, "still here", "")
	require.NoError(t, err)
	assert.Equal(t, []int64{f.bob.ID}, msg.BlockedForIDs())
	assert.True(t, msg.HiddenFrom(f.bob.ID))
	assert.False(t, msg.HiddenFrom(f.alice.ID))

	// Bob opted out of seeing alice; no notification either.
	var notifs int64
	require.NoError(t, f.db.Model(&model.Notification{}).
		Where("user_id = ? AND type = ?", f.bob.ID, model.NotifMessage).Count(&notifs).Error)
	assert.Equal(t, int64(0), notifs)
}

func TestSendMessage_BlockerSendsOwnMessageVisibleToSelf(t *testing.T) {
	f := newMsgFixture(t)
	conv, err := f.svc.GetOrCreateConversation(f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	// Alice blocks bob but keeps messaging him.
	_, err = f.social.ToggleBlock(f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	msg, err := f.svc.SendMessage(context.Background(), conv.ID, f.alice.ID, "from blocker", "")
	require.NoError(t, err)
	// The sender always sees their own message.
	assert.False(t, msg.HiddenFrom(f.alice.ID))
	assert.False(t, msg.HiddenFrom(f.bob.ID))
}

func TestMessages_LimitedPageHoldsNewest(t *testing.T) {
	f := newMsgFixture(t)
	conv, err := f.svc.GetOrCreateConversation(f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		_, err = f.svc.SendMessage(context.Background(), conv.ID, f.alice.ID, fmt.Sprintf("msg-%d", i), "")
		require.NoError(t, err)
	}

	// A limited page anchors at the tail of the thread, still ascending.
	msgs, err := f.svc.Messages(conv.ID, f.bob.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "msg-4", msgs[0].Content)
	assert.Equal(t, "msg-5", msgs[1].Content)
}

func TestMessages_BeforeCursorWalksOlderHistory(t *testing.T) {
	f := newMsgFixture(t)
	conv, err := f.svc.GetOrCreateConversation(f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	for i := 1; i <= 5; i++ {
		_, err = f.svc.SendMessage(context.Background(), conv.ID, f.alice.ID, fmt.Sprintf("msg-%d", i), "")
		require.NoError(t, err)
	}

	page, err := f.svc.Messages(conv.ID, f.bob.ID, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)

	older, err := f.svc.Messages(conv.ID, f.bob.ID, 2, page[0].ID)
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, "msg-2", older[0].Content)
	assert.Equal(t, "msg-3", older[1].Content)

	oldest, err := f.svc.Messages(conv.ID, f.bob.ID, 2, older[0].ID)
	require.NoError(t, err)
	require.Len(t, oldest, 1)
	assert.Equal(t, "msg-1", oldest[0].Content)
}

func TestVisibleTo_FiltersTaggedMessages(t *testing.T) {
	f := newMsgFixture(t)
	conv, err := f.svc.GetOrCreateConversation(f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	_, err = f.svc.SendMessage(context.Background(), conv.ID, f.alice.ID, "before block", "")
	require.NoError(t, err)

	_, err = f.social.ToggleBlock(f.bob.ID, f.alice.ID)
	require.NoError(t, err)
	_, err = f.svc.SendMessage(context.Background(), conv.ID, f.alice.ID, "after block", "")
	require.NoError(t, err)

	all, err := f.svc.Messages(conv.ID, f.bob.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)

	// History from before the block survives; the tagged message is gone.
	visible := messaging.VisibleTo(all, f.bob.ID)
	require.Len(t, visible, 1)
	assert.Equal(t, "before block", visible[0].Content)

	// Alice sees everything.
	assert.Len(t, messaging.VisibleTo(all, f.alice.ID), 2)
}

// ---- Read receipts ----

func TestMarkMessagesAsRead(t *testing.T) {
	f := newMsgFixture(t)
	conv, err := f.svc.GetOrCreateConversation(f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	_, err = f.svc.SendMessage(context.Background(), conv.ID, f.alice.ID, "one", "")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(context.Background(), conv.ID, f.alice.ID, "two", "")
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkMessagesAsRead(context.Background(), conv.ID, f.bob.ID))

	fresh, err := f.svc.Conversation(conv.ID, f.bob.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.UnreadFor(f.bob.ID))

	msgs, err := f.svc.Messages(conv.ID, f.bob.ID, 0, 0)
	require.NoError(t, err)
	for _, m := range msgs {
		assert.ElementsMatch(t, []int64{f.alice.ID, f.bob.ID}, m.ReadByIDs(), "message %q", m.Content)
	}
}

func TestMarkMessagesAsRead_Idempotent(t *testing.T) {
	f := newMsgFixture(t)
	conv, err := f.svc.GetOrCreateConversation(f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	_, err = f.svc.SendMessage(context.Background(), conv.ID, f.alice.ID, "one", "")
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkMessagesAsRead(context.Background(), conv.ID, f.bob.ID))
	require.NoError(t, f.svc.MarkMessagesAsRead(context.Background(), conv.ID, f.bob.ID))

	msgs, err := f.svc.Messages(conv.ID, f.bob.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Len(t, msgs[0].ReadByIDs(), 2)
}

func TestMarkMessagesAsRead_OtherCounterUntouched(t *testing.T) {
	f := newMsgFixture(t)
	conv, err := f.svc.GetOrCreateConversation(f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	_, err = f.svc.SendMessage(context.Background(), conv.ID, f.alice.ID, "to bob", "")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(context.Background(), conv.ID, f.bob.ID, "to alice", "")
	require.NoError(t, err)

	require.NoError(t, f.svc.MarkMessagesAsRead(context.Background(), conv.ID, f.bob.ID))

	fresh, err := f.svc.Conversation(conv.ID, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, fresh.UnreadFor(f.bob.ID))
	assert.Equal(t, 1, fresh.UnreadFor(f.alice.ID))
}

// ---- Reactions ----

func TestAddReaction(t *testing.T) {
	f := newMsgFixture(t)
	conv, err := f.svc.GetOrCreateConversation(f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	msg, err := f.svc.SendMessage(context.Background(), conv.ID, f.alice.ID, "react to me", "")
	require.NoError(t, err)

	require.NoError(t, f.svc.AddReaction(context.Background(), msg.ID, f.bob.ID, "👍"))
	// Same emoji again is a no-op, a different one stacks.
	require.NoError(t, f.svc.AddReaction(context.Background(), msg.ID, f.bob.ID, "👍"))
	require.NoError(t, f.svc.AddReaction(context.Background(), msg.ID, f.bob.ID, "🎉"))

	var stored model.Message
	require.NoError(t, f.db.First(&stored, msg.ID).Error)
	reactions := stored.ReactionList()
	require.Len(t, reactions, 2)
	assert.Equal(t, "👍", reactions[0].Emoji)
	assert.Equal(t, "🎉", reactions[1].Emoji)
}

func TestAddReaction_MissingMessage(t *testing.T) {
	f := newMsgFixture(t)

	err := f.svc.AddReaction(context.Background(), 12345, f.alice.ID, "👍")
	assert.ErrorIs(t, err, messaging.ErrMessageNotFound)
}

func TestAddReaction_NonParticipant(t *testing.T) {
	f := newMsgFixture(t)
	carol := testutil.CreateUser(t, f.db, "carol", "carol@example.com")
	conv, err := f.svc.GetOrCreateConversation(f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	msg, err := f.svc.SendMessage(context.Background(), conv.ID, f.alice.ID, "private", "")
	require.NoError(t, err)

	err = f.svc.AddReaction(context.Background(), msg.ID, carol.ID, "👀")
	assert.ErrorIs(t, err, messaging.ErrNotParticipant)
}

// ---- Recent history cache ----

func TestRecentHistory_NewestFirstAndBounded(t *testing.T) {
	f := newMsgFixture(t)
	conv, err := f.svc.GetOrCreateConversation(f.alice.ID, f.bob.ID)
	require.NoError(t, err)

	// historySize is 10 in the fixture; overflow it.
	for i := 0; i < 12; i++ {
		_, err := f.svc.SendMessage(context.Background(), conv.ID, f.alice.ID, "m", "")
		require.NoError(t, err)
	}

	msgs := f.svc.RecentHistory(context.Background(), conv.ID, 100)
	assert.Len(t, msgs, 10)
}

func TestRecentHistory_MissIsEmpty(t *testing.T) {
	f := newMsgFixture(t)

	msgs := f.svc.RecentHistory(context.Background(), 777, 50)
	assert.Empty(t, msgs)
}

// ---- ListConversations ----

func TestListConversations_MostRecentFirst(t *testing.T) {
	f := newMsgFixture(t)
	carol := testutil.CreateUser(t, f.db, "carol", "carol@example.com")

	c1, err := f.svc.GetOrCreateConversation(f.alice.ID, f.bob.ID)
	require.NoError(t, err)
	c2, err := f.svc.GetOrCreateConversation(f.alice.ID, carol.ID)
	require.NoError(t, err)

	// Touch the older thread so it bubbles to the top.
	_, err = f.svc.SendMessage(context.Background(), c1.ID, f.bob.ID, "ping", "")
	require.NoError(t, err)

	convs, err := f.svc.ListConversations(f.alice.ID)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, c1.ID, convs[0].ID)
	assert.Equal(t, c2.ID, convs[1].ID)

	// Bob only sees his own thread.
	bobConvs, err := f.svc.ListConversations(f.bob.ID)
	require.NoError(t, err)
	assert.Len(t, bobConvs, 1)
}
