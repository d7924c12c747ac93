package store

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sociora/sociora-go/internal/logger"
	"github.com/sociora/sociora-go/internal/model"
)

var base = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func conv(id string, at time.Time) *model.Conversation {
	return &model.Conversation{
		ID:             id,
		Kind:           model.KindDirect,
		ParticipantIDs: []string{"alice", "bob"},
		LastActivityAt: at,
	}
}

func msg(id, convID, sender string, at time.Time) *model.Message {
	return &model.Message{
		ID:             id,
		ConversationID: convID,
		SenderID:       sender,
		Type:           model.TypeText,
		Body:           "hi",
		CreatedAt:      at,
		ReadBy:         []string{sender},
	}
}

func TestListsSortByRecencyWithIDTieBreak(t *testing.T) {
	s := New(logger.Nop(), 100)
	s.ReplaceLists([]*model.Conversation{
		conv("b", base),
		conv("c", base.Add(time.Hour)),
		conv("a", base),
	}, nil, nil)

	snap := s.Snapshot()
	require.Len(t, snap.Direct, 3)
	assert.Equal(t, "c", snap.Direct[0].ID)
	// Equal timestamps order by id for deterministic rendering.
	assert.Equal(t, "a", snap.Direct[1].ID)
	assert.Equal(t, "b", snap.Direct[2].ID)
}

func TestUpsertLastMessageResortsAndCounts(t *testing.T) {
	s := New(logger.Nop(), 100)
	s.ReplaceLists([]*model.Conversation{
		conv("a", base.Add(time.Hour)),
		conv("b", base),
	}, nil, nil)

	found := s.UpsertLastMessage("b", model.MessageSummary{
		SenderID: "bob", Text: "yo", Timestamp: base.Add(2 * time.Hour),
	}, true)
	require.True(t, found)

	snap := s.Snapshot()
	assert.Equal(t, "b", snap.Direct[0].ID)
	assert.Equal(t, 1, snap.Direct[0].UnreadCount)
	assert.Equal(t, "yo", snap.Direct[0].LastMessage.Text)

	assert.False(t, s.UpsertLastMessage("missing", model.MessageSummary{}, false))
}

func TestAppendMessageDeduplicates(t *testing.T) {
	s := New(logger.Nop(), 100)

	m := msg("m1", "a", "bob", base)
	assert.True(t, s.AppendMessage(m))
	for i := 0; i < 5; i++ {
		assert.False(t, s.AppendMessage(msg("m1", "a", "bob", base)))
	}
	assert.True(t, s.AppendMessage(msg("m2", "a", "bob", base.Add(time.Second))))

	buf := s.Messages("a")
	require.Len(t, buf, 2)
	assert.Equal(t, "m1", buf[0].ID)
}

func TestBufferCap(t *testing.T) {
	s := New(logger.Nop(), 3)
	for i := 0; i < 10; i++ {
		s.AppendMessage(msg(fmt.Sprintf("m%02d", i), "a", "bob", base.Add(time.Duration(i)*time.Second)))
	}
	buf := s.Messages("a")
	require.Len(t, buf, 3)
	assert.Equal(t, "m07", buf[0].ID)
	assert.Equal(t, "m09", buf[2].ID)
}

func TestRemoveMessageIsIdempotent(t *testing.T) {
	s := New(logger.Nop(), 100)
	s.AppendMessage(msg("m1", "a", "bob", base))

	assert.True(t, s.RemoveMessage("a", "m1"))
	assert.False(t, s.RemoveMessage("a", "m1"))
	assert.False(t, s.RemoveMessage("a", "never-existed"))
	assert.Empty(t, s.Messages("a"))
}

func TestConfirmMessageReplacesLocalCopy(t *testing.T) {
	s := New(logger.Nop(), 100)
	local := msg("local-1", "a", "alice", base)
	s.AppendMessage(local)

	server := msg("m1", "a", "alice", base)
	s.ConfirmMessage("a", "local-1", server)

	buf := s.Messages("a")
	require.Len(t, buf, 1)
	assert.Equal(t, "m1", buf[0].ID)
	assert.True(t, buf[0].Confirmed)
}

func TestConfirmMessageAfterSocketEcho(t *testing.T) {
	s := New(logger.Nop(), 100)
	s.AppendMessage(msg("local-1", "a", "alice", base))
	// Socket echo lands before the REST response.
	s.AppendMessage(msg("m1", "a", "alice", base))

	s.ConfirmMessage("a", "local-1", msg("m1", "a", "alice", base))

	buf := s.Messages("a")
	require.Len(t, buf, 1)
	assert.Equal(t, "m1", buf[0].ID)
}

func TestRevertMessageRestoresPreview(t *testing.T) {
	s := New(logger.Nop(), 100)
	s.ReplaceLists([]*model.Conversation{conv("a", base)}, nil, nil)

	prev := msg("m1", "a", "bob", base)
	s.AppendMessage(prev)
	s.UpsertLastMessage("a", prev.Summary(), false)

	local := msg("local-1", "a", "alice", base.Add(time.Minute))
	s.AppendMessage(local)
	s.UpsertLastMessage("a", local.Summary(), false)

	s.RevertMessage("a", "local-1")

	c, _ := s.Conversation("a")
	require.NotNil(t, c.LastMessage)
	assert.Equal(t, "bob", c.LastMessage.SenderID)
	assert.Len(t, s.Messages("a"), 1)
}

func TestMarkReadGrowsAndNeverShrinks(t *testing.T) {
	s := New(logger.Nop(), 100)
	s.AppendMessage(msg("m1", "a", "bob", base))
	s.AppendMessage(msg("m2", "a", "bob", base.Add(time.Second)))

	assert.Equal(t, 2, s.MarkRead("a", "alice", nil))
	// Repeat is a no-op, nothing lost.
	assert.Equal(t, 0, s.MarkRead("a", "alice", nil))

	assert.Equal(t, 1, s.MarkRead("a", "carol", []string{"m2"}))

	buf := s.Messages("a")
	assert.ElementsMatch(t, []string{"bob", "alice"}, buf[0].ReadBy)
	assert.ElementsMatch(t, []string{"bob", "alice", "carol"}, buf[1].ReadBy)
}

func TestMergeHistoryKeepsLocalMessages(t *testing.T) {
	s := New(logger.Nop(), 100)
	local := msg("local-1", "a", "alice", base.Add(time.Hour))
	s.AppendMessage(local)

	s.MergeHistory("a", []*model.Message{
		msg("m1", "a", "bob", base),
		msg("m2", "a", "bob", base.Add(time.Minute)),
	})

	buf := s.Messages("a")
	require.Len(t, buf, 3)
	assert.Equal(t, "m1", buf[0].ID)
	assert.Equal(t, "m2", buf[1].ID)
	assert.Equal(t, "local-1", buf[2].ID)
}

func TestPromoteAndRemoveRequest(t *testing.T) {
	s := New(logger.Nop(), 100)
	s.ReplaceLists(nil, nil, []*model.Conversation{conv("r1", base), conv("r2", base)})

	require.True(t, s.PromoteRequest("r1"))
	snap := s.Snapshot()
	assert.Len(t, snap.Direct, 1)
	assert.Len(t, snap.Requests, 1)

	require.True(t, s.RemoveRequest("r2"))
	assert.Empty(t, s.Snapshot().Requests)

	assert.False(t, s.PromoteRequest("r1")) // already active
	assert.False(t, s.RemoveRequest("gone"))
}

func TestUpsertConversationPreservesUnreadAcrossLists(t *testing.T) {
	s := New(logger.Nop(), 100)
	c := conv("a", base)
	s.ReplaceLists(nil, nil, []*model.Conversation{c})
	s.UpsertLastMessage("a", model.MessageSummary{SenderID: "bob", Text: "x", Timestamp: base.Add(time.Minute)}, true)

	refreshed := conv("a", base.Add(time.Hour))
	s.UpsertConversation(refreshed, ListDirect)

	got, list := s.Conversation("a")
	assert.Equal(t, ListDirect, list)
	assert.Equal(t, 1, got.UnreadCount)
	assert.Empty(t, s.Snapshot().Requests)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := New(logger.Nop(), 100)
	s.ReplaceLists([]*model.Conversation{conv("a", base)}, nil, nil)

	snap := s.Snapshot()
	snap.Direct[0].UnreadCount = 99
	snap.Direct[0].ParticipantIDs[0] = "mallory"

	c, _ := s.Conversation("a")
	assert.Equal(t, 0, c.UnreadCount)
	assert.Equal(t, "alice", c.ParticipantIDs[0])
}
