package receipts

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sociora/sociora-go/internal/logger"
	"github.com/sociora/sociora-go/internal/model"
	"github.com/sociora/sociora-go/internal/store"
)

type fakeAPI struct {
	calls [][]string
	err   error
}

func (f *fakeAPI) MarkRead(_ context.Context, _ string, messageIDs []string) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, messageIDs)
	return nil
}

var base = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func msg(id, sender string, readBy ...string) *model.Message {
	return &model.Message{
		ID:             id,
		ConversationID: "c1",
		SenderID:       sender,
		Type:           model.TypeText,
		Body:           "hi",
		CreatedAt:      base,
		ReadBy:         append([]string{sender}, readBy...),
	}
}

func setup(t *testing.T, api *fakeAPI) (*Tracker, *store.Store) {
	t.Helper()
	st := store.New(logger.Nop(), 100)
	return New(api, st, "alice", logger.Nop()), st
}

func TestMarkSeenBatchesUnreadForeignMessages(t *testing.T) {
	api := &fakeAPI{}
	tr, st := setup(t, api)

	st.AppendMessage(msg("m1", "bob"))
	st.AppendMessage(msg("m2", "bob", "alice")) // already read
	st.AppendMessage(msg("m3", "alice"))        // own message
	st.AppendMessage(msg("m4", "bob"))

	require.NoError(t, tr.MarkSeen(context.Background(), "c1", st.Messages("c1")))

	// One batched call, only the two qualifying ids.
	require.Len(t, api.calls, 1)
	assert.ElementsMatch(t, []string{"m1", "m4"}, api.calls[0])

	for _, m := range st.Messages("c1") {
		assert.True(t, m.IsReadBy("alice"), "message %s", m.ID)
	}
}

func TestMarkSeenNoQualifyingMessagesMakesNoCall(t *testing.T) {
	api := &fakeAPI{}
	tr, st := setup(t, api)

	st.AppendMessage(msg("m1", "alice"))
	st.AppendMessage(msg("m2", "bob", "alice"))

	require.NoError(t, tr.MarkSeen(context.Background(), "c1", st.Messages("c1")))
	assert.Empty(t, api.calls)
}

func TestMarkSeenFailureMutatesNothing(t *testing.T) {
	api := &fakeAPI{err: errors.New("boom")}
	tr, st := setup(t, api)

	st.AppendMessage(msg("m1", "bob"))

	require.Error(t, tr.MarkSeen(context.Background(), "c1", st.Messages("c1")))
	assert.False(t, st.Messages("c1")[0].IsReadBy("alice"))
}

func TestOnRemoteReadNilMeansEverything(t *testing.T) {
	tr, st := setup(t, &fakeAPI{})

	st.AppendMessage(msg("m1", "alice"))
	st.AppendMessage(msg("m2", "alice"))
	st.AppendMessage(msg("m3", "alice"))

	tr.OnRemoteRead("c1", "bob", nil)

	for _, m := range st.Messages("c1") {
		assert.True(t, m.IsReadBy("bob"), "message %s", m.ID)
	}
}

func TestOnRemoteReadIsMonotonic(t *testing.T) {
	tr, st := setup(t, &fakeAPI{})

	st.AppendMessage(msg("m1", "alice"))
	tr.OnRemoteRead("c1", "bob", []string{"m1"})
	// A later explicit-id event for a different message never removes bob.
	st.AppendMessage(msg("m2", "alice"))
	tr.OnRemoteRead("c1", "carol", []string{"m2"})

	buf := st.Messages("c1")
	assert.True(t, buf[0].IsReadBy("bob"))
	assert.True(t, buf[0].IsReadBy("alice"))
	assert.False(t, buf[0].IsReadBy("carol"))
	assert.True(t, buf[1].IsReadBy("carol"))
}
