package categorize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sociora/sociora-go/internal/decision"
	"github.com/sociora/sociora-go/internal/model"
)

type fakeDecisions map[string]decision.Decision

func (f fakeDecisions) Get(id string) (decision.Decision, bool) {
	d, ok := f[id]
	return d, ok
}

func direct(id, creator string, participants ...string) *model.Conversation {
	return &model.Conversation{
		ID:             id,
		Kind:           model.KindDirect,
		CreatorID:      creator,
		ParticipantIDs: participants,
		LastActivityAt: time.Now(),
	}
}

func TestDecisionOverridesServerState(t *testing.T) {
	conv := direct("c1", "bob", "alice", "bob")

	assert.Equal(t, Active, Classify(conv, "alice", nil, fakeDecisions{"c1": decision.Accepted}))
	assert.Equal(t, Suppressed, Classify(conv, "alice", nil, fakeDecisions{"c1": decision.Declined}))
	// Without a decision the same record is an incoming request.
	assert.Equal(t, IncomingRequest, Classify(conv, "alice", nil, fakeDecisions{}))
}

func TestGroupsAreAlwaysActive(t *testing.T) {
	conv := &model.Conversation{
		ID:             "g1",
		Kind:           model.KindGroup,
		CreatorID:      "bob",
		ParticipantIDs: []string{"alice", "bob", "carol"},
	}
	assert.Equal(t, Active, Classify(conv, "alice", nil, nil))
}

func TestOwnOutgoingRequestIsSuppressed(t *testing.T) {
	conv := direct("c2", "alice", "alice", "bob")
	assert.Equal(t, Suppressed, Classify(conv, "alice", nil, nil))
}

func TestFollowedCounterpartIsActive(t *testing.T) {
	conv := direct("c3", "bob", "alice", "bob")
	following := map[string]struct{}{"bob": {}}
	assert.Equal(t, Active, Classify(conv, "alice", following, nil))
}

func TestDefaultIsActive(t *testing.T) {
	// Three participants on a direct record: malformed, but it has history,
	// so it stays visible rather than becoming a request.
	conv := direct("c4", "bob", "alice", "bob", "carol")
	assert.Equal(t, Active, Classify(conv, "alice", nil, nil))

	// Unknown creator: no evidence this is a request.
	conv = direct("c5", "", "alice", "bob")
	assert.Equal(t, Active, Classify(conv, "alice", nil, nil))
}

func TestClassifyIsPure(t *testing.T) {
	conv := direct("c6", "bob", "alice", "bob")
	following := map[string]struct{}{}
	decisions := fakeDecisions{}

	first := Classify(conv, "alice", following, decisions)
	for i := 0; i < 10; i++ {
		require.Equal(t, first, Classify(conv, "alice", following, decisions))
	}
}

func TestSnapshotScenario(t *testing.T) {
	// One active thread, one request created by the viewer, one created by
	// the other side.
	c1 := direct("C1", "", "alice", "bob")
	c2 := direct("C2", "alice", "alice", "carol")
	c3 := direct("C3", "dave", "alice", "dave")

	assert.Equal(t, Active, Classify(c1, "alice", nil, nil))
	assert.Equal(t, Suppressed, Classify(c2, "alice", nil, nil))
	assert.Equal(t, IncomingRequest, Classify(c3, "alice", nil, nil))
}
