package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_DeliverableTo(t *testing.T) {
	env, err := NewEnvelope("r1", MemberJoined{MemberID: "alice"})
	require.NoError(t, err)

	assert.True(t, env.DeliverableTo("alice"))
	assert.True(t, env.DeliverableTo("bob"))

	excl := env.Excluding("alice")
	assert.False(t, excl.DeliverableTo("alice"))
	assert.True(t, excl.DeliverableTo("bob"))

	targeted := env.ToMember("bob")
	assert.False(t, targeted.DeliverableTo("alice"))
	assert.True(t, targeted.DeliverableTo("bob"))
}

func TestEnvelope_FrameDropsRouting(t *testing.T) {
	env, err := NewEnvelope("r1", ParticipantLeft{RoomID: "r1", MemberID: "alice", Reason: ReasonInactivity})
	require.NoError(t, err)

	raw, err := env.Excluding("alice").Frame()
	require.NoError(t, err)

	var frame map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &frame))
	assert.Contains(t, frame, "event")
	assert.Contains(t, frame, "payload")
	assert.NotContains(t, frame, "exclude")
	assert.JSONEq(t, `{"roomId":"r1","memberId":"alice","reason":"inactivity"}`, string(frame["payload"]))
}

func TestEnvelope_DecodePayloadChecksEvent(t *testing.T) {
	env, err := NewEnvelope("r1", RoomEnded{RoomID: "r1"})
	require.NoError(t, err)

	var wrong MemberJoined
	assert.Error(t, env.DecodePayload(&wrong))

	var ended RoomEnded
	require.NoError(t, env.DecodePayload(&ended))
	assert.Equal(t, "r1", ended.RoomID)
}

func TestParseInbound(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Inbound
		wantErr bool
	}{
		{name: "heartbeat", raw: `{"event":"heartbeat"}`, want: Inbound{Event: InboundHeartbeat}},
		{name: "explicit leave", raw: `{"event":"explicitLeave"}`, want: Inbound{Event: InboundExplicitLeave}},
		{name: "code update", raw: `{"event":"codeUpdate","payload":{"code":"x=1","language":" python "}}`,
			want: Inbound{Event: InboundCodeUpdate, Code: "x=1", Language: "python"}},
		{name: "empty code is allowed", raw: `{"event":"codeUpdate","payload":{"code":""}}`,
			want: Inbound{Event: InboundCodeUpdate}},
		{name: "code update without code", raw: `{"event":"codeUpdate","payload":{}}`, wantErr: true},
		{name: "code update without payload", raw: `{"event":"codeUpdate"}`, wantErr: true},
		{name: "unknown event", raw: `{"event":"dance"}`, wantErr: true},
		{name: "missing event", raw: `{}`, wantErr: true},
		{name: "not json", raw: `heartbeat`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseInbound([]byte(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInbound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseInbound_RejectsOversizedCode(t *testing.T) {
	body, err := json.Marshal(map[string]interface{}{
		"event":   "codeUpdate",
		"payload": map[string]string{"code": strings.Repeat("a", MaxCodeSize+1)},
	})
	require.NoError(t, err)
	_, err = ParseInbound(body)
	assert.ErrorIs(t, err, ErrInvalidInbound)
}

func TestSessionRecord_HistoryRows(t *testing.T) {
	start := time.Now().Add(-time.Hour)
	rec := SessionRecord{
		RoomID:         "r1",
		ParticipantIDs: []string{"alice", "bob"},
		Snapshot:       &DocumentSnapshot{Code: "fn()", Language: "go"},
		Reason:         EndReasonAllDisconnected,
		CreatedAt:      start,
		EndedAt:        time.Now(),
	}
	rows := rec.HistoryRows()
	require.Len(t, rows, 2)
	assert.Equal(t, "alice", rows[0].MemberID)
	assert.Equal(t, "alice,bob", rows[1].Participants)
	assert.Equal(t, "fn()", rows[1].Code)
	assert.Equal(t, start, rows[0].StartedAt)

	rec.Snapshot = nil
	assert.Empty(t, rec.HistoryRows()[0].Code)
}
