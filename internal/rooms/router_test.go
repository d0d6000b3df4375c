package rooms

import (
	"testing"

	"go-groupchat/internal/models"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	frames map[string][]models.Event
}

func newRecorder() *recorder {
	return &recorder{frames: make(map[string][]models.Event)}
}

func (r *recorder) Deliver(connId string, frame []byte) {
	var ev models.Event
	if err := json.Unmarshal(frame, &ev); err != nil {
		panic(err)
	}
	r.frames[connId] = append(r.frames[connId], ev)
}

func (r *recorder) types(connId string) []string {
	var out []string
	for _, ev := range r.frames[connId] {
		out = append(out, ev.Type)
	}
	return out
}

func TestJoinLeaveRestoresSubscribers(t *testing.T) {
	rec := newRecorder()
	r := NewRouter(rec)
	r.Join("c1", "u1", "general")
	before := r.Subscribers("general")

	r.Join("c2", "u2", "general")
	require.True(t, r.Leave("c2", "general"))
	assert.Equal(t, before, r.Subscribers("general"))

	// Same for a room that did not exist before.
	r.Join("c3", "u3", "random")
	require.True(t, r.Leave("c3", "random"))
	assert.Empty(t, r.Subscribers("random"))
	assert.Equal(t, 1, r.Rooms())
}

func TestJoinNotifiesOthersOnly(t *testing.T) {
	rec := newRecorder()
	r := NewRouter(rec)

	res := r.Join("c1", "u1", "general")
	assert.Equal(t, []string{"u1"}, res.Subscribers)
	assert.Empty(t, rec.frames["c1"])

	res = r.Join("c2", "u2", "general")
	assert.Equal(t, []string{"u1", "u2"}, res.Subscribers)
	assert.Equal(t, []string{models.EventUserJoinedChannel}, rec.types("c1"))
	assert.Empty(t, rec.frames["c2"])
	assert.Equal(t, "general", rec.frames["c1"][0].ChannelId)
}

func TestJoinIsIdempotent(t *testing.T) {
	rec := newRecorder()
	r := NewRouter(rec)
	r.Join("c1", "u1", "general")
	r.Join("c2", "u2", "general")
	rec.frames = make(map[string][]models.Event)

	res := r.Join("c2", "u2", "general")
	assert.True(t, res.Already)
	assert.Equal(t, []string{"u1", "u2"}, res.Subscribers)
	assert.Empty(t, rec.frames["c1"])
}

func TestJoinLeavesPreviousRoom(t *testing.T) {
	rec := newRecorder()
	r := NewRouter(rec)
	r.Join("c1", "u1", "general")
	r.Join("c2", "u2", "general")

	res := r.Join("c2", "u2", "random")
	assert.Equal(t, "general", res.Previous)
	room, ok := r.RoomOf("c2")
	require.True(t, ok)
	assert.Equal(t, "random", room)
	assert.Equal(t, []string{"c1"}, r.Subscribers("general"))
	assert.Contains(t, rec.types("c1"), models.EventUserLeftChannel)
}

func TestLeaveDestroysEmptyRoom(t *testing.T) {
	rec := newRecorder()
	r := NewRouter(rec)
	r.Join("c1", "u1", "general")
	require.True(t, r.Leave("c1", "general"))
	assert.Equal(t, 0, r.Rooms())
	assert.False(t, r.Leave("c1", "general"))
	assert.False(t, r.Leave("c9", "general"))
}

func TestBroadcastIncludesSender(t *testing.T) {
	rec := newRecorder()
	r := NewRouter(rec)
	r.Join("c1", "u1", "general")
	r.Join("c2", "u2", "general")
	r.Join("c3", "u3", "random")

	n := r.Broadcast("general", models.EventNewMessage, map[string]string{"id": "m1"})
	assert.Equal(t, 2, n)
	assert.Contains(t, rec.types("c1"), models.EventNewMessage)
	assert.Contains(t, rec.types("c2"), models.EventNewMessage)
	assert.NotContains(t, rec.types("c3"), models.EventNewMessage)

	assert.Equal(t, 0, r.Broadcast("empty", models.EventNewMessage, nil))
}

func TestSubscriberUsersDeduplicates(t *testing.T) {
	r := NewRouter(newRecorder())
	r.Join("c1", "u1", "general")
	r.Join("c2", "u1", "general")
	assert.Equal(t, []string{"u1"}, r.SubscriberUsers("general"))
	assert.Len(t, r.Subscribers("general"), 2)

	assert.Equal(t, "general", r.LeaveCurrent("c1"))
	assert.Equal(t, "", r.LeaveCurrent("c1"))
}
