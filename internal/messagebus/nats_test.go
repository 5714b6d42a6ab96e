package messagebus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/agentcoach/internal/events"
)

type published struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []published
	err  error
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, published{subject: subj, data: data})
	return nil
}

func TestSubject(t *testing.T) {
	tests := []struct {
		prefix string
		want   string
	}{
		{"", "agentcoach.events.test_completed"},
		{"coach", "coach.test_completed"},
		{" coach.events. ", "coach.events.test_completed"},
	}
	for _, tt := range tests {
		p := newPublisher(&fakeConn{}, tt.prefix, zerolog.Nop())
		assert.Equal(t, tt.want, p.Subject(events.TestCompleted), tt.prefix)
	}
}

func TestHandleEventPublishesJSON(t *testing.T) {
	c := &fakeConn{}
	p := newPublisher(c, "coach", zerolog.Nop())
	event := events.Event{
		ID:        "e-1",
		Type:      events.CompetencyAchieved,
		SessionID: "s-1",
		AgentID:   "ada",
		Data:      map[string]interface{}{"level": "Expert"},
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}

	require.NoError(t, p.HandleEvent(context.Background(), event))
	require.Len(t, c.msgs, 1)
	assert.Equal(t, "coach.competency_achieved", c.msgs[0].subject)

	var decoded events.Event
	require.NoError(t, json.Unmarshal(c.msgs[0].data, &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, event.Type, decoded.Type)
	assert.Equal(t, "Expert", decoded.Data["level"])
	assert.True(t, event.Timestamp.Equal(decoded.Timestamp))
}

func TestHandleEventReportsPublishErrors(t *testing.T) {
	p := newPublisher(&fakeConn{err: errors.New("connection closed")}, "", zerolog.Nop())
	err := p.HandleEvent(context.Background(), events.Event{Type: events.SessionStarted})
	assert.ErrorContains(t, err, "agentcoach.events.session_started")
}

func TestCloseWithoutConnection(t *testing.T) {
	p := newPublisher(&fakeConn{}, "", zerolog.Nop())
	assert.NoError(t, p.Close())
}
