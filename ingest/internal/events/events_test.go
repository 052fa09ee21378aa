package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adamwolfe2/leadme-sub019/common/messaging"
	"github.com/adamwolfe2/leadme-sub019/ingest/internal/models"
)

type fakePublisher struct {
	msgs []*messaging.Message
	err  error
}

func (f *fakePublisher) PublishMsgSync(_ context.Context, msg *messaging.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func TestNATSEmitterPublishesToSubject(t *testing.T) {
	pub := &fakePublisher{}
	emitter := NewNATSEmitter(pub, nil)

	ev := New(LeadRouted, &models.Lead{ID: "lead-1", WorkspaceID: "ws-1"})
	ev.Recipients = []Recipient{{ID: "r-1", Kind: models.RecipientUser}}
	require.NoError(t, emitter.Emit(context.Background(), ev))

	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, messaging.SubjectLeadRouted, msg.Subject)
	assert.Equal(t, ev.ID, msg.Metadata["Nats-Msg-Id"])
	assert.Equal(t, "ws-1", msg.Metadata["Workspace-Id"])

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, LeadRouted, decoded.Type)
	assert.Equal(t, "lead-1", decoded.LeadID)
	assert.Equal(t, "r-1", decoded.Recipients[0].ID)
}

func TestNATSEmitterReturnsPublishError(t *testing.T) {
	emitter := NewNATSEmitter(&fakePublisher{err: errors.New("down")}, nil)
	err := emitter.Emit(context.Background(), New(LeadCreated, &models.Lead{ID: "l"}))
	assert.EqualError(t, err, "down")
}

func TestRecorderFiltersByType(t *testing.T) {
	r := &Recorder{}
	lead := &models.Lead{ID: "l", WorkspaceID: "w"}
	_ = r.Emit(context.Background(), New(LeadCreated, lead))
	_ = r.Emit(context.Background(), New(LeadRouted, lead))

	assert.Len(t, r.Events(""), 2)
	assert.Len(t, r.Events(LeadRouted), 1)
	assert.Equal(t, "leads.events.created", LeadCreated.Subject())
}
