package push

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/dkeye/VoiceCall/internal/app/orch"
	"github.com/dkeye/VoiceCall/internal/config"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu   sync.Mutex
	reqs []orch.IncomingRequest
	srcs []string
	err  error
}

func (s *recordingSink) OnIncoming(_ context.Context, source string, req orch.IncomingRequest) (domain.SessionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	s.srcs = append(s.srcs, source)
	return "s1", s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reqs)
}

const trigger = `{"channel":"ch1","token":"tok","local_id":"42","agent_id":"bot","budget_seconds":60,"from":"backend-1","media":{"audio_muted":true}}`

func TestDecode(t *testing.T) {
	req, err := decode([]byte(trigger))
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelName("ch1"), req.Channel)
	assert.Equal(t, "tok", req.Token)
	assert.Equal(t, domain.ParticipantID("42"), req.LocalID)
	assert.Equal(t, "bot", req.AgentID)
	assert.Equal(t, 60, req.BudgetSeconds)
	assert.Equal(t, "backend-1", req.From)
	assert.True(t, req.Media.AudioMuted)

	_, err = decode([]byte(`{"token":"tok"}`))
	assert.ErrorIs(t, err, domain.ErrChannelEmpty)
	_, err = decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestDispatchDropsMalformed(t *testing.T) {
	sink := &recordingSink{}
	dispatch(context.Background(), sink, "redis", []byte(`{`))
	assert.Zero(t, sink.count())

	sink.err = domain.ErrAlreadyInSession
	dispatch(context.Background(), sink, "redis", []byte(trigger))
	assert.Equal(t, 1, sink.count())
}

func TestNewNone(t *testing.T) {
	c, err := New(config.PushConfig{Type: "none"}, &recordingSink{})
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = New(config.PushConfig{Type: "carrier-pigeon"}, &recordingSink{})
	assert.Error(t, err)
}

func TestRedisConsume(t *testing.T) {
	sink := &recordingSink{}
	r := &RedisConsumer{channel: "triggers", sink: sink}
	msgs := make(chan *redis.Message, 2)
	msgs <- &redis.Message{Channel: "triggers", Payload: trigger}
	msgs <- &redis.Message{Channel: "triggers", Payload: "garbage"}
	close(msgs)

	err := r.consume(context.Background(), msgs)
	assert.Error(t, err)
	assert.Equal(t, 1, sink.count())
	assert.Equal(t, []string{"redis"}, sink.srcs)
}

func TestRedisConsumeStopsOnCancel(t *testing.T) {
	r := &RedisConsumer{sink: &recordingSink{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, r.consume(ctx, make(chan *redis.Message)))
}

type fakeSession struct {
	sarama.ConsumerGroupSession
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (f *fakeSession) Context() context.Context { return f.ctx }

func (f *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, msg.Offset)
}

type fakeClaim struct {
	sarama.ConsumerGroupClaim
	msgs chan *sarama.ConsumerMessage
}

func (f *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return f.msgs }

func TestKafkaConsumeClaimMarksEveryMessage(t *testing.T) {
	sink := &recordingSink{}
	h := &claimHandler{sink: sink}
	sess := &fakeSession{ctx: context.Background()}
	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage, 2)}
	claim.msgs <- &sarama.ConsumerMessage{Offset: 10, Value: []byte(trigger)}
	claim.msgs <- &sarama.ConsumerMessage{Offset: 11, Value: []byte("garbage")}
	close(claim.msgs)

	require.NoError(t, h.ConsumeClaim(sess, claim))
	assert.Equal(t, []int64{10, 11}, sess.marked)
	assert.Equal(t, []string{"kafka"}, sink.srcs)
}

func TestKafkaConsumeClaimStopsWithSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sess := &fakeSession{ctx: ctx}
	claim := &fakeClaim{msgs: make(chan *sarama.ConsumerMessage)}
	done := make(chan error, 1)
	go func() { done <- (&claimHandler{sink: &recordingSink{}}).ConsumeClaim(sess, claim) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ConsumeClaim did not return")
	}
}
