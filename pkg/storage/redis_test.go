package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/hubcap/pkg/capability"
	"github.com/platinummonkey/hubcap/pkg/repository"
)

func setupRedisPublisher(t *testing.T) (*RedisPublisher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	log, _ := test.NewNullLogger()
	p, err := NewRedisPublisher(context.Background(), RedisConfig{
		URL:    "redis://" + mr.Addr(),
		Prefix: "test",
		TTL:    time.Hour,
	}, log)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p, mr
}

func successEvent() repository.Event {
	gen := repository.NewGeneration([]capability.Record{
		{Source: "/plugins/a.so", Type: "example.com/a.English", Capability: "example.com/a.Greeter", Metadata: capability.Metadata{"language": "en"}},
	}, nil, nil)
	return repository.Event{Kind: repository.KindDirectory, Source: "/plugins", Generation: gen}
}

func TestNewRedisPublisher_Errors(t *testing.T) {
	_, err := NewRedisPublisher(context.Background(), RedisConfig{URL: "not a url"}, nil)
	assert.Error(t, err)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()
	_, err = NewRedisPublisher(context.Background(), RedisConfig{URL: "redis://" + addr}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestRedisPublisher_Snapshot(t *testing.T) {
	p, mr := setupRedisPublisher(t)
	ctx := context.Background()
	ev := successEvent()

	snap, err := p.Snapshot(ctx, ev.Kind, ev.Source)
	require.NoError(t, err)
	assert.Nil(t, snap)

	p.InspectionFinished(ctx, ev)

	key := p.SnapshotKey(ev.Kind, ev.Source)
	assert.Equal(t, "test:records:directory:/plugins", key)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))

	snap, err = p.Snapshot(ctx, ev.Kind, ev.Source)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, ev.Generation.ID.String(), snap.Generation)
	assert.Equal(t, ev.Generation.Records, snap.Records)
	assert.WithinDuration(t, ev.Generation.InspectedAt, snap.InspectedAt, time.Millisecond)
}

func TestRedisPublisher_FailureKeepsSnapshot(t *testing.T) {
	p, _ := setupRedisPublisher(t)
	ctx := context.Background()
	ev := successEvent()
	p.InspectionFinished(ctx, ev)

	p.InspectionFinished(ctx, repository.Event{Kind: ev.Kind, Source: ev.Source, Err: errors.New("gone")})

	snap, err := p.Snapshot(ctx, ev.Kind, ev.Source)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, ev.Generation.ID.String(), snap.Generation)
}

func TestRedisPublisher_CorruptSnapshot(t *testing.T) {
	p, mr := setupRedisPublisher(t)
	key := p.SnapshotKey("directory", "/plugins")
	require.NoError(t, mr.Set(key, "{not json"))

	_, err := p.Snapshot(context.Background(), "directory", "/plugins")
	assert.Error(t, err)
	assert.False(t, mr.Exists(key))
}

func TestRedisPublisher_Announcements(t *testing.T) {
	p, _ := setupRedisPublisher(t)
	ctx := context.Background()

	sub := p.client.Subscribe(ctx, p.InspectionsChannel())
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	messages := sub.Channel()

	ev := successEvent()
	require.NoError(t, p.Publish(ctx, ev))
	require.NoError(t, p.Publish(ctx, repository.Event{Kind: ev.Kind, Source: ev.Source, Err: errors.New("gone")}))

	var anns []Announcement
	for len(anns) < 2 {
		select {
		case msg := <-messages:
			var ann Announcement
			require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ann))
			anns = append(anns, ann)
		case <-time.After(5 * time.Second):
			t.Fatal("announcement not received")
		}
	}
	assert.Equal(t, Announcement{Kind: "directory", Source: "/plugins", Status: "success", Generation: ev.Generation.ID.String(), Records: 1}, anns[0])
	assert.Equal(t, "failure", anns[1].Status)
	assert.Equal(t, "gone", anns[1].Error)
}

func TestRedisPublisher_RefreshSubscription(t *testing.T) {
	p, _ := setupRedisPublisher(t)
	ctx, cancel := context.WithCancel(context.Background())

	var refreshes atomic.Int32
	done, err := p.SubscribeRefresh(ctx, func(context.Context) { refreshes.Add(1) })
	require.NoError(t, err)

	require.NoError(t, p.RequestRefresh(context.Background()))
	require.NoError(t, p.RequestRefresh(context.Background()))
	assert.Eventually(t, func() bool { return refreshes.Load() == 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not stop")
	}
}
