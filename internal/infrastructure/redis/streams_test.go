package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStreamClient struct {
	claimed      []goredis.XMessage
	fresh        []goredis.XMessage
	retryCounts  map[string]int64
	pendingCalls []*goredis.XPendingExtArgs
	acked        []string
}

func (f *fakeStreamClient) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *goredis.StatusCmd {
	cmd := goredis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeStreamClient) XReadGroup(ctx context.Context, a *goredis.XReadGroupArgs) *goredis.XStreamSliceCmd {
	cmd := goredis.NewXStreamSliceCmd(ctx)
	if len(f.fresh) == 0 {
		cmd.SetErr(goredis.Nil)
		return cmd
	}
	cmd.SetVal([]goredis.XStream{{Stream: a.Streams[0], Messages: f.fresh}})
	return cmd
}

func (f *fakeStreamClient) XAutoClaim(ctx context.Context, a *goredis.XAutoClaimArgs) *goredis.XAutoClaimCmd {
	cmd := goredis.NewXAutoClaimCmd(ctx)
	cmd.SetVal(f.claimed, "0-0")
	return cmd
}

func (f *fakeStreamClient) XPendingExt(ctx context.Context, a *goredis.XPendingExtArgs) *goredis.XPendingExtCmd {
	f.pendingCalls = append(f.pendingCalls, a)
	cmd := goredis.NewXPendingExtCmd(ctx)
	if count, ok := f.retryCounts[a.Start]; ok && a.Start == a.End {
		cmd.SetVal([]goredis.XPendingExt{{ID: a.Start, RetryCount: count}})
	} else {
		cmd.SetVal(nil)
	}
	return cmd
}

func (f *fakeStreamClient) XAck(ctx context.Context, stream, group string, ids ...string) *goredis.IntCmd {
	f.acked = append(f.acked, ids...)
	cmd := goredis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(ids)))
	return cmd
}

func newTestConsumer(client StreamClient, batchSize int64) *StreamConsumer {
	return NewStreamConsumer(client, AccountEventStream, "account-syncers", "worker-1", batchSize, time.Millisecond, time.Minute)
}

func payloadMessage(id string) goredis.XMessage {
	return goredis.XMessage{ID: id, Values: map[string]any{"payload": `{"eventType":"Update"}`}}
}

func TestStreamConsumer_Fetch_FreshMessagesCountOne(t *testing.T) {
	client := &fakeStreamClient{fresh: []goredis.XMessage{payloadMessage("2-0")}}
	c := newTestConsumer(client, 8)

	deliveries, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "2-0", deliveries[0].MessageID)
	assert.Equal(t, 1, deliveries[0].Count)
	assert.Equal(t, []byte(`{"eventType":"Update"}`), deliveries[0].Raw)
}

func TestStreamConsumer_Fetch_ClaimedUsesBrokerRetryCount(t *testing.T) {
	client := &fakeStreamClient{
		claimed:     []goredis.XMessage{payloadMessage("1-0")},
		retryCounts: map[string]int64{"1-0": 4},
	}
	c := newTestConsumer(client, 1)

	deliveries, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, 4, deliveries[0].Count)

	require.Len(t, client.pendingCalls, 1)
	assert.Equal(t, "1-0", client.pendingCalls[0].Start)
	assert.Equal(t, "1-0", client.pendingCalls[0].End, "pending lookup must target the claimed id exactly")
}

func TestStreamConsumer_Fetch_CountsClaimedBehindLargeBacklog(t *testing.T) {
	// The claimed message sorts after more pending entries (held by other
	// consumers) than a single batch covers; its count must still be exact
	// so dead-lettering fires at the configured ceiling.
	client := &fakeStreamClient{
		claimed: []goredis.XMessage{payloadMessage("9-0")},
		retryCounts: map[string]int64{
			"1-0": 2,
			"2-0": 2,
			"3-0": 2,
			"9-0": 10,
		},
	}
	c := newTestConsumer(client, 1)

	deliveries, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, 10, deliveries[0].Count)
}

func TestStreamConsumer_Fetch_MissingPendingEntryDefaultsToOne(t *testing.T) {
	client := &fakeStreamClient{claimed: []goredis.XMessage{payloadMessage("1-0")}}
	c := newTestConsumer(client, 1)

	deliveries, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, 1, deliveries[0].Count)
}

func TestStreamConsumer_Fetch_ClaimedBeforeFresh(t *testing.T) {
	client := &fakeStreamClient{
		claimed:     []goredis.XMessage{payloadMessage("1-0")},
		fresh:       []goredis.XMessage{payloadMessage("2-0")},
		retryCounts: map[string]int64{"1-0": 3},
	}
	c := newTestConsumer(client, 8)

	deliveries, err := c.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, deliveries, 2)
	assert.Equal(t, "1-0", deliveries[0].MessageID)
	assert.Equal(t, 3, deliveries[0].Count)
	assert.Equal(t, "2-0", deliveries[1].MessageID)
	assert.Equal(t, 1, deliveries[1].Count)
}

func TestStreamConsumer_Ack(t *testing.T) {
	client := &fakeStreamClient{}
	c := newTestConsumer(client, 8)

	require.NoError(t, c.Ack(context.Background(), "1-0"))
	assert.Equal(t, []string{"1-0"}, client.acked)
}
