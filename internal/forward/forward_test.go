package forward

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/iotdataplane"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"coffee-telemetry/internal/bus/embeddednats"
	"coffee-telemetry/internal/bus/natsjs"
	"coffee-telemetry/internal/core/fleet"
	"coffee-telemetry/internal/events"
	"coffee-telemetry/internal/telemetry"
)

const cloudTopic = "dt/coffeemonitor/machines"

func sampleSnapshot() fleet.Snapshot {
	return fleet.Snapshot{
		"A": {DeviceID: "A", TotalCups: 2, TotalBeansUsage: 27},
		"B": {DeviceID: "B", TotalCups: 0, TotalBeansUsage: 0},
	}
}

func TestPayload_KeyedByDevice(t *testing.T) {
	b, err := Payload(sampleSnapshot())
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"A": {"device_id":"A","total_cups":2,"total_beans_usage":27},
		"B": {"device_id":"B","total_cups":0,"total_beans_usage":0}
	}`, string(b))

	b, err = Payload(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))
}

type stubSink struct {
	name  string
	err   error
	calls int
}

func (s *stubSink) Name() string { return s.name }
func (s *stubSink) Forward(context.Context, string, fleet.Snapshot) error {
	s.calls++
	return s.err
}

func TestFanout_DeliversToAllAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	a := &stubSink{name: "a", err: boom}
	b := &stubSink{name: "b"}
	f := NewFanout(zap.NewNop(), a, b)

	err := f.Forward(context.Background(), cloudTopic, sampleSnapshot())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "a: boom")
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls)
	assert.Equal(t, []string{"a", "b"}, f.Sinks())

	a.err = nil
	assert.NoError(t, f.Forward(context.Background(), cloudTopic, sampleSnapshot()))
}

func TestLog_WritesSnapshot(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := NewLog(zap.New(core))

	require.NoError(t, s.Forward(context.Background(), cloudTopic, sampleSnapshot()))
	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, cloudTopic, entries[0].ContextMap()["topic"])
	assert.EqualValues(t, 2, entries[0].ContextMap()["devices"])
}

type fakeIoTData struct {
	in  *iotdataplane.PublishInput
	err error
}

func (f *fakeIoTData) Publish(_ context.Context, in *iotdataplane.PublishInput, _ ...func(*iotdataplane.Options)) (*iotdataplane.PublishOutput, error) {
	f.in = in
	return &iotdataplane.PublishOutput{}, f.err
}

func TestIoTData_PublishesSnapshot(t *testing.T) {
	fake := &fakeIoTData{}
	s := &IoTData{api: fake}

	require.NoError(t, s.Forward(context.Background(), cloudTopic, sampleSnapshot()))
	require.NotNil(t, fake.in)
	assert.Equal(t, cloudTopic, aws.ToString(fake.in.Topic))
	assert.EqualValues(t, 0, fake.in.Qos)

	var got map[string]telemetry.Envelope
	require.NoError(t, json.Unmarshal(fake.in.Payload, &got))
	assert.Equal(t, int64(27), got["A"].TotalBeansUsage)
}

func TestIoTData_PublishError(t *testing.T) {
	s := &IoTData{api: &fakeIoTData{err: errors.New("forbidden")}}
	err := s.Forward(context.Background(), cloudTopic, sampleSnapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forbidden")
}

func TestIoTData_ClientTargetsEndpoint(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := aws.Config{
		Region:      "eu-west-1",
		Credentials: credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "secret", ""),
	}
	s, err := NewIoTData(cfg, srv.URL)
	require.NoError(t, err)
	require.NoError(t, s.Forward(context.Background(), cloudTopic, sampleSnapshot()))

	assert.True(t, strings.HasPrefix(gotPath, "/topics/"), gotPath)
	assert.True(t, strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/"), gotAuth)
	assert.Contains(t, gotAuth, "/eu-west-1/iotdata/aws4_request")
}

func TestNewIoTData_Validation(t *testing.T) {
	_, err := NewIoTData(aws.Config{Credentials: credentials.NewStaticCredentialsProvider("a", "b", "")}, "")
	assert.Error(t, err)
	_, err = NewIoTData(aws.Config{}, "example.com")
	assert.Error(t, err)

	_, err = NewIoTData(aws.Config{Region: "eu-west-1", Credentials: credentials.NewStaticCredentialsProvider("a", "b", "")}, "abc-ats.iot.eu-west-1.amazonaws.com")
	assert.NoError(t, err)
}

type fakeSQS struct {
	in *sqs.SendMessageInput
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.in = in
	return &sqs.SendMessageOutput{MessageId: aws.String("1")}, nil
}

func TestSQS_SendsSnapshot(t *testing.T) {
	api := &fakeSQS{}
	s, err := newSQS(api, "https://sqs.local/queue")
	require.NoError(t, err)
	require.NoError(t, s.Forward(context.Background(), cloudTopic, sampleSnapshot()))

	require.NotNil(t, api.in)
	assert.Equal(t, "https://sqs.local/queue", aws.ToString(api.in.QueueUrl))
	assert.Equal(t, cloudTopic, aws.ToString(api.in.MessageAttributes["topic"].StringValue))
	assert.Contains(t, aws.ToString(api.in.MessageBody), `"device_id":"A"`)

	_, err = newSQS(api, "")
	assert.Error(t, err)
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafka_KeyedByTopic(t *testing.T) {
	w := &fakeWriter{}
	k := &Kafka{w: w}
	require.NoError(t, k.Forward(context.Background(), cloudTopic, sampleSnapshot()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, cloudTopic, string(w.msgs[0].Key))

	require.NoError(t, NewFanout(nil, k).Close())
	assert.True(t, w.closed)

	_, err := NewKafka(nil, "t")
	assert.Error(t, err)
	_, err = NewKafka([]string{"127.0.0.1:9092"}, "")
	assert.Error(t, err)
}

func TestNATS_PublishesProtobufSnapshot(t *testing.T) {
	srv, err := embeddednats.Start(embeddednats.Config{
		Port:     -1,
		HTTPPort: -1,
		StoreDir: filepath.Join(t.TempDir(), "js"),
	})
	require.NoError(t, err)
	defer srv.Shutdown()

	c, err := natsjs.Connect(natsjs.Config{URL: srv.ClientURL(), Prefix: "coffee", Timeout: 2 * time.Second})
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.EnsureStreams())

	consumer, err := c.NewPullConsumer(natsjs.ConsumerConfig{Durable: "forward-test", Filter: events.FleetSnapshot, MaxAckPending: 16})
	require.NoError(t, err)

	s, err := NewNATS(c, "gateway")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Forward(ctx, cloudTopic, sampleSnapshot()))

	msgs, err := consumer.Fetch(ctx, 1, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	schema, err := events.LoadSchema()
	require.NoError(t, err)
	env, err := events.UnmarshalEnvelope(schema, msgs[0].Data())
	require.NoError(t, err)
	topic, snap, err := events.FleetSnapshotFrom(env)
	require.NoError(t, err)
	assert.Equal(t, cloudTopic, topic)
	assert.Equal(t, map[string]telemetry.Envelope(sampleSnapshot()), snap)
}

func TestNewMQTT_BadURL(t *testing.T) {
	_, err := NewMQTT(context.Background(), MQTTConfig{Broker: "::not a url"}, nil)
	assert.Error(t, err)
}
