package notify

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/taskvisor/internal/model"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic, qos, retained, payload.([]byte)})
	return doneToken{err: f.err}
}

func TestMQTT_Topics(t *testing.T) {
	m := NewMQTT(&fakePublisher{}, MQTTConfig{TopicPrefix: "/plant/line1/"})
	assert.Equal(t, "plant/line1/apps/a1/status", m.StatusTopic("a1"))
	assert.Equal(t, "plant/line1/tasks/r1/executed", m.TaskTopic("r1"))

	d := NewMQTT(&fakePublisher{}, MQTTConfig{QoS: 9})
	assert.Equal(t, "taskvisor/apps/x/status", d.StatusTopic("x"))
	assert.Equal(t, byte(2), d.qos)
}

func TestMQTT_PublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	m := NewMQTT(pub, MQTTConfig{QoS: 1, Retained: true})

	m.OnApplicationStatusChanged(model.ManagedApplication{ID: "a1", Name: "web", Status: model.StatusRunning})
	m.OnTaskExecuted(model.ScheduleRule{ID: "r1", Action: model.ActionRestart})

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "taskvisor/apps/a1/status", pub.msgs[0].topic)
	assert.Equal(t, byte(1), pub.msgs[0].qos)
	assert.True(t, pub.msgs[0].retained)
	var app model.ManagedApplication
	require.NoError(t, json.Unmarshal(pub.msgs[0].payload, &app))
	assert.Equal(t, model.StatusRunning, app.Status)

	var rule model.ScheduleRule
	require.NoError(t, json.Unmarshal(pub.msgs[1].payload, &rule))
	assert.Equal(t, model.ActionRestart, rule.Action)
}

func TestMQTT_PublishErrorIsSwallowed(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	m := NewMQTT(pub, MQTTConfig{})
	m.OnTaskExecuted(model.ScheduleRule{ID: "r"})
	assert.Len(t, pub.msgs, 1)
	m.Close()
}

func TestConnectMQTT_Unreachable(t *testing.T) {
	if testing.Short() {
		t.Skip("dials the network")
	}
	_, err := ConnectMQTT(MQTTConfig{Broker: "tcp://127.0.0.1:1"})
	assert.ErrorIs(t, err, ErrMQTTConnect)
}
