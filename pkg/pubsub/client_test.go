package pubsub

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rxdispatch/rxdispatch-backend/pkg/config"
)

func TestResourceName(t *testing.T) {
	assert.Equal(t, "projects/rx/topics/events", resourceName("rx", "topics", "events"))
	assert.Equal(t, "projects/other/topics/events", resourceName("rx", "topics", "projects/other/topics/events"))
	assert.Equal(t, "", resourceName("rx", "topics", "  "))
	assert.Equal(t, "", resourceName("", "topics", "events"))
	assert.Equal(t, "projects/rx/subscriptions/inbox", resourceName("rx", "subscriptions", "inbox"))
}

func TestRequirements(t *testing.T) {
	cfg := config.PubSubConfig{
		PrescriptionsTopic:        " rx-events ",
		NotificationsSubscription: "inbox",
	}
	assert.Equal(t, Requirements{Topics: []string{"rx-events"}}, PublisherRequirements(cfg))
	assert.Equal(t, Requirements{Subscriptions: []string{"inbox"}}, ConsumerRequirements(cfg))
	assert.Empty(t, ConsumerRequirements(config.PubSubConfig{}).Subscriptions)
}

func TestNewClientValidatesInputs(t *testing.T) {
	_, err := NewClient(context.Background(), config.GCPConfig{}, Requirements{Topics: []string{"t"}}, nil)
	assert.ErrorIs(t, err, errProjectIDRequired)

	_, err = NewClient(context.Background(), config.GCPConfig{ProjectID: "rx"}, Requirements{}, nil)
	assert.ErrorIs(t, err, errNothingRequired)
}

func TestClientOptionsPreferInlineCredentials(t *testing.T) {
	assert.Len(t, clientOptions(config.GCPConfig{CredentialsJSON: "{}", ApplicationCredentials: "/tmp/key.json"}), 1)
	assert.Len(t, clientOptions(config.GCPConfig{ApplicationCredentials: "/tmp/key.json"}), 1)
	assert.Empty(t, clientOptions(config.GCPConfig{}))
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	assert.Nil(t, c.Publisher("events"))
	assert.Nil(t, c.Subscriber("inbox"))
	assert.Error(t, c.Ping(context.Background()))
	assert.NoError(t, c.Close())
}
