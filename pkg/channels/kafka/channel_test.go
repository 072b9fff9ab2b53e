package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBrokers(t *testing.T) {
	brokers, err := ParseBrokers(" kafka-1:9092, ,kafka-2:9092 ")
	require.NoError(t, err)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, brokers)

	_, err = ParseBrokers("")
	require.ErrorIs(t, err, ErrNoBrokers)
}
