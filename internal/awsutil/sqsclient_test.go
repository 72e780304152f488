package awsutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSQSClientEndpointOverride(t *testing.T) {
	c, err := NewSQSClient(context.Background(), "us-east-1", "http://localhost:4566")
	require.NoError(t, err)

	opts := c.Options()
	require.NotNil(t, opts.BaseEndpoint)
	assert.Equal(t, "http://localhost:4566", *opts.BaseEndpoint)
	assert.Equal(t, "us-east-1", opts.Region)
}

func TestNewSQSClientDefaultEndpoint(t *testing.T) {
	c, err := NewSQSClient(context.Background(), "eu-west-1", "")
	require.NoError(t, err)
	assert.Nil(t, c.Options().BaseEndpoint)
}
