package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	name   string
	closed bool
}

func (s *stubClient) GenerateContent(_ context.Context, _ string, _ ModelTier) (string, error) {
	return s.name, nil
}

func (s *stubClient) GenerateJSON(_ context.Context, _ string, _ ModelTier) (string, error) {
	return s.name, nil
}

func (s *stubClient) GenerateVision(_ context.Context, _ string, _ []byte, _ ModelTier) (string, error) {
	return s.name, nil
}

func (s *stubClient) GetModel(_ ModelTier) string { return s.name }

func (s *stubClient) Close() error {
	s.closed = true
	return nil
}

func TestRegistryForCapability(t *testing.T) {
	r := NewRegistry()
	text := &stubClient{name: "text"}
	vision := &stubClient{name: "vision"}
	r.Register(text, CapabilityText, CapabilityJSON)
	r.Register(vision, CapabilityVision)

	got, err := r.ForCapability(CapabilityJSON)
	require.NoError(t, err)
	assert.Equal(t, text, got)

	got, err = r.ForCapability(CapabilityVision)
	require.NoError(t, err)
	assert.Equal(t, vision, got)
}

func TestRegistryMissingCapability(t *testing.T) {
	r := NewRegistry()
	_, err := r.ForCapability(CapabilityVision)
	assert.Error(t, err)
}

func TestRegistryLaterRegistrationWins(t *testing.T) {
	r := NewRegistry()
	first := &stubClient{name: "first"}
	second := &stubClient{name: "second"}
	r.Register(first, CapabilityText)
	r.Register(second, CapabilityText)

	got, err := r.ForCapability(CapabilityText)
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestRegistryCloseClosesEachClientOnce(t *testing.T) {
	r := NewRegistry()
	c := &stubClient{name: "c"}
	r.Register(c, CapabilityText, CapabilityJSON, CapabilityVision)

	require.NoError(t, r.Close())
	assert.True(t, c.closed)
}
