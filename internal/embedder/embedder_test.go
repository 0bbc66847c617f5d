package embedder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUserProvidedEmbedder(t *testing.T) {
	e, err := New(Config{Source: SourceUserProvided, Dimensions: 384})
	require.NoError(t, err)
	assert.Equal(t, 384, e.Dimensions())
	assert.Equal(t, SourceUserProvided, e.Source())
}

func TestUserProvidedEmbedderCannotEmbed(t *testing.T) {
	e, _ := New(Config{Source: SourceUserProvided, Dimensions: 8})
	_, err := e.Embed(context.Background(), "hello")
	assert.Error(t, err)
}

func TestNewRejectsNonPositiveDimensions(t *testing.T) {
	_, err := New(Config{Source: SourceLocal, Dimensions: 0})
	assert.Error(t, err)
}

func TestNewRejectsUnknownSource(t *testing.T) {
	_, err := New(Config{Source: "bogus", Dimensions: 8})
	assert.Error(t, err)
}

func TestNewRemoteRequiresEndpoint(t *testing.T) {
	_, err := New(Config{Source: SourceRemote, Dimensions: 8})
	assert.Error(t, err)
}

func TestLocalEmbedderDeterministic(t *testing.T) {
	e, err := New(Config{Source: SourceLocal, Dimensions: 16})
	require.NoError(t, err)
	v1, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	v2, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Len(t, v1, 16)
}

func TestLocalEmbedderDifferentTextDifferentVector(t *testing.T) {
	e, _ := New(Config{Source: SourceLocal, Dimensions: 16})
	v1, _ := e.Embed(context.Background(), "hello")
	v2, _ := e.Embed(context.Background(), "goodbye")
	assert.NotEqual(t, v1, v2)
}

func TestLocalEmbedderIsUnitNorm(t *testing.T) {
	e, _ := New(Config{Source: SourceLocal, Dimensions: 32})
	v, _ := e.Embed(context.Background(), "normalize me")
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sumSquares, 0.01)
}

func TestRemoteEmbedderUsesInjectedTransport(t *testing.T) {
	e, err := New(Config{Source: SourceRemote, Dimensions: 3, Endpoint: "http://example/embed"})
	require.NoError(t, err)
	WithTransport(e, func(ctx context.Context, endpoint, text string) ([]float32, error) {
		assert.Equal(t, "http://example/embed", endpoint)
		return []float32{0.1, 0.2, 0.3}, nil
	})
	v, err := e.Embed(context.Background(), "query")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)
}

func TestRemoteEmbedderRejectsWrongDimensions(t *testing.T) {
	e, _ := New(Config{Source: SourceRemote, Dimensions: 3, Endpoint: "http://example/embed"})
	WithTransport(e, func(ctx context.Context, endpoint, text string) ([]float32, error) {
		return []float32{0.1, 0.2}, nil
	})
	_, err := e.Embed(context.Background(), "query")
	assert.Error(t, err)
}

func TestRemoteEmbedderWithoutTransportErrors(t *testing.T) {
	e, _ := New(Config{Source: SourceRemote, Dimensions: 3, Endpoint: "http://example/embed"})
	_, err := e.Embed(context.Background(), "query")
	assert.Error(t, err)
}
