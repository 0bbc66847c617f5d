// Package embedder implements the vector-embedding abstraction: a small
// Embedder interface with three source variants, a per-tenant cache of
// instantiated embedders, and an LRU cache of query embeddings. Grounded
// on engine/flapjack-http/src/embedder_store.rs.
package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/flapjack/flapjack/internal/errs"
)

// Source names how an embedder produces vectors.
type Source string

const (
	// SourceUserProvided means the caller supplies vectors directly in
	// each document's _vectors field; Embed is never called for it.
	SourceUserProvided Source = "userProvided"
	// SourceRemote calls out to an external embedding HTTP endpoint.
	SourceRemote Source = "remote"
	// SourceLocal uses an in-process deterministic embedding (a stable
	// hash projected onto the unit sphere), useful for tests and for
	// deployments with no model-serving infrastructure available.
	SourceLocal Source = "local"
)

// Config is the per-embedder-name settings payload, parsed out of a
// tenant's settings.embedders map.
type Config struct {
	Source     Source `json:"source"`
	Dimensions int    `json:"dimensions"`
	Endpoint   string `json:"endpoint,omitempty"` // SourceRemote only
}

// Embedder turns query text into a vector in its declared dimensionality.
type Embedder interface {
	Dimensions() int
	Source() Source
	Embed(ctx context.Context, text string) ([]float32, error)
}

// New builds the Embedder variant named by config.Source.
func New(config Config) (Embedder, error) {
	if config.Dimensions <= 0 {
		return nil, errs.New("embedder.New", errs.KindConfigError, fmt.Errorf("dimensions must be positive, got %d", config.Dimensions))
	}
	switch config.Source {
	case SourceUserProvided:
		return &userProvidedEmbedder{dims: config.Dimensions}, nil
	case SourceRemote:
		if config.Endpoint == "" {
			return nil, errs.New("embedder.New", errs.KindConfigError, fmt.Errorf("remote embedder requires an endpoint"))
		}
		return &remoteEmbedder{dims: config.Dimensions, endpoint: config.Endpoint}, nil
	case SourceLocal:
		return &localEmbedder{dims: config.Dimensions}, nil
	default:
		return nil, errs.New("embedder.New", errs.KindConfigError, fmt.Errorf("unknown embedder source %q", config.Source))
	}
}

// userProvidedEmbedder never computes anything: callers must supply
// vectors via a document's _vectors field. Embed exists only to satisfy
// the interface and always errors, since query-time embedding for a
// user-provided embedder makes no sense (there is nothing to call).
type userProvidedEmbedder struct {
	dims int
}

func (e *userProvidedEmbedder) Dimensions() int  { return e.dims }
func (e *userProvidedEmbedder) Source() Source   { return SourceUserProvided }
func (e *userProvidedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, errs.New("embedder.Embed", errs.KindInvalidRequest, fmt.Errorf("embedder is user-provided; it cannot embed query text"))
}

// remoteEmbedder calls out to an external HTTP embedding service. Its
// actual transport is intentionally left as a thin seam (the caller
// supplies an http.Client-backed implementation at wiring time by calling
// WithTransport below) since the wire contract of that external
// service is deployment-specific and out of this core's scope.
type remoteEmbedder struct {
	dims     int
	endpoint string
	call     func(ctx context.Context, endpoint, text string) ([]float32, error)
}

func (e *remoteEmbedder) Dimensions() int { return e.dims }
func (e *remoteEmbedder) Source() Source  { return SourceRemote }

func (e *remoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.call == nil {
		return nil, errs.New("embedder.Embed", errs.KindConfigError, fmt.Errorf("remote embedder %q has no transport configured", e.endpoint))
	}
	vec, err := e.call(ctx, e.endpoint, text)
	if err != nil {
		return nil, errs.New("embedder.Embed", errs.KindStorageFailure, err)
	}
	if len(vec) != e.dims {
		return nil, errs.New("embedder.Embed", errs.KindStorageFailure, fmt.Errorf("remote embedder returned %d dims, want %d", len(vec), e.dims))
	}
	return vec, nil
}

// WithTransport binds a remoteEmbedder's HTTP call function. Exposed as a
// package function (not a method, since Embedder is an interface) so
// callers can wire a real client without this package depending on
// net/http policy decisions like retries or auth headers.
func WithTransport(e Embedder, call func(ctx context.Context, endpoint, text string) ([]float32, error)) {
	if r, ok := e.(*remoteEmbedder); ok {
		r.call = call
	}
}

// localEmbedder deterministically derives a unit vector from a SHA-256
// hash of the input text. It produces no semantic similarity whatsoever —
// it exists so a deployment with no model-serving infrastructure can still
// exercise every code path that expects an Embedder, and so tests get
// reproducible vectors without mocking an HTTP endpoint.
type localEmbedder struct {
	dims int
}

func (e *localEmbedder) Dimensions() int { return e.dims }
func (e *localEmbedder) Source() Source  { return SourceLocal }

func (e *localEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dims)
	block := sha256.Sum256([]byte(text))
	for i := range vec {
		// Extend the 32-byte hash by re-hashing with the index mixed in,
		// so dims > 8 still get distinct pseudo-random components.
		seed := sha256.Sum256(append(block[:], byte(i), byte(i>>8)))
		bits := binary.BigEndian.Uint64(seed[:8])
		// Map to [-1, 1).
		vec[i] = float32(bits>>11)/float32(1<<53)*2 - 1
	}
	normalize(vec)
	return vec, nil
}

func normalize(vec []float32) {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return
	}
	mag := float32(math.Sqrt(sumSquares))
	for i := range vec {
		vec[i] /= mag
	}
}
