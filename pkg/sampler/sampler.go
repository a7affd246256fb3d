// Package sampler serves shuffled mini-batches from a paired store, epoch
// by epoch.
package sampler

import (
	"errors"
	"fmt"
	randv2 "math/rand/v2"
	"sort"

	"mrimask/internal/models"
	"mrimask/pkg/store"
)

// ErrBatchSize reports a batch size that can never be served.
var ErrBatchSize = errors.New("invalid batch size")

// Source is a co-indexed image/label collection.
type Source interface {
	Len() int
	Gather(indices []int) (*models.ImageBatch, *models.LabelBatch, error)
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithSeed makes the shuffles reproducible.
func WithSeed(seed uint64) Option {
	return func(s *Sampler) {
		s.rng = randv2.New(randv2.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithRand uses r for shuffling.
func WithRand(r *randv2.Rand) Option {
	return func(s *Sampler) {
		s.rng = r
	}
}

// Sampler draws batches without replacement within an epoch. It is not
// safe for concurrent use.
type Sampler struct {
	src    Source
	closer func() error
	rng    *randv2.Rand

	n      int
	perm   []int
	cursor int
	epoch  int
	last   []int
}

// Open opens the paired store at path read-only and samples from it.
func Open(path string, opts ...Option) (*Sampler, error) {
	ps, err := store.OpenPaired(path)
	if err != nil {
		return nil, err
	}
	s := New(ps, opts...)
	s.closer = ps.Close
	return s, nil
}

// New samples from src. The first permutation is shuffled here.
func New(src Source, opts ...Option) *Sampler {
	s := &Sampler{
		src: src,
		n:   src.Len(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = randv2.New(randv2.NewPCG(randv2.Uint64(), randv2.Uint64()))
	}
	s.reshuffle()
	return s
}

func (s *Sampler) reshuffle() {
	if cap(s.perm) < s.n {
		s.perm = make([]int, s.n)
	}
	s.perm = s.perm[:s.n]
	for i := range s.perm {
		s.perm[i] = i
	}
	s.rng.Shuffle(len(s.perm), func(i, j int) {
		s.perm[i], s.perm[j] = s.perm[j], s.perm[i]
	})
}

// NextBatch returns batchSize pairs, their indices sorted ascending.
//
// When cursor+batchSize reaches or passes N a new epoch starts before
// anything is taken: the permutation is rebuilt and reshuffled and the
// cursor returns to 0. The last batch of an epoch is therefore never
// served from the old permutation. The cursor then advances by batchSize.
func (s *Sampler) NextBatch(batchSize int) (*models.ImageBatch, *models.LabelBatch, error) {
	if batchSize <= 0 || batchSize > s.n {
		return nil, nil, fmt.Errorf("%w: %d requested, store holds %d", ErrBatchSize, batchSize, s.n)
	}

	if s.cursor+batchSize >= s.n {
		s.epoch++
		s.reshuffle()
		s.cursor = 0
	}

	end := s.cursor + batchSize
	indices := make([]int, batchSize)
	copy(indices, s.perm[s.cursor:end])
	sort.Ints(indices)

	images, labels, err := s.src.Gather(indices)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to gather batch: %w", err)
	}

	s.last = indices
	s.cursor += batchSize

	return images, labels, nil
}

// Len returns the number of pairs in the source.
func (s *Sampler) Len() int {
	return s.n
}

// Epoch returns how many times the permutation has been exhausted.
func (s *Sampler) Epoch() int {
	return s.epoch
}

// Cursor returns the position of the next batch in the permutation.
func (s *Sampler) Cursor() int {
	return s.cursor
}

// LastIndices returns the sorted indices of the most recent batch.
func (s *Sampler) LastIndices() []int {
	return append([]int(nil), s.last...)
}

// Close releases the store opened by Open.
func (s *Sampler) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer()
	s.closer = nil
	return err
}
