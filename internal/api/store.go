package api

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/samcharles93/matnpu/pkg/matmul"
)

type resultRecord struct {
	result    *matmul.Result
	createdAt time.Time
}

// ResultStore holds result handles a client asked to keep. A record owns its handle:
// Delete and Close release the device memory behind it.
type ResultStore struct {
	mu      sync.Mutex
	results map[string]*resultRecord
}

func NewResultStore() *ResultStore {
	return &ResultStore{
		results: make(map[string]*resultRecord),
	}
}

func (s *ResultStore) Put(r *matmul.Result, now time.Time) string {
	id := newResultID()
	s.mu.Lock()
	s.results[id] = &resultRecord{result: r, createdAt: now}
	s.mu.Unlock()
	return id
}

// Read renders a stored result. The lock is held while the handle is read so a
// concurrent Delete cannot release it mid-copy.
func (s *ResultStore) Read(id string) (MatmulResponse, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.results[id]
	if !ok {
		return MatmulResponse{}, false, nil
	}
	resp, err := renderResult(rec.result)
	resp.ID = id
	return resp, true, err
}

func (s *ResultStore) Delete(id string) (bool, error) {
	s.mu.Lock()
	rec, ok := s.results[id]
	if ok {
		delete(s.results, id)
	}
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, rec.result.Release()
}

func (s *ResultStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// Close releases every stored handle.
func (s *ResultStore) Close() error {
	s.mu.Lock()
	records := s.results
	s.results = make(map[string]*resultRecord)
	s.mu.Unlock()

	var errs []error
	for _, rec := range records {
		errs = append(errs, rec.result.Release())
	}
	return errors.Join(errs...)
}

func renderResult(r *matmul.Result) (MatmulResponse, error) {
	data, err := r.Float64s()
	if err != nil {
		return MatmulResponse{}, err
	}
	for i, v := range data {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return MatmulResponse{}, fmt.Errorf("%w: C[%d] is %v in %s", ErrNonFinite, i, v, r.Kind())
		}
	}
	d := r.Dims()
	return MatmulResponse{
		Object: "matmul.result",
		Mode:   r.Mode().String(),
		M:      d.M,
		K:      d.K,
		N:      d.N,
		Kind:   r.Kind().String(),
		Data:   data,
	}, nil
}
