package tour

import "context"

// slot tracks the single in-flight request for one logical operation.
// Starting a request cancels the previous one; completions carrying an old
// generation are discarded. Callers hold the session lock.
type slot struct {
	gen    uint64
	cancel context.CancelFunc
}

func (s *slot) begin(parent context.Context) (context.Context, uint64) {
	if s.cancel != nil {
		s.cancel()
	}
	s.gen++
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	return ctx, s.gen
}

func (s *slot) current(gen uint64) bool {
	return s.gen == gen
}

func (s *slot) finish(gen uint64) {
	if s.gen == gen && s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *slot) abandon() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.gen++
}
