package xcorr

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// stubBroker is a scriptable Broker for exercising error paths and pending sweeps.
type stubBroker struct {
	mu sync.Mutex

	appended  []map[string]string
	appendErr error
	pending   []PendingEntry
	acked     []string
	ackErr    map[string]error
	rangeErr  error
	countErr  error
	reads     []stubRead
	readCalls int
	groups    int
	deleted   []string
	closed    bool
}

type stubRead struct {
	entries []Entry
	err     error
}

var _ Broker = (*stubBroker)(nil)

func (s *stubBroker) Append(_ context.Context, _ string, fields map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return "", s.appendErr
	}
	s.appended = append(s.appended, fields)
	return fmt.Sprintf("%d-0", len(s.appended)), nil
}

func (s *stubBroker) EnsureStream(context.Context, string) (bool, error) { return false, nil }

func (s *stubBroker) EnsureGroup(context.Context, string, string, string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups++
	return true, nil
}

func (s *stubBroker) Groups(context.Context, string) ([]string, error) { return nil, nil }

func (s *stubBroker) ReadGroup(ctx context.Context, _, _, _ string, _ int64, block time.Duration) ([]Entry, error) {
	s.mu.Lock()
	i := s.readCalls
	s.readCalls++
	s.mu.Unlock()
	if i < len(s.reads) {
		return s.reads[i].entries, s.reads[i].err
	}
	t := time.NewTimer(block)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
		return nil, nil
	}
}

func (s *stubBroker) Ack(_ context.Context, _, _ string, ids ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range ids {
		if err := s.ackErr[id]; err != nil {
			return n, err
		}
		s.acked = append(s.acked, id)
		n++
	}
	return n, nil
}

func (s *stubBroker) PendingCount(context.Context, string, string) (int64, error) {
	if s.countErr != nil {
		return 0, s.countErr
	}
	return int64(len(s.pending)), nil
}

// PendingRange honours "-" and "(id" starts over the id-sorted pending slice.
func (s *stubBroker) PendingRange(_ context.Context, _, _, start, _ string, count int64) ([]PendingEntry, error) {
	if s.rangeErr != nil {
		return nil, s.rangeErr
	}
	from := 0
	if len(start) > 1 && start[0] == '(' {
		for i, p := range s.pending {
			if p.ID == start[1:] {
				from = i + 1
			}
		}
	}
	to := from + int(count)
	if to > len(s.pending) {
		to = len(s.pending)
	}
	return append([]PendingEntry(nil), s.pending[from:to]...), nil
}

func (s *stubBroker) DeleteConsumer(_ context.Context, _, _, consumer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, consumer)
	return nil
}

func (s *stubBroker) Close(context.Context) error {
	s.closed = true
	return nil
}

func (s *stubBroker) ackedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.acked...)
}
