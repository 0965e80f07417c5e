package audio

import (
	"sync"
	"time"
)

// ScheduledChunk is one output buffer with its assigned playback slot.
type ScheduledChunk struct {
	PCM      []byte
	Start    time.Time
	Duration time.Duration
}

// End returns the instant playback of the chunk finishes.
func (c ScheduledChunk) End() time.Time {
	return c.Start.Add(c.Duration)
}

// Scheduler assigns gap-free, non-overlapping playback slots to output
// audio buffers and hands each buffer to the sink when its slot starts.
// Each buffer's start time is max(now, previous buffer's end time).
//
// Flush drops every chunk whose slot has not started and resets the clock
// to now; buffers already handed to the sink cannot be un-played, but
// nothing further queued will be.
type Scheduler struct {
	format Format
	sink   func(ScheduledChunk)
	now    func() time.Time

	mu        sync.Mutex
	nextStart time.Time
	queue     []ScheduledChunk
	wake      chan struct{}
	closed    bool
	done      chan struct{}
}

// NewScheduler creates a scheduler delivering chunks of the given format to
// sink. The sink is invoked from a single goroutine, in slot order.
func NewScheduler(format Format, sink func(ScheduledChunk)) *Scheduler {
	s := &Scheduler{
		format: format,
		sink:   sink,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.deliver()
	return s
}

// Enqueue assigns the next playback slot to pcm and returns the scheduled
// chunk. The scheduler owns pcm from this point; callers must not reuse it.
func (s *Scheduler) Enqueue(pcm []byte) ScheduledChunk {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	start := now
	if s.nextStart.After(now) {
		start = s.nextStart
	}
	chunk := ScheduledChunk{
		PCM:      pcm,
		Start:    start,
		Duration: s.format.BytesToDuration(len(pcm)),
	}
	s.nextStart = chunk.End()
	if !s.closed {
		s.queue = append(s.queue, chunk)
		s.signal()
	}
	return chunk
}

// Flush discards all not-yet-started chunks and resets the scheduling
// clock to now. Flushing an empty scheduler is a no-op.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = nil
	s.nextStart = time.Time{}
	s.signal()
}

// Pending returns the number of chunks waiting for their slot.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// BufferedDuration returns the total playback time of pending chunks.
func (s *Scheduler) BufferedDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total time.Duration
	for _, c := range s.queue {
		total += c.Duration
	}
	return total
}

// Close stops delivery. Pending chunks are dropped.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.mu.Unlock()
	s.signal()
	<-s.done
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) deliver() {
	defer close(s.done)
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			<-s.wake
			continue
		}
		head := s.queue[0]
		wait := head.Start.Sub(s.now())
		if wait <= 0 {
			s.queue = s.queue[1:]
			s.mu.Unlock()
			s.sink(head)
			continue
		}
		s.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)
		select {
		case <-timer.C:
		case <-s.wake:
		}
	}
}
