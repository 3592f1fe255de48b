package ai

import (
	"context"
	"fmt"
	"sync"
)

// Reply is one canned response of a Scripted generator.
type Reply struct {
	Text string
	Err  error
}

// Scripted is a deterministic Generator. Replies are served in order;
// once exhausted, Fallback (when set) answers every further prompt.
type Scripted struct {
	mu       sync.Mutex
	replies  []Reply
	prompts  []Prompt
	Fallback func(Prompt) (string, error)
}

func NewScripted(replies ...Reply) *Scripted {
	return &Scripted{replies: replies}
}

// Texts builds a Scripted generator from plain text replies.
func Texts(texts ...string) *Scripted {
	replies := make([]Reply, len(texts))
	for i, t := range texts {
		replies[i] = Reply{Text: t}
	}
	return NewScripted(replies...)
}

func (s *Scripted) Generate(ctx context.Context, p Prompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.prompts = append(s.prompts, p)
	if len(s.replies) > 0 {
		r := s.replies[0]
		s.replies = s.replies[1:]
		s.mu.Unlock()
		return r.Text, r.Err
	}
	fallback := s.Fallback
	s.mu.Unlock()

	if fallback != nil {
		return fallback(p)
	}
	return "", fmt.Errorf("scripted generator exhausted after %d prompts", len(s.Prompts()))
}

// Prompts returns every prompt received so far.
func (s *Scripted) Prompts() []Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Prompt, len(s.prompts))
	copy(out, s.prompts)
	return out
}

// Calls returns the number of prompts received.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}
