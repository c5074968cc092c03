package adapter

import (
	"context"
	"io"
	"strings"

	"voice-assistant/backend/internal/history"
	apperrors "voice-assistant/backend/pkg/errors"
)

// Request is one generation request
type Request struct {
	UserMessage  string
	History      []history.Turn
	ExtraContext string // formatted search results, placed ahead of the question
	Language     string // en, hi, both or auto
	Persona      string
}

// FragmentStream yields generated text in order. Recv returns io.EOF after
// the last fragment, or ErrEmptyResponse when the model produced nothing but
// whitespace.
type FragmentStream interface {
	Recv() (string, error)
	Close() error
}

// Generator produces answers for the voice pipeline and the one-shot chat
// endpoint
type Generator interface {
	Generate(ctx context.Context, req Request) (FragmentStream, error)
	GenerateOnce(ctx context.Context, req Request) (string, error)
}

// guardStream enforces the empty-response rule on top of a provider stream
type guardStream struct {
	inner   FragmentStream
	hasText bool
}

func newGuardStream(inner FragmentStream) *guardStream {
	return &guardStream{inner: inner}
}

func (g *guardStream) Recv() (string, error) {
	for {
		fragment, err := g.inner.Recv()
		if err == io.EOF {
			if !g.hasText {
				return "", apperrors.ErrEmptyResponse
			}
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		if fragment == "" {
			continue
		}
		if strings.TrimSpace(fragment) != "" {
			g.hasText = true
		}
		return fragment, nil
	}
}

func (g *guardStream) Close() error {
	return g.inner.Close()
}

// StaticStream replays fixed fragments. Skills that answer without the model
// use it so callers see the same stream shape.
type StaticStream struct {
	fragments []string
	pos       int
}

// NewStaticStream returns a stream over the given fragments
func NewStaticStream(fragments ...string) *StaticStream {
	return &StaticStream{fragments: fragments}
}

func (s *StaticStream) Recv() (string, error) {
	if s.pos >= len(s.fragments) {
		return "", io.EOF
	}
	f := s.fragments[s.pos]
	s.pos++
	return f, nil
}

func (s *StaticStream) Close() error { return nil }

// Collect drains a stream into one string
func Collect(stream FragmentStream) (string, error) {
	defer stream.Close()

	var sb strings.Builder
	for {
		fragment, err := stream.Recv()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(fragment)
	}
}
