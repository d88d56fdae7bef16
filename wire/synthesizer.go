package wire

import (
	"fmt"

	"github.com/hipcheck-oss/hipcheck-core/hcerr"
)

// Synthesizer accumulates a sequence of Frames sharing one correlation
// id into the logical Query they represent. Zero value is ready to use.
type Synthesizer struct {
	raw  *Frame
	done bool
}

// Add feeds frames, in stream order, into the synthesizer. It returns
// the reassembled Query once a terminal frame has been consumed, or
// nil if more frames are still expected (the stream ran out first).
// Once Add has returned a non-nil Query, the Synthesizer must not be
// reused for a different id. A Complete frame followed by further
// frames in the same call is an error.
func (s *Synthesizer) Add(frames []Frame) (*Query, error) {
	for i, f := range frames {
		if f.State.IsComplete() && i < len(frames)-1 {
			return nil, &hcerr.Error{
				Component: "wire",
				Kind:      hcerr.KindProtocol,
				Message:   fmt.Sprintf("more frames after query %d already complete", f.ID),
			}
		}
	}
	for _, f := range frames {
		if s.done {
			return nil, &hcerr.Error{
				Component: "wire",
				Kind:      hcerr.KindProtocol,
				Message:   fmt.Sprintf("more frames after query %d already complete", f.ID),
			}
		}

		if s.raw == nil {
			cp := f
			cp.Concern = append([]string(nil), f.Concern...)
			s.raw = &cp

			if f.State == StateUnspecified {
				return nil, hcerr.Wrap("wire", hcerr.KindProtocol, "first frame unspecified", hcerr.ErrUnspecifiedQueryState)
			}
			if f.State.IsComplete() {
				return s.finish()
			}
			continue
		}

		if !s.raw.State.IsInProgress() {
			// We already completed; any further frame for this id is an error.
			return nil, &hcerr.Error{
				Component: "wire",
				Kind:      hcerr.KindProtocol,
				Message:   fmt.Sprintf("more frames after query %d already complete", s.raw.ID),
			}
		}

		switch {
		case f.State == StateUnspecified:
			return nil, hcerr.Wrap("wire", hcerr.KindProtocol, "frame unspecified mid-stream", hcerr.ErrUnspecifiedQueryState)
		case s.raw.State.IsSubmit() && f.State.IsReply():
			return nil, hcerr.New("wire", hcerr.KindProtocol, "received reply frame when expecting submit chunk")
		case s.raw.State.IsReply() && f.State.IsSubmit():
			return nil, hcerr.New("wire", hcerr.KindProtocol, "received submit frame when expecting reply chunk")
		default:
			s.raw.Key += f.Key
			s.raw.Output += f.Output
			s.raw.Concern = append(s.raw.Concern, f.Concern...)
			if f.State.IsComplete() {
				s.raw.State = f.State
				return s.finish()
			}
		}
	}
	return nil, nil
}

func (s *Synthesizer) finish() (*Query, error) {
	raw := s.raw
	s.raw = nil
	s.done = true

	var dir Direction
	switch {
	case raw.State == StateSubmitComplete:
		dir = DirectionRequest
	case raw.State == StateReplyComplete:
		dir = DirectionResponse
	default:
		return nil, hcerr.Wrap("wire", hcerr.KindProtocol, "terminal frame not in a Complete state", hcerr.ErrUnspecifiedQueryState)
	}

	q := &Query{
		ID:        raw.ID,
		Direction: dir,
		Route: Route{
			Publisher: raw.PublisherName,
			Plugin:    raw.PluginName,
			Query:     raw.QueryName,
		},
		Key:      raw.Key,
		Output:   raw.Output,
		Concerns: raw.Concern,
	}
	return q, nil
}

// Reassemble is a convenience for the common case where all frames for
// one id are already in hand.
func Reassemble(frames []Frame) (*Query, error) {
	var s Synthesizer
	q, err := s.Add(frames)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, hcerr.New("wire", hcerr.KindProtocol, "frame sequence ended without a Complete frame")
	}
	return q, nil
}
