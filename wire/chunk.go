package wire

import (
	"unicode/utf8"

	"github.com/hipcheck-oss/hipcheck-core/hcerr"
)

// drainAtMostNBytes removes up to max bytes from the front of *buf,
// backing off to the previous UTF-8 char boundary if max lands inside
// a multi-byte codepoint. Returns the drained prefix.
func drainAtMostNBytes(buf *string, max int) (string, error) {
	toDrain := len(*buf)
	if max < toDrain {
		toDrain = max
	}
	// toDrain == len(*buf) is always a boundary (end of string); only
	// the interior case needs to walk back to the previous rune start.
	for toDrain > 0 && toDrain < len(*buf) && !utf8.RuneStart((*buf)[toDrain]) {
		toDrain--
	}
	if toDrain == 0 {
		return "", hcerr.New("wire", hcerr.KindChunking, "could not drain any whole char from string")
	}
	drained := (*buf)[:toDrain]
	*buf = (*buf)[toDrain:]
	return drained, nil
}

// Chunk splits q (in a *Complete state) into a sequence of Frames no
// single one of which exceeds budget bytes as estimated by
// EstimateSize, per the contract in wire's package doc. The final
// frame carries q's original terminal state; all others carry the
// matching *InProgress state.
func Chunk(q Query, budget int) ([]Frame, error) {
	base := Frame{
		ID:            q.ID,
		State:         q.terminalState(),
		PublisherName: q.Route.Publisher,
		PluginName:    q.Route.Plugin,
		QueryName:     q.Route.Query,
		Key:           q.Key,
		Output:        q.Output,
		Concern:       append([]string(nil), q.Concerns...),
	}
	inProgress := q.inProgressState()
	completion := q.terminalState()

	var out []Frame
	madeProgress := true
	for EstimateSize(base.Key, base.Output, base.Concern) > budget {
		if !madeProgress {
			return nil, hcerr.New("wire", hcerr.KindChunking, "message could not be chunked")
		}
		madeProgress = false

		remaining := budget
		chunk := Frame{
			ID:            base.ID,
			State:         inProgress,
			PublisherName: base.PublisherName,
			PluginName:    base.PluginName,
			QueryName:     base.QueryName,
		}

		if remaining > 0 && len(base.Key) > 0 {
			drained, err := drainAtMostNBytes(&base.Key, remaining)
			if err != nil {
				return nil, err
			}
			chunk.Key = drained
			remaining -= len(drained)
			madeProgress = true
		}

		if remaining > 0 && len(base.Output) > 0 {
			drained, err := drainAtMostNBytes(&base.Output, remaining)
			if err != nil {
				return nil, err
			}
			chunk.Output = drained
			remaining -= len(drained)
			madeProgress = true
		}

		l := len(base.Concern)
		for remaining > 0 && l > 0 {
			i := l - 1
			cBytes := len(base.Concern[i])
			if cBytes > budget {
				return nil, hcerr.New("wire", hcerr.KindChunking, "concern larger than max chunk size")
			} else if cBytes <= remaining {
				chunk.Concern = append(chunk.Concern, base.Concern[i])
				// swap-remove: drop index i without preserving order
				base.Concern[i] = base.Concern[len(base.Concern)-1]
				base.Concern = base.Concern[:len(base.Concern)-1]
				remaining -= cBytes
				madeProgress = true
			}
			l--
		}

		out = append(out, chunk)
	}
	base.State = completion
	out = append(out, base)
	return out, nil
}
