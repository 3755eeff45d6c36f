// Package replace applies find/replace pairs to database values, descending
// into PHP-serialized structures so that every length prefix stays valid.
package replace

import (
	"errors"
	"fmt"
	"strings"

	"github.com/maxpert/dbreplace/phpserial"
)

var (
	// ErrUnexpectedNode is reported when traversal meets a node it cannot
	// handle. The subtree is kept unchanged.
	ErrUnexpectedNode = errors.New("replace: unexpected node")

	// ErrTraversal wraps a panic recovered while rewriting a value.
	ErrTraversal = errors.New("replace: traversal aborted")

	// ErrEncodeInconsistency is returned when a decoded value does not
	// re-encode to its source. It indicates a codec defect and is never
	// recovered locally.
	ErrEncodeInconsistency = phpserial.ErrEncodeInconsistency
)

// Pair is one find/replace instruction.
type Pair struct {
	Find    string
	Replace string
}

// Observer receives the failures the engine recovers from. Implementations
// must be safe for concurrent use if the engine is shared between goroutines.
type Observer interface {
	// DecodeFallback is called when a value looked serialized but failed to
	// decode and was treated as a plain string.
	DecodeFallback(err error)
	// Degraded is called when a subtree was left unchanged because of err.
	Degraded(err error)
}

type nopObserver struct{}

func (nopObserver) DecodeFallback(error) {}
func (nopObserver) Degraded(error)       {}

// Options configures an Engine.
type Options struct {
	CaseInsensitive bool
	// VerifyRoundTrip re-encodes every decoded value before rewriting it and
	// fails with ErrEncodeInconsistency if the bytes differ.
	VerifyRoundTrip bool
	Decode          phpserial.DecodeOptions
	Observer        Observer
}

// Engine rewrites values. It holds no per-call state.
type Engine struct {
	opts Options
	obs  Observer
}

func New(opts Options) *Engine {
	obs := opts.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	return &Engine{opts: opts, obs: obs}
}

// ReplaceValue is the single-pair entry point: it rewrites raw with default
// options and reports whether the value changed.
func ReplaceValue(find, to, raw string, caseInsensitive bool) (string, bool, error) {
	e := New(Options{CaseInsensitive: caseInsensitive, VerifyRoundTrip: true})
	return e.ReplaceValue(find, to, raw)
}

// ReplaceValue rewrites raw for one pair. On error the original value is
// returned alongside it.
func (e *Engine) ReplaceValue(find, to, raw string) (out string, changed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, changed, err = raw, false, fmt.Errorf("%w: %v", ErrTraversal, r)
		}
	}()

	out, err = e.ReplaceString(find, to, raw)
	if err != nil {
		return raw, false, err
	}
	return out, out != raw, nil
}

// ReplaceAll applies pairs in order, each one a full decode, rewrite and
// encode cycle over the output of the previous pair.
func (e *Engine) ReplaceAll(pairs []Pair, raw string) (string, bool, error) {
	cur := raw
	for _, p := range pairs {
		next, _, err := e.ReplaceValue(p.Find, p.Replace, cur)
		if err != nil {
			return raw, false, fmt.Errorf("pair %q: %w", p.Find, err)
		}
		cur = next
	}
	return cur, cur != raw, nil
}

// ReplaceString rewrites a raw string. Serialized values are decoded,
// rewritten and re-encoded with their surrounding whitespace intact; anything
// else gets a literal substring replacement.
func (e *Engine) ReplaceString(find, to, s string) (string, error) {
	// Every leaf string appears verbatim in the encoding, so no match in the
	// raw text means no match anywhere in the tree.
	if !e.contains(s, find) {
		return s, nil
	}

	body := strings.TrimSpace(s)
	shape := phpserial.Classify(body)
	if shape == phpserial.ShapePlain {
		return replaceLiteral(s, find, to, e.opts.CaseInsensitive), nil
	}

	n, err := phpserial.DecodeWith(body, e.opts.Decode)
	if err != nil {
		e.obs.DecodeFallback(err)
		return replaceLiteral(s, find, to, e.opts.CaseInsensitive), nil
	}

	// A decoded string scalar carries nothing but its bytes, so only other
	// shapes can re-encode differently
	if e.opts.VerifyRoundTrip && shape == phpserial.ShapeValue {
		again, err := phpserial.Encode(n)
		if err != nil {
			return s, err
		}
		if again != body {
			return s, fmt.Errorf("%w: %d byte value re-encoded to %d bytes", ErrEncodeInconsistency, len(body), len(again))
		}
	}

	out, err := e.ReplaceNode(find, to, n)
	if err != nil {
		return s, err
	}
	if out == n {
		return s, nil
	}

	enc, err := phpserial.Encode(out)
	if err != nil {
		return s, err
	}
	lead := s[:strings.Index(s, body)]
	trail := s[len(lead)+len(body):]
	return lead + enc + trail, nil
}

// ReplaceNode returns a rewritten copy of n. Unchanged subtrees are shared
// with the input, and n itself is returned when nothing changed.
func (e *Engine) ReplaceNode(find, to string, n *phpserial.Node) (*phpserial.Node, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: nil", ErrUnexpectedNode)
	}

	switch n.Kind {
	case phpserial.KindNull, phpserial.KindBool, phpserial.KindInt, phpserial.KindFloat,
		phpserial.KindIncomplete, phpserial.KindReference:
		return n, nil

	case phpserial.KindString:
		s, err := e.ReplaceString(find, to, n.Str)
		if err != nil {
			return nil, err
		}
		if s == n.Str {
			return n, nil
		}
		return phpserial.FromString(s), nil

	case phpserial.KindSequence:
		var items []*phpserial.Node
		for i, item := range n.Items {
			out, err := e.child(find, to, item)
			if err != nil {
				return nil, err
			}
			if out != item && items == nil {
				items = make([]*phpserial.Node, len(n.Items))
				copy(items, n.Items[:i])
			}
			if items != nil {
				items[i] = out
			}
		}
		if items == nil {
			return n, nil
		}
		return phpserial.Sequence(items...), nil

	case phpserial.KindMapping, phpserial.KindObject:
		var entries []phpserial.Entry
		for i, ent := range n.Entries {
			out := ent.Value
			if n.Kind == phpserial.KindMapping || visibleProperty(ent.Key) {
				var err error
				if out, err = e.child(find, to, ent.Value); err != nil {
					return nil, err
				}
			}
			if out != ent.Value && entries == nil {
				entries = make([]phpserial.Entry, len(n.Entries))
				copy(entries, n.Entries[:i])
			}
			if entries != nil {
				entries[i] = phpserial.Entry{Key: ent.Key, Value: out}
			}
		}
		if entries == nil {
			return n, nil
		}
		res := *n
		res.Entries = entries
		return &res, nil
	}

	return nil, fmt.Errorf("%w: kind %s", ErrUnexpectedNode, n.Kind)
}

// child rewrites one element. Codec inconsistencies propagate; anything else
// leaves the element as it was.
func (e *Engine) child(find, to string, n *phpserial.Node) (*phpserial.Node, error) {
	out, err := e.ReplaceNode(find, to, n)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, ErrEncodeInconsistency) {
		return nil, err
	}
	e.obs.Degraded(err)
	return n, nil
}

// visibleProperty reports whether an object property may be rewritten.
// Integer names are skipped, as are protected ("\0*\0name") and private
// ("\0Class\0name") members.
func visibleProperty(key *phpserial.Node) bool {
	if key == nil || key.Kind != phpserial.KindString {
		return false
	}
	return !strings.HasPrefix(key.Str, "\x00")
}

func (e *Engine) contains(s, find string) bool {
	if find == "" {
		return false
	}
	if e.opts.CaseInsensitive {
		return strings.Contains(lowerASCII(s), lowerASCII(find))
	}
	return strings.Contains(s, find)
}
