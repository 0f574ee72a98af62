package domain

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
	"strconv"
	"strings"
)

// Tag is a single-bit message filter: each bit selects one media or
// mention category, mirroring the server-side search filters.
type Tag uint32

const (
	TagPhotoVideo Tag = 1 << iota
	TagFile
	TagMusic
	TagURL
	TagGIF
	TagVoice
	TagMention
)

// AxisKind distinguishes the independent gap-tracking spaces of one
// conversation.
type AxisKind int32

const (
	// AxisEverywhere tracks gaps across the full history.
	AxisEverywhere AxisKind = iota
	// AxisTag tracks gaps for a single filter tag.
	AxisTag
	// AxisLive is the liveness-bounded feed. It has no stable pagination:
	// any reply fully replaces the tracked range. Deliberate special case.
	AxisLive
)

// HoleAxis selects one gap-tracking space. Tag must be zero unless Kind is
// AxisTag, and then must carry exactly one bit.
type HoleAxis struct {
	Kind AxisKind
	Tag  Tag
}

var ErrMixedAxisTags = errors.New("hole axis carries more than one filter tag")

// Validate checks the axis/tag exclusivity invariant.
func (a HoleAxis) Validate() error {
	if a.Kind != AxisTag {
		if a.Tag != 0 {
			return fmt.Errorf("axis kind %d must not carry a tag: %w", a.Kind, ErrMixedAxisTags)
		}
		return nil
	}
	if bits.OnesCount32(uint32(a.Tag)) != 1 {
		return fmt.Errorf("tag axis with bits %#x: %w", uint32(a.Tag), ErrMixedAxisTags)
	}
	return nil
}

// Encode renders the axis as a stable store key.
func (a HoleAxis) Encode() string {
	switch a.Kind {
	case AxisTag:
		return "tag:" + strconv.FormatUint(uint64(a.Tag), 10)
	case AxisLive:
		return "live"
	default:
		return "everywhere"
	}
}

// DecodeAxis parses an axis key produced by Encode.
func DecodeAxis(s string) (HoleAxis, error) {
	switch {
	case s == "everywhere":
		return HoleAxis{Kind: AxisEverywhere}, nil
	case s == "live":
		return HoleAxis{Kind: AxisLive}, nil
	case strings.HasPrefix(s, "tag:"):
		v, err := strconv.ParseUint(strings.TrimPrefix(s, "tag:"), 10, 32)
		if err != nil {
			return HoleAxis{}, fmt.Errorf("bad axis key %q: %w", s, err)
		}
		axis := HoleAxis{Kind: AxisTag, Tag: Tag(v)}
		return axis, axis.Validate()
	default:
		return HoleAxis{}, fmt.Errorf("bad axis key %q", s)
	}
}

// MaxMessageID bounds the theoretical id span of any axis.
const MaxMessageID = math.MaxInt64 - 1

// FullSpan is the whole theoretical id range of an axis.
func FullSpan() IDRange {
	return IDRange{Lower: 1, Upper: MaxMessageID}
}

// IDRange is a closed range of message ids.
type IDRange struct {
	Lower int64
	Upper int64
}

func (r IDRange) Valid() bool {
	return r.Lower <= r.Upper
}

func (r IDRange) Contains(id int64) bool {
	return id >= r.Lower && id <= r.Upper
}

func (r IDRange) Overlaps(other IDRange) bool {
	return r.Lower <= other.Upper && other.Lower <= r.Upper
}

// Length is the number of ids covered by the range.
func (r IDRange) Length() int64 {
	if !r.Valid() {
		return 0
	}
	return r.Upper - r.Lower + 1
}

// NormalizedRange orders two boundary ids into a valid closed range.
func NormalizedRange(a, b int64) IDRange {
	if a <= b {
		return IDRange{Lower: a, Upper: b}
	}
	return IDRange{Lower: b, Upper: a}
}

// SubtractRange removes filled from each hole in holes, keeping whatever
// is left. The result stays sorted and disjoint if the input was. Filling
// only ever shrinks the tracked set.
func SubtractRange(holes []IDRange, filled IDRange) []IDRange {
	if !filled.Valid() {
		return holes
	}
	out := make([]IDRange, 0, len(holes))
	for _, h := range holes {
		if !h.Overlaps(filled) {
			out = append(out, h)
			continue
		}
		if h.Lower < filled.Lower {
			out = append(out, IDRange{Lower: h.Lower, Upper: filled.Lower - 1})
		}
		if h.Upper > filled.Upper {
			out = append(out, IDRange{Lower: filled.Upper + 1, Upper: h.Upper})
		}
	}
	return out
}

// TotalLength sums the lengths of a range set.
func TotalLength(holes []IDRange) int64 {
	var total int64
	for _, h := range holes {
		total += h.Length()
	}
	return total
}
