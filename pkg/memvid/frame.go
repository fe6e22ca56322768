package memvid

import "time"

// FrameStatus is the lifecycle state of a stored frame.
type FrameStatus uint8

// Frame status values. Only Active frames count toward stats and search.
const (
	StatusActive FrameStatus = iota
	StatusDeleted
	StatusTombstoned
)

func (s FrameStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusDeleted:
		return "deleted"
	case StatusTombstoned:
		return "tombstoned"
	default:
		return "unknown"
	}
}

// Frame flag bits.
const (
	// frameFlagZstd marks a payload stored zstd-compressed.
	frameFlagZstd = 1 << 0
)

// Metadata carries producer-supplied frame metadata.
type Metadata struct {
	Title     string
	URI       string
	Kind      string
	Timestamp time.Time
	Labels    []string
	Tags      map[string]string
}

// Frame describes one stored payload: its position in the file, integrity
// checksum, and attached metadata. Frames are the unit of retrieval.
type Frame struct {
	ID     uint64
	Status FrameStatus

	// flags carries storage details (compression). Not part of the
	// public mutation surface.
	flags uint8

	// Offset is the byte position of the stored payload within the file.
	Offset uint64
	// PayloadLength is the bytes actually stored on disk (possibly
	// compressed).
	PayloadLength uint64
	// canonicalLength is the pre-compression logical size; zero means
	// equal to PayloadLength.
	canonicalLength uint64
	// Checksum is the CRC-32C of the stored payload bytes.
	Checksum uint32

	Meta Metadata
}

// CanonicalLength returns the logical (pre-compression) payload size.
func (f *Frame) CanonicalLength() uint64 {
	if f.canonicalLength != 0 {
		return f.canonicalLength
	}

	return f.PayloadLength
}

// Compressed reports whether the stored bytes are zstd-compressed.
func (f *Frame) Compressed() bool {
	return f.flags&frameFlagZstd != 0
}

// PutOptions carries optional metadata for a put. The zero value is valid:
// all fields are optional.
type PutOptions struct {
	Title     string
	URI       string
	Kind      string
	Timestamp time.Time
	Labels    []string
	Tags      map[string]string
}

// Metadata bounds. Values beyond these limits are rejected with ErrInvalid
// rather than silently truncated.
const (
	maxTitleLen  = 65535
	maxURILen    = 65535
	maxKindLen   = 255
	maxLabelLen  = 255
	maxLabels    = 255
	maxTagKeyLen = 255
	maxTagValLen = 65535
	maxTags      = 255
)

func validatePutOptions(opts *PutOptions) error {
	if len(opts.Title) > maxTitleLen {
		return invalidf("title", "too long")
	}

	if len(opts.URI) > maxURILen {
		return invalidf("uri", "too long")
	}

	if len(opts.Kind) > maxKindLen {
		return invalidf("kind", "too long")
	}

	if len(opts.Labels) > maxLabels {
		return invalidf("labels", "too many")
	}

	for _, l := range opts.Labels {
		if len(l) > maxLabelLen {
			return invalidf("labels", "label too long")
		}
	}

	if len(opts.Tags) > maxTags {
		return invalidf("tags", "too many")
	}

	for k, v := range opts.Tags {
		if len(k) > maxTagKeyLen {
			return invalidf("tags", "key too long")
		}

		if len(v) > maxTagValLen {
			return invalidf("tags", "value too long")
		}
	}

	return nil
}
