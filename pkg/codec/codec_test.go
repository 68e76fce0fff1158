package codec

import (
	"testing"
	"time"

	"github.com/arbor-vcs/arbor/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleChange() *Change {
	return &Change{
		Header: Header{
			Message:   "add greeting",
			Authors:   []string{"ada"},
			Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		},
		Dependencies: []Hash{{0x01}, {0x02}},
		Contents:     []byte("hello world"),
		Hunks: []Hunk{
			{
				Kind: HunkNewVertex,
				NewVertex: &NewVertexPayload{
					ContentStart: 0,
					ContentEnd:   5,
					Parents: []ParentEdge{
						{Source: graph.Vertex{Node: 1, Start: 0, End: 1}},
					},
				},
			},
			{
				Kind: HunkEdgeMap,
				EdgeMap: &EdgeMapPayload{
					Ops: []EdgeOp{
						{Add: true, Source: graph.Vertex{Node: 1, Start: 0, End: 1}, Target: graph.Vertex{Node: 2, Start: 0, End: 1}},
					},
				},
			},
		},
	}
}

func TestChangeRoundTrip(t *testing.T) {
	c := sampleChange()
	data, h, err := Encode(c, DefaultCompressionLevel)
	require.NoError(t, err)
	require.False(t, h.IsZero())

	got, err := DecodeExpectHash(data, h)
	require.NoError(t, err)

	assert.Equal(t, h, got.Hash)
	assert.Equal(t, c.Header.Message, got.Header.Message)
	assert.Equal(t, c.Dependencies, got.Dependencies)
	assert.Equal(t, c.Contents, got.Contents)
	assert.Equal(t, c.Hunks, got.Hunks)
}

func TestChangeHashIsDeterministic(t *testing.T) {
	c1 := sampleChange()
	c2 := sampleChange()
	_, h1, err := Encode(c1, DefaultCompressionLevel)
	require.NoError(t, err)
	_, h2, err := Encode(c2, DefaultCompressionLevel)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestChangeHashCoversContents(t *testing.T) {
	c1 := sampleChange()
	c2 := sampleChange()
	c2.Contents = []byte("goodbye world")
	_, h1, err := Encode(c1, DefaultCompressionLevel)
	require.NoError(t, err)
	_, h2, err := Encode(c2, DefaultCompressionLevel)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestDecodeExpectHashRejectsTamperedHash(t *testing.T) {
	c := sampleChange()
	data, h, err := Encode(c, DefaultCompressionLevel)
	require.NoError(t, err)

	wrong := h
	wrong[0] ^= 0xff
	_, err = DecodeExpectHash(data, wrong)
	assert.ErrorIs(t, err, ErrHashMismatch)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	c := sampleChange()
	data, _, err := Encode(c, DefaultCompressionLevel)
	require.NoError(t, err)
	data[0] ^= 0xff

	_, err = Decode(data)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	c := sampleChange()
	data, _, err := Encode(c, DefaultCompressionLevel)
	require.NoError(t, err)

	_, err = Decode(data[:len(data)-10])
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	c := sampleChange()
	data, _, err := Encode(c, DefaultCompressionLevel)
	require.NoError(t, err)
	data[4] = 99

	_, err = Decode(data)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestHunkValidateRejectsOutOfRangeContent(t *testing.T) {
	h := Hunk{
		Kind: HunkNewVertex,
		NewVertex: &NewVertexPayload{
			ContentStart: 0,
			ContentEnd:   100,
		},
	}
	err := h.Validate(10)
	assert.ErrorIs(t, err, ErrHunkOutOfRange)
}

func TestHunkValidateRejectsUnknownKind(t *testing.T) {
	h := Hunk{Kind: 99}
	err := h.Validate(0)
	assert.ErrorIs(t, err, ErrUnknownHunkKind)
}

func TestTrailerDoesNotAffectHash(t *testing.T) {
	c1 := sampleChange()
	c2 := sampleChange()
	c2.Trailer = []byte("signature-bytes")

	_, h1, err := Encode(c1, DefaultCompressionLevel)
	require.NoError(t, err)
	_, h2, err := Encode(c2, DefaultCompressionLevel)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	data2, _, err := Encode(c2, DefaultCompressionLevel)
	require.NoError(t, err)
	got, err := DecodeExpectHash(data2, h2)
	require.NoError(t, err)
	assert.Equal(t, c2.Trailer, got.Trailer)
}

func sampleTag() *Tag {
	return &Tag{
		Header: Header{
			Message:   "release checkpoint",
			Timestamp: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		},
		Merkle:       Merkle{0xaa, 0xbb},
		Dependencies: []Hash{{0x01}, {0x02}, {0x03}},
	}
}

func TestTagRoundTrip(t *testing.T) {
	tag := sampleTag()
	data, h, err := EncodeTag(tag, DefaultCompressionLevel)
	require.NoError(t, err)

	got, err := DecodeTagExpectHash(data, h)
	require.NoError(t, err)
	assert.Equal(t, tag.Merkle, got.Merkle)
	assert.Equal(t, tag.Dependencies, got.Dependencies)
	assert.Equal(t, tag.Header.Message, got.Header.Message)
}

func TestTagRoundTripCarriesConsolidationSummary(t *testing.T) {
	prev := Hash{0x09}
	tag := sampleTag()
	tag.ConsolidatedCount = 3
	tag.PreviousConsolidation = &prev
	tag.VersionLabel = "v1.2.0"
	tag.AttributionAggregate = []byte("aggregate-blob")

	data, h, err := EncodeTag(tag, DefaultCompressionLevel)
	require.NoError(t, err)

	got, err := DecodeTagExpectHash(data, h)
	require.NoError(t, err)
	assert.Equal(t, 3, got.ConsolidatedCount)
	require.NotNil(t, got.PreviousConsolidation)
	assert.Equal(t, prev, *got.PreviousConsolidation)
	assert.Equal(t, "v1.2.0", got.VersionLabel)
	assert.Equal(t, []byte("aggregate-blob"), got.AttributionAggregate)
}

func TestDecodeRejectsWrongStreamKind(t *testing.T) {
	tag := sampleTag()
	data, _, err := EncodeTag(tag, DefaultCompressionLevel)
	require.NoError(t, err)

	_, err = Decode(data)
	require.Error(t, err)
}

func TestHashStringRoundTrip(t *testing.T) {
	c := sampleChange()
	_, h, err := Encode(c, DefaultCompressionLevel)
	require.NoError(t, err)

	s := h.String()
	parsed, err := ParseHash(s)
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
}

func TestParseHashRejectsMalformed(t *testing.T) {
	_, err := ParseHash("not-valid-base32!!!")
	assert.ErrorIs(t, err, ErrMalformedHash)
}

func TestMerkleMixIsOrderSensitive(t *testing.T) {
	a := Hash{0x01}
	b := Hash{0x02}

	m1 := Mix(Mix(ZeroMerkle, a), b)
	m2 := Mix(Mix(ZeroMerkle, b), a)
	assert.NotEqual(t, m1, m2)
}

func TestDecodeChangeHeaderMatchesFullDecode(t *testing.T) {
	c := sampleChange()
	data, _, err := Encode(c, DefaultCompressionLevel)
	require.NoError(t, err)

	h, err := DecodeChangeHeader(data)
	require.NoError(t, err)
	assert.Equal(t, c.Header.Message, h.Message)
}

func TestDecodeTagHeaderMatchesFullDecode(t *testing.T) {
	tag := sampleTag()
	data, _, err := EncodeTag(tag, DefaultCompressionLevel)
	require.NoError(t, err)

	h, err := DecodeTagHeader(data)
	require.NoError(t, err)
	assert.Equal(t, tag.Header.Message, h.Message)
}

func TestMerkleHashRoleConversionRoundTrips(t *testing.T) {
	m := Merkle{0x42, 0x43}
	h := HashOfMerkle(m)
	assert.Equal(t, m, MerkleOfHash(h))
}
