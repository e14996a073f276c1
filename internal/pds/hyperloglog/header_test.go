package hyperloglog

import (
	"bytes"
	"errors"
	"testing"
)

// TestHeaderRoundTrip verifies that the header serialization and deserialization
// functions work correctly together.
func TestHeaderRoundTrip(t *testing.T) {
	testCases := []struct {
		name   string
		header hllHeader
	}{
		{
			name: "Small precision with invalid cache",
			header: hllHeader{
				precision:         4,
				cachedCardinality: 0,
				cacheInvalid:      true,
			},
		},
		{
			name: "Large precision with valid cache",
			header: hllHeader{
				precision:         14,
				cachedCardinality: 12345,
				cacheInvalid:      false,
			},
		},
		{
			name: "Cardinality using bit 62",
			header: hllHeader{
				precision:         30,
				cachedCardinality: 1 << 62,
				cacheInvalid:      true,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			serializedData := tc.header.serialize()

			if len(serializedData) != headerSize {
				t.Fatalf("serialized data has wrong length: got %d, want %d", len(serializedData), headerSize)
			}
			if !bytes.Equal(serializedData[0:4], []byte(Magic)) {
				t.Fatalf("magic string is incorrect: got %q, want %q", serializedData[0:4], Magic)
			}
			if serializedData[4] != tc.header.precision {
				t.Errorf("precision byte: got %d, want %d", serializedData[4], tc.header.precision)
			}
			if !bytes.Equal(serializedData[5:8], []byte{0, 0, 0}) {
				t.Errorf("reserved bytes not zero: %v", serializedData[5:8])
			}

			deserializedHeader, err := deserializeHeader(serializedData)
			if err != nil {
				t.Fatalf("deserializeHeader() returned an unexpected error: %v", err)
			}

			if deserializedHeader.precision != tc.header.precision {
				t.Errorf("precision mismatch: got %v, want %v", deserializedHeader.precision, tc.header.precision)
			}
			if deserializedHeader.cacheInvalid != tc.header.cacheInvalid {
				t.Errorf("cacheInvalid flag mismatch: got %v, want %v", deserializedHeader.cacheInvalid, tc.header.cacheInvalid)
			}
			if deserializedHeader.cachedCardinality != tc.header.cachedCardinality {
				t.Errorf("cachedCardinality mismatch: got %v, want %v", deserializedHeader.cachedCardinality, tc.header.cachedCardinality)
			}
		})
	}
}

// TestDeserializeHeaderErrors tests the error cases of the deserializer.
func TestDeserializeHeaderErrors(t *testing.T) {
	t.Run("Slice too short", func(t *testing.T) {
		_, err := deserializeHeader(make([]byte, 10))
		if !errors.Is(err, ErrInvalidData) {
			t.Errorf("expected ErrInvalidData for a short slice, got %v", err)
		}
	})

	t.Run("Wrong magic string", func(t *testing.T) {
		_, err := deserializeHeader([]byte("NOT_HYLL_and_more_bytes"))
		if !errors.Is(err, ErrInvalidData) {
			t.Errorf("expected ErrInvalidData for a wrong magic string, got %v", err)
		}
	})

	t.Run("Precision out of range", func(t *testing.T) {
		for _, p := range []byte{0, 31, 255} {
			data := hllHeader{precision: 4}.serialize()
			data[4] = p
			if _, err := deserializeHeader(data); !errors.Is(err, ErrInvalidData) {
				t.Errorf("precision %d: expected ErrInvalidData, got %v", p, err)
			}
		}
	})
}
