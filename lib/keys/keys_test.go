package keys

import (
	"bytes"
	"errors"
	"math/rand"
	"sort"
	"testing"
)

func parts(ps ...string) [][]byte {
	out := make([][]byte, len(ps))
	for i, p := range ps {
		out[i] = []byte(p)
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		table   uint64
		parts   [][]byte
		grouped bool
	}{
		{"single", 1, parts("01003"), false},
		{"grouped", 1, parts("0100400101", "010040010"), true},
		{"empty part", 7, parts(""), false},
		{"zero bytes", 2, [][]byte{{0x00}, {0x00, 0x00, 0xff}}, true},
		{"escape like", 3, [][]byte{{0x00, 0x01}, {0x12, 0x00}}, true},
		{"max table", ^uint64(0), parts("a", "b", "c"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, err := Encode(tt.table, tt.parts, tt.grouped)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			key, grouped, err := Decode(enc)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if grouped != tt.grouped {
				t.Errorf("Expected grouped=%v, got %v", tt.grouped, grouped)
			}
			if !key.Equal(Key{TableID: tt.table, Parts: tt.parts}) {
				t.Errorf("Expected %v, got %v", tt.parts, key.Parts)
			}
		})
	}
}

func TestSingleKeepsFirstPart(t *testing.T) {
	enc, err := Encode(1, parts("a", "b"), false)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	grouped, _ := Encode(1, parts("a"), true)
	if !bytes.Equal(enc, grouped) {
		t.Errorf("Single key should equal one part grouped key")
	}
	key, isGrouped, err := Decode(enc)
	if err != nil || isGrouped || len(key.Parts) != 1 || string(key.First()) != "a" {
		t.Errorf("Unexpected decode result: %v %v %v", key, isGrouped, err)
	}
}

func TestGroupedPrefix(t *testing.T) {
	prefix := MustEncode(1, "0100400101")
	for _, second := range []string{"", "0", "010040010999", "\x00"} {
		key := MustEncode(1, "0100400101", second)
		if !HasPrefix(key, prefix) {
			t.Errorf("Expected %q to be under the prefix", second)
		}
	}
	if HasPrefix(MustEncode(1, "01004001010"), prefix) {
		t.Errorf("Longer first part must not match the prefix")
	}
	if HasPrefix(MustEncode(2, "0100400101", "x"), prefix) {
		t.Errorf("Other table must not match the prefix")
	}
}

func TestOrderPreserving(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	alphabet := []byte{0x00, 0x01, 0x12, 0x7f, 0xff, 'a'}

	type tuple struct {
		table uint64
		parts [][]byte
		enc   []byte
	}
	compare := func(a, b tuple) int {
		if a.table != b.table {
			if a.table < b.table {
				return -1
			}
			return 1
		}
		for i := 0; i < len(a.parts) && i < len(b.parts); i++ {
			if c := bytes.Compare(a.parts[i], b.parts[i]); c != 0 {
				return c
			}
		}
		return len(a.parts) - len(b.parts)
	}

	tuples := make([]tuple, 500)
	for i := range tuples {
		n := 1 + rnd.Intn(3)
		ps := make([][]byte, n)
		for j := range ps {
			p := make([]byte, rnd.Intn(4))
			for k := range p {
				p[k] = alphabet[rnd.Intn(len(alphabet))]
			}
			ps[j] = p
		}
		table := uint64(rnd.Intn(3))
		enc, err := Encode(table, ps, true)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		tuples[i] = tuple{table, ps, enc}
	}

	sort.Slice(tuples, func(i, j int) bool { return compare(tuples[i], tuples[j]) < 0 })
	for i := 1; i < len(tuples); i++ {
		want := compare(tuples[i-1], tuples[i])
		got := bytes.Compare(tuples[i-1].enc, tuples[i].enc)
		if (want < 0) != (got < 0) || (want == 0) != (got == 0) {
			t.Fatalf("Order mismatch at %d: tuple compare %d, encoded compare %d", i, want, got)
		}
	}
}

func TestMalformed(t *testing.T) {
	valid := MustEncode(1, "abc")
	tests := []struct {
		name string
		in   []byte
	}{
		{"too short", []byte{0, 1, 2}},
		{"no parts", valid[:tableIDLen]},
		{"bad marker", append(append([]byte{}, valid[:tableIDLen]...), 0x13, 'a', 0x00, 0x01)},
		{"unterminated", valid[:len(valid)-1]},
		{"bad escape", append(append([]byte{}, valid[:tableIDLen]...), bytesMarker, 'a', 0x00, 0x05)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := Decode(tt.in); !errors.Is(err, ErrMalformedKey) {
				t.Errorf("Expected ErrMalformedKey, got %v", err)
			}
		})
	}

	if _, err := Encode(1, nil, true); !errors.Is(err, ErrMalformedKey) {
		t.Errorf("Expected ErrMalformedKey for empty parts, got %v", err)
	}
}

func TestPrefixEnd(t *testing.T) {
	tests := []struct {
		in, want []byte
	}{
		{[]byte{0x01}, []byte{0x02}},
		{[]byte{0x01, 0xff}, []byte{0x02}},
		{[]byte{0xff, 0xff}, nil},
		{[]byte{}, nil},
	}
	for _, tt := range tests {
		if got := PrefixEnd(tt.in); !bytes.Equal(got, tt.want) {
			t.Errorf("PrefixEnd(%x) = %x, want %x", tt.in, got, tt.want)
		}
	}
}

func TestTablePrefix(t *testing.T) {
	prefix := TablePrefix(7)
	if len(prefix) != 8 {
		t.Fatalf("Expected 8 bytes, got %d", len(prefix))
	}
	if !HasPrefix(MustEncode(7, "a", "b"), prefix) {
		t.Error("Keys of table 7 must start with its table prefix")
	}
	if HasPrefix(MustEncode(8, "a"), prefix) {
		t.Error("Keys of table 8 must not start with the prefix of table 7")
	}
}
