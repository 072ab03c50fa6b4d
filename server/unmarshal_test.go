package server

import (
	"encoding/json"
	"slices"
	"testing"
)

func TestUnmarshalPointPairs(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want [][2]float64
	}{
		{"empty list", `[]`, [][2]float64{}},
		{"single pair", `[[351234, 450987]]`, [][2]float64{{351234, 450987}}},
		{"two pairs", `[[1,2], [3,4]]`, [][2]float64{{1, 2}, {3, 4}}},
		{"decimals", `[[351234.5,450987.25], [3,4]]`, [][2]float64{{351234.5, 450987.25}, {3, 4}}},
		{"negative zero", `[[-1.4, -1],[-0, 1]]`, [][2]float64{{-1.4, -1}, {0, 1}}},
		{"multiline", "[\n  [1.4, 0.1],\n  [3.1, -1]\n]", [][2]float64{{1.4, 0.1}, {3.1, -1}}},
		{"exponent", `[[3.51234e5, 4.50987e5]]`, [][2]float64{{351234, 450987}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got [][2]float64
			if err := unmarshalPointPairs([]byte(tc.in), &got); err != nil {
				t.Fatalf("unexpected error: %s", err.Error())
			}
			if !slices.Equal(tc.want, got) {
				t.Fatalf("result expected %v; got %v", tc.want, got)
			}
		})
	}
}

func TestUnmarshalPointPairsRejects(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"empty input", ``},
		{"object", `{}`},
		{"bare pair", `1, 2`},
		{"short pair", `[[1]]`},
		{"missing comma", `[[1 2]]`},
		{"non numeric", `[[a, 2]]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got [][2]float64
			if err := unmarshalPointPairs([]byte(tc.in), &got); err == nil {
				t.Fatalf("expected error for %q", tc.in)
			}
		})
	}
}

// The fast path tolerates documents the reflective decoder rejects
// (short pairs, trailing garbage), so the differential check only
// applies when both parsers accept the input.
func FuzzUnmarshalPointPairs(f *testing.F) {
	seeds := []string{
		`[]`,
		`[[351234,450987]]`,
		`[[1,2],[3,4]]`,
		`[[1,2.1],[3]]`,
		`[[1,2.1],[3,4,5]]`,
		`[[1.4],[3.1]]`,
		`[[-1.4, -1],[-0, 1]]`,
		`[[a, -0],[0, 2]]`,
		"[\r\n[9e2,\t-1]]",
	}
	for _, s := range seeds {
		f.Add([]byte(s))
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		var fast [][2]float64
		if err := unmarshalPointPairs(data, &fast); err != nil {
			return
		}

		var reflective [][2]float64
		if err := json.Unmarshal(data, &reflective); err != nil {
			return
		}

		if !slices.Equal(reflective, fast) {
			t.Fatalf("result expected %v; got %v", reflective, fast)
		}
	})
}

func BenchmarkUnmarshalPointPairs(b *testing.B) {
	var doc []byte
	doc = append(doc, '[')
	for i := 0; i < 200; i++ {
		if i > 0 {
			doc = append(doc, ',')
		}
		doc = append(doc, []byte(`[351234.5,450987.25]`)...)
	}
	doc = append(doc, ']')

	b.Run("json", func(b *testing.B) {
		b.ReportAllocs()
		var res [][2]float64
		for i := 0; i < b.N; i++ {
			if err := json.Unmarshal(doc, &res); err != nil {
				b.Fatalf("unexpected error: %s", err.Error())
			}
		}
	})

	b.Run("fast", func(b *testing.B) {
		b.ReportAllocs()
		var res [][2]float64
		for i := 0; i < b.N; i++ {
			res = res[:0]
			if err := unmarshalPointPairs(doc, &res); err != nil {
				b.Fatalf("unexpected error: %s", err.Error())
			}
		}
	})
}
