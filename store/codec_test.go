package store

import (
	"errors"
	"math"
	"net/netip"
	"testing"
	"time"

	"github.com/jacentio/tendril/kv"
)

func TestEncodeScalar(t *testing.T) {
	s := "x"
	empty := ""
	b := true
	n := 42
	n64 := int64(-7)
	f := 2.5
	ts := time.Date(2024, 3, 1, 12, 30, 0, 5, time.FixedZone("CET", 3600))

	tests := []struct {
		name    string
		in      any
		want    string
		wantSet bool
	}{
		{"nil", nil, "", false},
		{"string", "stark", "stark", true},
		{"empty string", "", "", false},
		{"string pointer", &s, "x", true},
		{"empty string pointer", &empty, "", false},
		{"nil string pointer", (*string)(nil), "", false},
		{"bool", false, "false", true},
		{"bool pointer", &b, "true", true},
		{"int zero", 0, "0", true},
		{"int", -12, "-12", true},
		{"int8", int8(8), "8", true},
		{"int16", int16(16), "16", true},
		{"int32", int32(32), "32", true},
		{"int64", int64(math.MaxInt64), "9223372036854775807", true},
		{"int pointer", &n, "42", true},
		{"int64 pointer", &n64, "-7", true},
		{"nil int pointer", (*int)(nil), "", false},
		{"uint", uint(1), "1", true},
		{"uint8", uint8(255), "255", true},
		{"uint16", uint16(2), "2", true},
		{"uint32", uint32(3), "3", true},
		{"uint64", uint64(math.MaxUint64), "18446744073709551615", true},
		{"float32", float32(0.5), "0.5", true},
		{"float64", 1e21, "1e+21", true},
		{"float pointer", &f, "2.5", true},
		{"duration", 1500 * time.Millisecond, "1500000000", true},
		{"time", ts, "2024-03-01T11:30:00.000000005Z", true},
		{"zero time", time.Time{}, "", false},
		{"time pointer", &ts, "2024-03-01T11:30:00.000000005Z", true},
		{"nil time pointer", (*time.Time)(nil), "", false},
		{"text marshaler", netip.MustParseAddr("10.0.0.1"), "10.0.0.1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, set, err := encodeScalar(tt.in)
			if err != nil {
				t.Fatalf("encodeScalar() error = %v", err)
			}
			if got != tt.want || set != tt.wantSet {
				t.Errorf("encodeScalar() = (%q, %v), want (%q, %v)", got, set, tt.want, tt.wantSet)
			}
		})
	}
}

func TestEncodeScalar_Unsupported(t *testing.T) {
	for _, v := range []any{struct{}{}, []string{"a"}, map[string]int{}, complex(1, 2)} {
		if _, _, err := encodeScalar(v); err == nil {
			t.Errorf("encodeScalar(%T) expected error", v)
		}
	}
}

func TestRefField(t *testing.T) {
	tests := []struct {
		field    string
		wantName string
		wantI    int
		wantOK   bool
	}{
		{"children.[0]", "children", 0, true},
		{"children.[12]", "children", 12, true},
		{"address.owners.[3]", "address.owners", 3, true},
		{"children", "", 0, false},
		{"children.[x]", "", 0, false},
		{"children.[-1]", "", 0, false},
		{".[0]", "", 0, false},
		{"children[0]", "", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			name, i, ok := parseRefField(tt.field)
			if name != tt.wantName || i != tt.wantI || ok != tt.wantOK {
				t.Errorf("parseRefField(%q) = (%q, %d, %v), want (%q, %d, %v)",
					tt.field, name, i, ok, tt.wantName, tt.wantI, tt.wantOK)
			}
			if ok && refField(name, i) != tt.field {
				t.Errorf("refField(%q, %d) = %q", name, i, refField(name, i))
			}
		})
	}
}

func TestRefsOf_OrdersByPosition(t *testing.T) {
	h := kv.Hash{
		"_id":          "1",
		"name":         "a",
		"next.[10]":    "nodes:k",
		"next.[2]":     "nodes:c",
		"next.[0]":     "nodes:a",
		"others.[0]":   "people:1",
		"address.city": "winterfell",
	}
	got := refsOf(h)
	if len(got) != 2 {
		t.Fatalf("refsOf() returned %d lists, want 2", len(got))
	}
	want := []string{"nodes:a", "nodes:c", "nodes:k"}
	for i, k := range want {
		if got["next"][i] != k {
			t.Errorf("next[%d] = %q, want %q", i, got["next"][i], k)
		}
	}
}

func TestHashWriter_StickyError(t *testing.T) {
	w := newHashWriter("people")
	w.Put("ok", "1")
	w.Put("bad", struct{}{})
	w.Put("later", "2")
	w.Embed("address", func(w *HashWriter) error {
		w.Put("city", "x")
		return nil
	})

	var se *SerializationError
	if !errors.As(w.Err(), &se) {
		t.Fatalf("Err() = %v, want SerializationError", w.Err())
	}
	if se.Field != "bad" {
		t.Errorf("Field = %q, want bad", se.Field)
	}
	if _, ok := w.enc.scalars["later"]; ok {
		t.Error("fields written after the first error")
	}
}

func TestHashWriter_EmbedPrefixesErrors(t *testing.T) {
	w := newHashWriter("people")
	w.Embed("address", func(w *HashWriter) error {
		w.Put("geo", []float64{1, 2})
		return nil
	})

	var se *SerializationError
	if !errors.As(w.Err(), &se) || se.Field != "address.geo" {
		t.Errorf("Err() = %v, want SerializationError on address.geo", w.Err())
	}
}

func TestHashWriter_EmbedCallbackError(t *testing.T) {
	boom := errors.New("boom")
	w := newHashWriter("people")
	w.Embed("address", func(*HashWriter) error { return boom })
	if !errors.Is(w.Err(), boom) {
		t.Errorf("Err() = %v, want %v", w.Err(), boom)
	}
}

func TestHashReader(t *testing.T) {
	r := newHashReader("things:1", kv.Hash{
		"_id":          "1",
		"name":         "arya",
		"age":          "11",
		"size":         "18446744073709551615",
		"ratio":        "0.25",
		"alive":        "true",
		"born":         "2024-03-01T11:30:00Z",
		"ttl":          "60000000000",
		"ip":           "10.0.0.1",
		"address.city": "winterfell",
	})

	if r.ID() != "1" {
		t.Errorf("ID() = %q", r.ID())
	}
	if got := r.String("name"); got != "arya" {
		t.Errorf("String() = %q", got)
	}
	if got := r.Int("age"); got != 11 {
		t.Errorf("Int() = %d", got)
	}
	if got := r.Uint64("size"); got != math.MaxUint64 {
		t.Errorf("Uint64() = %d", got)
	}
	if got := r.Float64("ratio"); got != 0.25 {
		t.Errorf("Float64() = %v", got)
	}
	if !r.Bool("alive") {
		t.Error("Bool() = false")
	}
	if got := r.Time("born"); !got.Equal(time.Date(2024, 3, 1, 11, 30, 0, 0, time.UTC)) {
		t.Errorf("Time() = %v", got)
	}
	if got := r.Duration("ttl"); got != time.Minute {
		t.Errorf("Duration() = %v", got)
	}
	var ip netip.Addr
	r.Text("ip", &ip)
	if ip.String() != "10.0.0.1" {
		t.Errorf("Text() = %v", ip)
	}
	if !r.HasEmbedded("address") || r.HasEmbedded("addr") {
		t.Error("HasEmbedded() mismatch")
	}
	if got := r.Embedded("address").String("city"); got != "winterfell" {
		t.Errorf("Embedded().String() = %q", got)
	}
	if r.Has("missing") || r.Int64("missing") != 0 {
		t.Error("missing field reported as set")
	}
	if err := r.Err(); err != nil {
		t.Errorf("Err() = %v", err)
	}
}

func TestHashReader_ParseError(t *testing.T) {
	r := newHashReader("things:1", kv.Hash{"age": "eleven", "alive": "maybe"})
	if got := r.Int("age"); got != 0 {
		t.Errorf("Int() = %d, want 0", got)
	}
	r.Bool("alive")
	if r.Err() == nil {
		t.Fatal("Err() = nil, want parse error")
	}
	want := `tendril: decode things:1 field "age"`
	if got := r.Err().Error(); len(got) < len(want) || got[:len(want)] != want {
		t.Errorf("Err() = %q, want prefix %q", got, want)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		check  func(t *testing.T, c Config)
	}{
		{
			name:   "zero value gets defaults",
			config: Config{},
			check: func(t *testing.T, c Config) {
				if c.Concurrency != 8 || c.IDAttempts != 5 || c.ResolveDepth != 0 {
					t.Errorf("got concurrency=%d attempts=%d depth=%d", c.Concurrency, c.IDAttempts, c.ResolveDepth)
				}
				if c.Logger == nil || c.NewID == nil {
					t.Error("logger or id generator not defaulted")
				}
			},
		},
		{
			name:   "negative depth resets",
			config: Config{ResolveDepth: -3},
			check: func(t *testing.T, c Config) {
				if c.ResolveDepth != 1 {
					t.Errorf("ResolveDepth = %d, want 1", c.ResolveDepth)
				}
			},
		},
		{
			name:   "concurrency capped",
			config: Config{Concurrency: 10000},
			check: func(t *testing.T, c Config) {
				if c.Concurrency != 256 {
					t.Errorf("Concurrency = %d, want 256", c.Concurrency)
				}
			},
		},
		{
			name:   "valid values kept",
			config: Config{ResolveDepth: 3, Concurrency: 2, IDAttempts: 9},
			check: func(t *testing.T, c Config) {
				if c.ResolveDepth != 3 || c.Concurrency != 2 || c.IDAttempts != 9 {
					t.Errorf("values changed: %+v", c)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.config
			c.validate()
			tt.check(t, c)
		})
	}
}
