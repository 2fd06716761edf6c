package ppid

import (
	"reflect"
	"strings"
	"testing"
)

func TestUniquePrefixes(t *testing.T) {
	cases := []struct {
		in   []string
		want []string
	}{
		{[]string{"camera", "campus"}, []string{"came", "camp"}},
		{[]string{"cole", "coleman"}, []string{"cole", "colem"}},
		{[]string{"cole", "coleman", "colemine"}, []string{"cole", "colema", "colemi"}},
		{[]string{"cole", "coleman", "cundis"}, []string{"cole", "colem", "cu"}},
		{[]string{"an", "and", "anderson", "andersrum", "ant"},
			[]string{"an", "and", "anderso", "andersr", "ant"}},
		// Order of the input must not matter.
		{[]string{"campus", "camera"}, []string{"camp", "came"}},
		{[]string{"coleman", "cole"}, []string{"colem", "cole"}},
		{[]string{"coleman", "cole", "colemine"}, []string{"colema", "cole", "colemi"}},
		{[]string{"cole", "cundis", "coleman"}, []string{"cole", "cu", "colem"}},
		{[]string{"an", "andersrum", "and", "anderson", "ant"},
			[]string{"an", "andersr", "and", "anderso", "ant"}},
	}
	for _, tc := range cases {
		got := UniquePrefixes(tc.in)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("UniquePrefixes(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestUniquePrefixesBijective(t *testing.T) {
	sets := [][]string{
		{"kernel_size", "split_time", "thresh_cleansing", "frac_cleansing"},
		{"brightness", "haralick"},
		{"online_gates", "size_thresh_mask"},
		{"temperature", "te", "outside", "with_water", "amount", "wine_type", "test_oven"},
	}
	for _, keys := range sets {
		abbrevs := UniquePrefixes(keys)
		seen := make(map[string]bool)
		for _, ab := range abbrevs {
			if seen[ab] {
				t.Errorf("set %v: abbreviation %q not unique", keys, ab)
			}
			seen[ab] = true
		}
	}
}

// cookStage mirrors a richly typed stage covering all value kinds.
var cookStage = NewStage("cook", []Param{
	{"temperature", 90.0},
	{"te", "a"},
	{"outside", false},
	{"with_water", true},
	{"amount", 1000},
	{"wine_type", "red"},
	{"test_oven", true},
})

func TestEncodeKwargs(t *testing.T) {
	cases := []struct {
		overrides map[string]interface{}
		want      string
	}{
		{nil, "cook:tem=90^te=a^o=0^wit=1^a=1000^win=red^tes=1"},
		{map[string]interface{}{"temperature": 10.1},
			"cook:tem=10.1^te=a^o=0^wit=1^a=1000^win=red^tes=1"},
		{map[string]interface{}{"with_water": false, "wine_type": "blue"},
			"cook:tem=90^te=a^o=0^wit=0^a=1000^win=blue^tes=1"},
	}
	for _, tc := range cases {
		got, err := cookStage.Encode(tc.overrides)
		if err != nil {
			t.Fatalf("Encode(%v): %v", tc.overrides, err)
		}
		if got != tc.want {
			t.Errorf("Encode(%v) = %q, want %q", tc.overrides, got, tc.want)
		}
	}
}

func TestEncodeRejectsUnknownKey(t *testing.T) {
	if _, err := cookStage.Encode(map[string]interface{}{"bogus": 1}); err == nil {
		t.Fatal("expected error for unknown override key")
	}
}

func TestDecodeKwargs(t *testing.T) {
	defaults := map[string]interface{}{
		"temperature": 90.0, "te": "a", "outside": false, "with_water": true,
		"amount": 1000, "wine_type": "red", "test_oven": true,
	}
	withOverrides := func(ov map[string]interface{}) map[string]interface{} {
		out := make(map[string]interface{}, len(defaults))
		for k, v := range defaults {
			out[k] = v
		}
		for k, v := range ov {
			out[k] = v
		}
		return out
	}

	cases := []struct {
		id   string
		want map[string]interface{}
	}{
		{"cook:tem=90^te=a^o=0^wit=1^a=1000^win=red^tes=1", defaults},
		{"cook:tem=10.1^te=a^o=0^wit=1^a=1000^win=red^tes=1",
			withOverrides(map[string]interface{}{"temperature": 10.1})},
		{"cook:tem=90^te=a^o=0^wit=0^a=1000^win=blue^tes=1",
			withOverrides(map[string]interface{}{"with_water": false, "wine_type": "blue"})},
		// Segment order must not matter.
		{"cook:te=a^tem=90^o=0^wit=1^a=1000^win=red^tes=1", defaults},
		// Omitted trailing keys fall back to defaults.
		{"cook:tem=90^te=a^o=0^wit=1^a=1000^win=red", defaults},
		// Even shorter keys resolve to the first declared match.
		{"cook:tem=90^te=a^o=0^w=1^a=1000", defaults},
	}
	for _, tc := range cases {
		got, err := cookStage.Decode(tc.id)
		if err != nil {
			t.Fatalf("Decode(%q): %v", tc.id, err)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("Decode(%q) = %v, want %v", tc.id, got, tc.want)
		}
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	overrideSets := []map[string]interface{}{
		{},
		{"temperature": 42.5},
		{"outside": true, "amount": 7},
		{"te": "xyz", "test_oven": false, "wine_type": "rose"},
	}
	for _, ov := range overrideSets {
		id, err := cookStage.Encode(ov)
		if err != nil {
			t.Fatalf("Encode(%v): %v", ov, err)
		}
		got, err := cookStage.Decode(id)
		if err != nil {
			t.Fatalf("Decode(%q): %v", id, err)
		}
		for name, def := range map[string]interface{}{
			"temperature": 90.0, "te": "a", "outside": false, "with_water": true,
			"amount": 1000, "wine_type": "red", "test_oven": true,
		} {
			want := def
			if v, ok := ov[name]; ok {
				want = v
			}
			if !reflect.DeepEqual(got[name], want) {
				t.Errorf("round trip %q: %s = %v, want %v", id, name, got[name], want)
			}
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	cases := []string{
		"bake:tem=90",      // unknown stage code
		"cook:tem",         // malformed segment
		"cook:=90",         // empty key
		"cook:zzz=1",       // unknown parameter
		"cook:tem=ninety",  // value does not parse as float
		"cook:a=1:b=2:c=3", // too many parameter groups
	}
	for _, id := range cases {
		if _, err := cookStage.Decode(id); err == nil {
			t.Errorf("Decode(%q): expected error", id)
		}
	}
}

func TestMultiGroupStage(t *testing.T) {
	seg := Stage{
		Code: "thresh",
		Groups: [][]Param{
			{{"thresh", -6.0}},
			{{"clear_border", true}, {"fill_holes", true}, {"closing_disk", 2}},
		},
	}
	id, err := seg.Encode(map[string]interface{}{"thresh": -3.0})
	if err != nil {
		t.Fatal(err)
	}
	if id != "thresh:t=-3:cle=1^f=1^clo=2" {
		t.Fatalf("segmenter id = %q", id)
	}
	kw, err := seg.Decode(id)
	if err != nil {
		t.Fatal(err)
	}
	if kw["thresh"] != -3.0 || kw["closing_disk"] != 2 {
		t.Fatalf("decoded kwargs wrong: %v", kw)
	}
}

func TestPipelineHashRegression(t *testing.T) {
	got := Hash(
		"7",
		"hdf:p=0.34",
		"sparsemed:k=200^s=1^t=0^f=0.8",
		"thresh:t=-3:cle=1^f=1^clo=2",
		"legacy:b=1^h=0",
		"norm:o=0^s=11",
	)
	if got != "ec11977fc233e133c29642736161f201" {
		t.Fatalf("pipeline hash = %q", got)
	}
	if len(got) != 32 || strings.ToLower(got) != got {
		t.Fatalf("hash should be lowercase hex: %q", got)
	}
}
