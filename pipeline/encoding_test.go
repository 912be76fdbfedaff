package pipeline

import "testing"

func TestEncodeAssignsSortedCodes(t *testing.T) {
	table := mustIngest(t, "School,Score\npublic,1\nprivate,2\npublic,3\nPublic,4\n")
	policy := Encode(table)

	school := mustColumn(t, table, "School")
	if !school.Encoded {
		t.Fatal("expected School encoded")
	}
	m := policy["School"]
	want := []string{"Public", "private", "public"}
	if len(m.Categories) != len(want) {
		t.Fatalf("unexpected categories: %v", m.Categories)
	}
	for i := range want {
		if m.Categories[i] != want[i] {
			t.Fatalf("unexpected categories: %v", m.Categories)
		}
	}

	codes := map[string]float64{}
	for i, v := range school.Strings {
		if prev, ok := codes[v]; ok && prev != school.Numbers[i] {
			t.Fatalf("value %q encoded twice differently", v)
		}
		codes[v] = school.Numbers[i]
	}
	if codes["Public"] != 0 || codes["private"] != 1 || codes["public"] != 2 {
		t.Fatalf("unexpected codes: %v", codes)
	}
	if m.Fallback != 2 {
		t.Fatalf("expected fallback to the mode code, got %d", m.Fallback)
	}
	if _, ok := policy["Score"]; ok {
		t.Fatal("numeric column must not be encoded")
	}

	// a second call leaves already encoded columns alone
	if again := Encode(table); len(again) != 0 {
		t.Fatalf("expected no new encodings, got %v", again)
	}
}

func TestCategoryMapCode(t *testing.T) {
	m := CategoryMap{Categories: []string{"YES", "Yes", "no"}, Fallback: 2}

	tests := []struct {
		value string
		code  float64
		known bool
	}{
		{"no", 2, true},
		{"NO", 2, true},
		{"Yes", 1, true},
		{"yes", 2, false},
		{"maybe", 2, false},
	}
	for _, tt := range tests {
		code, known := m.Code(tt.value)
		if code != tt.code || known != tt.known {
			t.Errorf("Code(%q) = %v, %v; want %v, %v", tt.value, code, known, tt.code, tt.known)
		}
	}
}
