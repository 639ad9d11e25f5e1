package treeapi

import "testing"

func TestCleanPathAndJoin(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
	}{
		{name: "root slash", got: CleanPath("/"), expected: ""},
		{name: "empty", got: CleanPath(""), expected: ""},
		{name: "trailing separator", got: CleanPath("/potholes/"), expected: "potholes"},
		{name: "double separators", got: CleanPath("a//b///c"), expected: "a/b/c"},
		{name: "join with trailing parent", got: Join("/users/", "alice"), expected: "users/alice"},
		{name: "join without trailing parent", got: Join("users", "alice"), expected: "users/alice"},
		{name: "join at root", got: Join("/", "potholes"), expected: "potholes"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.expected {
				t.Fatalf("mismatch: expected %q, got %q", tc.expected, tc.got)
			}
		})
	}
}

func TestResourcePath(t *testing.T) {
	if got := ResourcePath("/"); got != "/.json" {
		t.Fatalf("root resource path: got %q", got)
	}
	if got := ResourcePath("/a/b/"); got != "/a/b.json" {
		t.Fatalf("nested resource path: got %q", got)
	}
}

func TestValidateName(t *testing.T) {
	valid := []string{"alice", "-Nabc123", "node_1"}
	for _, name := range valid {
		if err := ValidateName(name); err != nil {
			t.Fatalf("ValidateName(%q): unexpected error %v", name, err)
		}
	}
	invalid := []string{"", "  ", "a/b", "a.b", "a$b", "a#b", "a[0]"}
	for _, name := range invalid {
		if err := ValidateName(name); err == nil {
			t.Fatalf("ValidateName(%q): expected error", name)
		}
	}
}

func TestIsNull(t *testing.T) {
	for _, body := range []string{"", "null", " null\n"} {
		if !IsNull([]byte(body)) {
			t.Fatalf("IsNull(%q) = false", body)
		}
	}
	for _, body := range []string{"0", "false", `""`, "{}"} {
		if IsNull([]byte(body)) {
			t.Fatalf("IsNull(%q) = true", body)
		}
	}
}

func TestPushKeyRoundTrip(t *testing.T) {
	body, err := EncodePushKey("-Nkey")
	if err != nil {
		t.Fatalf("EncodePushKey: %v", err)
	}
	key, err := DecodePushKey(body)
	if err != nil {
		t.Fatalf("DecodePushKey: %v", err)
	}
	if key != "-Nkey" {
		t.Fatalf("unexpected key %q", key)
	}
	if _, err := DecodePushKey([]byte(`{}`)); err == nil {
		t.Fatalf("expected error for missing name")
	}
}

func TestSemanticEqual(t *testing.T) {
	eq, err := SemanticEqual([]byte(`{"a":1,"b":[1,2]}`), []byte(`{ "b":[1,2], "a":1.0 }`))
	if err != nil {
		t.Fatalf("SemanticEqual: %v", err)
	}
	if !eq {
		t.Fatalf("expected documents to be equal")
	}
	eq, err = SemanticEqual([]byte(`{"a":1}`), []byte(`{"a":2}`))
	if err != nil {
		t.Fatalf("SemanticEqual: %v", err)
	}
	if eq {
		t.Fatalf("expected documents to differ")
	}
}

func TestSemanticEqualComparesNumbersExactly(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{`{"id":9007199254740993}`, `{"id":9007199254740992}`, false},
		{`{"id":9007199254740993}`, `{"id":9007199254740993}`, true},
		{`[1e3, 0.5]`, `[1000, 5e-1]`, true},
		{`{"lat":42.98000000000000001}`, `{"lat":42.98}`, false},
		{`"1"`, `1`, false},
	}
	for _, tc := range cases {
		eq, err := SemanticEqual([]byte(tc.a), []byte(tc.b))
		if err != nil {
			t.Fatalf("SemanticEqual(%s, %s): %v", tc.a, tc.b, err)
		}
		if eq != tc.want {
			t.Fatalf("SemanticEqual(%s, %s) = %v, want %v", tc.a, tc.b, eq, tc.want)
		}
	}
	if _, err := SemanticEqual([]byte(`{"a":1} {"b":2}`), []byte(`{"a":1}`)); err == nil {
		t.Fatalf("expected error for trailing data")
	}
}
