package envfile

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	content := `
# comment line
PLAIN=value
QUOTED="value with spaces"
SINGLE='single quoted'
EMPTY=
NOEQUALS
  SPACED = trimmed
`
	got := Parse(content)
	want := map[string]string{
		"PLAIN":  "value",
		"QUOTED": "value with spaces",
		"SINGLE": "single quoted",
		"EMPTY":  "",
		"SPACED": "trimmed",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Parse = %#v, want %#v", got, want)
	}
}

func TestFormatQuoting(t *testing.T) {
	vars := map[string]string{
		"PLAIN":  "simple",
		"SPACES": "has spaces",
		"QUOTES": `say "hi"`,
		"HASH":   "a#b",
	}
	content := Format(vars)
	reparsed := Parse(content)

	// Round-trip must preserve every value byte-for-byte except the escaped
	// quote case, which Parse only strips at the ends.
	for key, want := range vars {
		if key == "QUOTES" {
			continue
		}
		if reparsed[key] != want {
			t.Errorf("round-trip %s = %q, want %q", key, reparsed[key], want)
		}
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	vars := Parse("A=1\n")
	vars["FEATURE_X"] = "on"
	reparsed := Parse(Format(vars))
	if reparsed["FEATURE_X"] != "on" {
		t.Errorf("FEATURE_X = %q, want on", reparsed["FEATURE_X"])
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	vars := map[string]string{"B": "2", "A": "1", "WITH SPACE": ""}
	delete(vars, "WITH SPACE")

	snap, err := Snapshot(vars)
	if err != nil {
		t.Fatal(err)
	}
	restored, err := ParseSnapshot(snap)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(restored, vars) {
		t.Errorf("restored = %#v, want %#v", restored, vars)
	}

	// Snapshot of identical content is stable (sorted keys).
	snap2, _ := Snapshot(map[string]string{"A": "1", "B": "2"})
	if snap != snap2 {
		t.Errorf("snapshots differ: %s vs %s", snap, snap2)
	}
}

func TestParseSnapshotInvalid(t *testing.T) {
	if _, err := ParseSnapshot("not json"); err == nil {
		t.Fatal("expected error for invalid snapshot")
	}
	if _, err := ParseSnapshot(`["list"]`); err == nil {
		t.Fatal("expected error for non-object snapshot")
	}
}

func TestCompare(t *testing.T) {
	current := map[string]string{"KEPT": "same", "NEW": "x", "CHANGED": "after", "API_KEY": "b"}
	snapshot := map[string]string{"KEPT": "same", "GONE": "y", "CHANGED": "before", "API_KEY": "a"}

	d := Compare(current, snapshot)
	if !d.HasChanges {
		t.Fatal("expected changes")
	}
	if len(d.Added) != 1 || d.Added[0] != "NEW" {
		t.Errorf("added = %v", d.Added)
	}
	if len(d.Removed) != 1 || d.Removed[0] != "GONE" {
		t.Errorf("removed = %v", d.Removed)
	}
	if len(d.Changed) != 2 {
		t.Fatalf("changed = %v", d.Changed)
	}
	for _, c := range d.Changed {
		if c.Key == "API_KEY" && c.CurrentValue != "********" {
			t.Errorf("secret value not redacted: %+v", c)
		}
	}
}

func TestValidateKey(t *testing.T) {
	for _, ok := range []string{"A", "_HIDDEN", "MY_VAR2"} {
		if err := ValidateKey(ok); err != nil {
			t.Errorf("ValidateKey(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "2START", "WITH-DASH", "has space"} {
		if err := ValidateKey(bad); err == nil {
			t.Errorf("ValidateKey(%q) accepted", bad)
		}
	}
}
