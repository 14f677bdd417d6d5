package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	var got []string
	restore := SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})

	Logf("beacon %s unresolved", "b1")
	if len(got) != 1 || got[0] != "beacon b1 unresolved" {
		t.Fatalf("captured %q", got)
	}

	inner := SetLogger(nil)
	Logf("muted")
	if len(got) != 1 {
		t.Errorf("muted logger still captured: %q", got)
	}

	inner()
	Logf("again")
	if len(got) != 2 {
		t.Errorf("restore did not reinstate the capturing logger: %q", got)
	}

	restore()
}
