package pipediff

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestCompareAdded(t *testing.T) {
	res, err := Compare("app [us-east-1]", nil, []byte(`{"name":"app [us-east-1]","stages":[]}`))
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if res.Change != ChangeAdded {
		t.Fatalf("change = %s", res.Change)
	}
	if !strings.Contains(res.Diff, "+name:") || !strings.Contains(res.Diff, "+++ assembled/app [us-east-1]") {
		t.Fatalf("diff missing added name:\n%s", res.Diff)
	}
}

func TestCompareIgnoresServerFieldsAndKeyOrder(t *testing.T) {
	live := []byte(`{"id":"abc","updateTs":"1","stages":[{"refId":"1"}],"name":"p"}`)
	next := []byte(`{"name":"p","stages":[{"refId":"1"}]}`)
	res, err := Compare("p", live, next)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if res.Change != ChangeUnchanged || res.Diff != "" {
		t.Fatalf("expected unchanged, got %+v", res)
	}
}

func TestCompareChanged(t *testing.T) {
	live := []byte(`{"name":"p","stages":[{"refId":"1","type":"bake"}]}`)
	next := []byte(`{"name":"p","stages":[{"refId":"1","type":"deploy"}]}`)
	res, err := Compare("p", live, next)
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if res.Change != ChangeChanged {
		t.Fatalf("change = %s", res.Change)
	}
	if !strings.Contains(res.Diff, "-  type: bake") || !strings.Contains(res.Diff, "+  type: deploy") {
		t.Fatalf("unexpected diff:\n%s", res.Diff)
	}
}

func TestCompareRejectsInvalidJSON(t *testing.T) {
	if _, err := Compare("p", []byte("{"), []byte(`{}`)); err == nil {
		t.Fatal("expected error")
	}
}

func TestPrint(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	res, err := Compare("p", []byte(`{"name":"p","a":1}`), []byte(`{"name":"p","a":2}`))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	Print(&buf, res)
	out := buf.String()
	if !strings.HasPrefix(out, "p: changed\n") || !strings.Contains(out, "+a: 2") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}
