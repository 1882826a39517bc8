package agent

import (
	"testing"

	"github.com/crabclaw/crabclaw/pkg/models"
)

func viewFixture(t *testing.T) (*ProgressiveView, *Registry) {
	t.Helper()
	reg := NewRegistry(ToolDeps{}, nil)
	return NewProgressiveView(reg), reg
}

func TestViewAdvertisesEverythingInitially(t *testing.T) {
	view, reg := viewFixture(t)
	defs := view.Definitions()
	if len(defs) != len(reg.Names()) {
		t.Errorf("got %d definitions, want all %d", len(defs), len(reg.Names()))
	}
}

func TestViewActivateHints(t *testing.T) {
	view, _ := viewFixture(t)

	added := view.ActivateHints("I will use $file.read and then $shell.exec here")
	if len(added) != 2 {
		t.Fatalf("added = %v, want file.read and shell.exec", added)
	}

	defs := view.Definitions()
	if len(defs) != 2 {
		t.Fatalf("got %d definitions after expansion, want 2", len(defs))
	}
	names := map[string]bool{}
	for _, def := range defs {
		names[def.Name] = true
	}
	if !names["file.read"] || !names["shell.exec"] {
		t.Errorf("expanded set = %v", names)
	}
}

func TestViewHintsCaseInsensitive(t *testing.T) {
	view, _ := viewFixture(t)
	added := view.ActivateHints("try $FILE.READ")
	if len(added) != 1 || added[0] != "file.read" {
		t.Errorf("added = %v, want [file.read]", added)
	}
}

func TestViewIgnoresUnknownAndRepeatedHints(t *testing.T) {
	view, _ := viewFixture(t)
	if added := view.ActivateHints("$no.such.tool at all"); added != nil {
		t.Errorf("unknown hint added %v", added)
	}
	view.ActivateHints("$file.read")
	if added := view.ActivateHints("$file.read again"); added != nil {
		t.Errorf("repeated hint added %v", added)
	}
}

func TestViewReset(t *testing.T) {
	view, reg := viewFixture(t)
	view.ActivateHints("$file.read")
	view.Reset()
	if got := len(view.Definitions()); got != len(reg.Names()) {
		t.Errorf("after reset got %d definitions, want all %d", got, len(reg.Names()))
	}
}

func TestViewPreservesRegistrationOrder(t *testing.T) {
	view, reg := viewFixture(t)
	extra := &echoTool{}
	reg.Register(extra, models.SourceBuiltin)
	view.ActivateHints("$echo.tool then $tape.info")

	defs := view.Definitions()
	if len(defs) != 2 {
		t.Fatalf("got %d definitions, want 2", len(defs))
	}
	// tape.info registers before echo.tool, so it lists first regardless
	// of hint order.
	if defs[0].Name != "tape.info" || defs[1].Name != "echo.tool" {
		t.Errorf("order = [%s %s]", defs[0].Name, defs[1].Name)
	}
}
