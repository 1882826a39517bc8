package commands

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/crabclaw/crabclaw/internal/skills"
	"github.com/crabclaw/crabclaw/internal/tape"
	"github.com/crabclaw/crabclaw/pkg/models"
)

type fakeCatalog struct {
	descriptors []models.ToolDescriptor
	schemas     map[string]json.RawMessage
}

func (c *fakeCatalog) Descriptors() []models.ToolDescriptor { return c.descriptors }

func (c *fakeCatalog) Schema(name string) (json.RawMessage, bool) {
	schema, ok := c.schemas[name]
	return schema, ok
}

type fakeSkills struct {
	list []skills.Skill
}

func (s *fakeSkills) List() []skills.Skill { return s.list }

func (s *fakeSkills) Get(slug string) (skills.Skill, bool) {
	for _, sk := range s.list {
		if sk.Slug == slug {
			return sk, true
		}
	}
	return skills.Skill{}, false
}

func testEnv(t *testing.T) *Env {
	t.Helper()
	store, err := tape.Open(t.TempDir(), "session")
	if err != nil {
		t.Fatalf("open tape: %v", err)
	}
	if err := store.EnsureBootstrapAnchor(); err != nil {
		t.Fatalf("bootstrap anchor: %v", err)
	}
	return &Env{
		Tape: store,
		Tools: &fakeCatalog{
			descriptors: []models.ToolDescriptor{
				{Name: "shell.exec", Description: "Run a shell command", Source: "builtin"},
			},
			schemas: map[string]json.RawMessage{
				"shell.exec": json.RawMessage(`{"type":"object","properties":{"command":{"type":"string"}}}`),
			},
		},
		Skills: &fakeSkills{list: []skills.Skill{
			{Slug: "deploy", Name: "Deploy", Description: "Ship it", Body: "Run make deploy.", Source: "project"},
		}},
	}
}

func run(t *testing.T, env *Env, line string) Result {
	t.Helper()
	cmd := Detect(line)
	if cmd == nil || cmd.Kind != KindInternal {
		t.Fatalf("Detect(%q) did not yield an internal command", line)
	}
	return Run(env, cmd)
}

func TestQuit(t *testing.T) {
	res := run(t, testEnv(t), ",quit")
	if !res.Success || !res.ExitRequested {
		t.Errorf("quit = %+v, want success with exit requested", res)
	}
}

func TestHelpListsCommands(t *testing.T) {
	res := run(t, testEnv(t), ",help")
	if !res.Success {
		t.Fatalf("help failed: %s", res.Output)
	}
	for _, want := range []string{"quit", "tape.search", "handoff", "tool.describe"} {
		if !strings.Contains(res.Output, want) {
			t.Errorf("help output missing %q", want)
		}
	}
}

func TestTapeInfo(t *testing.T) {
	env := testEnv(t)
	env.Tape.AppendMessage("user", "hi")

	res := run(t, env, ",tape.info")
	if !res.Success {
		t.Fatalf("tape.info failed: %s", res.Output)
	}
	var info tape.Info
	if err := json.Unmarshal([]byte(res.Output), &info); err != nil {
		t.Fatalf("tape.info output is not JSON: %v", err)
	}
	if info.Entries != 2 || info.Anchors != 1 {
		t.Errorf("info = %+v", info)
	}
}

func TestTapeSearchRequiresQuery(t *testing.T) {
	res := run(t, testEnv(t), ",tape.search")
	if res.Success {
		t.Error("tape.search with no query should fail")
	}
	if !strings.Contains(res.Output, "usage") {
		t.Errorf("output = %q, want usage hint", res.Output)
	}
}

func TestTapeSearchFormatsMatches(t *testing.T) {
	env := testEnv(t)
	env.Tape.AppendMessage("user", "find the needle here")

	res := run(t, env, ",tape.search needle")
	if !res.Success {
		t.Fatalf("tape.search failed: %s", res.Output)
	}
	if !strings.Contains(res.Output, "message #2:") {
		t.Errorf("output = %q, want kind and id marker", res.Output)
	}
}

func TestHandoffWritesAnchor(t *testing.T) {
	env := testEnv(t)
	env.Tape.AppendMessage("user", "old context")

	res := run(t, env, ",handoff milestone")
	if !res.Success {
		t.Fatalf("handoff failed: %s", res.Output)
	}
	anchors := env.Tape.AnchorEntries()
	if len(anchors) != 2 {
		t.Fatalf("anchors = %d, want 2", len(anchors))
	}
	var payload tape.AnchorPayload
	if err := json.Unmarshal(anchors[1].Payload, &payload); err != nil {
		t.Fatalf("decode anchor: %v", err)
	}
	if payload.Name != "milestone" {
		t.Errorf("anchor name = %q", payload.Name)
	}
	if payload.State["type"] != "handoff" || payload.State["previous_anchor"] != tape.BootstrapAnchorName {
		t.Errorf("anchor state = %v", payload.State)
	}
	if len(env.Tape.EntriesSinceLastAnchor()) != 0 {
		t.Error("handoff should truncate the context window")
	}
}

func TestToolDescribe(t *testing.T) {
	env := testEnv(t)

	res := run(t, env, ",tool.describe shell.exec")
	if !res.Success {
		t.Fatalf("tool.describe failed: %s", res.Output)
	}
	for _, want := range []string{"shell.exec", "builtin", "Run a shell command", "properties"} {
		if !strings.Contains(res.Output, want) {
			t.Errorf("output missing %q: %s", want, res.Output)
		}
	}

	res = run(t, env, ",tool.describe nope")
	if res.Success {
		t.Error("tool.describe for unknown tool should fail")
	}
}

func TestSkillsCommands(t *testing.T) {
	env := testEnv(t)

	res := run(t, env, ",skills")
	if !res.Success || !strings.Contains(res.Output, "skill.deploy") {
		t.Errorf("skills output = %q", res.Output)
	}

	res = run(t, env, ",skills.describe deploy")
	if !res.Success || !strings.Contains(res.Output, "Run make deploy.") {
		t.Errorf("skills.describe output = %q", res.Output)
	}

	res = run(t, env, ",skills.describe skill.deploy")
	if !res.Success {
		t.Errorf("skills.describe should accept the skill. prefix: %q", res.Output)
	}
}
