package parser

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pithecene-io/workbench/metrics"
	"github.com/pithecene-io/workbench/types"
)

const demoMessage = `Here you go <artifact id="a1" title="Demo"><file path="x.txt">hello <b>world</b></file><shell>npm i</shell></artifact> done`

func lifecycle(events []types.Event) []types.Event {
	var out []types.Event
	for _, ev := range events {
		if ev.Type.IsLifecycle() {
			out = append(out, ev)
		}
	}
	return out
}

func eventTypes(events []types.Event) []types.EventType {
	out := make([]types.EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}

func TestParse_DemoMessage(t *testing.T) {
	p := New()
	visible, events := p.Parse("m1", demoMessage)

	if visible != "Here you go npm i done" {
		t.Errorf("visible = %q, want %q", visible, "Here you go npm i done")
	}

	want := []types.Event{
		{Type: types.EventArtifactOpen, StreamID: "m1", Artifact: types.ArtifactHeader{ID: "a1", Title: "Demo", Kind: "default"}},
		{Type: types.EventUnitOpen, StreamID: "m1", Artifact: types.ArtifactHeader{ID: "a1", Title: "Demo", Kind: "default"},
			Unit: &types.UnitHeader{ID: "a1#0", Kind: types.UnitKindFile, Path: "x.txt"}},
		{Type: types.EventUnitClose, StreamID: "m1", Artifact: types.ArtifactHeader{ID: "a1", Title: "Demo", Kind: "default"},
			Unit: &types.UnitHeader{ID: "a1#0", Kind: types.UnitKindFile, Path: "x.txt"}, Content: "hello <b>world</b>"},
		{Type: types.EventUnitOpen, StreamID: "m1", Artifact: types.ArtifactHeader{ID: "a1", Title: "Demo", Kind: "default"},
			Unit: &types.UnitHeader{ID: "a1#1", Kind: types.UnitKindShell}},
		{Type: types.EventUnitClose, StreamID: "m1", Artifact: types.ArtifactHeader{ID: "a1", Title: "Demo", Kind: "default"},
			Unit: &types.UnitHeader{ID: "a1#1", Kind: types.UnitKindShell}, Content: "npm i"},
		{Type: types.EventArtifactClose, StreamID: "m1", Artifact: types.ArtifactHeader{ID: "a1", Title: "Demo", Kind: "default"}},
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
	if p.Cursor("m1") != len(demoMessage) {
		t.Errorf("cursor = %d, want %d", p.Cursor("m1"), len(demoMessage))
	}
}

func TestParse_SplitAnywhereMatchesSingleCall(t *testing.T) {
	wantVisible, wantEvents := New().Parse("m", demoMessage)
	wantEvents = lifecycle(wantEvents)

	for k := 0; k <= len(demoMessage); k++ {
		t.Run(fmt.Sprintf("split_%d", k), func(t *testing.T) {
			p := New()
			v1, e1 := p.Parse("m", demoMessage[:k])
			v2, e2 := p.Parse("m", demoMessage)

			if got := v1 + v2; got != wantVisible {
				t.Errorf("visible = %q, want %q", got, wantVisible)
			}
			got := lifecycle(append(e1, e2...))
			if diff := cmp.Diff(wantEvents, got); diff != "" {
				t.Errorf("lifecycle events mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParse_ByteAtATime(t *testing.T) {
	wantVisible, wantEvents := New().Parse("m", demoMessage)
	wantEvents = lifecycle(wantEvents)

	p := New()
	var visible strings.Builder
	var all []types.Event
	for k := 1; k <= len(demoMessage); k++ {
		v, events := p.Parse("m", demoMessage[:k])
		visible.WriteString(v)

		deltas := 0
		for _, ev := range events {
			if ev.Type == types.EventUnitDelta {
				deltas++
			}
		}
		if deltas > 1 {
			t.Fatalf("prefix %d: %d delta events in one call", k, deltas)
		}
		all = append(all, events...)
	}

	if visible.String() != wantVisible {
		t.Errorf("visible = %q, want %q", visible.String(), wantVisible)
	}
	if p.Visible("m") != wantVisible {
		t.Errorf("Visible() = %q, want %q", p.Visible("m"), wantVisible)
	}
	if diff := cmp.Diff(wantEvents, lifecycle(all)); diff != "" {
		t.Errorf("lifecycle events mismatch (-want +got):\n%s", diff)
	}

	seen := make(map[string]bool)
	for _, ev := range lifecycle(all) {
		key := string(ev.Type) + "/" + ev.Artifact.ID
		if ev.Unit != nil {
			key += "/" + ev.Unit.ID
		}
		if seen[key] {
			t.Errorf("duplicate event %s", key)
		}
		seen[key] = true
	}
}

func TestParse_Deltas(t *testing.T) {
	p := New()

	_, events := p.Parse("s", `<artifact id="a"><shell>ab`)
	if diff := cmp.Diff([]types.EventType{types.EventArtifactOpen, types.EventUnitOpen, types.EventUnitDelta}, eventTypes(events)); diff != "" {
		t.Fatalf("event types mismatch (-want +got):\n%s", diff)
	}
	if events[2].Content != "ab" || events[2].Delta != "ab" {
		t.Errorf("delta = (%q, %q), want (ab, ab)", events[2].Content, events[2].Delta)
	}

	_, events = p.Parse("s", `<artifact id="a"><shell>abcd`)
	if len(events) != 1 || events[0].Type != types.EventUnitDelta {
		t.Fatalf("events = %v, want one delta", eventTypes(events))
	}
	if events[0].Content != "abcd" || events[0].Delta != "cd" {
		t.Errorf("delta = (%q, %q), want (abcd, cd)", events[0].Content, events[0].Delta)
	}

	// No new content, no delta.
	_, events = p.Parse("s", `<artifact id="a"><shell>abcd`)
	if len(events) != 0 {
		t.Errorf("events = %v, want none", eventTypes(events))
	}

	_, events = p.Parse("s", `<artifact id="a"><shell>abcd</shell>`)
	if len(events) != 1 || events[0].Type != types.EventUnitClose {
		t.Fatalf("events = %v, want one unit_close", eventTypes(events))
	}
	if events[0].Content != "abcd" {
		t.Errorf("close content = %q, want abcd", events[0].Content)
	}
}

func TestParse_PartialMarkerHeldBack(t *testing.T) {
	p := New()
	text := `<artifact id="a"><file path="f">x</fi`

	_, events := p.Parse("s", text)
	if want := len(text) - len("</fi"); p.Cursor("s") != want {
		t.Errorf("cursor = %d, want %d", p.Cursor("s"), want)
	}
	for _, ev := range events {
		if ev.Type == types.EventUnitClose {
			t.Fatal("unit closed on partial marker")
		}
	}

	_, events = p.Parse("s", text+`le></artifact>`)
	if diff := cmp.Diff([]types.EventType{types.EventUnitClose, types.EventArtifactClose}, eventTypes(events)); diff != "" {
		t.Fatalf("event types mismatch (-want +got):\n%s", diff)
	}
	if events[0].Content != "x" {
		t.Errorf("content = %q, want x", events[0].Content)
	}
}

func TestParse_PartialOpenTagAttributes(t *testing.T) {
	p := New()
	_, events := p.Parse("s", `<artifact id="a"><file path="src/ma`)
	if len(events) != 1 || events[0].Type != types.EventArtifactOpen {
		t.Fatalf("events = %v, want artifact_open only", eventTypes(events))
	}

	_, events = p.Parse("s", `<artifact id="a"><file path="src/main.go">`)
	if len(events) != 1 || events[0].Type != types.EventUnitOpen {
		t.Fatalf("events = %v, want unit_open", eventTypes(events))
	}
	if events[0].Unit.Path != "src/main.go" {
		t.Errorf("path = %q, want src/main.go", events[0].Unit.Path)
	}
}

func TestParse_UnitBodyMayContainMarkup(t *testing.T) {
	body := `<div class="x"><artifact-like></artifact-like><shell>not a unit</shell></div>`
	_, events := New().Parse("s", `<artifact id="a"><file path="index.html">`+body+`</file></artifact>`)

	closes := 0
	for _, ev := range events {
		if ev.Type == types.EventUnitClose {
			closes++
			if ev.Content != body {
				t.Errorf("content = %q, want %q", ev.Content, body)
			}
		}
	}
	if closes != 1 {
		t.Errorf("unit_close count = %d, want 1", closes)
	}
}

func TestParse_ArtifactCloseEndsOpenUnit(t *testing.T) {
	_, events := New().Parse("s", `<artifact id="a"><shell>ls</artifact>`)
	want := []types.EventType{types.EventArtifactOpen, types.EventUnitOpen, types.EventUnitClose, types.EventArtifactClose}
	if diff := cmp.Diff(want, eventTypes(events)); diff != "" {
		t.Errorf("event types mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_UnknownKindPassesThrough(t *testing.T) {
	c := metrics.NewCollector()
	p := New(WithCollector(c))
	visible, events := p.Parse("s", `<artifact id="a"><action type="deploy">go</action></artifact>`)

	if diff := cmp.Diff([]types.EventType{types.EventArtifactOpen, types.EventArtifactClose}, eventTypes(events)); diff != "" {
		t.Errorf("event types mismatch (-want +got):\n%s", diff)
	}
	if visible != `<action type="deploy">go` {
		t.Errorf("visible = %q", visible)
	}
}

func TestParse_DeclaredKind(t *testing.T) {
	p := New(WithKinds(KindSpec{Kind: "deploy"}))
	visible, events := p.Parse("s", `<artifact id="a"><action type="Deploy">go</action></artifact>`)

	if len(events) != 4 {
		t.Fatalf("events = %v, want 4", eventTypes(events))
	}
	if events[1].Unit.Kind != "deploy" {
		t.Errorf("kind = %q, want deploy", events[1].Unit.Kind)
	}
	if events[2].Content != "go" {
		t.Errorf("content = %q, want go", events[2].Content)
	}
	if visible != "go" {
		t.Errorf("visible = %q, want go", visible)
	}
}

func TestParse_ActionTagForBuiltinKind(t *testing.T) {
	_, events := New().Parse("s", `<artifact id="a"><action type="file" filePath="src/a.go">package a</action></artifact>`)
	if len(events) != 4 {
		t.Fatalf("events = %v, want 4", eventTypes(events))
	}
	u := events[2].Unit
	if u.Kind != types.UnitKindFile || u.Path != "src/a.go" {
		t.Errorf("unit = %+v, want file src/a.go", u)
	}
	if events[2].Content != "package a" {
		t.Errorf("content = %q", events[2].Content)
	}
}

func TestParse_NestedArtifactIgnored(t *testing.T) {
	c := metrics.NewCollector()
	_, events := New(WithCollector(c)).Parse("s", `<artifact id="a"><artifact id="b"><shell>x</shell></artifact>`)

	want := []types.EventType{types.EventArtifactOpen, types.EventUnitOpen, types.EventUnitClose, types.EventArtifactClose}
	if diff := cmp.Diff(want, eventTypes(events)); diff != "" {
		t.Errorf("event types mismatch (-want +got):\n%s", diff)
	}
	for _, ev := range events {
		if ev.Artifact.ID != "a" {
			t.Errorf("event %s for artifact %q, want a", ev.Type, ev.Artifact.ID)
		}
	}
	if c.Snapshot().ProtocolViolations != 1 {
		t.Errorf("violations = %d, want 1", c.Snapshot().ProtocolViolations)
	}
}

func TestParse_DuplicateIDAcrossStreams(t *testing.T) {
	p := New()
	p.Parse("s1", `<artifact id="a"></artifact>`)
	visible, events := p.Parse("s2", `<artifact id="a"><file path="f">secret</file></artifact>`)

	if len(events) != 0 {
		t.Errorf("events = %v, want none", eventTypes(events))
	}
	if visible != "" {
		t.Errorf("visible = %q, want empty", visible)
	}
}

func TestParse_MissingArtifactID(t *testing.T) {
	visible, events := New().Parse("s", `<artifact title="x"><file path="f">x</file></artifact>`)
	if len(events) != 0 {
		t.Errorf("events = %v, want none", eventTypes(events))
	}
	if visible != "" {
		t.Errorf("visible = %q, want empty", visible)
	}
}

func TestParse_FileWithoutPath(t *testing.T) {
	c := metrics.NewCollector()
	p := New(WithCollector(c))
	visible, events := p.Parse("s", `a<artifact id="a"><file>secret</file><shell>ls</shell></artifact>b`)

	want := []types.EventType{
		types.EventArtifactOpen,
		types.EventUnitOpen,
		types.EventUnitClose,
		types.EventArtifactClose,
	}
	if diff := cmp.Diff(want, eventTypes(events)); diff != "" {
		t.Errorf("event types mismatch (-want +got):\n%s", diff)
	}
	if visible != "alsb" {
		t.Errorf("visible = %q, want %q", visible, "alsb")
	}
	if events[1].Unit.ID != "a#0" {
		t.Errorf("shell unit id = %q, want a#0", events[1].Unit.ID)
	}
	if got := c.Snapshot().ProtocolViolations; got != 1 {
		t.Errorf("violations = %d, want 1", got)
	}
}

func TestParse_FileWithoutPathStreamed(t *testing.T) {
	p := New()
	msg := `<artifact id="a"><file>hidden body</file></artifact>`
	var visible strings.Builder
	var events []types.Event
	for n := 1; n <= len(msg); n++ {
		v, evs := p.Parse("s", msg[:n])
		visible.WriteString(v)
		events = append(events, evs...)
	}
	if visible.String() != "" {
		t.Errorf("visible = %q, want empty", visible.String())
	}
	if diff := cmp.Diff([]types.EventType{types.EventArtifactOpen, types.EventArtifactClose}, eventTypes(events)); diff != "" {
		t.Errorf("event types mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_StrayCloseOutsideArtifact(t *testing.T) {
	visible, events := New().Parse("s", `</artifact>hi`)
	if len(events) != 0 {
		t.Errorf("events = %v, want none", eventTypes(events))
	}
	if visible != "hi" {
		t.Errorf("visible = %q, want hi", visible)
	}
}

func TestParse_PlainAngleBrackets(t *testing.T) {
	text := "if a < b && c <d> then <artifactual>"
	visible, events := New().Parse("s", text)
	if len(events) != 0 {
		t.Errorf("events = %v, want none", eventTypes(events))
	}
	if visible != text {
		t.Errorf("visible = %q, want %q", visible, text)
	}
}

func TestParse_AttributeDecodingAndCase(t *testing.T) {
	_, events := New().Parse("s", `<ARTIFACT id='a' title="Tom &amp; Jerry" type=react></Artifact >`)
	if len(events) != 2 {
		t.Fatalf("events = %v, want 2", eventTypes(events))
	}
	want := types.ArtifactHeader{ID: "a", Title: "Tom & Jerry", Kind: "react"}
	if diff := cmp.Diff(want, events[0].Artifact); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_ResetAndReplay(t *testing.T) {
	p := New()
	_, first := p.Parse("s", demoMessage)

	// Without a reset the same id is a reuse and produces nothing.
	p.Parse("other", `<artifact id="a1"></artifact>`)

	p.Reset("s")
	_, replay := p.Parse("s", demoMessage)
	if diff := cmp.Diff(first, replay); diff != "" {
		t.Errorf("replay mismatch (-first +replay):\n%s", diff)
	}
}

func TestParse_OwnershipSurvivesFullReset(t *testing.T) {
	p := New()
	p.Parse("A", `<artifact id="a1"><file path="a.txt">A</file></artifact>`)

	p.Reset()
	if _, events := p.Parse("B", `<artifact id="a1"><shell>one</shell></artifact>`); len(events) != 0 {
		t.Errorf("foreign stream took a1 after reset: %v", eventTypes(events))
	}
	if _, events := p.Parse("A", `<artifact id="a1"></artifact>`); len(events) != 2 {
		t.Errorf("owner replay events = %v, want open and close", eventTypes(events))
	}

	p.Clear()
	if _, events := p.Parse("B", `<artifact id="a1"></artifact>`); len(events) != 2 {
		t.Errorf("after Clear events = %v, want open and close", eventTypes(events))
	}
}

func TestParse_ReopenWithinStreamIsViolation(t *testing.T) {
	c := metrics.NewCollector()
	p := New(WithCollector(c))
	_, events := p.Parse("s", `<artifact id="a"></artifact><artifact id="a"><shell>x</shell></artifact>`)
	if len(events) != 2 {
		t.Errorf("events = %v, want only the first artifact", eventTypes(events))
	}
	if got := c.Snapshot().ProtocolViolations; got != 1 {
		t.Errorf("violations = %d, want 1", got)
	}
}

func TestParse_TextShrinkRestarts(t *testing.T) {
	p := New()
	p.Parse("s", `<artifact id="a"><shell>abc`)

	_, events := p.Parse("s", `<artifact id="a"><sh`)
	if len(events) != 1 || events[0].Type != types.EventArtifactOpen {
		t.Fatalf("events = %v, want artifact_open", eventTypes(events))
	}
	if p.Cursor("s") != len(`<artifact id="a">`) {
		t.Errorf("cursor = %d", p.Cursor("s"))
	}
}

func TestParse_Placeholder(t *testing.T) {
	p := New(WithPlaceholder(func(streamID string, a types.ArtifactHeader) string {
		return "[" + streamID + ":" + a.ID + "]"
	}))
	visible, _ := p.Parse("s", `pre <artifact id="a"><file path="f">x</file></artifact> post`)
	if visible != "pre [s:a] post" {
		t.Errorf("visible = %q, want %q", visible, "pre [s:a] post")
	}
}

func TestParse_IndependentStreams(t *testing.T) {
	p := New()
	p.Parse("s1", `<artifact id="a"><shell>one`)
	p.Parse("s2", `<artifact id="b"><shell>two`)

	_, e1 := p.Parse("s1", `<artifact id="a"><shell>one</shell></artifact>`)
	_, e2 := p.Parse("s2", `<artifact id="b"><shell>two</shell></artifact>`)

	if e1[0].Content != "one" || e1[0].Unit.ID != "a#0" {
		t.Errorf("s1 close = %+v", e1[0])
	}
	if e2[0].Content != "two" || e2[0].Unit.ID != "b#0" {
		t.Errorf("s2 close = %+v", e2[0])
	}
}

func TestParse_Metrics(t *testing.T) {
	c := metrics.NewCollector()
	New(WithCollector(c)).Parse("m", demoMessage)

	s := c.Snapshot()
	if s.ParseCalls != 1 || s.ArtifactsOpened != 1 || s.ArtifactsClosed != 1 {
		t.Errorf("artifact counters = %+v", s)
	}
	if s.UnitsOpened != 2 || s.UnitsClosed != 2 {
		t.Errorf("unit counters = %+v", s)
	}
}
