package parser

import (
	"strings"

	"github.com/pithecene-io/workbench/types"
)

// state is the per-stream FSM position: Idle -> InArtifact -> InUnit.
type state int

const (
	stateIdle state = iota
	stateInArtifact
	stateInUnit
)

// stream is the resumable parse state of one message.
type stream struct {
	id     string
	cursor int
	state  state

	artifact types.ArtifactHeader
	// ignored marks a rejected artifact: its body is consumed structurally
	// but produces no events.
	ignored bool
	// ordinal counts units opened in the current artifact.
	ordinal int
	// opened holds artifact ids this stream opened since its last reset.
	opened map[string]bool

	unit     types.UnitHeader
	unitTag  string
	suppress bool
	// dropped marks a rejected unit: its body is hidden and produces no
	// events.
	dropped bool
	content string
	// lastDelta is len(content) at the previous delta emission.
	lastDelta int

	visible strings.Builder
}

var (
	idleTags = []tagName{
		{name: tagArtifact},
		{closing: true, name: tagArtifact},
	}
	artifactTags = []tagName{
		{name: tagArtifact},
		{closing: true, name: tagArtifact},
		{name: string(types.UnitKindFile)},
		{name: string(types.UnitKindShell)},
		{name: string(types.UnitKindStart)},
		{name: tagAction},
		{closing: true, name: string(types.UnitKindFile)},
		{closing: true, name: string(types.UnitKindShell)},
		{closing: true, name: string(types.UnitKindStart)},
		{closing: true, name: tagAction},
	}
)

// run holds the output of one Parse call.
type run struct {
	p      *Parser
	s      *stream
	text   string
	out    strings.Builder
	events []types.Event
}

// scanIdle consumes text outside any artifact.
// Returns the next index and whether scanning may continue.
func (r *run) scanIdle(i int) (int, bool) {
	j := strings.IndexByte(r.text[i:], '<')
	if j < 0 {
		r.out.WriteString(r.text[i:])
		return len(r.text), true
	}
	r.out.WriteString(r.text[i : i+j])
	i += j

	tok, res := scanTag(r.text, i, idleTags)
	switch res {
	case scanPartial:
		return i, false
	case scanNone:
		r.out.WriteByte('<')
		return i + 1, true
	}

	if tok.closing {
		r.p.violation(r.s, "artifact close without open artifact", nil)
		return tok.end, true
	}
	r.openArtifact(tok)
	return tok.end, true
}

// scanArtifact consumes text inside an artifact but outside any unit.
func (r *run) scanArtifact(i int) (int, bool) {
	j := strings.IndexByte(r.text[i:], '<')
	if j < 0 {
		r.out.WriteString(r.text[i:])
		return len(r.text), true
	}
	r.out.WriteString(r.text[i : i+j])
	i += j

	tok, res := scanTag(r.text, i, artifactTags)
	switch res {
	case scanPartial:
		return i, false
	case scanNone:
		r.out.WriteByte('<')
		return i + 1, true
	}

	switch {
	case tok.name == tagArtifact && tok.closing:
		r.closeArtifact()
	case tok.name == tagArtifact:
		r.p.violation(r.s, "nested artifact", map[string]any{
			"artifact_id": r.s.artifact.ID,
			"nested_id":   tok.attrs["id"],
		})
	case tok.closing:
		r.p.violation(r.s, "unit close without open unit", map[string]any{
			"artifact_id": r.s.artifact.ID,
			"tag":         tok.name,
		})
	default:
		if !r.openUnit(tok) {
			// Unknown kind: the tag itself is opaque text.
			r.out.WriteString(r.text[i:tok.end])
		}
	}
	return tok.end, true
}

// scanUnit consumes a unit body up to its matching close tag.
func (r *run) scanUnit(i int) (int, bool) {
	s := r.s
	allowed := []tagName{
		{closing: true, name: s.unitTag},
		{closing: true, name: tagArtifact},
	}

	for i < len(r.text) {
		j := strings.IndexByte(r.text[i:], '<')
		if j < 0 {
			r.appendContent(r.text[i:])
			return len(r.text), true
		}
		r.appendContent(r.text[i : i+j])
		i += j

		tok, res := scanTag(r.text, i, allowed)
		switch res {
		case scanPartial:
			return i, false
		case scanNone:
			r.appendContent("<")
			i++
			continue
		}

		if tok.name == tagArtifact {
			r.closeUnit()
			r.closeArtifact()
		} else {
			r.closeUnit()
		}
		return tok.end, true
	}
	return i, true
}

func (r *run) openArtifact(tok token) {
	s := r.s
	header := types.ArtifactHeader{
		ID:    strings.TrimSpace(tok.attrs["id"]),
		Title: tok.attrs["title"],
		Kind:  tok.attrs["type"],
	}
	if header.Kind == "" {
		header.Kind = tok.attrs["kind"]
	}
	if header.Title == "" {
		header.Title = types.DefaultArtifactTitle
	}
	if header.Kind == "" {
		header.Kind = types.DefaultArtifactKind
	}

	s.state = stateInArtifact
	s.artifact = header
	s.ordinal = 0
	s.ignored = false

	if header.ID == "" {
		r.p.violation(s, "artifact without id", nil)
		s.ignored = true
		return
	}
	if owner, taken := r.p.owners[header.ID]; taken && (owner != s.id || s.opened[header.ID]) {
		r.p.violation(s, "artifact id reused", map[string]any{
			"artifact_id": header.ID,
			"owner":       owner,
		})
		s.ignored = true
		return
	}
	r.p.owners[header.ID] = s.id
	if s.opened == nil {
		s.opened = make(map[string]bool)
	}
	s.opened[header.ID] = true

	r.p.collector.IncArtifactsOpened()
	if r.p.placeholder != nil {
		r.out.WriteString(r.p.placeholder(s.id, header))
	}
	r.events = append(r.events, types.Event{
		Type:     types.EventArtifactOpen,
		StreamID: s.id,
		Artifact: header,
	})
}

func (r *run) closeArtifact() {
	s := r.s
	if !s.ignored {
		r.p.collector.IncArtifactsClosed()
		r.events = append(r.events, types.Event{
			Type:     types.EventArtifactClose,
			StreamID: s.id,
			Artifact: s.artifact,
		})
	}
	s.state = stateIdle
	s.artifact = types.ArtifactHeader{}
	s.ignored = false
	s.ordinal = 0
}

// openUnit enters a unit. Returns false when the kind is not declared.
func (r *run) openUnit(tok token) bool {
	s := r.s
	kind := unitTagKind(tok)
	spec, ok := r.p.kinds[kind]
	if !ok {
		r.p.logger.Debug("unknown unit kind passed through", map[string]any{
			"stream_id": s.id,
			"kind":      string(kind),
		})
		return false
	}

	header := types.UnitHeader{Kind: kind}
	if kind.IsFile() {
		header.Path = strings.TrimSpace(tok.attrs["path"])
		if header.Path == "" {
			header.Path = strings.TrimSpace(tok.attrs["filepath"])
		}
		if header.Path == "" {
			r.p.violation(s, "file unit without path", map[string]any{
				"artifact_id": s.artifact.ID,
			})
			s.state = stateInUnit
			s.unit = header
			s.unitTag = tok.name
			s.suppress = true
			s.dropped = true
			s.content = ""
			s.lastDelta = 0
			return true
		}
	}
	header.ID = unitID(s.artifact.ID, s.ordinal)
	s.ordinal++

	s.state = stateInUnit
	s.unit = header
	s.unitTag = tok.name
	s.suppress = spec.Suppress
	s.content = ""
	s.lastDelta = 0

	if !s.ignored {
		r.p.collector.IncUnitsOpened()
	}
	r.emitUnit(types.EventUnitOpen, "")
	return true
}

func (r *run) closeUnit() {
	s := r.s
	if !s.ignored && !s.dropped {
		r.p.collector.IncUnitsClosed()
	}
	r.emitUnit(types.EventUnitClose, "")
	s.state = stateInArtifact
	s.unit = types.UnitHeader{}
	s.unitTag = ""
	s.suppress = false
	s.dropped = false
	s.content = ""
	s.lastDelta = 0
}

func (r *run) appendContent(text string) {
	if text == "" {
		return
	}
	r.s.content += text
	if !r.s.suppress {
		r.out.WriteString(text)
	}
}

func (r *run) emitUnit(typ types.EventType, delta string) {
	s := r.s
	if s.ignored || s.dropped {
		return
	}
	unit := s.unit
	ev := types.Event{
		Type:     typ,
		StreamID: s.id,
		Artifact: s.artifact,
		Unit:     &unit,
		Delta:    delta,
	}
	if typ != types.EventUnitOpen {
		ev.Content = s.content
	}
	r.events = append(r.events, ev)
}
