// Package parser implements the incremental stream parser that extracts
// artifacts and action units from model output as it grows.
//
// Grammar:
//
//	artifact-open  = "<artifact" *(WS attribute) *WS ">"
//	artifact-close = "</artifact>"
//	unit-open      = "<" unit-tag *(WS attribute) *WS ">"
//	unit-tag       = "file" / "shell" / "start" / "action"
//	unit-close     = "</" unit-tag ">"    ; must match the open tag name
//	attribute      = name [ "=" ( DQUOTE *(not DQUOTE) DQUOTE
//	                             / SQUOTE *(not SQUOTE) SQUOTE
//	                             / 1*(not WS or ">") ) ]
//
// Tag and attribute names are case-insensitive. Attribute values are
// HTML-entity decoded. Artifact attributes: id (required), title, type or
// kind. Unit attributes: path or filePath (file units, required), type
// (action tags, names the unit kind).
//
// Outside an artifact only artifact markers are recognized. Inside a unit
// only the matching unit close and the artifact close are recognized, so
// unit bodies may contain arbitrary markup.
package parser

import (
	"fmt"
	"strings"

	"github.com/pithecene-io/workbench/log"
	"github.com/pithecene-io/workbench/metrics"
	"github.com/pithecene-io/workbench/types"
)

const (
	tagArtifact = "artifact"
	tagAction   = "action"
)

// KindSpec declares a unit kind usable through <action type="...">.
type KindSpec struct {
	Kind types.UnitKind
	// Suppress hides the unit body from visible text.
	Suppress bool
}

// builtinKinds are always declared. Each also has its own tag name.
var builtinKinds = []KindSpec{
	{Kind: types.UnitKindFile, Suppress: true},
	{Kind: types.UnitKindShell},
	{Kind: types.UnitKindStart},
}

// PlaceholderFunc renders the visible stand-in for an opened artifact.
type PlaceholderFunc func(streamID string, artifact types.ArtifactHeader) string

// Option configures a Parser.
type Option func(*Parser)

// WithLogger sets the logger used for protocol violations.
func WithLogger(l *log.Logger) Option {
	return func(p *Parser) { p.logger = l }
}

// WithCollector sets the metrics collector.
func WithCollector(c *metrics.Collector) Option {
	return func(p *Parser) { p.collector = c }
}

// WithKinds declares additional unit kinds for <action type="...">.
// Declaring a built-in kind again is ignored.
func WithKinds(specs ...KindSpec) Option {
	return func(p *Parser) {
		for _, s := range specs {
			if isBuiltin(s.Kind) {
				continue
			}
			p.kinds[s.Kind] = s
		}
	}
}

// WithPlaceholder inserts fn's output into visible text where an artifact opens.
func WithPlaceholder(fn PlaceholderFunc) Option {
	return func(p *Parser) { p.placeholder = fn }
}

// Parser tracks parsing state for any number of independent streams.
// A Parser is not safe for concurrent use; callers serialize access.
type Parser struct {
	streams map[string]*stream
	// owners maps artifact id to the stream that opened it.
	owners      map[string]string
	kinds       map[types.UnitKind]KindSpec
	placeholder PlaceholderFunc
	logger      *log.Logger
	collector   *metrics.Collector
}

// New creates a Parser.
func New(opts ...Option) *Parser {
	p := &Parser{
		streams: make(map[string]*stream),
		owners:  make(map[string]string),
		kinds:   make(map[types.UnitKind]KindSpec, len(builtinKinds)),
	}
	for _, k := range builtinKinds {
		p.kinds[k.Kind] = k
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse scans the cumulative text of a stream from where the previous call
// stopped. It returns the visible text produced by this call only and the
// events in source order.
//
// An incomplete trailing marker is left unconsumed so the next call can
// finish it. Parse never fails: malformed markers are logged and skipped.
func (p *Parser) Parse(streamID, text string) (string, []types.Event) {
	p.collector.IncParseCalls()

	s, ok := p.streams[streamID]
	if !ok {
		s = &stream{id: streamID}
		p.streams[streamID] = s
	}

	if len(text) < s.cursor {
		p.logger.Warn("stream text shrank, reparsing from start", map[string]any{
			"stream_id": streamID,
			"cursor":    s.cursor,
			"length":    len(text),
		})
		p.Reset(streamID)
		s = &stream{id: streamID}
		p.streams[streamID] = s
	}

	r := &run{p: p, s: s, text: text}
	i := s.cursor
	for i < len(text) {
		var more bool
		switch s.state {
		case stateIdle:
			i, more = r.scanIdle(i)
		case stateInArtifact:
			i, more = r.scanArtifact(i)
		case stateInUnit:
			i, more = r.scanUnit(i)
		}
		if !more {
			break
		}
	}
	s.cursor = i

	if s.state == stateInUnit && len(s.content) > s.lastDelta {
		r.emitUnit(types.EventUnitDelta, s.content[s.lastDelta:])
		s.lastDelta = len(s.content)
	}

	visible := r.out.String()
	s.visible.WriteString(visible)
	return visible, r.events
}

// Reset discards parsing state for the given streams, or for every stream
// when called without arguments. Artifact ownership survives a reset: a
// reset stream may open its own ids again on replay, no other stream may.
func (p *Parser) Reset(streamIDs ...string) {
	if len(streamIDs) == 0 {
		p.streams = make(map[string]*stream)
		return
	}
	for _, id := range streamIDs {
		delete(p.streams, id)
	}
}

// Clear discards every stream and every artifact ownership.
func (p *Parser) Clear() {
	p.streams = make(map[string]*stream)
	p.owners = make(map[string]string)
}

// Visible returns all visible text produced so far for a stream.
func (p *Parser) Visible(streamID string) string {
	if s, ok := p.streams[streamID]; ok {
		return s.visible.String()
	}
	return ""
}

// Cursor returns how many bytes of a stream have been consumed.
func (p *Parser) Cursor(streamID string) int {
	if s, ok := p.streams[streamID]; ok {
		return s.cursor
	}
	return 0
}

// Kind looks up a declared unit kind.
func (p *Parser) Kind(kind types.UnitKind) (KindSpec, bool) {
	k, ok := p.kinds[kind]
	return k, ok
}

func (p *Parser) violation(s *stream, reason string, fields map[string]any) {
	p.collector.IncProtocolViolations()
	if fields == nil {
		fields = make(map[string]any, 2)
	}
	fields["stream_id"] = s.id
	fields["reason"] = reason
	p.logger.Warn("protocol violation", fields)
}

func isBuiltin(kind types.UnitKind) bool {
	for _, k := range builtinKinds {
		if k.Kind == kind {
			return true
		}
	}
	return false
}

func unitID(artifactID string, ordinal int) string {
	return fmt.Sprintf("%s#%d", artifactID, ordinal)
}

// unitTagKind maps a unit tag to its kind. The action tag names its kind
// through the type attribute.
func unitTagKind(tok token) types.UnitKind {
	if tok.name == tagAction {
		return types.UnitKind(strings.ToLower(strings.TrimSpace(tok.attrs["type"])))
	}
	return types.UnitKind(tok.name)
}
