package dsl

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	idPattern      = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,99}$`)
	versionPattern = regexp.MustCompile(`^v\d+(\.\d+)*$`)
)

func errNotObject() error {
	return &ValidationError{Message: "DSL must be a valid object"}
}

func errMissingField(field string) error {
	return &ValidationError{Field: field, Message: "DSL missing required field: " + field}
}

// Validate checks a document for structural completeness. It fails on the
// first problem found and never touches tool or agent registries.
func Validate(doc *Workflow) error {
	if doc == nil {
		return errNotObject()
	}

	present := map[string]bool{
		"id":          doc.ID != "",
		"name":        doc.Name != "",
		"description": doc.Description != "",
		"version":     doc.Version != "",
		"tools":       doc.Tools != nil,
		"events":      doc.Events != nil,
		"steps":       doc.Steps != nil,
	}
	for _, field := range requiredFields {
		if !present[field] {
			return errMissingField(field)
		}
	}

	if len(doc.Events) < 2 {
		return &ValidationError{Field: "events", Message: "DSL must have at least 2 events"}
	}
	if !doc.HasEvent(StartEvent) {
		return &ValidationError{Field: "events", Message: "DSL must have " + StartEvent + " event"}
	}
	if !doc.HasEvent(StopEvent) {
		return &ValidationError{Field: "events", Message: "DSL must have " + StopEvent + " event"}
	}
	if len(doc.Steps) == 0 {
		return &ValidationError{Field: "steps", Message: "DSL must have at least 1 step"}
	}

	return nil
}

// ValidateDefinition runs Validate and then the invariants a stored
// document must hold: identifier and version formats, unique agent names,
// steps bound to declared events and non-empty handlers.
func ValidateDefinition(doc *Workflow) error {
	if err := Validate(doc); err != nil {
		return err
	}

	if !idPattern.MatchString(doc.ID) {
		return &ValidationError{
			Field:   "id",
			Message: fmt.Sprintf("invalid workflow id %q", doc.ID),
			Hint:    "start with a letter, use letters, digits and underscores, at most 100 characters",
		}
	}
	if !versionPattern.MatchString(doc.Version) {
		return &ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("invalid version %q", doc.Version),
			Hint:    "use the form v1 or v1.2.3",
		}
	}

	toolNames := make(map[string]bool, len(doc.Tools))
	for i, name := range doc.Tools {
		if name == "" {
			return &ValidationError{Field: fmt.Sprintf("tools[%d]", i), Message: "tool name is empty"}
		}
		toolNames[name] = true
	}

	agentNames := make(map[string]bool, len(doc.Agents))
	for i, a := range doc.Agents {
		field := fmt.Sprintf("agents[%d]", i)
		if a.Name == "" {
			return &ValidationError{Field: field + ".name", Message: "agent name is required"}
		}
		if agentNames[a.Name] {
			return &ValidationError{Field: field + ".name", Message: fmt.Sprintf("duplicate agent %q", a.Name)}
		}
		if toolNames[a.Name] {
			return &ValidationError{
				Field:   field + ".name",
				Message: fmt.Sprintf("agent %q has the same name as a tool", a.Name),
			}
		}
		if strings.TrimSpace(a.Prompt) == "" {
			return &ValidationError{Field: field + ".prompt", Message: fmt.Sprintf("agent %q has no prompt", a.Name)}
		}
		agentNames[a.Name] = true
	}

	events := make([]string, 0, len(doc.Events))
	for i, e := range doc.Events {
		if e.Type == "" {
			return &ValidationError{Field: fmt.Sprintf("events[%d].type", i), Message: "event type is required"}
		}
		events = append(events, e.Type)
	}

	bound := make(map[string]bool, len(doc.Steps))
	for i, s := range doc.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		if !doc.HasEvent(s.Event) {
			return &ValidationError{
				Field:   field + ".event",
				Message: fmt.Sprintf("step handles undeclared event %q", s.Event),
				Hint:    fmt.Sprintf("did you mean %q?", findSimilar(s.Event, events)),
			}
		}
		if bound[s.Event] {
			return &ValidationError{
				Field:   field + ".event",
				Message: fmt.Sprintf("duplicate step for event %q", s.Event),
			}
		}
		if strings.TrimSpace(s.Handle) == "" {
			return &ValidationError{Field: field + ".handle", Message: fmt.Sprintf("step for %q has no handler", s.Event)}
		}
		bound[s.Event] = true
	}

	return nil
}

// findSimilar finds the most similar string using a prefix/containment score.
func findSimilar(target string, candidates []string) string {
	target = strings.ToLower(target)
	best := ""
	bestScore := -1

	for _, c := range candidates {
		score := similarity(target, strings.ToLower(c))
		if score > bestScore {
			bestScore = score
			best = c
		}
	}

	return best
}

func similarity(a, b string) int {
	if a == b {
		return 100
	}

	score := 0
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			break
		}
		score += 2
	}

	if strings.Contains(b, a) || strings.Contains(a, b) {
		score += 10
	}

	return score
}
