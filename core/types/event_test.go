package types

import "testing"

func TestEventAttribute(t *testing.T) {
	evt := &Event{Type: "escrow.created", Attributes: map[string]string{"id": "1"}}
	if value, ok := evt.Attribute("id"); !ok || value != "1" {
		t.Fatalf("expected id=1, got %q (%v)", value, ok)
	}
	if _, ok := evt.Attribute("missing"); ok {
		t.Fatalf("missing attribute must not be found")
	}
	var nilEvent *Event
	if _, ok := nilEvent.Attribute("id"); ok {
		t.Fatalf("nil event must report no attributes")
	}
}

func TestCloneAttributes(t *testing.T) {
	evt := &Event{Attributes: map[string]string{"id": "1"}}
	clone := evt.CloneAttributes()
	clone["id"] = "2"
	if evt.Attributes["id"] != "1" {
		t.Fatalf("clone must not alias the event's map")
	}

	var nilEvent *Event
	if got := nilEvent.CloneAttributes(); got == nil || len(got) != 0 {
		t.Fatalf("nil event must clone to an empty map, got %v", got)
	}
	empty := &Event{}
	if got := empty.CloneAttributes(); got == nil {
		t.Fatalf("nil attribute map must clone to an empty map")
	}
}
