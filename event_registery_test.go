package cqrs

import (
	"errors"
	"strconv"
	"sync"
	"testing"
)

type registeredEvent struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

func (registeredEvent) EventType() string    { return "RegisteredEvent" }
func (registeredEvent) EventVersion() string { return "1.0" }

func TestRegisterEvent(t *testing.T) {
	r := NewRegistry()
	RegisterEvent[registeredEvent](r)

	data, err := MarshalEvent(registeredEvent{ID: "a", Count: 3})
	if err != nil {
		t.Fatal(err)
	}

	ev, err := r.Decode("RegisteredEvent", data)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := ev.(registeredEvent)
	if !ok {
		t.Fatalf("expected registeredEvent value, got %T", ev)
	}
	if got.ID != "a" || got.Count != 3 {
		t.Fatalf("unexpected decoded event %+v", got)
	}

	t.Run("panic on duplicate registration", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic on duplicate registration")
			}
		}()
		RegisterEvent[registeredEvent](r)
	})

	t.Run("panic on nil decoder", func(t *testing.T) {
		defer func() {
			if r := recover(); r == nil {
				t.Fatal("expected panic on nil decoder")
			}
		}()
		r.Register("Nil", nil)
	})
}

func TestRegistryDecodeErrors(t *testing.T) {
	r := NewRegistry()
	RegisterEventByName[registeredEvent](r, "Custom")

	_, err := r.Decode("NonExistent", []byte(`{}`))
	if !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("expected ErrUnknownEventType, got %v", err)
	}
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected unknown type to be a deserialization error, got %v", err)
	}

	_, err = r.Decode("Custom", []byte(`{"count":"nope"}`))
	var decodeErr *DeserializationError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected *DeserializationError, got %T", err)
	}
}

func TestRegistryConcurrentRegistration(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			RegisterEventByName[registeredEvent](r, "Evt"+strconv.Itoa(i))
		}(i)
	}
	wg.Wait()

	names := r.Names()
	if len(names) != 100 {
		t.Fatalf("expected 100 names, got %d", len(names))
	}
	for i := 0; i < 100; i++ {
		if !r.Has("Evt" + strconv.Itoa(i)) {
			t.Fatalf("Evt%d not registered", i)
		}
	}
}

func TestMetadataCodec(t *testing.T) {
	data, err := MarshalMetadata(nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "{}" {
		t.Fatalf("expected empty object, got %s", data)
	}

	md, err := UnmarshalMetadata([]byte(`{"uri":"/account/A"}`))
	if err != nil {
		t.Fatal(err)
	}
	if md["uri"] != "/account/A" {
		t.Fatalf("unexpected metadata %v", md)
	}

	if _, err := UnmarshalMetadata([]byte(`[`)); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected malformed payload, got %v", err)
	}
}
