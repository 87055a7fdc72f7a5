package core

import (
	"strings"
	"testing"
)

func TestCommandRegistry(t *testing.T) {
	registry := NewCommandRegistry()

	var called bool
	if err := registry.Register(0xFF, "arm", func() { called = true }); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	cmd, ok := registry.GetCommand(0xFF)
	if !ok {
		t.Fatal("Failed to retrieve registered command")
	}
	if cmd.Name != "arm" {
		t.Errorf("Expected command name 'arm', got '%s'", cmd.Name)
	}

	if !registry.Dispatch(0xFF) {
		t.Error("Dispatch of a known code reported unknown")
	}
	if !called {
		t.Error("Command handler was not called")
	}

	// Unknown codes are ignored
	if registry.Dispatch(0x42) {
		t.Error("Expected unknown code to report false")
	}
}

func TestCommandRegistryDuplicate(t *testing.T) {
	registry := NewCommandRegistry()

	registry.Register(0xFE, "abort", func() {})
	if err := registry.Register(0xFE, "other", func() {}); err != ErrCommandExists {
		t.Errorf("Expected ErrCommandExists, got %v", err)
	}
	if registry.Count() != 1 {
		t.Errorf("Expected 1 command, got %d", registry.Count())
	}
}

func TestCommandRegistryDescribe(t *testing.T) {
	registry := NewCommandRegistry()

	registry.Register(0xFF, "arm", func() {})
	registry.Register(0xFE, "abort", func() {})

	dict := registry.Describe()
	if dict != "0xfe abort\n0xff arm\n" {
		t.Errorf("Unexpected description:\n%s", dict)
	}
	if !strings.Contains(dict, "arm") {
		t.Error("Description is missing arm")
	}
	t.Logf("Commands:\n%s", dict)
}
