package call

import (
	"strings"
	"testing"
)

func TestBuildSystemInstruction(t *testing.T) {
	t.Run("user name is last", func(t *testing.T) {
		cfg := DefaultSessionConfig()
		cfg.UserName = "Bob"
		got := BuildSystemInstruction(cfg)
		if !strings.HasSuffix(got, "User's name is Bob.") {
			t.Errorf("prompt should end with the user's name, got tail %q", got[len(got)-40:])
		}
		if !strings.HasPrefix(got, "You are Mevy") {
			t.Error("prompt should start with the persona")
		}
	})

	t.Run("mode instructions", func(t *testing.T) {
		for mode, text := range modeInstructions {
			cfg := DefaultSessionConfig()
			cfg.Mode = mode
			if !strings.Contains(BuildSystemInstruction(cfg), text) {
				t.Errorf("prompt for %s is missing its mode instructions", mode)
			}
		}
	})

	t.Run("tutor shorthand", func(t *testing.T) {
		cfg := DefaultSessionConfig()
		cfg.Mode = "tutor"
		if !strings.Contains(BuildSystemInstruction(cfg), modeInstructions[ModeTutor]) {
			t.Error("expected tutoring instructions")
		}
	})

	t.Run("unknown mode falls back to casual", func(t *testing.T) {
		cfg := DefaultSessionConfig()
		cfg.Mode = "unknown"
		if !strings.Contains(BuildSystemInstruction(cfg), modeInstructions[ModeCasual]) {
			t.Error("expected casual instructions")
		}
	})

	t.Run("age gate", func(t *testing.T) {
		cfg := DefaultSessionConfig()
		minor := BuildSystemInstruction(cfg)
		if !strings.Contains(minor, minorToneInstruction) || strings.Contains(minor, adultToneInstruction) {
			t.Error("ungated user should get the friendly-only tone line")
		}

		cfg.AgeGated = true
		adult := BuildSystemInstruction(cfg)
		if !strings.Contains(adult, adultToneInstruction) || strings.Contains(adult, minorToneInstruction) {
			t.Error("gated user should get the adult tone line")
		}
	})

	t.Run("blank name", func(t *testing.T) {
		cfg := DefaultSessionConfig()
		cfg.UserName = "   "
		if !strings.HasSuffix(BuildSystemInstruction(cfg), "User's name is User.") {
			t.Error("blank name should fall back to User")
		}
	})
}
