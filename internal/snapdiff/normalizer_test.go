// internal/snapdiff/normalizer_test.go
package snapdiff

import (
	"math"
	"testing"
)

// TestNormalizer_Attribute tests attribute normalization in isolation.
func TestNormalizer_Attribute(t *testing.T) {
	t.Parallel()
	normalizer := NewNormalizer(DefaultRules())

	testCases := []struct {
		name     string
		attr     string
		value    string
		expected string
	}{
		{"Static attribute", "class", "btn btn-primary", "btn btn-primary"},
		{"Nonce by name", "nonce", "abc", PlaceholderDynamicValue},
		{"CSRF token by name", "data-csrf", "x", PlaceholderDynamicValue},
		{"Request id by name", "data-request-id", "42", PlaceholderDynamicValue},
		{"UUID value", "data-id", "f47ac10b-58cc-4372-a567-0e02b2c3d479", PlaceholderDynamicValue},
		{"RFC3339 value", "datetime", "2026-03-04T05:06:07Z", PlaceholderDynamicValue},
		{"Unix millis value", "data-ts", "1767225600000", PlaceholderDynamicValue},
		{"High entropy value", "value", "Xp2s5v8y/B?E(H+KbPeShVmYq3t6w9z$", PlaceholderDynamicValue},
		{"Long low entropy value", "href", "/aaaa/bbbb/aaaa/bbbb", "/aaaa/bbbb/aaaa/bbbb"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := normalizer.Attribute(tc.attr, tc.value); got != tc.expected {
				t.Errorf("Attribute(%q, %q) = %q, want %q", tc.attr, tc.value, got, tc.expected)
			}
		})
	}
}

func TestNormalizer_Text(t *testing.T) {
	t.Parallel()
	normalizer := NewNormalizer(DefaultRules())

	if got := normalizer.Text("Welcome back"); got != "Welcome back" {
		t.Errorf("expected static text to be kept, got %q", got)
	}
	if got := normalizer.Text("Tue, 03 Mar 2026 10:00:00 GMT"); got != PlaceholderDynamicValue {
		t.Errorf("expected timestamp text to be replaced, got %q", got)
	}

	disabled := NewNormalizer(HeuristicRules{})
	if got := disabled.Text("f47ac10b-58cc-4372-a567-0e02b2c3d479"); got == PlaceholderDynamicValue {
		t.Error("expected no replacement with all heuristics disabled")
	}
}

// TestCalculateShannonEntropy tests the entropy calculation helper function.
func TestCalculateShannonEntropy(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		input    string
		expected float64
	}{
		{"Empty string", "", 0},
		{"Single character", "aaaa", 0},
		{"Two characters evenly", "abab", 1},
		{"Four characters evenly", "abcd", 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := calculateShannonEntropy(tc.input); math.Abs(got-tc.expected) > 1e-9 {
				t.Errorf("calculateShannonEntropy(%q) = %v, want %v", tc.input, got, tc.expected)
			}
		})
	}
}

func TestDefaultRules(t *testing.T) {
	t.Parallel()
	rules := DefaultRules()

	if !rules.CheckValueForUUID || !rules.CheckValueForTimestamp || !rules.CheckValueForHighEntropy {
		t.Error("Expected all value heuristics to be enabled by default")
	}
	if rules.EntropyThreshold != 4.5 {
		t.Errorf("Expected default EntropyThreshold 4.5, got %v", rules.EntropyThreshold)
	}
	if len(rules.AttributePatterns) == 0 || len(rules.TimestampFormats) == 0 {
		t.Error("Default patterns and formats should not be empty")
	}
}
