// internal/snapdiff/normalizer.go
package snapdiff

import (
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Normalizer applies heuristic rules to attribute and character data.
type Normalizer struct {
	Rules HeuristicRules
}

func NewNormalizer(rules HeuristicRules) *Normalizer {
	return &Normalizer{Rules: rules}
}

// Attribute returns value, or the placeholder when the attribute is dynamic.
func (n *Normalizer) Attribute(name, value string) string {
	if n.isNameDynamic(name) || n.isValueDynamic(value) {
		return PlaceholderDynamicValue
	}
	return value
}

// Text returns value, or the placeholder when the whole value is dynamic.
func (n *Normalizer) Text(value string) string {
	if n.isValueDynamic(value) {
		return PlaceholderDynamicValue
	}
	return value
}

func (n *Normalizer) isNameDynamic(name string) bool {
	for _, pattern := range n.Rules.AttributePatterns {
		if pattern.MatchString(name) {
			return true
		}
	}
	return false
}

func (n *Normalizer) isValueDynamic(s string) bool {
	// Short strings are rarely identifiers.
	if len(s) < 10 {
		return false
	}

	if n.Rules.CheckValueForUUID {
		if _, err := uuid.Parse(s); err == nil {
			return true
		}
	}

	if n.Rules.CheckValueForTimestamp {
		for _, format := range n.Rules.TimestampFormats {
			if _, err := time.Parse(format, s); err == nil {
				return true
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil && isPlausibleUnixTimestamp(f) {
			return true
		}
	}

	if n.Rules.CheckValueForHighEntropy {
		if len(s) < 16 {
			return false
		}
		if calculateShannonEntropy(s) > n.Rules.EntropyThreshold {
			return true
		}
	}

	return false
}

// calculateShannonEntropy calculates the Shannon entropy of a string in bits per character.
func calculateShannonEntropy(s string) float64 {
	if s == "" {
		return 0
	}
	freqMap := make(map[rune]int)
	for _, r := range s {
		freqMap[r]++
	}

	var entropy float64
	length := float64(len([]rune(s)))
	for _, count := range freqMap {
		probability := float64(count) / length
		entropy -= probability * math.Log2(probability)
	}
	return entropy
}

// isPlausibleUnixTimestamp checks seconds, milliseconds and microseconds
// between 2015-01-01 and 2030-10-09.
func isPlausibleUnixTimestamp(ts float64) bool {
	const minTimestamp = 1420070400
	const maxTimestamp = 1917792000

	return (ts >= minTimestamp && ts <= maxTimestamp) ||
		(ts >= minTimestamp*1000 && ts <= maxTimestamp*1000) ||
		(ts >= minTimestamp*1000000 && ts <= maxTimestamp*1000000)
}
