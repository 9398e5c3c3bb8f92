// internal/snapdiff/heuristics.go
package snapdiff

import (
	"regexp"
	"time"
)

// PlaceholderDynamicValue replaces attribute and text values classified as dynamic.
const PlaceholderDynamicValue = "__DYNAMIC_VALUE__"

// HeuristicRules defines the configurable set of rules for identifying
// values that change on every page load.
type HeuristicRules struct {
	// AttributePatterns identifies attribute names whose values are always dynamic (e.g., "nonce").
	AttributePatterns []*regexp.Regexp
	// CheckValueForUUID enables detection of UUIDs in values.
	CheckValueForUUID bool
	// CheckValueForTimestamp enables detection of timestamps, textual or numeric.
	CheckValueForTimestamp bool
	// TimestampFormats defines the layouts to try when parsing textual timestamps.
	TimestampFormats []string
	// CheckValueForHighEntropy enables detection of high-entropy strings (e.g., tokens).
	CheckValueForHighEntropy bool
	// EntropyThreshold defines the minimum Shannon entropy to classify a string as dynamic.
	EntropyThreshold float64
}

// DefaultRules covers the usual per-request markup: nonces, CSRF tokens,
// request ids and build hashes.
func DefaultRules() HeuristicRules {
	patterns := []*regexp.Regexp{
		regexp.MustCompile(`(?i)nonce`),
		regexp.MustCompile(`(?i)(csrf|xsrf)`),
		regexp.MustCompile(`(?i)^data-.*(session|token)`),
		regexp.MustCompile(`(?i)^data-(correlation|request|trace|tracking)-?id$`),
	}

	return HeuristicRules{
		AttributePatterns:        patterns,
		CheckValueForUUID:        true,
		CheckValueForTimestamp:   true,
		TimestampFormats:         []string{time.RFC3339, time.RFC3339Nano, time.RFC1123, "2006-01-02T15:04:05.000Z"},
		CheckValueForHighEntropy: true,
		EntropyThreshold:         4.5,
	}
}
