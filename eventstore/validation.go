package eventstore

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lighthouse/bridge/core"
)

// forbiddenPatterns rejects string fields containing common injection
// payload shapes. Grounded on the event store's own input validator:
// nothing executable should ever survive into an event payload, since
// payloads are replayed and rendered by arbitrary downstream consumers.
var forbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script[^>]*>`),
	regexp.MustCompile(`(?i)javascript:`),
	regexp.MustCompile(`(?i)data:text/html`),
	regexp.MustCompile(`(?i)vbscript:`),
	regexp.MustCompile(`(?i)on\w+\s*=`),
	regexp.MustCompile(`(?i)eval\s*\(`),
	regexp.MustCompile(`(?i)Function\s*\(`),
	regexp.MustCompile(`(?i)setTimeout\s*\(`),
	regexp.MustCompile(`(?i)setInterval\s*\(`),
	regexp.MustCompile(`\\x[0-9a-fA-F]{2}`),
	regexp.MustCompile(`\\u[0-9a-fA-F]{4}`),
}

// Validator enforces spec §4.1's per-event shape and size bounds before
// an event is admitted to the log. A rejection here never touches the
// sequence counter — validation failures leave no state change.
type Validator struct{}

// ValidateEvent checks every bound named in spec §4.1.
func (Validator) ValidateEvent(e *Event) error {
	if err := validateString(e.AggregateID, "aggregate_id", core.MaxIDFieldBytes); err != nil {
		return err
	}
	if err := validateString(e.AggregateType, "aggregate_type", core.MaxIDFieldBytes); err != nil {
		return err
	}
	if e.SourceAgent != "" {
		if err := validateString(e.SourceAgent, "source_agent", core.MaxIDFieldBytes); err != nil {
			return err
		}
	}
	if err := validateString(e.SourceComponent, "source_component", core.MaxIDFieldBytes); err != nil {
		return err
	}
	if err := validateMapping(e.Data, "data", 0); err != nil {
		return err
	}
	if err := validateMapping(e.Metadata, "metadata", 0); err != nil {
		return err
	}
	return nil
}

func validateString(value, field string, maxLen int) error {
	if len(value) > maxLen {
		return securityErr(fmt.Sprintf("%s exceeds max length %d", field, maxLen))
	}
	if strings.IndexByte(value, 0) >= 0 {
		return securityErr(fmt.Sprintf("null byte in %s", field))
	}

	controlChars := 0
	for _, r := range value {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			controlChars++
		}
	}
	if len(value) > 0 && float64(controlChars) > float64(len(value))*core.MaxControlCharRatio {
		return securityErr(fmt.Sprintf("excessive control characters in %s", field))
	}

	for _, pattern := range forbiddenPatterns {
		if pattern.MatchString(value) {
			return securityErr(fmt.Sprintf("dangerous pattern detected in %s", field))
		}
	}
	return nil
}

func validateMapping(m map[string]interface{}, field string, depth int) error {
	if depth > core.MaxNestingDepth {
		return securityErr(fmt.Sprintf("nesting depth exceeds %d in %s", core.MaxNestingDepth, field))
	}
	if len(m) > core.MaxMappingKeys {
		return securityErr(fmt.Sprintf("mapping size %d exceeds limit %d in %s", len(m), core.MaxMappingKeys, field))
	}

	for k, v := range m {
		if err := validateValue(v, field+"."+k, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(v interface{}, field string, depth int) error {
	switch val := v.(type) {
	case string:
		return validateString(val, field, core.MaxStringFieldBytes)
	case map[string]interface{}:
		return validateMapping(val, field, depth)
	case []interface{}:
		if len(val) > core.MaxListItems {
			return securityErr(fmt.Sprintf("list size %d exceeds limit %d in %s", len(val), core.MaxListItems, field))
		}
		for i, item := range val {
			if err := validateValue(item, fmt.Sprintf("%s[%d]", field, i), depth+1); err != nil {
				return err
			}
		}
	case nil, bool, float64, float32, int, int32, int64:
		// primitive, always allowed
	default:
		return securityErr(fmt.Sprintf("unsupported value type in %s", field))
	}
	return nil
}

func securityErr(msg string) error {
	return core.NewFrameworkError("eventstore.Validate", core.KindSecurity, fmt.Errorf("%s", msg))
}
