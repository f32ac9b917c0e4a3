package eventstore

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateEventAcceptsWellFormedEvent(t *testing.T) {
	e := sampleEvent("elicit_1")
	err := (Validator{}).ValidateEvent(e)
	assert.NoError(t, err)
}

func TestValidateEventRejectsNullByte(t *testing.T) {
	e := sampleEvent("elicit_1\x00")
	err := (Validator{}).ValidateEvent(e)
	assert.Error(t, err)
}

func TestValidateEventRejectsOversizedID(t *testing.T) {
	e := sampleEvent(strings.Repeat("a", 300))
	err := (Validator{}).ValidateEvent(e)
	assert.Error(t, err)
}

func TestValidateEventRejectsDeepNesting(t *testing.T) {
	e := sampleEvent("elicit_1")
	inner := map[string]interface{}{"v": 1}
	for i := 0; i < 15; i++ {
		inner = map[string]interface{}{"nested": inner}
	}
	e.Data["deep"] = inner

	err := (Validator{}).ValidateEvent(e)
	assert.Error(t, err)
}

func TestValidateEventRejectsForbiddenPatterns(t *testing.T) {
	cases := []string{
		"<script>evil()</script>",
		"javascript:alert(1)",
		"onerror=alert(1)",
		"eval(maliciousCode)",
	}
	for _, c := range cases {
		e := sampleEvent("elicit_1")
		e.Data["field"] = c
		err := (Validator{}).ValidateEvent(e)
		assert.Error(t, err, "expected rejection for %q", c)
	}
}

func TestValidateEventRejectsOversizedList(t *testing.T) {
	e := sampleEvent("elicit_1")
	items := make([]interface{}, 20000)
	for i := range items {
		items[i] = i
	}
	e.Data["items"] = items

	err := (Validator{}).ValidateEvent(e)
	assert.Error(t, err)
}
