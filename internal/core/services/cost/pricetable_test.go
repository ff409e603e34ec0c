package cost

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPriceTable_LookupKnownModel(t *testing.T) {
	pt := NewPriceTable()
	p, ok := pt.Lookup("gpt-4o-mini")
	assert.True(t, ok)
	assert.True(t, p.PricePerThousandPromptUSD.IsPositive())
}

func TestPriceTable_LookupUnknownModel(t *testing.T) {
	pt := NewPriceTable()
	_, ok := pt.Lookup("some-future-model")
	assert.False(t, ok)
}

func TestPriceTable_ShouldWarnUnknownOnlyOnce(t *testing.T) {
	pt := NewPriceTable()
	assert.True(t, pt.ShouldWarnUnknown("ghost-model"))
	assert.False(t, pt.ShouldWarnUnknown("ghost-model"))
	assert.True(t, pt.ShouldWarnUnknown("another-ghost"))
}

func TestPriceTable_SetOverridesLookup(t *testing.T) {
	pt := NewPriceTable()
	pt.Set("custom-model", ModelPrice{})
	p, ok := pt.Lookup("custom-model")
	assert.True(t, ok)
	assert.True(t, p.PricePerThousandPromptUSD.IsZero())
}
