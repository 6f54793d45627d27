package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetInstructions(t *testing.T) {
	t.Run("KnownMethod", func(t *testing.T) {
		steps := GetInstructions(MethodBankTransfer)
		assert.NotEmpty(t, steps)
		assert.Contains(t, steps[2], "{{payment_code}}")
	})

	t.Run("UnknownMethodFallsBack", func(t *testing.T) {
		steps := GetInstructions(Method("crypto"))
		assert.Len(t, steps, 1)
	})
}

func TestInjectVariables(t *testing.T) {
	steps := []string{
		"Transfer to {{payment_code}}",
		"Pay exactly {{amount}}",
		"No placeholders here",
	}

	result := InjectVariables(steps, InstructionVars{
		"payment_code": "8880012345",
		"amount":       "150000 IDR",
	})

	assert.Equal(t, "Transfer to 8880012345", result[0])
	assert.Equal(t, "Pay exactly 150000 IDR", result[1])
	assert.Equal(t, "No placeholders here", result[2])
}
