package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "RCP_****x9z1", MaskSecret("RCP_2x5j67tnnw1x9z1"))
	assert.Equal(t, "RCP_****", MaskSecret("RCP_ab"))
	assert.Equal(t, "", MaskSecret("  "))
}

func TestMaskMetadataOnlyTouchesSensitiveKeys(t *testing.T) {
	masked := MaskMetadata(map[string]any{
		"reference":      "po_01HZX",
		"recipient_code": "RCP_2x5j67tnnw1x9z1",
		"gateway": map[string]any{
			"authorization_url": "https://checkout.paystack.com/abcdef",
			"status":            "failed",
		},
	})

	assert.Equal(t, "po_01HZX", masked["reference"])
	assert.Equal(t, "RCP_****x9z1", masked["recipient_code"])
	gateway := masked["gateway"].(map[string]any)
	assert.Equal(t, "failed", gateway["status"])
	assert.NotEqual(t, "https://checkout.paystack.com/abcdef", gateway["authorization_url"])
	assert.Empty(t, MaskMetadata(nil))
}
