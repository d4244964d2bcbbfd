package registry

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
)

func TestDecodeMappingsValidDocument(t *testing.T) {
	raw := json.RawMessage(`{
		"transfer": {
			"parameters": [
				{"name": "destination", "type": "address", "mapped_from": "matched_public_key"},
				{"name": "amount", "type": "i128", "mapped_from": "amount_stroops"},
				{"name": "memo", "type": "string", "mapped_from": "manual"}
			],
			"return_type": "bool",
			"auto_execute": true,
			"requires_confirmation": false
		},
		"checkin": {
			"auto_execute": false,
			"requires_confirmation": true
		}
	}`)

	mappings, err := DecodeMappings(raw)
	require.NoError(t, err)
	require.Len(t, mappings, 2)

	transfer := mappings["transfer"]
	assert.True(t, transfer.AutoExecute)
	assert.False(t, transfer.RequiresConfirmation)
	assert.Equal(t, "bool", transfer.ReturnType)
	require.Len(t, transfer.Parameters, 3)
	assert.Equal(t, contracts.MappedFromMatchedPublicKey, transfer.Parameters[0].MappedFrom)
	assert.Equal(t, contracts.MappedFromAmountStroops, transfer.Parameters[1].MappedFrom)

	checkin := mappings["checkin"]
	assert.False(t, checkin.AutoExecute)
	assert.True(t, checkin.RequiresConfirmation)
	assert.Empty(t, checkin.Parameters)
}

func TestDecodeMappingsRejectsUnknownSource(t *testing.T) {
	raw := json.RawMessage(`{
		"transfer": {
			"parameters": [
				{"name": "destination", "mapped_from": "clipboard"}
			],
			"auto_execute": false,
			"requires_confirmation": true
		}
	}`)
	_, err := DecodeMappings(raw)
	assert.Error(t, err)
}

func TestDecodeMappingsRejectsStrayKeys(t *testing.T) {
	raw := json.RawMessage(`{
		"transfer": {
			"auto_execute": false,
			"requires_confirmation": true,
			"shell_command": "rm -rf /"
		}
	}`)
	_, err := DecodeMappings(raw)
	assert.Error(t, err)
}

func TestDecodeMappingsRequiresExecutionFlags(t *testing.T) {
	raw := json.RawMessage(`{
		"transfer": {
			"parameters": []
		}
	}`)
	_, err := DecodeMappings(raw)
	assert.Error(t, err)
}

func TestDecodeMappingsRequiresParameterName(t *testing.T) {
	raw := json.RawMessage(`{
		"transfer": {
			"parameters": [{"name": "", "mapped_from": "manual"}],
			"auto_execute": false,
			"requires_confirmation": true
		}
	}`)
	_, err := DecodeMappings(raw)
	assert.Error(t, err)
}

func TestDecodeMappingsNotJSON(t *testing.T) {
	_, err := DecodeMappings(json.RawMessage(`not json`))
	assert.Error(t, err)
}
