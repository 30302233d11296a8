package main

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Intent kinds. The set is closed: an unknown kind is rejected at ingress,
// never routed to a default.
const (
	IntentSpawn        = "spawn"
	IntentAttack       = "attack"
	IntentCancelAttack = "cancel_attack"
	IntentBuildUnit    = "build_unit"
	IntentMoveWarship  = "move_warship"
	IntentLaunchNuke   = "launch_nuke"
)

// Intent is one validated player action. Every variant carries the issuing
// client's identity; the remaining fields are variant-specific and zero
// elsewhere. Immutable once it enters a turn.
type Intent struct {
	Kind     string `json:"kind" msgpack:"k"`
	ClientID string `json:"clientID" msgpack:"c"`

	Tile     TileRef `json:"tile,omitempty" msgpack:"p,omitempty"`     // spawn/build site, attack origin
	Target   TileRef `json:"target,omitempty" msgpack:"g,omitempty"`   // attack/move/launch destination
	UnitName string  `json:"unitType,omitempty" msgpack:"u,omitempty"` // build_unit, launch_nuke
	UnitID   uint32  `json:"unitID,omitempty" msgpack:"id,omitempty"`  // move_warship
	AttackID uint32  `json:"attackID,omitempty" msgpack:"aid,omitempty"`
	Troops   int32   `json:"troops,omitempty" msgpack:"tr,omitempty"`
}

const intentBaseProps = `
	"clientID": {"type": "string", "pattern": "^[0-9a-f]{8}$"},
	"kind": {"type": "string"}`

// One schema per variant. Bounds here are structural (non-negative counts,
// identity format, enum membership); map-bounds checks belong to the grid.
var intentSchemaSrc = map[string]string{
	IntentSpawn: `{
		"type": "object",
		"properties": {` + intentBaseProps + `,
			"tile": {"type": "integer", "minimum": 0}
		},
		"required": ["kind", "clientID", "tile"],
		"additionalProperties": false
	}`,
	IntentAttack: `{
		"type": "object",
		"properties": {` + intentBaseProps + `,
			"target": {"type": "integer", "minimum": 0},
			"troops": {"type": "integer", "minimum": 1}
		},
		"required": ["kind", "clientID", "target", "troops"],
		"additionalProperties": false
	}`,
	IntentCancelAttack: `{
		"type": "object",
		"properties": {` + intentBaseProps + `,
			"attackID": {"type": "integer", "minimum": 1}
		},
		"required": ["kind", "clientID", "attackID"],
		"additionalProperties": false
	}`,
	IntentBuildUnit: `{
		"type": "object",
		"properties": {` + intentBaseProps + `,
			"tile": {"type": "integer", "minimum": 0},
			"unitType": {"enum": ["city", "defense_post", "sam_launcher", "missile_silo", "warship"]}
		},
		"required": ["kind", "clientID", "tile", "unitType"],
		"additionalProperties": false
	}`,
	IntentMoveWarship: `{
		"type": "object",
		"properties": {` + intentBaseProps + `,
			"unitID": {"type": "integer", "minimum": 1},
			"target": {"type": "integer", "minimum": 0}
		},
		"required": ["kind", "clientID", "unitID", "target"],
		"additionalProperties": false
	}`,
	IntentLaunchNuke: `{
		"type": "object",
		"properties": {` + intentBaseProps + `,
			"tile": {"type": "integer", "minimum": 0},
			"target": {"type": "integer", "minimum": 0},
			"unitType": {"enum": ["atom_bomb", "hydrogen_bomb"]}
		},
		"required": ["kind", "clientID", "tile", "target", "unitType"],
		"additionalProperties": false
	}`,
}

var intentSchemas map[string]*jsonschema.Schema

func init() {
	intentSchemas = make(map[string]*jsonschema.Schema, len(intentSchemaSrc))
	for kind, src := range intentSchemaSrc {
		intentSchemas[kind] = jsonschema.MustCompileString(kind+".json", src)
	}
}

// DecodeIntent validates raw JSON against the schema for its kind and
// returns the typed intent. Validation is pure: either a valid variant
// comes back or an error does, never a fallback variant.
func DecodeIntent(raw []byte) (Intent, error) {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Intent{}, fmt.Errorf("intent: malformed JSON: %w", err)
	}
	schema, ok := intentSchemas[probe.Kind]
	if !ok {
		return Intent{}, fmt.Errorf("intent: unknown kind %q", probe.Kind)
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Intent{}, fmt.Errorf("intent: malformed JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return Intent{}, fmt.Errorf("intent %s: %w", probe.Kind, err)
	}

	var in Intent
	if err := json.Unmarshal(raw, &in); err != nil {
		return Intent{}, fmt.Errorf("intent: %w", err)
	}
	return in, nil
}
