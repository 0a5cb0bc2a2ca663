package vocab

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_LoadsEmbeddedVocabulary(t *testing.T) {
	v := Default()
	assert.NotEmpty(t, v.Version)
	assert.Contains(t, v.Names(), "PickupObject")
	assert.Contains(t, v.Names(), "PutObject")
	assert.Same(t, v, Default(), "Default must return the same immutable instance")
}

func TestLookup_CaseInsensitive(t *testing.T) {
	// Lookup matches regardless of case and returns canonical casing
	a, ok := Default().Lookup("pickupobject")
	require.True(t, ok)
	assert.Equal(t, "PickupObject", a.Name)
	assert.Equal(t, 1, a.Arity())

	_, ok = Default().Lookup("Fly")
	assert.False(t, ok)
}

func TestCheck_UnknownVerb(t *testing.T) {
	_, _, _, err := Default().Check("Levitate", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown action")
}

func TestCheck_ArityMismatch(t *testing.T) {
	_, _, _, err := Default().Check("PickupObject", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "takes 1 argument(s), got 0")

	_, _, _, err = Default().Check("MoveAhead", []string{"Mug_1"})
	require.Error(t, err)
}

func TestCheck_ObjectIDs(t *testing.T) {
	verb, args, params, err := Default().Check("putobject", []string{" Table_1 "})
	require.NoError(t, err)
	assert.Equal(t, "PutObject", verb)
	assert.Equal(t, []string{"Table_1"}, args)
	assert.Equal(t, map[string]any{"receptacle_id": "Table_1"}, params)

	// AI2-THOR style ids with pipes and signed coordinates are legal
	_, _, _, err = Default().Check("PickupObject", []string{"Mug|+00.12|+00.90|-01.30"})
	assert.NoError(t, err)

	_, _, _, err = Default().Check("PickupObject", []string{"the mug"})
	assert.Error(t, err)
}

func TestCheck_NumbersAndEnums(t *testing.T) {
	_, args, params, err := Default().Check("Teleport", []string{"1.25", "0.9", "-2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"1.25", "0.9", "-2"}, args)
	assert.Equal(t, 1.25, params["x"])
	assert.Equal(t, -2.0, params["z"])

	_, _, _, err = Default().Check("Teleport", []string{"a", "0", "0"})
	assert.Error(t, err)

	_, args, _, err = Default().Check("FillObjectWithLiquid", []string{"Cup_1", "COFFEE"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Cup_1", "coffee"}, args)

	_, _, _, err = Default().Check("FillObjectWithLiquid", []string{"Cup_1", "milk"})
	assert.Error(t, err)
}

func TestDescribe_EveryDescribedVerbIsAccepted(t *testing.T) {
	v := Default()
	desc := v.Describe()
	assert.Equal(t, desc, v.Describe(), "Describe must be stable")
	for _, line := range strings.Split(strings.TrimSpace(desc), "\n") {
		name := strings.TrimPrefix(line, "- ")
		name = name[:strings.Index(name, "(")]
		_, ok := v.Lookup(name)
		assert.True(t, ok, "described verb %s not accepted", name)
	}
}

func TestFromYAML_RejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"no version": "actions:\n  - name: A\n",
		"no actions": "version: v1\n",
		"duplicate":  "version: v1\nactions:\n  - name: A\n  - name: a\n",
		"bad type":   "version: v1\nactions:\n  - name: A\n    params:\n      - {name: p, type: vector}\n",
		"empty enum": "version: v1\nactions:\n  - name: A\n    params:\n      - {name: p, type: enum}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}
