package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"printfarm/core-go/internal/moonraker"
)

func TestParseFiles_SortsNewestFirst(t *testing.T) {
	raw := `{"result":[
		{"path":"old.gcode","modified":100,"size":10,"permissions":"rw"},
		{"path":"new.gcode","modified":300,"size":30,"permissions":"rw"},
		{"path":"mid.gcode","modified":200,"size":20,"permissions":"rw"}
	]}`
	files, err := ParseFiles([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, []File{
		{Name: "new.gcode", Size: 30, Modified: 300},
		{Name: "mid.gcode", Size: 20, Modified: 200},
		{Name: "old.gcode", Size: 10, Modified: 100},
	}, files)
}

func TestParseFiles_Malformed(t *testing.T) {
	_, err := ParseFiles([]byte(`{"result":{"not":"a list"}}`))
	require.True(t, moonraker.IsMalformed(err))
}

func TestMacroName_StripsPrefixOnce(t *testing.T) {
	name, ok := MacroName("gcode_macro START_PRINT")
	require.True(t, ok)
	require.Equal(t, "START_PRINT", name)

	name, ok = MacroName("gcode_macro gcode_macro NESTED")
	require.True(t, ok)
	require.Equal(t, "gcode_macro NESTED", name)

	_, ok = MacroName("extruder")
	require.False(t, ok)

	_, ok = MacroName("gcode_macro ")
	require.False(t, ok)
}

func TestParseMacros(t *testing.T) {
	raw := `{"result":{"objects":["webhooks","gcode_macro START_PRINT","extruder","gcode_macro END_PRINT","gcode_macro START_PRINT"]}}`
	macros, err := ParseMacros([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, []string{"START_PRINT", "END_PRINT"}, macros)
}

func TestParseThumbnail_PicksLargest(t *testing.T) {
	raw := `{"result":{"filename":"parts/benchy.gcode","thumbnails":[
		{"width":32,"height":32,"relative_path":".thumbs/benchy-32x32.png"},
		{"width":300,"height":300,"relative_path":".thumbs/benchy-300x300.png"}
	]}}`
	p, ok, err := ParseThumbnail([]byte(raw), "parts/benchy.gcode")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "/server/files/gcodes/parts/.thumbs/benchy-300x300.png", p)
}

func TestParseThumbnail_None(t *testing.T) {
	_, ok, err := ParseThumbnail([]byte(`{"result":{"filename":"a.gcode"}}`), "a.gcode")
	require.NoError(t, err)
	require.False(t, ok)
}
