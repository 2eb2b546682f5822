package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCUE(t *testing.T, dir, name, src string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
}

func TestLoadDirTestdata(t *testing.T) {
	dir := filepath.Join("..", "..", "testdata", "programs")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Skip("testdata/programs directory not found")
	}

	res, errs := LoadDir(dir, LoadModeCollectAll)
	require.Empty(t, errs)
	require.Len(t, res.Programs, 1)

	acme := res.Programs[0]
	assert.Equal(t, "acme", acme.ID)
	assert.Len(t, acme.Circles, 2)
	assert.Len(t, acme.Promoters, 2)
	assert.Len(t, acme.Links, 1)
	assert.Len(t, acme.Automations, 4)
}

func TestLoadDirMultiplePrograms(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "a.cue", `package cfg
program: one: { circles: c: {}, promoters: p: { reference: "P", circle: "c" } }
`)
	writeCUE(t, dir, "b.cue", `package cfg
program: two: { circles: c: {} }
`)

	res, errs := LoadDir(dir, LoadModeCollectAll)
	require.Empty(t, errs)
	require.Len(t, res.Programs, 2)
	assert.Equal(t, 2, res.FileCount)
	assert.Equal(t, "one", res.Programs[0].ID)
	assert.Equal(t, "two", res.Programs[1].ID)
}

func TestLoadDirValidationErrors(t *testing.T) {
	dir := t.TempDir()
	writeCUE(t, dir, "bad.cue", `package cfg
program: bad: {
	circles: c: {}
	automations: a: { circle: "missing", trigger: "SIGNUP", effect: { type: "SWITCH_CIRCLE", circle: "c" } }
}
program: good: { circles: c: {} }
`)

	res, errs := LoadDir(dir, LoadModeCollectAll)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), ErrUnknownCircle)
	require.Len(t, res.Programs, 1)
	assert.Equal(t, "good", res.Programs[0].ID)

	_, errs = LoadDir(dir, LoadModeFailFast)
	assert.Len(t, errs, 1)
}

func TestLoadDirErrors(t *testing.T) {
	_, errs := LoadDir("/nonexistent/config/dir", LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), ErrCodeNotFound)

	_, errs = LoadDir(t.TempDir(), LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), ErrCodeNoFiles)

	dir := t.TempDir()
	writeCUE(t, dir, "x.cue", "package cfg\nother: 1\n")
	_, errs = LoadDir(dir, LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "no programs found")
}
