package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yannick-cn/dbc-view/dbc"
	"github.com/yannick-cn/dbc-view/report"
)

const bodyDBC = `BU_: BCM GW
BO_ 291 Body: 8 BCM
 SG_ Door : 7|8@0- (0.5,-10) [-74|53.5] "" GW
 SG_ Speed : 8|16@1+ (0.01,0) [0|655.35] "km/h" GW
BO_ 512 Light: 2 BCM
 SG_ Lamp : 0|2@1+ (1,0) [0|3] "" GW
VAL_ 512 Lamp 0 "Off" 1 "Low" 2 "High";
`

const overlapDBC = `BU_: ECU
BO_ 100 M: 8 ECU
 SG_ A : 0|8@1+ (1,0) [0|255] "" Vector__XXX
 SG_ B : 4|8@1+ (1,0) [0|255] "" Vector__XXX
`

func writeTemp(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func runWith(ctx context.Context, t *testing.T, config string, args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", config, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func run(t *testing.T, args ...string) (string, error) {
	return runWith(context.Background(), t, filepath.Join(t.TempDir(), "absent.json"), args...)
}

func TestValidateOK(t *testing.T) {
	out, err := run(t, "validate", writeTemp(t, "body.dbc", bodyDBC))
	require.NoError(t, err)
	assert.Equal(t, "Overlap validation: OK (no errors).\n", out)
}

func TestValidateErrors(t *testing.T) {
	out, err := run(t, "validate", writeTemp(t, "m.dbc", overlapDBC))
	assert.ErrorIs(t, err, errValidationFailed)
	assert.Equal(t, "Overlap validation: 1 error(s)\n[M] 信号 \"A\" 与 \"B\" 位重叠\n", out)

	out, err = run(t, "validate", "--json", writeTemp(t, "m.dbc", overlapDBC))
	assert.ErrorIs(t, err, errValidationFailed)
	var r report.Report
	require.NoError(t, jsoniter.Unmarshal([]byte(out), &r))
	assert.False(t, r.OK)
	assert.Equal(t, 2, r.SignalCount)
}

func TestValidateMissingFile(t *testing.T) {
	_, err := run(t, "validate", filepath.Join(t.TempDir(), "none.dbc"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, errValidationFailed)
}

func TestValidateDefaultPathFromConfig(t *testing.T) {
	dbcPath := writeTemp(t, "body.dbc", bodyDBC)
	config := writeTemp(t, "config.yaml", "DBC:\n  DBCPath: "+dbcPath+"\n")

	out, err := runWith(context.Background(), t, config, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "OK (no errors)")
}

func TestFormat(t *testing.T) {
	src := writeTemp(t, "body.dbc", bodyDBC)
	db, _ := dbc.ParseString(bodyDBC)

	out, err := run(t, "format", src)
	require.NoError(t, err)
	assert.Equal(t, dbc.WriteString(db), out)

	dst := filepath.Join(t.TempDir(), "out.dbc")
	out, err = run(t, "format", src, "-o", dst)
	require.NoError(t, err)
	assert.Empty(t, out)
	written, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, dbc.WriteString(db), string(written))
}

func TestExcelExportImport(t *testing.T) {
	src := writeTemp(t, "body.dbc", bodyDBC)
	xlsx := filepath.Join(t.TempDir(), "body.xlsx")

	out, err := run(t, "excel-export", src, xlsx)
	require.NoError(t, err)
	assert.Equal(t, "Exported 2 message(s) to "+xlsx+"\n", out)

	dst := filepath.Join(t.TempDir(), "back.dbc")
	_, err = run(t, "excel-import", xlsx, "-o", dst)
	require.NoError(t, err)

	back, warnings, err := dbc.ParseFile(dst)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, back.Messages, 2)
	assert.Equal(t, "Door", back.Message(291).Signals[0].Name)
	assert.Equal(t, "High", back.Message(512).Signals[0].ValueTable[2])
	assert.True(t, dbc.Validate(back).OK)
}

func TestDecode(t *testing.T) {
	src := writeTemp(t, "body.dbc", bodyDBC)

	out, err := run(t, "decode", "--dbc", src, "291", "FE 10 27 00 00 00 00 00")
	require.NoError(t, err)
	assert.Contains(t, out, "Body (0x123)\n")
	assert.Contains(t, out, "  Door = -11 raw=-2\n")

	out, err = run(t, "decode", "--dbc", src, "--json", "0x200", "0200")
	require.NoError(t, err)
	assert.Contains(t, out, `"desc":"High"`)

	_, err = run(t, "decode", "--dbc", src, "x", "00")
	assert.Error(t, err)
	_, err = run(t, "decode", "--dbc", src, "291", "0")
	assert.Error(t, err)
	_, err = run(t, "decode", "--dbc", src, "7", "00")
	assert.Error(t, err)
}

func TestServe(t *testing.T) {
	dir := t.TempDir()
	wlFile := filepath.Join(dir, "whitelist.json")
	config := writeTemp(t, "config.json",
		`{"HttpServer":{"ServerAddr":"127.0.0.1:0","ShutdownTimeout":1},"WhiteListFile":"`+wlFile+`"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := runWith(ctx, t, config, "serve", writeTemp(t, "body.dbc", bodyDBC))
	assert.NoError(t, err)
	assert.FileExists(t, wlFile)
}

func TestServePreloadError(t *testing.T) {
	config := writeTemp(t, "config.json", `{"HttpServer":{"ServerAddr":"127.0.0.1:0","ShutdownTimeout":1}}`)
	_, err := runWith(context.Background(), t, config, "serve", filepath.Join(t.TempDir(), "none.dbc"))
	assert.Error(t, err)
}

func TestHttpServerShutdown(t *testing.T) {
	s := NewHttpServer("127.0.0.1:0", nil)
	ctx, cancel := context.WithCancel(context.Background())
	go s.WaitExitSignal(ctx, time.Second)
	cancel()
	assert.NoError(t, s.ListenAndServe())
}
