package configtree

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errsys "github.com/armorclaw/stderr/pkg/errors"
)

const sampleXML = `<?xml version="1.0" encoding="UTF-8"?>
<xml>
	<application>
		<display_errors>
			<dev>1</dev>
			<live>0</live>
		</display_errors>
		<default_content_type>text/html</default_content_type>
		<paths>
			<controllers>app/controllers</controllers>
			<reporters>app/reporters</reporters>
		</paths>
	</application>
	<reporters>
		<dev>
			<reporter class="LogReporter" level="warn"/>
			<reporter class="SQLiteReporter" path="errors.db"/>
		</dev>
	</reporters>
	<exceptions controller="ErrorController" http_status="500">
		<exception class="NotFound" http_status="404"/>
	</exceptions>
</xml>`

const sampleTOML = `
[application]
default_content_type = "text/html"

[application.display_errors]
dev = true
live = false

[application.paths]
controllers = "app/controllers"
reporters = "app/reporters"

[[reporters.dev.reporter]]
class = "LogReporter"
level = "warn"

[[reporters.dev.reporter]]
class = "SQLiteReporter"
path = "errors.db"

[exceptions]
controller = "ErrorController"
http_status = 500

[[exceptions.exception]]
class = "NotFound"
http_status = 404
`

const sampleYAML = `
application:
  default_content_type: text/html
  display_errors:
    dev: true
    live: false
  paths:
    controllers: app/controllers
    reporters: app/reporters
reporters:
  dev:
    reporter:
      - class: LogReporter
        level: warn
      - class: SQLiteReporter
        path: errors.db
exceptions:
  controller: ErrorController
  http_status: 500
  exception:
    - class: NotFound
      http_status: 404
`

func assertSampleTree(t *testing.T, root *Node) {
	t.Helper()

	assert.Equal(t, "text/html", root.Value("application", "default_content_type"))
	assert.Equal(t, "app/controllers", root.Value("application", "paths", "controllers"))
	assert.Equal(t, "app/reporters", root.Value("application", "paths", "reporters"))
	assert.Equal(t, "", root.Value("application", "paths", "views"))

	reporters := root.Lookup("reporters", "dev").Children("reporter")
	require.Len(t, reporters, 2)
	assert.Equal(t, "LogReporter", reporters[0].Attr("class"))
	assert.Equal(t, "warn", reporters[0].Attr("level"))
	assert.Equal(t, "SQLiteReporter", reporters[1].Attr("class"))
	assert.Equal(t, "errors.db", reporters[1].Attr("path"))

	exceptions := root.Child("exceptions")
	assert.Equal(t, "ErrorController", exceptions.Attr("controller"))
	assert.Equal(t, "500", exceptions.Attr("http_status"))
	overrides := exceptions.Children("exception")
	require.Len(t, overrides, 1)
	assert.Equal(t, "NotFound", overrides[0].Attr("class"))
	assert.Equal(t, "404", overrides[0].Attr("http_status"))
}

func TestParseXML(t *testing.T) {
	root, err := ParseXML(strings.NewReader(sampleXML))
	require.NoError(t, err)
	assert.Equal(t, "xml", root.Name)
	assertSampleTree(t, root)
	assert.Equal(t, "1", root.Value("application", "display_errors", "dev"))
}

func TestParseTOML(t *testing.T) {
	root, err := ParseTOML([]byte(sampleTOML))
	require.NoError(t, err)
	assertSampleTree(t, root)
	assert.Equal(t, "true", root.Value("application", "display_errors", "dev"))
}

func TestParseYAML(t *testing.T) {
	root, err := ParseYAML([]byte(sampleYAML))
	require.NoError(t, err)
	assertSampleTree(t, root)
	assert.Equal(t, "false", root.Value("application", "display_errors", "live"))
}

func TestParseXML_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"empty", ""},
		{"unclosed", "<xml><application>"},
		{"mismatched", "<xml><a></b></xml>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseXML(strings.NewReader(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestNode_NilSafe(t *testing.T) {
	var n *Node
	assert.Nil(t, n.Child("x"))
	assert.Nil(t, n.Children("x"))
	assert.Nil(t, n.Lookup("a", "b"))
	assert.Equal(t, "", n.Attr("class"))
	assert.Equal(t, "", n.Value("a"))
}

func TestAttributes_CloneIsIndependent(t *testing.T) {
	a := Attributes{"class": "LogReporter"}
	b := a.Clone()
	b["class"] = "Other"
	assert.Equal(t, "LogReporter", a.Get("class"))
	assert.Equal(t, "", Attributes(nil).Get("class"))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	files := map[string]string{
		"stderr.xml":  sampleXML,
		"stderr.toml": sampleTOML,
		"stderr.yaml": sampleYAML,
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		root, err := LoadFile(path)
		require.NoError(t, err, name)
		assertSampleTree(t, root)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.xml"))
	require.Error(t, err)
	assert.True(t, errsys.HasCode(err, errsys.CodeConfigurationMissing))
}

func TestLoadFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("[application\n"), 0o600))

	_, err := LoadFile(path)
	require.Error(t, err)
	assert.True(t, errsys.HasCode(err, errsys.CodeConfigurationInvalid))
}
