package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/armorclaw/stderr/pkg/builtin"
	"github.com/armorclaw/stderr/pkg/config"
	"github.com/armorclaw/stderr/pkg/plugin"
)

const sampleRouting = `<?xml version="1.0" encoding="UTF-8"?>
<stderr>
	<application>
		<display_errors>
			<local>1</local>
			<dev>1</dev>
			<live>0</live>
		</display_errors>
		<default_content_type>text/html</default_content_type>
		<paths>
			<controllers>plugins/controllers</controllers>
			<views>views</views>
			<reporters>plugins/reporters</reporters>
			<renderers>plugins/renderers</renderers>
		</paths>
	</application>

	<reporters>
		<local>
			<reporter class="LogReporter" level="debug"/>
			<reporter class="StreamReporter"/>
		</local>
		<dev>
			<reporter class="LogReporter"/>
			<reporter class="SQLiteReporter" path="errors.db" retention_days="7"/>
			<reporter class="PrometheusReporter"/>
			<reporter class="StreamReporter"/>
		</dev>
		<live>
			<reporter class="LogReporter" rate="50" burst="100"/>
			<reporter class="PrometheusReporter"/>
		</live>
	</reporters>

	<renderers>
		<renderer class="HTMLRenderer" content_type="text/html"/>
		<renderer class="JSONRenderer" content_type="application/json" indent="true"/>
		<renderer class="TextRenderer" content_type="text/plain"/>
	</renderers>

	<exceptions controller="ErrorController" view="500" http_status="500" error_type="3">
		<exception class="NotFound" view="404" http_status="404" error_type="1"/>
		<exception class="ValidationError" http_status="422" content_type="application/json" error_type="2"/>
		<exception class="PanicError" view="500" http_status="500" error_type="3"/>
	</exceptions>
</stderr>
`

const sampleView404 = `<!DOCTYPE html>
<html>
<head><title>Not found</title></head>
<body>
<h1>Nothing here</h1>
<p>The page you asked for does not exist.</p>
{{- if .Message}}
<pre>{{.Message}}</pre>
{{- end}}
<p><small>{{index .Data "request_id"}}</small></p>
</body>
</html>
`

const sampleView500 = `<!DOCTYPE html>
<html>
<head><title>{{.Status}} {{.StatusText}}</title></head>
<body>
<h1>Something went wrong</h1>
{{- if .Message}}
<pre>{{.Message}}</pre>
{{- end}}
{{- with index .Data "stack"}}
<ol>{{range .}}<li>{{.Function}} {{.File}}:{{.Line}}</li>{{end}}</ol>
{{- end}}
<p><small>{{index .Data "request_id"}}</small></p>
</body>
</html>
`

// scaffold writes a service config, a routing document, views and the
// built-in plugin units under dir. Existing files are kept. It returns the
// paths it created.
func scaffold(dir string) ([]string, error) {
	var created []string

	write := func(rel, content string) error {
		path := filepath.Join(dir, rel)
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		created = append(created, path)
		return nil
	}

	cfgPath := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(cfgPath); err != nil {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return created, fmt.Errorf("failed to create directory: %w", err)
		}
		if err := config.GenerateExampleConfig(cfgPath); err != nil {
			return created, err
		}
		created = append(created, cfgPath)
	}

	for rel, content := range map[string]string{
		"stderr.xml":     sampleRouting,
		"views/404.html": sampleView404,
		"views/500.html": sampleView500,
	} {
		if err := write(rel, content); err != nil {
			return created, err
		}
	}

	units, err := builtin.WriteUnits(map[plugin.Capability]string{
		plugin.CapabilityController: filepath.Join(dir, "plugins", "controllers"),
		plugin.CapabilityReporter:   filepath.Join(dir, "plugins", "reporters"),
		plugin.CapabilityRenderer:   filepath.Join(dir, "plugins", "renderers"),
	})
	created = append(created, units...)
	return created, err
}
