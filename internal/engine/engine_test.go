package engine

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/codex-k8s/deployctl/internal/env"
)

const workloadTemplate = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: {{ .Project }}
  labels:
    revision: "{{ default "none" .Revision }}"
spec:
  replicas: 2
  template:
    spec:
      containers:
        - name: app
          env:
            - name: DB_HOST
              value: "{{ .DatabaseEndpoint }}"
            - name: LOG_LEVEL
              value: {{ envOr "LOG_LEVEL" "info" }}
        - name: sidecar
          image: busybox:1.36
---
apiVersion: v1
kind: Namespace
metadata:
  name: {{ .Namespace }}
---
apiVersion: v1
kind: Service
metadata:
  name: {{ .Project }}
  namespace: custom
`

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func decodeAll(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var docs []map[string]any
	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var doc map[string]any
		if err := dec.Decode(&doc); err != nil {
			break
		}
		docs = append(docs, doc)
	}
	return docs
}

func TestRenderWorkload(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeManifest(t, dir, "app.yaml", workloadTemplate)

	out, err := NewRenderer(dir).RenderWorkload([]string{"app.yaml"}, Values{
		Project:          "webapp",
		Namespace:        "webapp",
		Image:            "localhost:5000/webapp:abc1234",
		Revision:         "abc1234",
		DatabaseEndpoint: "db.internal",
		Env:              env.Vars{"LOG_LEVEL": "debug"},
	}, []string{"webapp"})
	require.NoError(t, err)

	docs := decodeAll(t, out)
	require.Len(t, docs, 3)

	deploy := docs[0]
	meta := deploy["metadata"].(map[string]any)
	assert.Equal(t, "webapp", meta["namespace"])
	assert.Equal(t, "abc1234", meta["labels"].(map[string]any)["revision"])

	containers := deploy["spec"].(map[string]any)["template"].(map[string]any)["spec"].(map[string]any)["containers"].([]any)
	app := containers[0].(map[string]any)
	assert.Equal(t, "localhost:5000/webapp:abc1234", app["image"])
	assert.Equal(t, "busybox:1.36", containers[1].(map[string]any)["image"])
	envs := app["env"].([]any)
	assert.Equal(t, "db.internal", envs[0].(map[string]any)["value"])
	assert.Equal(t, "debug", envs[1].(map[string]any)["value"])

	_, hasNS := docs[1]["metadata"].(map[string]any)["namespace"]
	assert.False(t, hasNS, "cluster-scoped documents keep no namespace")
	assert.Equal(t, "custom", docs[2]["metadata"].(map[string]any)["namespace"])
}

func TestRenderWorkload_UntargetedDeploymentKeepsEmptyImage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeManifest(t, dir, "app.yaml", workloadTemplate)

	out, err := NewRenderer(dir).RenderWorkload([]string{"app.yaml"}, Values{Project: "webapp", Image: "img:1"}, []string{"other"})
	require.NoError(t, err)

	docs := decodeAll(t, out)
	containers := docs[0]["spec"].(map[string]any)["template"].(map[string]any)["spec"].(map[string]any)["containers"].([]any)
	_, hasImage := containers[0].(map[string]any)["image"]
	assert.False(t, hasImage)
}

func TestRenderWorkload_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeManifest(t, dir, "bad.yaml", "kind: [\n")
	writeManifest(t, dir, "missing-key.yaml", "name: {{ .Unknown }}\n")

	r := NewRenderer(dir)
	_, err := r.RenderWorkload([]string{"absent.yaml"}, Values{}, nil)
	require.Error(t, err)

	_, err = r.RenderWorkload([]string{"bad.yaml"}, Values{}, nil)
	require.Error(t, err)

	_, err = r.RenderWorkload([]string{"missing-key.yaml"}, Values{}, nil)
	require.Error(t, err)

	_, err = r.RenderWorkload([]string{""}, Values{}, nil)
	require.Error(t, err)
}

func TestReadVerbatim(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeManifest(t, dir, "prometheus.yaml", "kind: ConfigMap\nmetadata:\n  name: {{ not-a-template }}")
	writeManifest(t, dir, "grafana.yaml", "kind: Service\n")

	out, err := NewRenderer(dir).ReadVerbatim([]string{"prometheus.yaml", filepath.Join(dir, "grafana.yaml")})
	require.NoError(t, err)
	assert.Equal(t, "---\nkind: ConfigMap\nmetadata:\n  name: {{ not-a-template }}\n---\nkind: Service\n", string(out))

	_, err = NewRenderer(dir).ReadVerbatim([]string{"nope.yaml"})
	require.Error(t, err)
}
