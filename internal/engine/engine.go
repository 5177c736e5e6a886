// Package engine renders workload manifests into a single multi-document YAML stream.
package engine

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/codex-k8s/deployctl/internal/config"
	"github.com/codex-k8s/deployctl/internal/env"
)

// Values is the data exposed to workload manifest templates.
type Values struct {
	Project          string
	Namespace        string
	Image            string
	Revision         string
	ClusterName      string
	DatabaseEndpoint string
	Hostname         string
	Env              env.Vars
}

// TemplateEnv exposes Env to the envOr template helper.
func (v Values) TemplateEnv() env.Vars {
	return v.Env
}

// Renderer loads manifests relative to a project root.
type Renderer struct {
	Root string
}

// NewRenderer constructs a Renderer resolving relative paths against root.
func NewRenderer(root string) *Renderer {
	return &Renderer{Root: root}
}

// RenderWorkload renders the given manifest templates with values. Namespaced documents without
// a namespace receive values.Namespace, and containers of the listed deployments that declare no
// image receive values.Image.
func (r *Renderer) RenderWorkload(paths []string, values Values, deployments []string) ([]byte, error) {
	targets := make(map[string]struct{}, len(deployments))
	for _, d := range deployments {
		targets[d] = struct{}{}
	}

	var documents []map[string]any
	for _, path := range paths {
		docs, err := r.loadManifestDocuments(path, values)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			applyNamespace(doc, values.Namespace)
			applyImage(doc, targets, values.Image)
			documents = append(documents, doc)
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	for _, doc := range documents {
		if err := enc.Encode(doc); err != nil {
			_ = enc.Close()
			return nil, fmt.Errorf("encode manifest: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize manifest stream: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadVerbatim concatenates manifests without templating, separated by document markers.
func (r *Renderer) ReadVerbatim(paths []string) ([]byte, error) {
	var buf bytes.Buffer
	for _, path := range paths {
		raw, err := os.ReadFile(r.resolve(path))
		if err != nil {
			return nil, fmt.Errorf("read manifest %q: %w", r.resolve(path), err)
		}
		buf.WriteString("---\n")
		buf.Write(raw)
		if !bytes.HasSuffix(raw, []byte("\n")) {
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

func (r *Renderer) resolve(path string) string {
	if !filepath.IsAbs(path) && r.Root != "" {
		return filepath.Join(r.Root, path)
	}
	return path
}

func (r *Renderer) loadManifestDocuments(path string, values Values) ([]map[string]any, error) {
	if path == "" {
		return nil, fmt.Errorf("manifest path is empty")
	}
	fullPath := r.resolve(path)

	raw, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("read manifest %q: %w", fullPath, err)
	}

	rendered, err := config.RenderTemplate(fullPath, raw, values)
	if err != nil {
		return nil, err
	}

	var docs []map[string]any
	dec := yaml.NewDecoder(bytes.NewReader(rendered))
	for {
		var doc map[string]any
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode manifest %q: %w", fullPath, err)
		}
		if len(doc) == 0 {
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func applyNamespace(doc map[string]any, ns string) {
	if ns == "" {
		return
	}
	kind, _ := doc["kind"].(string)
	if kind == "" {
		return
	}
	switch kind {
	case "Namespace", "ClusterRole", "ClusterRoleBinding", "PersistentVolume", "StorageClass",
		"IngressClass", "CustomResourceDefinition", "ValidatingWebhookConfiguration", "MutatingWebhookConfiguration":
		return
	}
	meta := getOrCreateMap(doc, "metadata")
	if existing, _ := meta["namespace"].(string); strings.TrimSpace(existing) != "" {
		return
	}
	meta["namespace"] = ns
}

// applyImage fills empty container images of targeted deployments.
func applyImage(doc map[string]any, targets map[string]struct{}, image string) {
	if image == "" {
		return
	}
	if kind, _ := doc["kind"].(string); kind != "Deployment" {
		return
	}
	meta := getOrCreateMap(doc, "metadata")
	name, _ := meta["name"].(string)
	if _, ok := targets[name]; !ok {
		return
	}

	spec := getOrCreateMap(doc, "spec")
	template := getOrCreateMap(spec, "template")
	podSpec := getOrCreateMap(template, "spec")

	containers := getSliceOfMaps(podSpec, "containers")
	for i, c := range containers {
		if img, _ := c["image"].(string); strings.TrimSpace(img) == "" {
			c["image"] = image
			containers[i] = c
		}
	}
	if len(containers) > 0 {
		podSpec["containers"] = containers
	}
}

// getOrCreateMap returns an existing nested map or creates a new one at the given key.
func getOrCreateMap(parent map[string]any, key string) map[string]any {
	if parent == nil {
		return map[string]any{}
	}
	if val, ok := parent[key]; ok {
		if m, ok := val.(map[string]any); ok && m != nil {
			return m
		}
	}
	m := make(map[string]any)
	parent[key] = m
	return m
}

// getSliceOfMaps returns a normalized slice of maps stored under the given key.
func getSliceOfMaps(parent map[string]any, key string) []map[string]any {
	if parent == nil {
		return nil
	}
	val, ok := parent[key]
	if !ok || val == nil {
		return nil
	}
	return normalizeMapSlice(val)
}

// normalizeMapSlice keeps the map elements of a decoded YAML sequence.
func normalizeMapSlice(value any) []map[string]any {
	if value == nil {
		return nil
	}
	var result []map[string]any
	switch v := value.(type) {
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				result = append(result, m)
			}
		}
	case []map[string]any:
		result = append(result, v...)
	}
	return result
}
