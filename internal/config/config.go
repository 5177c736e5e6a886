// Package config contains the loader and strongly typed model for deploy.yaml.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codex-k8s/deployctl/internal/env"
)

// DefaultPath is the default location of the pipeline configuration file.
const DefaultPath = "deploy.yaml"

// Config describes one deployable project and the environment it is rolled out to.
// It mirrors the structure of deploy.yaml after template rendering.
type Config struct {
	// Project is the project name; it becomes the image repository name.
	Project string `yaml:"project"`
	// Region is the cloud region passed to the provisioner, cluster and secrets clients.
	Region string `yaml:"region"`
	// EnvFiles lists .env files merged into the template environment before rendering.
	EnvFiles []string `yaml:"envFiles,omitempty"`
	// Registry locates the registry configuration sources.
	Registry RegistryConfig `yaml:"registry,omitempty"`
	// Image describes how the application image is built.
	Image ImageConfig `yaml:"image,omitempty"`
	// Infra configures the infrastructure provisioner.
	Infra InfraConfig `yaml:"infra,omitempty"`
	// Cluster configures local cluster credentials.
	Cluster ClusterConfig `yaml:"cluster,omitempty"`
	// Controller configures the optional ingress controller install.
	Controller ControllerConfig `yaml:"controller,omitempty"`
	// Rollout configures workload manifests and readiness waits.
	Rollout RolloutConfig `yaml:"rollout,omitempty"`
	// Database configures the credential secret created before rollout.
	Database DatabaseConfig `yaml:"database,omitempty"`
	// Health configures the post-rollout health check.
	Health HealthConfig `yaml:"health,omitempty"`

	// Root is the directory containing deploy.yaml. Relative paths resolve against it.
	Root string `yaml:"-"`
	// Env is the environment deploy.yaml was rendered against.
	Env env.Vars `yaml:"-"`
}

// RegistryConfig locates the mutually exclusive registry configuration files.
type RegistryConfig struct {
	// Dir is the directory holding .ecr-config, .registry-config or .local-config.
	Dir string `yaml:"dir,omitempty"`
}

// ImageConfig describes the docker build of the application image.
type ImageConfig struct {
	// Context is the build context directory.
	Context string `yaml:"context,omitempty"`
	// Dockerfile is an optional Dockerfile path.
	Dockerfile string `yaml:"dockerfile,omitempty"`
	// Platform is an optional target platform (e.g. linux/amd64).
	Platform string `yaml:"platform,omitempty"`
	// BuildArgs are passed as --build-arg KEY=VALUE.
	BuildArgs map[string]string `yaml:"buildArgs,omitempty"`
}

// InfraConfig configures the Terraform working directory.
type InfraConfig struct {
	// Dir is the Terraform root module directory.
	Dir string `yaml:"dir,omitempty"`
	// Vars are passed as -var key=value on plan.
	Vars map[string]string `yaml:"vars,omitempty"`
}

// ClusterConfig configures where cluster credentials are written.
type ClusterConfig struct {
	// Kubeconfig is the kubeconfig file updated by the configurator.
	Kubeconfig string `yaml:"kubeconfig,omitempty"`
	// ConnectTimeout bounds the liveness check.
	ConnectTimeout time.Duration `yaml:"connectTimeout,omitempty"`
}

// ControllerConfig describes the ingress controller Helm release.
type ControllerConfig struct {
	// Enabled toggles the ControllerInstall phase. Defaults to true.
	Enabled *bool `yaml:"enabled,omitempty"`
	// Release is the Helm release name.
	Release string `yaml:"release,omitempty"`
	// Namespace is the release namespace.
	Namespace string `yaml:"namespace,omitempty"`
	// RepoURL is the chart repository.
	RepoURL string `yaml:"repo,omitempty"`
	// Chart is the chart name in the repository.
	Chart string `yaml:"chart,omitempty"`
	// Version pins the chart version; empty means latest.
	Version string `yaml:"version,omitempty"`
	// Values are merged over the generated values.
	Values map[string]any `yaml:"values,omitempty"`
	// Timeout bounds the install or upgrade.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// IsEnabled reports whether the controller install phase runs.
func (c ControllerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// RolloutConfig describes the workload definitions and their readiness wait.
type RolloutConfig struct {
	// Namespace receives namespaced documents that do not set one.
	Namespace string `yaml:"namespace,omitempty"`
	// Manifests are Go-templated workload manifests, applied in order.
	Manifests []string `yaml:"manifests,omitempty"`
	// ExtraManifests are applied verbatim after the workload (e.g. the monitoring stack).
	ExtraManifests []string `yaml:"extraManifests,omitempty"`
	// Deployments lists the deployments that must become ready.
	Deployments []string `yaml:"deployments,omitempty"`
	// Timeout bounds the readiness wait.
	Timeout time.Duration `yaml:"timeout,omitempty"`
	// Interval is the fixed polling interval.
	Interval time.Duration `yaml:"interval,omitempty"`
	// FieldManager identifies deployctl in server-side apply.
	FieldManager string `yaml:"fieldManager,omitempty"`
}

// DatabaseConfig names the cluster secret holding database credentials.
type DatabaseConfig struct {
	// SecretName is the opaque Secret created in the rollout namespace.
	SecretName string `yaml:"secretName,omitempty"`
}

// HealthConfig describes the post-rollout health check.
type HealthConfig struct {
	// Path is the HTTP path polled on the endpoint.
	Path string `yaml:"path,omitempty"`
	// Ingress is the Ingress whose status hostname is tried first.
	Ingress string `yaml:"ingress,omitempty"`
	// Service is the Service whose load-balancer hostname is tried second, and the tunnel target.
	Service string `yaml:"service,omitempty"`
	// ServicePort is the service port forwarded by the local tunnel.
	ServicePort int `yaml:"servicePort,omitempty"`
	// LocalPort is the local port of the tunnel.
	LocalPort int `yaml:"localPort,omitempty"`
	// Attempts bounds the number of health requests.
	Attempts int `yaml:"attempts,omitempty"`
	// Interval is the fixed delay between requests.
	Interval time.Duration `yaml:"interval,omitempty"`
	// SuccessStatus is the HTTP status that signals healthy.
	SuccessStatus int `yaml:"successStatus,omitempty"`
	// RequestTimeout bounds each HTTP request.
	RequestTimeout time.Duration `yaml:"requestTimeout,omitempty"`
}

// TemplateContext is the data exposed to Go templates in deploy.yaml.
type TemplateContext struct {
	// ProjectRoot is the directory containing deploy.yaml.
	ProjectRoot string
	// EnvMap merges OS env and envFiles.
	EnvMap env.Vars
}

// TemplateEnv returns the variables visible to envOr.
func (c TemplateContext) TemplateEnv() env.Vars {
	return c.EnvMap
}

// EnvProvider is template data that exposes variables to envOr.
type EnvProvider interface {
	TemplateEnv() env.Vars
}

// rawHeader extracts the fields needed before templating.
type rawHeader struct {
	EnvFiles []string `yaml:"envFiles"`
}

var projectNamePattern = regexp.MustCompile(`^[a-z0-9]+(?:[._-][a-z0-9]+)*$`)

// Load reads deploy.yaml, renders it against the environment, parses it and applies defaults.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", absPath, err)
	}

	return Parse(raw, filepath.Dir(absPath), env.FromOS())
}

// Parse renders and decodes raw deploy.yaml content. root is the directory paths resolve against;
// osVars is the base environment for templates.
func Parse(raw []byte, root string, osVars env.Vars) (*Config, error) {
	var header rawHeader
	if err := yaml.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("parse top-level config fields: %w", err)
	}

	fileVars, err := env.LoadEnvFiles(root, header.EnvFiles)
	if err != nil {
		return nil, err
	}

	ctx := TemplateContext{
		ProjectRoot: root,
		EnvMap:      env.Merge(osVars, fileVars),
	}

	rendered, err := RenderTemplate("deploy.yaml", raw, ctx)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(rendered, &cfg); err != nil {
		return nil, fmt.Errorf("parse rendered deploy.yaml: %w", err)
	}
	cfg.Root = root
	cfg.Env = ctx.EnvMap
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with built-in defaults.
func (c *Config) ApplyDefaults() {
	c.Project = strings.TrimSpace(c.Project)

	if c.Registry.Dir == "" {
		c.Registry.Dir = "."
	}
	if c.Image.Context == "" {
		c.Image.Context = "."
	}
	if c.Infra.Dir == "" {
		c.Infra.Dir = "terraform"
	}
	if c.Cluster.ConnectTimeout == 0 {
		c.Cluster.ConnectTimeout = 30 * time.Second
	}

	ctl := &c.Controller
	if ctl.Release == "" {
		ctl.Release = "aws-load-balancer-controller"
	}
	if ctl.Namespace == "" {
		ctl.Namespace = "kube-system"
	}
	if ctl.RepoURL == "" {
		ctl.RepoURL = "https://aws.github.io/eks-charts"
	}
	if ctl.Chart == "" {
		ctl.Chart = "aws-load-balancer-controller"
	}
	if ctl.Timeout == 0 {
		ctl.Timeout = 10 * time.Minute
	}

	ro := &c.Rollout
	if ro.Namespace == "" {
		ro.Namespace = c.Project
	}
	if len(ro.Deployments) == 0 && c.Project != "" {
		ro.Deployments = []string{c.Project}
	}
	if ro.Timeout == 0 {
		ro.Timeout = 300 * time.Second
	}
	if ro.Interval == 0 {
		ro.Interval = 5 * time.Second
	}
	if ro.FieldManager == "" {
		ro.FieldManager = "deployctl"
	}

	if c.Database.SecretName == "" {
		c.Database.SecretName = "db-credentials"
	}

	h := &c.Health
	if h.Path == "" {
		h.Path = "/health"
	}
	if h.Service == "" {
		h.Service = c.Project
	}
	if h.ServicePort == 0 {
		h.ServicePort = 80
	}
	if h.LocalPort == 0 {
		h.LocalPort = 8080
	}
	if h.Attempts == 0 {
		h.Attempts = 30
	}
	if h.Interval == 0 {
		h.Interval = 10 * time.Second
	}
	if h.SuccessStatus == 0 {
		h.SuccessStatus = 200
	}
	if h.RequestTimeout == 0 {
		h.RequestTimeout = 5 * time.Second
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Project == "" {
		return fmt.Errorf("project must be set")
	}
	if !projectNamePattern.MatchString(c.Project) {
		return fmt.Errorf("project %q must be lower-case alphanumerics separated by '.', '_' or '-'", c.Project)
	}
	if strings.TrimSpace(c.Region) == "" {
		return fmt.Errorf("region must be set")
	}
	if len(c.Rollout.Manifests) == 0 {
		return fmt.Errorf("rollout.manifests must list at least one manifest")
	}
	if c.Rollout.Timeout < 0 || c.Rollout.Interval < 0 {
		return fmt.Errorf("rollout.timeout and rollout.interval must be positive")
	}
	if c.Health.Attempts < 0 {
		return fmt.Errorf("health.attempts must be positive")
	}
	if !strings.HasPrefix(c.Health.Path, "/") {
		return fmt.Errorf("health.path %q must start with '/'", c.Health.Path)
	}
	return nil
}

// Path resolves p against the config root unless it is absolute.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Root == "" {
		return p
	}
	return filepath.Join(c.Root, p)
}

// RenderTemplate renders content with the deploy.yaml template helpers.
func RenderTemplate(name string, raw []byte, data any) ([]byte, error) {
	var envMap env.Vars
	if p, ok := data.(EnvProvider); ok {
		envMap = p.TemplateEnv()
	}

	tmpl, err := template.New(name).Funcs(buildFuncMap(envMap)).Option("missingkey=error").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse template %q: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("execute template %q: %w", name, err)
	}
	return buf.Bytes(), nil
}

// buildFuncMap constructs the template functions available in deploy.yaml and manifests.
func buildFuncMap(envMap env.Vars) template.FuncMap {
	return template.FuncMap{
		"default":  funcDef,
		"toLower":  strings.ToLower,
		"envOr":    funcEnvOr(envMap),
		"truncSHA": funcTruncSHA,
	}
}

// funcDef returns def when value is empty or whitespace, otherwise value.
func funcDef(def, value string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}

// funcEnvOr returns a function that looks up a key in envMap and falls back to def.
func funcEnvOr(envMap env.Vars) func(key, def string) string {
	return func(key, def string) string {
		if v, ok := envMap[key]; ok && v != "" {
			return v
		}
		return def
	}
}

func funcTruncSHA(s string) string {
	const n = 12
	if len(s) <= n {
		return s
	}
	return s[:n]
}
