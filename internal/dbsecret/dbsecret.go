// Package dbsecret copies database credentials from AWS Secrets Manager into a cluster Secret.
package dbsecret

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	apperrors "github.com/codex-k8s/deployctl/internal/errors"
	"github.com/codex-k8s/deployctl/internal/kube"
	"github.com/codex-k8s/deployctl/internal/logging"
)

const resourceNotFound = "ResourceNotFoundException"

// SecretsAPI is the subset of the Secrets Manager client used by Syncer.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Keys of the cluster Secret.
const (
	KeyHost     = "DB_HOST"
	KeyPort     = "DB_PORT"
	KeyUser     = "DB_USER"
	KeyPassword = "DB_PASSWORD"
	KeyName     = "DB_NAME"
)

// fieldKeys maps JSON fields of the stored secret to cluster Secret keys.
var fieldKeys = map[string]string{
	"username": KeyUser,
	"password": KeyPassword,
	"dbname":   KeyName,
	"host":     KeyHost,
	"port":     KeyPort,
}

// Request describes one sync.
type Request struct {
	Namespace  string
	SecretName string
	// Reference is the ARN or name of the stored secret. Empty skips the sync.
	Reference string
	// Endpoint is the data-store endpoint, host or host:port. It wins over host/port in the stored secret.
	Endpoint string
}

// Syncer writes database credentials into the cluster.
type Syncer struct {
	secrets SecretsAPI
	kube    kube.API
	logger  *slog.Logger
}

// NewSyncer constructs a Syncer.
func NewSyncer(secrets SecretsAPI, api kube.API, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Syncer{secrets: secrets, kube: api, logger: logger}
}

// NewSecretsClient loads the default AWS configuration for region and returns a Secrets Manager client.
func NewSecretsClient(ctx context.Context, region string) (*secretsmanager.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

// Sync reads the stored secret and creates or updates the cluster Secret. It reports whether a
// Secret was written.
func (s *Syncer) Sync(ctx context.Context, req Request) (bool, error) {
	if req.Reference == "" {
		s.logger.Info("no database credential reference, skipping secret sync", "secret", req.SecretName)
		return false, nil
	}

	out, err := s.secrets.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(req.Reference)})
	if err != nil {
		if ctx.Err() != nil {
			return false, apperrors.Wrap(apperrors.KindCancelled, ctx.Err(), "database secret sync interrupted")
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == resourceNotFound {
			return false, apperrors.Wrap(apperrors.KindStageFailed, err, "database secret %s not found", req.Reference).
				WithRemediation("check the db_secret_arn output of the infrastructure provisioner")
		}
		return false, apperrors.Wrap(apperrors.KindStageFailed, err, "read database secret %s", req.Reference).
			WithRemediation("grant secretsmanager:GetSecretValue on %s to the deploying identity", req.Reference)
	}

	raw := []byte(aws.ToString(out.SecretString))
	if out.SecretString == nil {
		raw = out.SecretBinary
	}
	data, err := secretData(raw, req.Endpoint)
	if err != nil {
		return false, apperrors.Wrap(apperrors.KindStageFailed, err, "parse database secret %s", req.Reference)
	}

	if err := s.kube.EnsureNamespace(ctx, req.Namespace); err != nil {
		return false, apperrors.Wrap(apperrors.KindStageFailed, err, "ensure namespace %s", req.Namespace)
	}
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      req.SecretName,
			Namespace: req.Namespace,
			Labels:    map[string]string{"app.kubernetes.io/managed-by": "deployctl"},
		},
		Type:       corev1.SecretTypeOpaque,
		StringData: data,
	}
	if err := s.kube.UpsertSecret(ctx, secret); err != nil {
		return false, apperrors.Wrap(apperrors.KindStageFailed, err, "write secret %s/%s", req.Namespace, req.SecretName)
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s.logger.Info("database secret synced", "namespace", req.Namespace, "secret", req.SecretName, "keys", keys)
	return true, nil
}

// secretData maps the stored JSON document to Secret keys and overlays the endpoint.
func secretData(raw []byte, endpoint string) (map[string]string, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("secret is not a JSON object: %w", err)
	}

	data := make(map[string]string, len(fieldKeys))
	for field, key := range fieldKeys {
		v, ok := doc[field]
		if !ok || v == nil {
			continue
		}
		data[key] = fmt.Sprint(v)
	}
	if _, ok := data[KeyPassword]; !ok {
		return nil, errors.New("secret has no password field")
	}

	if endpoint != "" {
		host, port, err := net.SplitHostPort(endpoint)
		if err != nil {
			data[KeyHost] = endpoint
		} else {
			data[KeyHost] = host
			data[KeyPort] = port
		}
	}
	return data, nil
}
