package automation

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jwpriem/ev-easee/pkg/common"
	"github.com/jwpriem/ev-easee/pkg/log"
	"github.com/levenlabs/go-lflag"
)

const (
	// PackageName is the OpenWhisk package the scheduled function lives in.
	PackageName = "ev-easee"
	// FunctionName is the deployed function that calls back into the API.
	FunctionName = "apply-schema"
	// TriggerName is the scheduled trigger attached to the function.
	TriggerName = "every-15-min"
	// Cron fires the trigger at the same cadence as a price sub-interval.
	Cron = "*/15 * * * *"
)

// DigitalOcean deploys and manages the serverless cron that periodically
// calls the apply endpoint. The namespace and trigger are managed through
// the DigitalOcean API with the user's token; the function itself is
// deployed through the namespace's OpenWhisk host with basic auth.
type DigitalOcean struct {
	client  *http.Client
	baseURL string
	region  string
}

// Configured sets up flags for the DigitalOcean client.
func Configured() *DigitalOcean {
	d := &DigitalOcean{
		client: common.HTTPClient(time.Minute),
	}
	baseURL := lflag.String("do-api-url", "https://api.digitalocean.com/v2", "base URL for the DigitalOcean API")
	region := lflag.String("do-region", "ams3", "region to create Functions namespaces in")

	lflag.Do(func() {
		d.baseURL = *baseURL
		d.region = *region
	})

	return d
}

// NewClient returns a client against the given API base URL. Primarily
// used for testing.
func NewClient(baseURL, region string) *DigitalOcean {
	return &DigitalOcean{
		client:  common.HTTPClient(time.Minute),
		baseURL: baseURL,
		region:  region,
	}
}

// Namespace is a DigitalOcean Functions namespace.
type Namespace struct {
	Namespace string `json:"namespace"`
	APIHost   string `json:"api_host"`
	Key       string `json:"key"`
	UUID      string `json:"uuid"`
	Label     string `json:"label"`
	Region    string `json:"region"`
}

// Trigger is a scheduled trigger on a Functions namespace.
type Trigger struct {
	Name      string `json:"name"`
	Function  string `json:"function"`
	Type      string `json:"type"`
	IsEnabled bool   `json:"is_enabled"`
}

func (d *DigitalOcean) doRequest(ctx context.Context, token, method, endpoint string, payload, dest interface{}) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// deletes of already-gone resources are fine
		if method == "DELETE" && resp.StatusCode == http.StatusNotFound {
			return nil
		}
		var apiErr struct {
			Message string `json:"message"`
		}
		respBody, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("digitalocean api error: %s", apiErr.Message)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if dest != nil {
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return fmt.Errorf("failed to decode digitalocean response: %w", err)
		}
	}
	return nil
}

// CreateNamespace creates a Functions namespace with the given label.
func (d *DigitalOcean) CreateNamespace(ctx context.Context, token, label string) (Namespace, error) {
	var res struct {
		Namespace Namespace `json:"namespace"`
	}
	err := d.doRequest(ctx, token, "POST", "/functions/namespaces", map[string]string{
		"label":  label,
		"region": d.region,
	}, &res)
	if err != nil {
		return Namespace{}, fmt.Errorf("failed to create namespace: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "created functions namespace",
		slog.String("namespace", res.Namespace.Namespace),
		slog.String("region", res.Namespace.Region),
	)
	return res.Namespace, nil
}

// ListNamespaces lists the Functions namespaces on the account.
func (d *DigitalOcean) ListNamespaces(ctx context.Context, token string) ([]Namespace, error) {
	var res struct {
		Namespaces []Namespace `json:"namespaces"`
	}
	if err := d.doRequest(ctx, token, "GET", "/functions/namespaces", nil, &res); err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}
	return res.Namespaces, nil
}

// DeleteNamespace deletes a Functions namespace. Missing namespaces are not
// an error.
func (d *DigitalOcean) DeleteNamespace(ctx context.Context, token, namespaceID string) error {
	err := d.doRequest(ctx, token, "DELETE", "/functions/namespaces/"+url.PathEscape(namespaceID), nil, nil)
	if err != nil {
		return fmt.Errorf("failed to delete namespace: %w", err)
	}
	return nil
}

// DeployFunction deploys (or overwrites) the scheduled function through the
// namespace's OpenWhisk API. The namespace key is "user:pass" for basic
// auth.
func (d *DigitalOcean) DeployFunction(ctx context.Context, apiHost, namespaceKey, code string) error {
	auth := base64.StdEncoding.EncodeToString([]byte(namespaceKey))

	payload, err := json.Marshal(map[string]interface{}{
		"namespace": "_",
		"name":      PackageName + "/" + FunctionName,
		"exec": map[string]string{
			"kind": "nodejs:18",
			"code": code,
		},
		"annotations": []map[string]interface{}{
			{"key": "web-export", "value": true},
		},
	})
	if err != nil {
		return err
	}

	u := strings.TrimSuffix(apiHost, "/") + "/api/v1/namespaces/_/actions/" + PackageName + "/" + FunctionName + "?overwrite=true"
	req, err := http.NewRequestWithContext(ctx, "PUT", u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Basic "+auth)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deploy function: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to deploy function: status %d: %s", resp.StatusCode, string(respBody))
	}

	log.Ctx(ctx).InfoContext(ctx, "deployed scheduled function", slog.String("function", FunctionName))
	return nil
}

// DeleteFunction deletes the scheduled function through the namespace's
// OpenWhisk API. Missing functions are not an error.
func (d *DigitalOcean) DeleteFunction(ctx context.Context, apiHost, namespaceKey string) error {
	auth := base64.StdEncoding.EncodeToString([]byte(namespaceKey))

	u := strings.TrimSuffix(apiHost, "/") + "/api/v1/namespaces/_/actions/" + PackageName + "/" + FunctionName
	req, err := http.NewRequestWithContext(ctx, "DELETE", u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Basic "+auth)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete function: %w", err)
	}
	defer resp.Body.Close()

	if (resp.StatusCode < 200 || resp.StatusCode > 299) && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("failed to delete function: status %d", resp.StatusCode)
	}
	return nil
}

// CreateTrigger creates the scheduled trigger that fires the function on
// the cron cadence.
func (d *DigitalOcean) CreateTrigger(ctx context.Context, token, namespaceID string) (Trigger, error) {
	var res struct {
		Trigger Trigger `json:"trigger"`
	}
	err := d.doRequest(ctx, token, "POST", "/functions/namespaces/"+url.PathEscape(namespaceID)+"/triggers", map[string]interface{}{
		"name":       TriggerName,
		"function":   PackageName + "/" + FunctionName,
		"type":       "SCHEDULED",
		"is_enabled": true,
		"scheduled_details": map[string]interface{}{
			"cron": Cron,
			"body": map[string]string{},
		},
	}, &res)
	if err != nil {
		return Trigger{}, fmt.Errorf("failed to create trigger: %w", err)
	}
	return res.Trigger, nil
}

// UpdateTrigger enables or disables the scheduled trigger.
func (d *DigitalOcean) UpdateTrigger(ctx context.Context, token, namespaceID string, enabled bool) (Trigger, error) {
	var res struct {
		Trigger Trigger `json:"trigger"`
	}
	err := d.doRequest(ctx, token, "PUT", "/functions/namespaces/"+url.PathEscape(namespaceID)+"/triggers/"+TriggerName, map[string]interface{}{
		"is_enabled": enabled,
	}, &res)
	if err != nil {
		return Trigger{}, fmt.Errorf("failed to update trigger: %w", err)
	}
	return res.Trigger, nil
}

// DeleteTrigger deletes the scheduled trigger. Missing triggers are not an
// error.
func (d *DigitalOcean) DeleteTrigger(ctx context.Context, token, namespaceID string) error {
	err := d.doRequest(ctx, token, "DELETE", "/functions/namespaces/"+url.PathEscape(namespaceID)+"/triggers/"+TriggerName, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to delete trigger: %w", err)
	}
	return nil
}

// FunctionCode renders the function body that calls back into the apply
// endpoint with the cron API key.
func FunctionCode(appURL, apiKey string) string {
	return fmt.Sprintf(`function main(args) {
  return fetch(%q, {
    method: "POST",
    headers: {
      "Authorization": "Bearer %s",
      "Content-Type": "application/json"
    }
  })
  .then(function(res) { return res.json(); })
  .then(function(data) { return { body: data }; })
  .catch(function(err) { return { body: { error: err.message } }; });
}`, strings.TrimSuffix(appURL, "/")+"/api/cron/apply", apiKey)
}
