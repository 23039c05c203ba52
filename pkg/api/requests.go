package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/luissimon96/migration-validator/pkg/config"
	"github.com/luissimon96/migration-validator/pkg/fingerprint"
	"github.com/luissimon96/migration-validator/pkg/models"
)

var validate = validator.New()

// ValidateConfigRequest is the JSON config part of the multipart
// POST /api/validate body.
type ValidateConfigRequest struct {
	SourceTech     TechRequest        `json:"source_technology" validate:"required"`
	TargetTech     TechRequest        `json:"target_technology" validate:"required"`
	Scope          string             `json:"scope" validate:"required"`
	PriorityBand   string             `json:"priority_band,omitempty"`
	SourceURL      string             `json:"source_url,omitempty"`
	TargetURL      string             `json:"target_url,omitempty"`
	Scenarios      []ScenarioRequest  `json:"scenarios,omitempty"`
	Credentials    *CredentialsInput  `json:"credentials,omitempty"`
	TimeoutSeconds int                `json:"timeout_seconds,omitempty"`
}

// TechRequest names one side's technology.
type TechRequest struct {
	Name      string            `json:"name" validate:"required"`
	Version   string            `json:"version,omitempty"`
	Framework map[string]string `json:"framework,omitempty"`
}

// ScenarioRequest describes one behavioral scenario.
type ScenarioRequest struct {
	Name           string `json:"name" validate:"required"`
	Description    string `json:"description,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// CredentialsInput carries behavioral login credentials. Never persisted,
// never logged.
type CredentialsInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// BehavioralValidateRequest is the JSON body of
// POST /api/behavioral/validate.
type BehavioralValidateRequest struct {
	SourceURL      string            `json:"source_url" validate:"required,url"`
	TargetURL      string            `json:"target_url" validate:"required,url"`
	Scenarios      []ScenarioRequest `json:"scenarios" validate:"required,min=1,dive"`
	Credentials    *CredentialsInput `json:"credentials,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

// toSession converts the parsed config and uploaded artifacts into a
// session aggregate.
func (r *ValidateConfigRequest) toSession(requestID, tenant string, source, target *models.InputBundle) (*models.Session, error) {
	scope := models.Scope(strings.ToLower(strings.ReplaceAll(r.Scope, "-", "_")))
	if !scope.Valid() {
		return nil, fmt.Errorf("unknown scope %q", r.Scope)
	}

	band := models.BandInteractive
	if r.PriorityBand != "" {
		band = models.PriorityBand(r.PriorityBand)
		if band != models.BandInteractive && band != models.BandBatch {
			return nil, fmt.Errorf("unknown priority band %q", r.PriorityBand)
		}
	}

	sess := &models.Session{
		RequestID: requestID,
		Tenant:    tenant,
		Scope:     scope,
		Band:      band,
		SourceTech: models.TechnologyContext{
			Name: r.SourceTech.Name, Version: r.SourceTech.Version, Framework: r.SourceTech.Framework,
		},
		TargetTech: models.TechnologyContext{
			Name: r.TargetTech.Name, Version: r.TargetTech.Version, Framework: r.TargetTech.Framework,
		},
		Source: source,
		Target: target,
	}

	if scope.RequiresBehavioral() {
		if r.SourceURL == "" || r.TargetURL == "" || len(r.Scenarios) == 0 {
			return nil, fmt.Errorf("scope %q requires source_url, target_url, and at least one scenario", scope)
		}
		sess.Behavioral = behavioralConfig(r.SourceURL, r.TargetURL, r.Scenarios, r.Credentials, r.TimeoutSeconds)
	}
	// URLs outside behavioral scopes are ignored.
	return sess, nil
}

func behavioralConfig(sourceURL, targetURL string, scenarios []ScenarioRequest, creds *CredentialsInput, timeoutSeconds int) *models.BehavioralConfig {
	cfg := &models.BehavioralConfig{
		SourceURL: sourceURL,
		TargetURL: targetURL,
		Timeout:   time.Duration(timeoutSeconds) * time.Second,
	}
	for _, s := range scenarios {
		cfg.Scenarios = append(cfg.Scenarios, models.Scenario{
			Name:        s.Name,
			Description: s.Description,
			Timeout:     time.Duration(s.TimeoutSeconds) * time.Second,
		})
	}
	if creds != nil {
		cfg.Credentials = &models.Credentials{Username: creds.Username, Password: creds.Password}
	}
	return cfg
}

// languageByExtension maps file extensions to analyzer languages.
var languageByExtension = map[string]string{
	".py": "python", ".go": "go", ".java": "java", ".js": "javascript",
	".jsx": "javascript", ".ts": "typescript", ".tsx": "typescript",
	".cs": "csharp", ".rb": "ruby", ".php": "php", ".kt": "kotlin",
	".rs": "rust", ".sql": "sql", ".html": "html", ".css": "css",
	".vue": "vue", ".swift": "swift", ".c": "c", ".cpp": "cpp", ".scala": "scala",
}

var screenshotExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true, ".gif": true,
}

// readBundle collects the uploaded files of one side into an input bundle,
// enforcing the configured ceilings.
func readBundle(files []*multipart.FileHeader, limits *config.LimitsConfig) (*models.InputBundle, error) {
	if len(files) == 0 {
		return &models.InputBundle{}, nil
	}
	if len(files) > limits.MaxFileCount {
		return nil, fmt.Errorf("too many files: %d exceeds the limit of %d", len(files), limits.MaxFileCount)
	}

	bundle := &models.InputBundle{}
	var total int64
	for _, fh := range files {
		name := filepath.Base(fh.Filename)
		if name == "" || name == "." || strings.ContainsAny(fh.Filename, "\x00") {
			return nil, fmt.Errorf("invalid filename %q", fh.Filename)
		}
		if fh.Size > limits.MaxFileBytes {
			return nil, fmt.Errorf("file %q is %d bytes, exceeding the per-file limit of %d", name, fh.Size, limits.MaxFileBytes)
		}
		total += fh.Size
		if total > limits.MaxBundleBytes {
			return nil, fmt.Errorf("bundle exceeds the total size limit of %d bytes", limits.MaxBundleBytes)
		}

		content, err := readAll(fh, limits.MaxFileBytes)
		if err != nil {
			return nil, err
		}

		ext := strings.ToLower(filepath.Ext(name))
		artifact := models.Artifact{
			Path:      name,
			Content:   content,
			SizeBytes: int64(len(content)),
		}

		if screenshotExtensions[ext] {
			artifact.Kind = models.ArtifactScreenshot
			artifact.ContentHash = fingerprint.Screenshot(name, content).String()
		} else {
			artifact.Kind = models.ArtifactCode
			if lang, ok := languageByExtension[ext]; ok {
				artifact.Language = lang
			} else {
				artifact.Language = strings.TrimPrefix(ext, ".")
			}
			artifact.ContentHash = fingerprint.File(name, artifact.Language, content).String()
		}
		bundle.Artifacts = append(bundle.Artifacts, artifact)
	}
	return bundle, nil
}

func readAll(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("opening upload %q: %w", fh.Filename, err)
	}
	defer f.Close()

	content, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading upload %q: %w", fh.Filename, err)
	}
	if int64(len(content)) > limit {
		return nil, fmt.Errorf("file %q exceeds the per-file limit of %d bytes", fh.Filename, limit)
	}
	return content, nil
}
