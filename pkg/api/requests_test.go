package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luissimon96/migration-validator/pkg/config"
	"github.com/luissimon96/migration-validator/pkg/models"
)

func multipartWithFiles(t *testing.T, field string, files map[string][]byte) []*multipart.FileHeader {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for name, content := range files {
		part, err := writer.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest("POST", "/", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(64<<20))
	return req.MultipartForm.File[field]
}

func testLimits() *config.LimitsConfig {
	return &config.LimitsConfig{
		MaxBundleBytes: 1024,
		MaxFileBytes:   128,
		MaxFileCount:   3,
	}
}

func TestReadBundleDetectsLanguages(t *testing.T) {
	files := multipartWithFiles(t, "source_files", map[string][]byte{
		"app.py":     []byte("def f(): pass"),
		"shot.png":   {0x89, 0x50, 0x4e, 0x47},
		"Widget.tsx": []byte("export const W = () => null"),
	})
	bundle, err := readBundle(files, testLimits())
	require.NoError(t, err)
	require.Len(t, bundle.Artifacts, 3)

	byPath := map[string]models.Artifact{}
	for _, a := range bundle.Artifacts {
		byPath[a.Path] = a
		assert.NotEmpty(t, a.ContentHash)
	}
	assert.Equal(t, "python", byPath["app.py"].Language)
	assert.Equal(t, models.ArtifactScreenshot, byPath["shot.png"].Kind)
	assert.Equal(t, "typescript", byPath["Widget.tsx"].Language)
}

func TestReadBundleFileAtExactCeilingAccepted(t *testing.T) {
	limits := testLimits()
	files := multipartWithFiles(t, "f", map[string][]byte{
		"exact.py": bytes.Repeat([]byte("a"), int(limits.MaxFileBytes)),
	})
	_, err := readBundle(files, limits)
	assert.NoError(t, err, "a file at exactly the ceiling is accepted")
}

func TestReadBundleFileOneByteOverRejected(t *testing.T) {
	limits := testLimits()
	files := multipartWithFiles(t, "f", map[string][]byte{
		"over.py": bytes.Repeat([]byte("a"), int(limits.MaxFileBytes)+1),
	})
	_, err := readBundle(files, limits)
	assert.Error(t, err, "one byte over the ceiling is rejected")
}

func TestReadBundleCountCeiling(t *testing.T) {
	limits := testLimits()
	files := multipartWithFiles(t, "f", map[string][]byte{
		"a.py": []byte("1"), "b.py": []byte("2"), "c.py": []byte("3"), "d.py": []byte("4"),
	})
	_, err := readBundle(files, limits)
	assert.Error(t, err)
}

func TestReadBundleTotalCeiling(t *testing.T) {
	limits := testLimits()
	limits.MaxBundleBytes = 200
	files := multipartWithFiles(t, "f", map[string][]byte{
		"a.py": bytes.Repeat([]byte("a"), 128),
		"b.py": bytes.Repeat([]byte("b"), 128),
	})
	_, err := readBundle(files, limits)
	assert.Error(t, err)
}

func TestToSessionScopeValidation(t *testing.T) {
	req := &ValidateConfigRequest{
		SourceTech: TechRequest{Name: "python-flask"},
		TargetTech: TechRequest{Name: "java-spring"},
		Scope:      "backend-logic",
	}
	sess, err := req.toSession("rid", "tenant-1", &models.InputBundle{}, &models.InputBundle{})
	require.NoError(t, err)
	assert.Equal(t, models.ScopeBackendLogic, sess.Scope, "dashes are folded to underscores")
	assert.Equal(t, "tenant-1", sess.Tenant)
	assert.Equal(t, models.BandInteractive, sess.Band)

	req.Scope = "nonsense"
	_, err = req.toSession("rid", "", nil, nil)
	assert.Error(t, err)
}

func TestToSessionBehavioralScopeRequiresURLs(t *testing.T) {
	req := &ValidateConfigRequest{
		SourceTech: TechRequest{Name: "a"},
		TargetTech: TechRequest{Name: "b"},
		Scope:      "full",
	}
	_, err := req.toSession("rid", "", &models.InputBundle{}, &models.InputBundle{})
	require.Error(t, err, "full scope needs URLs and scenarios")

	req.SourceURL = "http://old.example.com"
	req.TargetURL = "http://new.example.com"
	req.Scenarios = []ScenarioRequest{{Name: "login"}}
	sess, err := req.toSession("rid", "", &models.InputBundle{}, &models.InputBundle{})
	require.NoError(t, err)
	require.NotNil(t, sess.Behavioral)
	assert.Len(t, sess.Behavioral.Scenarios, 1)
}

func TestToSessionIgnoresURLsOutsideBehavioralScopes(t *testing.T) {
	req := &ValidateConfigRequest{
		SourceTech: TechRequest{Name: "a"},
		TargetTech: TechRequest{Name: "b"},
		Scope:      "ui",
		SourceURL:  "http://old.example.com",
		TargetURL:  "http://new.example.com",
	}
	sess, err := req.toSession("rid", "", &models.InputBundle{}, &models.InputBundle{})
	require.NoError(t, err)
	assert.Nil(t, sess.Behavioral)
}

func TestCredentialsNeverSerialized(t *testing.T) {
	cfg := behavioralConfig("http://s", "http://t",
		[]ScenarioRequest{{Name: "login"}},
		&CredentialsInput{Username: "admin", Password: "hunter2"}, 0)

	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "hunter2"),
		"credentials must never appear in serialized form")
}
