package runtime

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/jingkaihe/skillc/pkg/config"
	"github.com/jingkaihe/skillc/pkg/fsutil"
	"github.com/pkg/errors"
)

const (
	// ManifestVersion is the manifest format written by this build.
	ManifestVersion = 1
	ManifestFile    = "manifest.json"
	StubFile        = "SKILL.md"
)

// Manifest is the provenance record of one compiled skill.
type Manifest struct {
	Skill        string           `json:"skill" jsonschema:"description=Skill directory name"`
	Version      int              `json:"version" jsonschema:"description=Manifest format version"`
	BuiltAt      time.Time        `json:"built_at" jsonschema:"description=Build timestamp (RFC3339)"`
	SourceHash   string           `json:"source_hash" jsonschema:"description=Fingerprint of the source tree"`
	SourcePath   string           `json:"source_path" jsonschema:"description=Absolute source directory"`
	Scope        config.Scope     `json:"scope" jsonschema:"enum=project,enum=global"`
	StubBytes    int              `json:"stub_bytes"`
	StubLines    int              `json:"stub_lines"`
	Truncated    bool             `json:"truncated" jsonschema:"description=Stub was cut at the line ceiling"`
	MaxStubLines int              `json:"max_stub_lines,omitempty" jsonschema:"description=Line ceiling the stub was compiled under"`
	Tokenizer    config.Tokenizer `json:"tokenizer,omitempty" jsonschema:"enum=ascii,enum=cjk"`
}

// ReadManifest loads the manifest of the entry at dir. A missing manifest
// returns an error satisfying os.IsNotExist.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, config.MetaDir, ManifestFile))
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "failed to decode manifest")
	}
	return &m, nil
}

// WriteManifest writes m into the entry at dir atomically.
func WriteManifest(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode manifest")
	}
	return fsutil.WriteFileAtomic(filepath.Join(dir, config.MetaDir, ManifestFile), append(data, '\n'), 0o644)
}

// IndexFileName names a skill's search database after its source path so
// that two sources publishing into one entry cannot share an index.
func IndexFileName(sourcePath string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(sourcePath)))
	return "search-" + hex.EncodeToString(sum[:])[:16] + ".db"
}

// IndexPath is where the search database of the entry at dir lives.
func IndexPath(dir, sourcePath string) string {
	return filepath.Join(dir, config.MetaDir, IndexFileName(sourcePath))
}

// ManifestSchema returns the JSON schema of the manifest file.
func ManifestSchema() *jsonschema.Schema {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	return r.Reflect(&Manifest{})
}
