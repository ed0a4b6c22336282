package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// ManifestFile is the manifest file name inside a plugin directory.
const ManifestFile = "plugin.json"

// DefaultMain is the entry script of a functional pack that declares none.
const DefaultMain = "script.js"

// Type is the plugin category.
type Type string

const (
	TypeTheme Type = "theme"
	// TypePack is a functional pack. "functional-pack" is accepted as an alias.
	TypePack           Type = "pack"
	TypeFunctionalPack Type = "functional-pack"
)

// Functional reports whether the type is a functional pack.
func (t Type) Functional() bool {
	return t == TypePack || t == TypeFunctionalPack
}

// Manifest is the parsed plugin.json.
type Manifest struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Version       string       `json:"version"`
	Type          Type         `json:"type"`
	MinAppVersion string       `json:"minAppVersion"`
	Main          string       `json:"main,omitempty"`
	Style         string       `json:"style,omitempty"`
	Permissions   []Capability `json:"permissions,omitempty"`
	Description   string       `json:"description,omitempty"`
	Author        string       `json:"author,omitempty"`
}

// EntryScript returns the entry script path relative to the plugin
// directory, or "" for a theme without one.
func (m Manifest) EntryScript() string {
	if m.Main != "" {
		return m.Main
	}
	if m.Type.Functional() {
		return DefaultMain
	}
	return ""
}

// HasPermission reports whether the manifest declares c.
func (m Manifest) HasPermission(c Capability) bool {
	for _, p := range m.Permissions {
		if p == c {
			return true
		}
	}
	return false
}

var manifestSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(manifestSchemaJSON))
})

const manifestSchemaJSON = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["id", "name", "version", "type", "minAppVersion"],
	"properties": {
		"id": {"type": "string", "pattern": "^[A-Za-z0-9][A-Za-z0-9._-]*$"},
		"name": {"type": "string", "minLength": 1},
		"version": {"type": "string", "minLength": 1},
		"type": {"enum": ["theme", "pack", "functional-pack"]},
		"minAppVersion": {"type": "string", "pattern": "^[0-9]+\\.[0-9]+"},
		"main": {"type": "string", "minLength": 1},
		"style": {"type": "string", "minLength": 1},
		"permissions": {"type": "array", "items": {"type": "string"}}
	}
}`

// LoadManifest reads and schema-checks dir/plugin.json without checking
// version compatibility or assets.
func LoadManifest(dir string) (Manifest, error) {
	path := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, &ValidationError{Path: dir, Field: ManifestFile, Detail: err.Error(), Err: ErrInvalidManifest}
	}

	schema, err := manifestSchema()
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to compile manifest schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Manifest{}, &ValidationError{Path: dir, Field: ManifestFile, Detail: err.Error(), Err: ErrInvalidManifest}
	}
	if !result.Valid() {
		first := result.Errors()[0]
		field := first.Field()
		if first.Type() == "required" {
			if p, ok := first.Details()["property"].(string); ok {
				field = p
			}
		}
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return Manifest{}, &ValidationError{Path: dir, Field: field, Detail: strings.Join(details, "; "), Err: ErrInvalidManifest}
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, &ValidationError{Path: dir, Field: ManifestFile, Detail: err.Error(), Err: ErrInvalidManifest}
	}
	return m, nil
}

// Validate checks the plugin directory at dir against hostVersion:
// manifest fields, version compatibility, then declared assets.
func Validate(dir, hostVersion string) (Manifest, error) {
	m, err := LoadManifest(dir)
	if err != nil {
		return Manifest{}, err
	}

	ok, err := Compatible(m.MinAppVersion, hostVersion)
	if err != nil {
		return Manifest{}, &ValidationError{Path: dir, Field: "minAppVersion", Detail: err.Error(), Err: ErrInvalidManifest}
	}
	if !ok {
		return Manifest{}, &ValidationError{
			Path:   dir,
			Field:  "minAppVersion",
			Detail: fmt.Sprintf("requires %s, host is %s", m.MinAppVersion, hostVersion),
			Err:    ErrIncompatibleVersion,
		}
	}

	for _, asset := range []struct{ field, rel string }{
		{"main", m.EntryScript()},
		{"style", m.Style},
	} {
		if asset.rel == "" {
			continue
		}
		if err := checkAsset(dir, asset.rel); err != nil {
			return Manifest{}, &ValidationError{Path: dir, Field: asset.field, Detail: err.Error(), Err: ErrMissingAsset}
		}
	}

	return m, nil
}

func checkAsset(dir, rel string) error {
	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		return fmt.Errorf("%s points outside the plugin directory", rel)
	}
	info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(rel)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s does not exist", rel)
		}
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", rel)
	}
	return nil
}

// Compatible reports whether hostVersion satisfies minVersion, comparing
// major and minor numbers only.
func Compatible(minVersion, hostVersion string) (bool, error) {
	minMajor, minMinor, err := majorMinor(minVersion)
	if err != nil {
		return false, err
	}
	curMajor, curMinor, err := majorMinor(hostVersion)
	if err != nil {
		return false, err
	}
	return curMajor > minMajor || (curMajor == minMajor && curMinor >= minMinor), nil
}

func majorMinor(v string) (int, int, error) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	parts := strings.SplitN(v, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("version %q is not major.minor", v)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("version %q: bad major: %w", v, err)
	}
	// Tolerate suffixes such as "1.2-beta".
	minorDigits := parts[1]
	if i := strings.IndexFunc(minorDigits, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
		minorDigits = minorDigits[:i]
	}
	minor, err := strconv.Atoi(minorDigits)
	if err != nil {
		return 0, 0, fmt.Errorf("version %q: bad minor: %w", v, err)
	}
	return major, minor, nil
}
