package blueprint

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
)

// Format is a blueprint document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFromPath picks the format from a file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// FormatFromContentType picks the format from an HTTP Content-Type,
// defaulting to JSON.
func FormatFromContentType(contentType string) Format {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return FormatJSON
	}
	switch mediaType {
	case "application/yaml", "application/x-yaml", "text/yaml", "text/x-yaml":
		return FormatYAML
	case "application/toml", "text/toml", "application/x-toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

// decode turns a document into its generic top-level mapping.
func decode(data []byte, format Format) (map[string]any, error) {
	var doc map[string]any
	var err error

	switch format {
	case FormatJSON, "":
		err = sonic.ConfigStd.Unmarshal(data, &doc)
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	case FormatTOML:
		err = toml.Unmarshal(data, &doc)
	default:
		return nil, parseErrorf("", "", "unsupported format %q", format)
	}
	if err != nil {
		return nil, parseErrorf("", "", "invalid %s document: %v", formatName(format), err)
	}
	if doc == nil {
		return nil, parseErrorf("", "", "document is empty")
	}
	return doc, nil
}

func formatName(f Format) string {
	if f == "" {
		return string(FormatJSON)
	}
	return string(f)
}

// Encode renders v in the given format. Used to write the sample blueprint
// and by the CLI to convert documents.
func Encode(v any, format Format) ([]byte, error) {
	switch format {
	case FormatJSON, "":
		return sonic.ConfigStd.MarshalIndent(v, "", "  ")
	case FormatYAML:
		return yaml.Marshal(v)
	case FormatTOML:
		return toml.Marshal(v)
	}
	return nil, fmt.Errorf("unsupported format %q", format)
}
