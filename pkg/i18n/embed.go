package i18n

import (
	"embed"
	"io/fs"
)

// EmbeddedLocales carries locales/*.json inside the binary.
//
//go:embed locales/*.json
var EmbeddedLocales embed.FS

// LoadEmbedded loads the translations compiled into the binary.
func LoadEmbedded() error {
	sub, err := fs.Sub(EmbeddedLocales, "locales")
	if err != nil {
		return err
	}
	return Load(sub)
}
