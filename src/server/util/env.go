package util

import (
	"os"

	"gopkg.in/ini.v1"
)

// envLocalFile holds developer overrides in KEY=value form.
var envLocalFile = ".env.local"

// Getenv returns the variable from the process environment, falling back
// to .env.local. Quotes around values in the file are dropped.
func Getenv(key string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return LoadEnvLocal(key)
}

// LoadEnvLocal reads key from .env.local only. A missing or unreadable file
// reads as empty.
func LoadEnvLocal(key string) string {
	f, err := ini.LoadSources(ini.LoadOptions{
		Loose:                     true,
		IgnoreInlineComment:       true,
		SkipUnrecognizableLines:   true,
		UnescapeValueDoubleQuotes: true,
	}, envLocalFile)
	if err != nil {
		return ""
	}
	return f.Section("").Key(key).String()
}
