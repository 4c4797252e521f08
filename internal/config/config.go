// Package config reads the process configuration from the environment.
package config

import (
	"time"

	"github.com/danielpatrickdp/sheetwise/internal/errs"
	"github.com/danielpatrickdp/sheetwise/internal/sheets"
)

// Oracle providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderCodec  = "codec"
)

// Config is every setting the binaries read from the environment.
type Config struct {
	SpreadsheetID    string
	GoogleEmail      string
	GooglePrivateKey string

	CatalogPath string
	RunDB       string

	OracleProvider string
	OpenAIKey      string
	OpenAIBaseURL  string
	GeminiKey      string
	CodecAddr      string
	ClassifyModel  string
	AnswerModel    string

	MaxSteps    int
	RunTimeout  time.Duration
	PerRunCache bool

	HTTPAddr    string
	OracledAddr string
}

// FromEnv reads Config with defaults applied. It does not validate.
func FromEnv() Config {
	return Config{
		SpreadsheetID:    GetEnv("SPREADSHEET_ID", ""),
		GoogleEmail:      GetEnv("GOOGLE_CLIENT_EMAIL", ""),
		GooglePrivateKey: GetEnv("GOOGLE_PRIVATE_KEY", ""),
		CatalogPath:      GetEnv("CATALOG_PATH", "tabs_mindmap.json"),
		RunDB:            GetEnv("RUN_DB", "sheetwise.db"),
		OracleProvider:   GetEnv("ORACLE_PROVIDER", ProviderOpenAI),
		OpenAIKey:        GetEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    GetEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		GeminiKey:        GetEnv("GEMINI_API_KEY", ""),
		CodecAddr:        GetEnv("CODEC_ADDR", "localhost:50051"),
		ClassifyModel:    GetEnv("CLASSIFY_MODEL", ""),
		AnswerModel:      GetEnv("ANSWER_MODEL", ""),
		MaxSteps:         GetEnvInt("MAX_STEPS", 5),
		RunTimeout:       GetEnvDuration("RUN_TIMEOUT", 30*time.Second),
		PerRunCache:      GetEnvBool("PER_RUN_CACHE", false),
		HTTPAddr:         GetEnv("HTTP_ADDR", ":8080"),
		OracledAddr:      GetEnv("ORACLED_ADDR", ":50051"),
	}
}

// ValidateSheets checks the data provider settings.
func (c Config) ValidateSheets() error {
	return missing(
		"SPREADSHEET_ID", c.SpreadsheetID,
		"GOOGLE_CLIENT_EMAIL", c.GoogleEmail,
		"GOOGLE_PRIVATE_KEY", c.GooglePrivateKey,
	)
}

// ValidateOracle checks the settings of the selected oracle provider.
func (c Config) ValidateOracle() error {
	switch c.OracleProvider {
	case ProviderGemini:
		return missing("GEMINI_API_KEY", c.GeminiKey)
	case ProviderCodec:
		return missing("CODEC_ADDR", c.CodecAddr)
	case ProviderOpenAI:
		return missing("OPENAI_API_KEY", c.OpenAIKey)
	default:
		return &errs.ConfigError{Keys: []string{"ORACLE_PROVIDER"}}
	}
}

// Validate checks everything a question-answering binary needs, reporting
// all missing keys at once.
func (c Config) Validate() error {
	var keys []string
	for _, err := range []error{c.ValidateSheets(), c.ValidateOracle()} {
		if ce, ok := err.(*errs.ConfigError); ok {
			keys = append(keys, ce.Keys...)
		}
	}
	if c.CatalogPath == "" {
		keys = append(keys, "CATALOG_PATH")
	}
	if len(keys) > 0 {
		return &errs.ConfigError{Keys: keys}
	}
	return nil
}

// Credentials returns the service account with the private key unescaped.
func (c Config) Credentials() sheets.Credentials {
	return sheets.Credentials{
		ClientEmail: c.GoogleEmail,
		PrivateKey:  sheets.UnescapeKey(c.GooglePrivateKey),
	}
}

func missing(pairs ...string) error {
	var keys []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			keys = append(keys, pairs[i])
		}
	}
	if len(keys) == 0 {
		return nil
	}
	return &errs.ConfigError{Keys: keys}
}
