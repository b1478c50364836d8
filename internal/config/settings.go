package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Defaults applied by FromEnv when a variable is unset.
const (
	DefaultStore         = "sqlite"
	DefaultTokenizerDir  = "tokenizers"
	DefaultCollection    = "lexrag"
	DefaultQdrantPort    = 6334
	DefaultHost          = "127.0.0.1"
	DefaultPort          = 8080
	DefaultRateLimit     = 2.0
	DefaultRateBurst     = 5
	defaultDBFileSQLite  = "passages.db"
	defaultDBFileBolt    = "passages.bolt"
	defaultLexragDirName = ".lexrag"
)

// Settings is the typed, resolved runtime configuration.
type Settings struct {
	Store         string
	DBPath        string
	Qdrant        QdrantConfig
	Tokenizer     string
	TokenizerDir  string
	ContextWindow int
	Corpus        CorpusConfig
	Server        ServerConfig
}

// FromEnv resolves Settings from the environment. Malformed numeric values
// are reported as errors; missing required values are left for Validate.
func FromEnv() (*Settings, error) {
	var errs []error

	s := &Settings{
		Store:        strings.ToLower(getEnvOrDefault("LEXRAG_STORE", DefaultStore)),
		DBPath:       os.Getenv("LEXRAG_DB_PATH"),
		Tokenizer:    os.Getenv("LEXRAG_TOKENIZER"),
		TokenizerDir: getEnvOrDefault("LEXRAG_TOKENIZER_DIR", DefaultTokenizerDir),
		Qdrant: QdrantConfig{
			Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
			Collection: getEnvOrDefault("QDRANT_COLLECTION", DefaultCollection),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
		},
		Corpus: CorpusConfig{
			Path:    os.Getenv("LEXRAG_CORPUS_PATH"),
			Include: splitList(os.Getenv("LEXRAG_CORPUS_INCLUDE")),
			Exclude: splitList(os.Getenv("LEXRAG_CORPUS_EXCLUDE")),
		},
		Server: ServerConfig{
			Host:     getEnvOrDefault("LEXRAG_HOST", DefaultHost),
			AdminKey: os.Getenv("LEXRAG_ADMIN_KEY"),
		},
	}

	var err error
	if s.ContextWindow, err = envInt("LEXRAG_CONTEXT_WINDOW", 0); err != nil {
		errs = append(errs, err)
	}
	if s.Qdrant.Port, err = envInt("QDRANT_PORT", DefaultQdrantPort); err != nil {
		errs = append(errs, err)
	}
	if s.Qdrant.TLS, err = envBool("QDRANT_TLS"); err != nil {
		errs = append(errs, err)
	}
	if s.Corpus.Workers, err = envInt("LEXRAG_INGEST_WORKERS", 0); err != nil {
		errs = append(errs, err)
	}
	if s.Server.Port, err = envInt("LEXRAG_PORT", DefaultPort); err != nil {
		errs = append(errs, err)
	}
	if s.Server.RateBurst, err = envInt("LEXRAG_RATE_BURST", DefaultRateBurst); err != nil {
		errs = append(errs, err)
	}
	if s.Server.RateLimit, err = envFloat("LEXRAG_RATE_LIMIT", DefaultRateLimit); err != nil {
		errs = append(errs, err)
	}

	if s.DBPath == "" && s.Store != "qdrant" {
		s.DBPath = defaultDBPath(s.Store)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate reports every missing or invalid setting needed to query the
// index. Any error here is a fatal startup error.
func (s *Settings) Validate() error {
	var errs []error
	switch s.Store {
	case "sqlite", "bolt":
		if s.DBPath == "" {
			errs = append(errs, fmt.Errorf("config: LEXRAG_DB_PATH is required for the %s store", s.Store))
		}
	case "qdrant":
		if s.Qdrant.Collection == "" {
			errs = append(errs, fmt.Errorf("config: QDRANT_COLLECTION is required for the qdrant store"))
		}
	default:
		errs = append(errs, fmt.Errorf("config: LEXRAG_STORE %q is invalid (valid: sqlite, bolt, qdrant)", s.Store))
	}
	if s.Tokenizer == "" {
		errs = append(errs, fmt.Errorf("config: LEXRAG_TOKENIZER is required"))
	}
	if s.ContextWindow <= 0 {
		errs = append(errs, fmt.Errorf("config: LEXRAG_CONTEXT_WINDOW must be a positive integer"))
	}
	if s.Server.RateLimit < 0 || s.Server.RateBurst < 0 {
		errs = append(errs, fmt.Errorf("config: LEXRAG_RATE_LIMIT and LEXRAG_RATE_BURST must not be negative"))
	}
	return errors.Join(errs...)
}

// ValidateForSeed additionally requires a corpus location.
func (s *Settings) ValidateForSeed() error {
	err := s.Validate()
	if s.Corpus.Path == "" {
		err = errors.Join(err, fmt.Errorf("config: LEXRAG_CORPUS_PATH is required for seeding"))
	} else if fi, statErr := os.Stat(s.Corpus.Path); statErr != nil || !fi.IsDir() {
		err = errors.Join(err, fmt.Errorf("config: LEXRAG_CORPUS_PATH %q is not a directory", s.Corpus.Path))
	}
	return err
}

// defaultDBPath returns ~/.lexrag/<file> for the store, or "" if the home
// directory cannot be determined.
func defaultDBPath(store string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	file := defaultDBFileSQLite
	if store == "bolt" {
		file = defaultDBFileBolt
	}
	return filepath.Join(home, defaultLexragDirName, file)
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not an integer", key, v)
	}
	return i, nil
}

func envFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not a number", key, v)
	}
	return f, nil
}

func envBool(key string) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s=%q is not a boolean", key, v)
	}
	return b, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
