package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
	"go.uber.org/zap"

	"github.com/mocklab/backend/internal/shared/types"
)

// Seeder loads declarative service definitions from disk at startup
type Seeder struct {
	registry *Registry
	dir      string
}

// NewSeeder creates a seeder rooted at dir
func NewSeeder(registry *Registry, dir string) *Seeder {
	return &Seeder{registry: registry, dir: dir}
}

// Seed walks the seed directory and creates an instance per valid
// definition file (.json, .yaml/.yml, .toml). Invalid files are logged and
// skipped; a missing directory is not an error.
func (s *Seeder) Seed() (loaded, failed int, err error) {
	if _, statErr := os.Stat(s.dir); os.IsNotExist(statErr) {
		s.registry.logger.Warn("seed directory not found", zap.String("dir", s.dir))
		return 0, 0, nil
	}

	walkErr := filepath.Walk(s.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		cfg, decodeErr := decodeServiceConfig(path)
		if decodeErr != nil {
			if decodeErr == errUnknownFormat {
				return nil
			}
			s.registry.logger.Warn("skipping invalid seed file",
				zap.String("path", path), zap.Error(decodeErr))
			failed++
			return nil
		}

		if _, createErr := s.registry.Create(cfg); createErr != nil {
			s.registry.logger.Warn("failed to seed service",
				zap.String("path", path), zap.Error(createErr))
			failed++
			return nil
		}
		loaded++
		return nil
	})
	if walkErr != nil {
		return loaded, failed, fmt.Errorf("walk seed dir %s: %w", s.dir, walkErr)
	}

	s.registry.logger.Info("seeding complete",
		zap.Int("loaded", loaded), zap.Int("failed", failed))
	return loaded, failed, nil
}

var errUnknownFormat = fmt.Errorf("unknown seed file format")

// decodeServiceConfig picks the decoder by extension
func decodeServiceConfig(path string) (types.ServiceConfig, error) {
	var cfg types.ServiceConfig

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = sonic.Unmarshal(data, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	case ".toml":
		err = toml.Unmarshal(data, &cfg)
	default:
		return cfg, errUnknownFormat
	}
	if err != nil {
		return cfg, err
	}
	if cfg.Name == "" {
		return cfg, ErrEmptyName
	}
	return cfg, nil
}
