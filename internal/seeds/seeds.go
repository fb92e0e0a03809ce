package seeds

import (
	"fmt"
	"os"

	"stdinfuzz/config"

	"go.uber.org/zap"
)

// DefaultSeed is used when neither a seed file nor an inline seed is configured.
const DefaultSeed = "<html>\n" +
	"<body>\n" +
	"\n" +
	"<p>aaaa</p>\n" +
	"\n" +
	"<img width=\"500\">\n" +
	"\n" +
	"</body>\n" +
	"</html>\n" +
	"\n"

// Seed is the single starting input of a campaign. Data must be treated as read-only.
type Seed struct {
	Data   []byte
	Origin string // file path, "campaign file" or "built-in"
}

// Load picks the seed from the seed file, the inline campaign seed or the
// built-in document, in that order. An empty seed file is returned as is and
// rejected later by the mutation engine.
func Load(cfg config.CampaignConfig) (*Seed, error) {
	if cfg.SeedFile != "" {
		data, err := os.ReadFile(cfg.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read seed file: %w", err)
		}
		return &Seed{data, cfg.SeedFile}, nil
	}
	if cfg.InlineSeed != "" {
		return &Seed{[]byte(cfg.InlineSeed), "campaign file"}, nil
	}
	return &Seed{[]byte(DefaultSeed), "built-in"}, nil
}

func NewSeed(cfg *config.AppConfig, logger *zap.Logger) (*Seed, error) {
	seed, err := Load(cfg.Campaign)
	if err != nil {
		return nil, err
	}
	logger.Debug("seed loaded", zap.String("origin", seed.Origin), zap.Int("size", len(seed.Data)))
	return seed, nil
}
