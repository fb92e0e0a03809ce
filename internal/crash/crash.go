package crash

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"stdinfuzz/config"
	"stdinfuzz/internal/types"
	"stdinfuzz/pkg/mq"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// CrashManager keeps what a halted campaign found: the triggering input as a
// reproducer file and a notification on the crash queue. Both are optional.
type CrashManager struct {
	logger *zap.Logger

	crashFolder string // empty disables reproducer files
	queue       string
	mq          mq.RabbitMQ // nil disables notifications
}

type CrashManagerParams struct {
	fx.In

	Logger    *zap.Logger
	AppConfig *config.AppConfig
	RabbitMQ  mq.RabbitMQ `optional:"true"`
}

func NewCrashManager(p CrashManagerParams) (*CrashManager, error) {
	crashFolder := p.AppConfig.CrashDir
	if crashFolder != "" {
		if err := os.MkdirAll(crashFolder, 0755); err != nil {
			return nil, fmt.Errorf("failed to create crash folder: %w", err)
		}
	}

	return &CrashManager{
		p.Logger.Named("crash"),
		crashFolder,
		p.AppConfig.CrashQueue,
		p.RabbitMQ,
	}, nil
}

// Handle stores and announces a crash. Every sink is attempted even when an
// earlier one fails.
func (c *CrashManager) Handle(ctx context.Context, report *types.CrashReport) error {
	reproducer, saveErr := c.saveReproducer(report)
	if saveErr != nil {
		c.logger.Error("failed to save reproducer", zap.Error(saveErr))
	} else if reproducer != "" {
		c.logger.Info("reproducer saved", zap.String("path", reproducer))
	}

	pubErr := c.publish(ctx, report, reproducer)
	if pubErr != nil {
		c.logger.Error("failed to publish crash", zap.Error(pubErr))
	}
	return errors.Join(saveErr, pubErr)
}

// saveReproducer writes the input to <crash folder>/<campaign>/<md5 of input>.
func (c *CrashManager) saveReproducer(report *types.CrashReport) (string, error) {
	if c.crashFolder == "" {
		return "", nil
	}

	crashStore := filepath.Join(c.crashFolder, report.CampaignID)
	if err := os.MkdirAll(crashStore, 0755); err != nil {
		return "", fmt.Errorf("failed to create crash store directory: %w", err)
	}

	crashMd5 := md5.Sum(report.Mutant.Data)
	crashPath := filepath.Join(crashStore, hex.EncodeToString(crashMd5[:]))
	if err := os.WriteFile(crashPath, report.Mutant.Data, 0644); err != nil {
		return "", fmt.Errorf("failed to write crash file: %w", err)
	}
	return crashPath, nil
}

func (c *CrashManager) publish(ctx context.Context, report *types.CrashReport, reproducer string) error {
	if c.mq == nil {
		return nil
	}

	body, err := json.Marshal(types.NewCrashMessage(report, reproducer))
	if err != nil {
		return fmt.Errorf("failed to encode crash message: %w", err)
	}
	if err := c.mq.Publish(ctx, c.queue, body); err != nil {
		return err
	}
	c.logger.Debug("crash published", zap.String("queue", c.queue))
	return nil
}
