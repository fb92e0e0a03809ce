package crash

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stdinfuzz/config"
	"stdinfuzz/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type publishCall struct {
	queue string
	body  []byte
}

type fakeMQ struct {
	calls []publishCall
	err   error
}

func (f *fakeMQ) Publish(ctx context.Context, queue string, body []byte) error {
	f.calls = append(f.calls, publishCall{queue, body})
	return f.err
}

func testReport() *types.CrashReport {
	return &types.CrashReport{
		CampaignID: "c0ffee",
		Target:     types.TargetCommand{Name: "./vuln", Argv: []string{"sh", "-c", "./vuln"}},
		Mutant:     types.Mutant{Index: 5, Round: 1, Operator: types.OpInsert, Data: []byte("<html>AAAAAAAA")},
		ExitCode:   139,
		Output:     "Segmentation fault",
		DetectedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestHandleWritesReproducer(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "crashes")
	c, err := NewCrashManager(CrashManagerParams{
		Logger:    zaptest.NewLogger(t),
		AppConfig: &config.AppConfig{CrashDir: dir},
	})
	require.NoError(t, err)
	assert.DirExists(t, dir)

	report := testReport()
	require.NoError(t, c.Handle(context.Background(), report))

	sum := md5.Sum(report.Mutant.Data)
	path := filepath.Join(dir, "c0ffee", hex.EncodeToString(sum[:]))
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, report.Mutant.Data, content)
}

func TestHandleDisabled(t *testing.T) {
	c, err := NewCrashManager(CrashManagerParams{
		Logger:    zaptest.NewLogger(t),
		AppConfig: &config.AppConfig{},
	})
	require.NoError(t, err)
	assert.NoError(t, c.Handle(context.Background(), testReport()))
}

func TestHandlePublishes(t *testing.T) {
	dir := t.TempDir()
	broker := &fakeMQ{}
	c, err := NewCrashManager(CrashManagerParams{
		Logger:    zaptest.NewLogger(t),
		AppConfig: &config.AppConfig{CrashDir: dir, CrashQueue: "crashes"},
		RabbitMQ:  broker,
	})
	require.NoError(t, err)

	require.NoError(t, c.Handle(context.Background(), testReport()))
	require.Len(t, broker.calls, 1)
	assert.Equal(t, "crashes", broker.calls[0].queue)

	var msg types.CrashMessage
	require.NoError(t, json.Unmarshal(broker.calls[0].body, &msg))
	assert.Equal(t, "c0ffee", msg.CampaignID)
	assert.Equal(t, "./vuln", msg.Command)
	assert.Equal(t, "insert", msg.Operator)
	assert.Equal(t, 5, msg.Index)
	assert.Equal(t, []byte("<html>AAAAAAAA"), msg.Input)
	assert.Equal(t, 139, msg.ExitCode)
	assert.Equal(t, filepath.Join(dir, "c0ffee"), filepath.Dir(msg.Reproducer))
}

func TestHandleKeepsGoingWhenPublishFails(t *testing.T) {
	dir := t.TempDir()
	broker := &fakeMQ{err: errors.New("connection refused")}
	c, err := NewCrashManager(CrashManagerParams{
		Logger:    zaptest.NewLogger(t),
		AppConfig: &config.AppConfig{CrashDir: dir, CrashQueue: "crashes"},
		RabbitMQ:  broker,
	})
	require.NoError(t, err)

	err = c.Handle(context.Background(), testReport())
	assert.ErrorContains(t, err, "connection refused")

	entries, err := os.ReadDir(filepath.Join(dir, "c0ffee"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "reproducer is saved regardless")
}
