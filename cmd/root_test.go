package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/gallito-crawler/internal/config"
	"github.com/JakeFAU/gallito-crawler/internal/crawler"
	"github.com/JakeFAU/gallito-crawler/internal/feed"
	"github.com/JakeFAU/gallito-crawler/internal/upload"
)

type mockApp struct {
	mock.Mock
	cfg config.Config
}

func (m *mockApp) Config() config.Config { return m.cfg }

func (m *mockApp) Logger() *zap.Logger { return zap.NewNop() }

func (m *mockApp) Crawl(ctx context.Context) (crawler.Summary, error) {
	args := m.Called(ctx)
	return args.Get(0).(crawler.Summary), args.Error(1)
}

func (m *mockApp) Upload(ctx context.Context, paths []string) ([]upload.Result, error) {
	args := m.Called(ctx, paths)
	results, _ := args.Get(0).([]upload.Result)
	return results, args.Error(1)
}

func (m *mockApp) Close() error {
	return m.Called().Error(0)
}

// useApp swaps the factory for the duration of the test.
func useApp(t *testing.T, a App, factoryErr error) *string {
	t.Helper()
	var gotPath string
	orig := newApp
	newApp = func(cfgPath string) (App, error) {
		gotPath = cfgPath
		if factoryErr != nil {
			return nil, factoryErr
		}
		return a, nil
	}
	t.Cleanup(func() { newApp = orig })
	return &gotPath
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlCommandRunsCrawl(t *testing.T) {
	a := &mockApp{}
	a.On("Crawl", mock.Anything).Return(crawler.Summary{RunID: "run-1", Listings: 2}, nil).Once()
	a.On("Close").Return(nil).Once()
	cfgPath := useApp(t, a, nil)

	_, err := execute("crawl", "--config", "crawler.yaml")
	require.NoError(t, err)
	assert.Equal(t, "crawler.yaml", *cfgPath)
	a.AssertExpectations(t)
}

func TestCrawlCommandInterruptedIsNotAnError(t *testing.T) {
	a := &mockApp{}
	a.On("Crawl", mock.Anything).Return(crawler.Summary{}, context.Canceled).Once()
	a.On("Close").Return(nil).Once()
	useApp(t, a, nil)

	_, err := execute("crawl")
	require.NoError(t, err)
	a.AssertExpectations(t)
}

func TestCrawlCommandPropagatesErrors(t *testing.T) {
	a := &mockApp{}
	boom := errors.New("upload failed")
	a.On("Crawl", mock.Anything).Return(crawler.Summary{}, boom).Once()
	a.On("Close").Return(nil).Once()
	useApp(t, a, nil)

	_, err := execute("crawl")
	assert.ErrorIs(t, err, boom)
	a.AssertExpectations(t)
}

func TestUploadCommandFailureStillClosesApp(t *testing.T) {
	a := &mockApp{}
	a.On("Upload", mock.Anything, []string{"a.jl"}).Return(nil, errors.New("no credentials")).Once()
	a.On("Close").Return(errors.New("close failed")).Once()
	useApp(t, a, nil)

	_, err := execute("upload", "a.jl")
	assert.ErrorContains(t, err, "no credentials")
	a.AssertExpectations(t)
}

func TestUploadCommandDefaultsToFeedPath(t *testing.T) {
	a := &mockApp{cfg: config.Config{Feed: feed.Config{Path: "properties_gallito.jl"}}}
	a.On("Upload", mock.Anything, []string{"properties_gallito.jl"}).
		Return([]upload.Result{{Path: "properties_gallito.jl", URI: "memory://properties_gallito.jl"}}, nil).Once()
	a.On("Close").Return(nil).Once()
	useApp(t, a, nil)

	out, err := execute("upload")
	require.NoError(t, err)
	assert.Contains(t, out, "memory://properties_gallito.jl")
	a.AssertExpectations(t)
}

func TestUploadCommandUsesArgs(t *testing.T) {
	a := &mockApp{}
	a.On("Upload", mock.Anything, []string{"a.jl", "b.jl"}).Return([]upload.Result{}, nil).Once()
	a.On("Close").Return(nil).Once()
	useApp(t, a, nil)

	_, err := execute("upload", "a.jl", "b.jl")
	require.NoError(t, err)
	a.AssertExpectations(t)
}

func TestRootCommandFactoryError(t *testing.T) {
	useApp(t, nil, errors.New("bad config"))

	_, err := execute("crawl")
	assert.ErrorContains(t, err, "failed to initialize application services")
}

func TestResolveAppWithoutApp(t *testing.T) {
	_, err := resolveApp(context.Background())
	assert.ErrorContains(t, err, "not initialized")
}

func TestScheduleCommandRejectsBadCron(t *testing.T) {
	a := &mockApp{}
	a.On("Close").Return(nil).Once()
	useApp(t, a, nil)

	_, err := execute("schedule", "--cron", "every now and then")
	assert.ErrorContains(t, err, "parse schedule")
	a.AssertExpectations(t)
}

func TestScheduleCommandStopsWithContext(t *testing.T) {
	a := &mockApp{}
	a.On("Close").Return(nil).Once()
	useApp(t, a, nil)

	root := newRootCmd()
	root.SetArgs([]string{"schedule", "--cron", "@yearly"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, root.ExecuteContext(ctx))
	a.AssertNotCalled(t, "Crawl", mock.Anything)
}
