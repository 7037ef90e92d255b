package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/hkjc-results-crawler/internal/crawler"
)

type mockApp struct {
	mock.Mock
}

func (m *mockApp) Update(ctx context.Context) (crawler.Summary, error) {
	args := m.Called(ctx)
	return args.Get(0).(crawler.Summary), args.Error(1)
}

func (m *mockApp) Serve(ctx context.Context, crawlOnStart bool) error {
	args := m.Called(ctx, crawlOnStart)
	return args.Error(0)
}

func (m *mockApp) Close(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockApp) Logger() *zap.Logger {
	return zap.NewNop()
}

// useApp swaps the factory for one returning a. Tests using it must not run in
// parallel.
func useApp(t *testing.T, a App, factoryErr error) *string {
	t.Helper()
	var gotPath string
	orig := newApp
	newApp = func(_ context.Context, cfgPath string) (App, error) {
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
	var out bytes.Buffer
	err := run(context.Background(), args, &out)
	return out.String(), err
}

func TestCrawlCommand(t *testing.T) {
	a := &mockApp{}
	a.On("Update", mock.Anything).Return(crawler.Summary{Dates: 2, RacesScheduled: 20, RecordsInserted: 150}, nil)
	a.On("Close", mock.Anything).Return(nil)
	cfgPath := useApp(t, a, nil)

	out, err := execute("crawl", "--config", "testdata.yaml")

	require.NoError(t, err)
	require.Contains(t, out, "inserted 150 records from 20 races across 2 dates")
	require.Equal(t, "testdata.yaml", *cfgPath)
	a.AssertExpectations(t)
}

func TestCrawlCommandPropagatesError(t *testing.T) {
	a := &mockApp{}
	a.On("Update", mock.Anything).Return(crawler.Summary{}, errors.New("list available dates: boom"))
	a.On("Close", mock.Anything).Return(nil)
	useApp(t, a, nil)

	_, err := execute("crawl")

	require.ErrorContains(t, err, "crawl: list available dates: boom")
	a.AssertCalled(t, "Close", mock.Anything)
}

func TestServeCommandPassesFlag(t *testing.T) {
	a := &mockApp{}
	a.On("Serve", mock.Anything, true).Return(nil)
	a.On("Close", mock.Anything).Return(nil)
	useApp(t, a, nil)

	_, err := execute("serve", "--crawl-on-start")

	require.NoError(t, err)
	a.AssertExpectations(t)
}

func TestFactoryErrorStopsCommand(t *testing.T) {
	useApp(t, nil, errors.New("db.dsn must be set"))

	_, err := execute("crawl")

	require.ErrorContains(t, err, "failed to initialize application services")
	require.ErrorContains(t, err, "db.dsn must be set")
}

func TestCloseErrorIsReported(t *testing.T) {
	a := &mockApp{}
	a.On("Update", mock.Anything).Return(crawler.Summary{}, nil)
	a.On("Close", mock.Anything).Return(errors.New("pool busy"))
	useApp(t, a, nil)

	_, err := execute("crawl")

	require.ErrorContains(t, err, "close application: pool busy")
}

func TestResolveAppWithoutApp(t *testing.T) {
	t.Parallel()

	_, err := resolveApp(context.Background())
	require.Error(t, err)
}
