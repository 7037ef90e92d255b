package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/hkjc-results-crawler/internal/app"
	"github.com/JakeFAU/hkjc-results-crawler/internal/config"
	"github.com/JakeFAU/hkjc-results-crawler/internal/crawler"
	memorypublisher "github.com/JakeFAU/hkjc-results-crawler/internal/publisher/memory"
	memorystorage "github.com/JakeFAU/hkjc-results-crawler/internal/storage/memory"
)

const listingPage = `<html><body><select id="selectId">
<option value="10/03/2024">10/03/2024</option>
<option value="01/01/2099">01/01/2099</option>
</select></body></html>`

// fakeSite serves a listing with one past and one future meeting; the past
// meeting has results for races 1 and 2 only.
type fakeSite struct {
	raceRequests atomic.Int64
}

func (s *fakeSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date := q.Get("RaceDate")
	if date == "" {
		_, _ = w.Write([]byte(listingPage))
		return
	}
	s.raceRequests.Add(1)
	if date != "10/03/2024" {
		http.Error(w, "unexpected date "+date, http.StatusBadRequest)
		return
	}
	switch q.Get("RaceNo") {
	case "1", "2":
		_, _ = w.Write([]byte(racePage(q.Get("RaceNo"))))
	default:
		_, _ = w.Write([]byte("<html><body>no information</body></html>"))
	}
}

func racePage(raceNo string) string {
	var b strings.Builder
	b.WriteString(`<html><body><table class="f_tac table_bd draggable"><thead>`)
	b.WriteString(`<tr><td colspan="13">Race ` + raceNo + `</td></tr><tr><td>Pla.</td></tr></thead><tbody>`)
	for place := 1; place <= 2; place++ {
		cells := []string{
			fmt.Sprint(place), fmt.Sprint(place + 3), "Horse " + raceNo, "Jockey", "Trainer",
			"1100", "126", "5", "1/2", "<div>1</div><div>2</div>", "1:10.11", "4.5", "",
		}
		b.WriteString("<tr>")
		for _, c := range cells {
			b.WriteString("<td>" + c + "</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString(`</tbody></table></body></html>`)
	return b.String()
}

func testConfig(baseURL string) config.Config {
	return config.Config{
		Server:  config.ServerConfig{Port: 8080},
		Source:  config.SourceConfig{BaseURL: baseURL, UserAgent: "hkjc-test", TimeoutSeconds: 5, Timezone: "Asia/Hong_Kong"},
		Crawler: config.CrawlerConfig{RaceCeiling: 4, WorkersPerDate: 2},
		Storage: config.StorageConfig{Driver: config.DriverMemory},
		Export:  config.ExportConfig{Enabled: true, Backend: config.BackendLocal, Path: "racing_data.json", Checksum: true},
	}
}

func TestUpdateCrawlsStoresAndFansOut(t *testing.T) {
	t.Parallel()

	site := &fakeSite{}
	srv := httptest.NewServer(site)
	t.Cleanup(srv.Close)

	blobs := memorystorage.NewBlobStore()
	pub := memorypublisher.New()
	a, err := app.Build(context.Background(), testConfig(srv.URL+"/results"), zap.NewNop(),
		app.WithBlobStore(blobs),
		app.WithPublisher(pub),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	summary, err := a.Update(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, summary.Dates)
	require.Equal(t, 4, summary.RacesScheduled)
	require.Equal(t, 4, summary.RecordsInserted)
	require.EqualValues(t, 4, site.raceRequests.Load())

	exported, ok := blobs.Object("racing_data.json")
	require.True(t, ok)
	var records []crawler.RaceRecord
	require.NoError(t, json.Unmarshal(exported, &records))
	require.Len(t, records, 4)
	_, ok = blobs.Object("racing_data.json.sha256")
	require.True(t, ok)
	require.Len(t, pub.Records(), 4)

	// Races 1 and 2 are now recorded; only 3 and 4 are requested again.
	summary, err = a.Update(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, summary.RecordsInserted)
	require.Equal(t, 2, summary.RacesSkipped)
	require.EqualValues(t, 6, site.raceRequests.Load())
	require.Len(t, pub.Records(), 4)
}

func TestServeAPIAfterCrawl(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(&fakeSite{})
	t.Cleanup(srv.Close)

	cfg := testConfig(srv.URL + "/results")
	cfg.Export.Enabled = false
	cfg.Progress.Enabled = true
	a, err := app.Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	api := httptest.NewServer(a.Handler())
	t.Cleanup(api.Close)

	resp, err := http.Post(api.URL+"/v1/crawl", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		resp, err := http.Get(api.URL + "/v1/crawl/status")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var status crawler.JobStatus
		if json.NewDecoder(resp.Body).Decode(&status) != nil {
			return false
		}
		return status.State == crawler.JobStateFinished
	}, 5*time.Second, 20*time.Millisecond)

	resp, err = http.Get(api.URL + "/races/2024-03-10?race_no=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var records []crawler.RaceRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	require.Len(t, records, 2)
	require.Equal(t, "Horse 2", records[0].HorseName)
}

func TestBuildRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	cfg := testConfig("http://127.0.0.1:1/results")
	cfg.Source.Timezone = "Nowhere/Special"
	_, err := app.Build(context.Background(), cfg, nil)
	require.Error(t, err)
}

func TestBuildReportFailureReleasesProgressHub(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	cfg := testConfig("http://127.0.0.1:1/results")
	cfg.Export.Enabled = false
	cfg.Progress.Enabled = true
	cfg.Report.FontPath = t.TempDir() + "/missing.ttf"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := app.Build(ctx, cfg, zap.New(core))
	require.ErrorContains(t, err, "report renderer init failed")

	for _, entry := range logs.FilterMessage("progress hub close failed").All() {
		require.Equal(t, zapcore.WarnLevel, entry.Level)
	}
	require.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestBuildLocalExportNeedsWritableDir(t *testing.T) {
	t.Parallel()

	cfg := testConfig("http://127.0.0.1:1/results")
	cfg.Export.BaseDir = t.TempDir()
	a, err := app.Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))
}

func TestUpdatePublishesToPubSubBackend(t *testing.T) {
	psrv := pstest.NewServer()
	t.Cleanup(func() { _ = psrv.Close() })
	t.Setenv("PUBSUB_EMULATOR_HOST", psrv.Addr)

	ctx := context.Background()
	admin, err := pubsub.NewClient(ctx, "hkjc-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close() })
	_, err = admin.CreateTopic(ctx, "race-results")
	require.NoError(t, err)

	site := httptest.NewServer(&fakeSite{})
	t.Cleanup(site.Close)

	cfg := testConfig(site.URL + "/results")
	cfg.Export.Enabled = false
	cfg.Publisher.Backend = config.PublisherPubSub
	cfg.PubSub = config.PubSubConfig{ProjectID: "hkjc-test", Topic: "race-results"}
	a, err := app.Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })

	summary, err := a.Update(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, summary.RecordsInserted)

	msgs := psrv.Messages()
	require.Len(t, msgs, 4)
	for _, m := range msgs {
		require.Equal(t, "2024-03-10", m.Attributes["date"])
	}
}
