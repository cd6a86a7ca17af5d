package history

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/j-veylop/limitwatch/internal/models"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	svc.now = func() time.Time { return testNow }
	return svc
}

func quota(name string, remaining float64) models.QuotaRecord {
	return models.QuotaRecord{
		Name:         name,
		DisplayName:  "Display " + name,
		RemainingPct: models.Float(remaining),
		Used:         models.Float(100 - remaining),
		Limit:        models.Float(100),
		Reset:        "soon",
	}
}

// seed records q1 at 50..90 over five consecutive hours ending 11:00, and one
// old snapshot for a second account.
func seed(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()
	for i, pct := range []float64{50, 60, 70, 80, 90} {
		ts := time.Date(2024, 1, 10, 7+i, 15, 0, 0, time.UTC)
		if n := svc.Record(ctx, "a@example.com", "chutes", []models.QuotaRecord{quota("q1", pct)}, ts); n != 1 {
			t.Fatalf("Record() = %d, want 1", n)
		}
	}
	old := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	svc.Record(ctx, "b@example.com", "google", []models.QuotaRecord{quota("q2", 10)}, old)
}

func TestService_RecordSkipsErrors(t *testing.T) {
	svc := newTestService(t)
	records := []models.QuotaRecord{
		models.ErrorRecord("broken", "Broken", "", "HTTP 500"),
		quota("ok", 40),
	}
	if n := svc.Record(context.Background(), "a@example.com", "chutes", records, testNow); n != 1 {
		t.Errorf("Record() = %d, want 1", n)
	}
}

func TestService_History(t *testing.T) {
	svc := newTestService(t)
	seed(t, svc)
	ctx := context.Background()

	all := svc.History(ctx, Query{})
	if len(all) != 6 {
		t.Fatalf("History() = %d rows, want 6", len(all))
	}
	if !all[0].Timestamp.After(all[1].Timestamp) {
		t.Error("history should be newest first")
	}

	recent := svc.History(ctx, Query{Range: Range{Preset: "24h"}})
	if len(recent) != 5 {
		t.Errorf("24h = %d rows, want 5", len(recent))
	}

	byAccount := svc.History(ctx, Query{Account: "b@example.com"})
	if len(byAccount) != 1 || byAccount[0].QuotaName != "q2" {
		t.Errorf("account filter = %+v", byAccount)
	}

	window := svc.History(ctx, Query{Range: Range{Since: "2024-01-10T08:15:00Z", Until: "2024-01-10T10:15:00Z"}})
	if len(window) != 3 {
		t.Errorf("inclusive window = %d rows, want 3", len(window))
	}
}

func TestService_Aggregate(t *testing.T) {
	svc := newTestService(t)
	seed(t, svc)

	results := svc.Aggregate(context.Background(), Query{Account: "a@example.com"})
	if len(results) != 1 {
		t.Fatalf("Aggregate() = %d results, want 1", len(results))
	}
	r := results[0]
	if *r.MinRemaining != 50 || *r.MaxRemaining != 90 || *r.AvgRemaining != 70 || r.DataPoints != 5 {
		t.Errorf("aggregate = min %v max %v avg %v points %d", *r.MinRemaining, *r.MaxRemaining, *r.AvgRemaining, r.DataPoints)
	}
	if r.DisplayName != "Display q1" {
		t.Errorf("display = %q", r.DisplayName)
	}
}

func TestService_TimeSeries(t *testing.T) {
	svc := newTestService(t)
	seed(t, svc)
	svc.Record(context.Background(), "a@example.com", "chutes",
		[]models.QuotaRecord{{Name: "q1", Used: models.Float(3)}},
		time.Date(2024, 1, 10, 6, 0, 0, 0, time.UTC))

	points := svc.TimeSeries(context.Background(), "q1", "a@example.com", Range{Preset: "24h"})
	if len(points) != 5 {
		t.Fatalf("TimeSeries() = %d points, want 5", len(points))
	}
	for i, want := range []float64{50, 60, 70, 80, 90} {
		if points[i].RemainingPct != want {
			t.Errorf("points[%d] = %v, want %v", i, points[i].RemainingPct, want)
		}
	}

	bounded := svc.TimeSeries(context.Background(), "q1", "a@example.com",
		Range{Since: "2024-01-10T07:00:00Z", Until: "2024-01-10T09:15:00Z"})
	if len(bounded) != 3 || bounded[2].RemainingPct != 70 {
		t.Errorf("TimeSeries(until) = %+v, want 50, 60, 70", bounded)
	}
}

func TestService_InfoAndFilters(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	empty := svc.Info(ctx)
	if empty.HasData() || !empty.Oldest.IsZero() {
		t.Errorf("empty info = %+v", empty)
	}

	seed(t, svc)
	info := svc.Info(ctx)
	if info.Records != 6 || len(info.Accounts) != 2 || len(info.Providers) != 2 {
		t.Errorf("info = %+v", info)
	}
	if !info.Oldest.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("oldest = %v", info.Oldest)
	}

	filters := svc.AvailableFilters(ctx)
	if filters.Accounts[0] != "a@example.com" || filters.Providers[0] != "chutes" {
		t.Errorf("filters = %+v", filters)
	}
	if quotas := svc.Quotas(ctx, "b@example.com"); len(quotas) != 1 || quotas[0] != "q2" {
		t.Errorf("quotas = %v", quotas)
	}
}

func TestService_Purge(t *testing.T) {
	svc := newTestService(t)
	seed(t, svc)
	ctx := context.Background()

	if _, err := svc.Purge(ctx, "not-a-date"); !errors.Is(err, ErrInvalidTime) {
		t.Errorf("Purge(invalid) error = %v, want ErrInvalidTime", err)
	}
	if _, err := svc.Purge(ctx, ""); !errors.Is(err, ErrInvalidTime) {
		t.Errorf("Purge(empty) error = %v, want ErrInvalidTime", err)
	}

	if _, err := svc.Purge(ctx, "9999999h"); !errors.Is(err, ErrInvalidTime) {
		t.Errorf("Purge(overflowing hours) error = %v, want ErrInvalidTime", err)
	}
	if n, err := svc.Purge(ctx, "200000d"); err != nil || n != 0 {
		t.Errorf("Purge(200000d) = %d, %v, want nothing deleted", n, err)
	}

	n, err := svc.Purge(ctx, "2024-01-10T09:15:00Z")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("Purge() = %d, want 3", n)
	}
	if rest := svc.History(ctx, Query{}); len(rest) != 3 {
		t.Errorf("remaining rows = %d, want 3", len(rest))
	}
}

func TestExporter_CSV(t *testing.T) {
	svc := newTestService(t)
	seed(t, svc)

	var buf bytes.Buffer
	n, err := NewExporter(svc).CSV(context.Background(), &buf, Query{Account: "b@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("CSV() = %d, want 1", n)
	}
	want := "timestamp,account_email,provider_type,quota_name,display_name,remaining_pct,used,limit,reset_time\n" +
		"2024-01-01T10:00:00.000000+00:00,b@example.com,google,q2,Display q2,10,90,100,soon\n"
	if buf.String() != want {
		t.Errorf("CSV() =\n%s\nwant\n%s", buf.String(), want)
	}
}

func TestExporter_Markdown(t *testing.T) {
	svc := newTestService(t)
	seed(t, svc)

	var buf bytes.Buffer
	n, err := NewExporter(svc).Markdown(context.Background(), &buf, Query{Range: Range{Preset: "24h"}, Provider: "chutes"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Fatalf("Markdown() = %d, want 5", n)
	}
	out := buf.String()
	for _, want := range []string{
		"# Quota History Export",
		"Generated: 2024-01-10T12:00:00Z",
		"## Filters\n- Time Range: 24h\n- Provider: chutes\n",
		"| 2024-01-10T11:15 | a | chutes | Display q1 | 90.0% | 10 | 100 |",
		"*Total records: 5*",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q:\n%s", want, out)
		}
	}
}

func TestExporter_InfoAndEmpty(t *testing.T) {
	svc := newTestService(t)
	exp := NewExporter(svc)
	ctx := context.Background()

	var buf bytes.Buffer
	if n, err := exp.CSV(ctx, &buf, Query{}); n != 0 || err != nil || buf.Len() != 0 {
		t.Errorf("empty CSV = %d, %v, %q", n, err, buf.String())
	}

	path := filepath.Join(t.TempDir(), "out", "history.csv")
	n, err := WriteFile(path, func(w io.Writer) (int, error) { return exp.CSV(ctx, w, Query{}) })
	if n != 0 || err != nil {
		t.Errorf("WriteFile() = %d, %v", n, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("empty export should not leave a file")
	}

	seed(t, svc)
	info := exp.Info(ctx, Query{})
	if info.Records != 6 || !info.Start.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)) ||
		!info.End.Equal(time.Date(2024, 1, 10, 11, 15, 0, 0, time.UTC)) {
		t.Errorf("info = %+v", info)
	}

	n, err = WriteFile(path, func(w io.Writer) (int, error) { return exp.Markdown(ctx, w, Query{}) })
	if err != nil || n != 6 {
		t.Fatalf("WriteFile() = %d, %v", n, err)
	}
	if data, _ := os.ReadFile(path); !bytes.HasPrefix(data, []byte("# Quota History Export")) {
		t.Errorf("file content = %q", data)
	}
}
