package notify

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/fastprodman/studentportal/internal/infra/logging"
	"github.com/fastprodman/studentportal/internal/infra/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_WritesStructuredIntent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	n := NewLog(logging.NewJSON(&buf, slog.LevelInfo))

	require.NoError(t, n.LowCredits(t.Context(), LowCredits{AccountID: 7, RemainingTotal: 1}))

	out := buf.String()
	assert.Contains(t, out, `"msg":"notify low credits"`)
	assert.Contains(t, out, `"account_id":7`)
	assert.Contains(t, out, `"remaining_total":1`)
}

func TestMulti_JoinsErrorsAndReachesAll(t *testing.T) {
	t.Parallel()

	failing := &Recorder{Err: errors.New("mailer down")}
	ok := &Recorder{}

	err := Multi{failing, ok}.BadgesEarned(t.Context(), BadgesEarned{AccountID: 1, Badges: []string{"Explorer"}})

	require.ErrorContains(t, err, "mailer down")
	assert.Len(t, failing.BadgesSent(), 1)
	assert.Len(t, ok.BadgesSent(), 1)
}

func TestCounting_PassesThrough(t *testing.T) {
	t.Parallel()

	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	rec := &Recorder{}
	n := WithMetrics(rec, m)

	require.NoError(t, n.SubscriptionStatusChanged(t.Context(), SubscriptionStatusChanged{AccountID: 3, ExternalID: "I-1"}))
	assert.Len(t, rec.SubscriptionChangesSent(), 1)
}
