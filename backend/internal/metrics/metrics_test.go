package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordVerdict(t *testing.T) {
	before := testutil.ToFloat64(VerdictsTotal.WithLabelValues("similarity"))
	checks := testutil.ToFloat64(ChecksTotal)

	RecordVerdict("similarity", 0.02)

	assert.Equal(t, before+1, testutil.ToFloat64(VerdictsTotal.WithLabelValues("similarity")))
	assert.Equal(t, checks+1, testutil.ToFloat64(ChecksTotal))
}

func TestRecordUnavailableAndWrites(t *testing.T) {
	before := testutil.ToFloat64(LayerUnavailable.WithLabelValues("classifier"))
	RecordUnavailable("classifier")
	assert.Equal(t, before+1, testutil.ToFloat64(LayerUnavailable.WithLabelValues("classifier")))

	seeded := testutil.ToFloat64(CorpusWrites.WithLabelValues("seed"))
	RecordCorpusWrite("seed", 6)
	assert.Equal(t, seeded+6, testutil.ToFloat64(CorpusWrites.WithLabelValues("seed")))
}
