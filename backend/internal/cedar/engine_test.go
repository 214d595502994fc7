package cedar

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestDefaultPolicy(t *testing.T) {
	e, err := NewEngine("", testLog())
	require.NoError(t, err)
	assert.Len(t, e.PolicyVersion(), 12)

	tests := []struct {
		name       string
		scores     map[string]float64
		blocked    bool
		categories []string
	}{
		{"clean", map[string]float64{"injection": 0.1, "jailbreak": 0.2}, false, nil},
		{"no scores", nil, false, nil},
		{"injection at threshold", map[string]float64{"injection": 0.5}, true, []string{"injection"}},
		{"just under threshold", map[string]float64{"injection": 0.49}, false, nil},
		{"two categories", map[string]float64{"jailbreak": 0.9, "malicious": 0.8, "injection": 0.2}, true, []string{"jailbreak", "malicious"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := e.Evaluate(Input{Scores: tt.scores, Threshold: 0.5, Source: "heuristic"})
			assert.Equal(t, tt.blocked, res.Blocked)
			assert.Equal(t, tt.categories, res.Categories)
			if tt.blocked {
				assert.NotEmpty(t, res.Reasons)
				assert.Equal(t, tt.categories, res.PolicyIDs)
			}
		})
	}
}

func TestCustomPolicyOnSignals(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.cedar")
	policy := `
permit (principal, action, resource);

@category("injection")
@reason("system prompt extraction")
forbid (principal, action, resource)
when { context.signals.contains("prompt_exfiltration") };
`
	require.NoError(t, os.WriteFile(path, []byte(policy), 0644))

	e, err := NewEngine(path, testLog())
	require.NoError(t, err)

	res := e.Evaluate(Input{Signals: []string{"prompt_exfiltration"}, Threshold: 0.5})
	assert.True(t, res.Blocked)
	assert.Equal(t, []string{"injection"}, res.Categories)
	assert.Equal(t, []string{"policy1"}, res.PolicyIDs)

	res = e.Evaluate(Input{Signals: []string{"other"}, Threshold: 0.5})
	assert.False(t, res.Blocked)
}

func TestParsePolicies_Errors(t *testing.T) {
	_, err := ParsePolicies([]byte("// nothing here\n"))
	assert.Error(t, err)

	_, err = ParsePolicies([]byte("forbid (principal, action, resource) when { ;"))
	assert.Error(t, err)
}

func TestNewEngine_MissingFile(t *testing.T) {
	_, err := NewEngine(filepath.Join(t.TempDir(), "absent.cedar"), testLog())
	assert.Error(t, err)
}

func TestHotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.cedar")
	require.NoError(t, os.WriteFile(path, []byte("permit (principal, action, resource);"), 0644))

	e, err := NewEngine(path, testLog())
	require.NoError(t, err)
	require.NoError(t, e.StartHotReload())
	defer e.StopHotReload()

	before := e.PolicyVersion()
	assert.False(t, e.Evaluate(Input{Scores: map[string]float64{"injection": 1}}).Blocked)

	require.NoError(t, os.WriteFile(path, defaultPolicy, 0644))

	assert.Eventually(t, func() bool {
		return e.PolicyVersion() != before
	}, 5*time.Second, 50*time.Millisecond)
	assert.True(t, e.Evaluate(Input{Scores: map[string]float64{"injection": 1}, Threshold: 0.5}).Blocked)
}

func TestReload_KeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.cedar")
	require.NoError(t, os.WriteFile(path, defaultPolicy, 0644))
	e, err := NewEngine(path, testLog())
	require.NoError(t, err)
	version := e.PolicyVersion()

	require.NoError(t, os.WriteFile(path, []byte("forbid ( broken"), 0644))
	assert.Error(t, e.Reload())
	assert.Equal(t, version, e.PolicyVersion())
	assert.True(t, e.Evaluate(Input{Scores: map[string]float64{"jailbreak": 0.95}, Threshold: 0.5}).Blocked)
}

func TestStartHotReload_RequiresFile(t *testing.T) {
	e, err := NewEngine("", testLog())
	require.NoError(t, err)
	assert.Error(t, e.StartHotReload())
}
