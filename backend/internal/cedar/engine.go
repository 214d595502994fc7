package cedar

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cedar-policy/cedar-go"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

//go:embed default.cedar
var defaultPolicy []byte

// Categories the default policy scores
var Categories = []string{"injection", "jailbreak", "malicious"}

// Input is the classifier evidence handed to the policy
type Input struct {
	Scores    map[string]float64 // category -> confidence in [0,1]
	Threshold float64
	Signals   []string // detector rule names that fired
	Source    string   // which detector strategy produced the scores
}

// Result is the policy decision
type Result struct {
	Blocked    bool
	Categories []string // from @category on the forbid policies that matched
	PolicyIDs  []string
	Reasons    []string // from @reason
}

// Engine wraps the Cedar policy engine with hot-reloading support
type Engine struct {
	policySet     atomic.Pointer[cedar.PolicySet]
	policyVersion atomic.Pointer[string]
	PolicyPath    string

	watcher    *fsnotify.Watcher
	stopWatch  chan struct{}
	logger     *logrus.Entry
	reloadLock sync.Mutex
}

// PolicyVersion returns the current policy version (thread-safe)
func (e *Engine) PolicyVersion() string {
	v := e.policyVersion.Load()
	if v == nil {
		return ""
	}
	return *v
}

// NewEngine loads policies from policyPath, or the built-in policy when
// policyPath is empty.
func NewEngine(policyPath string, logger *logrus.Entry) (*Engine, error) {
	e := &Engine{
		PolicyPath: policyPath,
		stopWatch:  make(chan struct{}),
		logger:     logger.WithField("component", "cedar"),
	}

	if err := e.reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// StartHotReload enables fsnotify file watching for policy hot-reloading
func (e *Engine) StartHotReload() error {
	if e.PolicyPath == "" {
		return fmt.Errorf("hot reload requires a policy file")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	e.watcher = watcher

	if err := watcher.Add(e.PolicyPath); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch policy file: %w", err)
	}

	go e.watchLoop(watcher)

	e.logger.WithField("path", e.PolicyPath).Info("policy hot reload enabled")
	return nil
}

// StopHotReload stops the file watcher
func (e *Engine) StopHotReload() {
	if e.watcher != nil {
		close(e.stopWatch)
		e.watcher.Close()
		e.watcher = nil
	}
}

func (e *Engine) watchLoop(watcher *fsnotify.Watcher) {
	// Debounce rapid saves
	var debounceTimer *time.Timer
	debounce := 500 * time.Millisecond

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounce, func() {
					e.reloadLock.Lock()
					defer e.reloadLock.Unlock()

					oldVersion := e.PolicyVersion()
					if err := e.reload(); err != nil {
						// the previous policy set stays active
						e.logger.WithError(err).Error("policy hot reload failed")
					} else {
						e.logger.WithFields(logrus.Fields{"from": oldVersion, "to": e.PolicyVersion()}).Info("policy reloaded")
					}
				})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			e.logger.WithError(err).Warn("policy watcher error")
		case <-e.stopWatch:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return
		}
	}
}

// Reload re-reads the policy file immediately
func (e *Engine) Reload() error {
	e.reloadLock.Lock()
	defer e.reloadLock.Unlock()
	return e.reload()
}

func (e *Engine) reload() error {
	data := defaultPolicy
	if e.PolicyPath != "" {
		b, err := os.ReadFile(e.PolicyPath)
		if err != nil {
			return fmt.Errorf("failed to read policy file: %w", err)
		}
		data = b
	}

	ps, err := ParsePolicies(data)
	if err != nil {
		return err
	}

	hash := sha256.Sum256(data)
	version := hex.EncodeToString(hash[:])[:12]

	e.policySet.Store(ps)
	e.policyVersion.Store(&version)
	return nil
}

// ParsePolicies parses a Cedar document. A policy's id is its @id
// annotation, or policy<N> by position.
func ParsePolicies(data []byte) (*cedar.PolicySet, error) {
	// drop line comments so they cannot hide statement separators
	var b strings.Builder
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "//") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	ps := cedar.NewPolicySet()
	n := 0
	for i, chunk := range strings.Split(b.String(), ";") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}

		var policy cedar.Policy
		if err := policy.UnmarshalCedar([]byte(chunk + ";")); err != nil {
			return nil, fmt.Errorf("failed to unmarshal cedar policy part %d: %w", i, err)
		}

		id := cedar.PolicyID(fmt.Sprintf("policy%d", n))
		if v, ok := policy.Annotations()["id"]; ok && v != "" {
			id = cedar.PolicyID(v)
		}
		ps.Add(id, &policy)
		n++
	}
	if n == 0 {
		return nil, fmt.Errorf("policy document contains no policies")
	}
	return ps, nil
}

func percent(f float64) cedar.Long {
	if math.IsNaN(f) {
		return 0
	}
	return cedar.Long(int64(math.Round(f * 100)))
}

// Evaluate runs the classifier evidence through the policy set. An
// uninitialised engine blocks nothing.
func (e *Engine) Evaluate(in Input) Result {
	ps := e.policySet.Load()
	if ps == nil {
		return Result{}
	}

	scores := cedar.RecordMap{}
	for _, c := range Categories {
		scores[cedar.String(c)] = cedar.Long(0)
	}
	for c, s := range in.Scores {
		scores[cedar.String(c)] = percent(s)
	}

	signals := make([]cedar.Value, len(in.Signals))
	for i, s := range in.Signals {
		signals[i] = cedar.String(s)
	}

	req := cedar.Request{
		Principal: cedar.NewEntityUID("User", "input"),
		Action:    cedar.NewEntityUID("Action", "classify"),
		Resource:  cedar.NewEntityUID("Guardrail", "chat"),
		Context: cedar.NewRecord(cedar.RecordMap{
			"scores":    cedar.NewRecord(scores),
			"threshold": percent(in.Threshold),
			"signals":   cedar.NewSet(signals...),
			"source":    cedar.String(in.Source),
		}),
	}

	ok, diagnostics := cedar.Authorize(ps, cedar.EntityMap{}, req)
	if ok {
		return Result{}
	}

	res := Result{Blocked: true}
	seen := map[string]bool{}
	for _, reason := range diagnostics.Reasons {
		res.PolicyIDs = append(res.PolicyIDs, string(reason.PolicyID))
		p := ps.Get(reason.PolicyID)
		if p == nil {
			continue
		}
		annotations := p.Annotations()
		if cat, ok := annotations["category"]; ok && !seen[string(cat)] {
			seen[string(cat)] = true
			res.Categories = append(res.Categories, string(cat))
		}
		if r, ok := annotations["reason"]; ok {
			res.Reasons = append(res.Reasons, string(r))
		}
	}
	sort.Strings(res.Categories)
	sort.Strings(res.PolicyIDs)
	sort.Strings(res.Reasons)
	return res
}
