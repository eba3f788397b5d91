package app

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/corey/kwtag/internal/adapters/bbolt"
	fsw "github.com/corey/kwtag/internal/adapters/fsnotify"
	"github.com/corey/kwtag/internal/adapters/natsio"
	"github.com/corey/kwtag/internal/adapters/socket"
	"github.com/corey/kwtag/internal/adapters/web"
	"github.com/corey/kwtag/internal/domain/automaton"
	"github.com/corey/kwtag/internal/domain/dictionary"
	"github.com/corey/kwtag/internal/domain/labels"
	"github.com/corey/kwtag/internal/domain/stage"
	"github.com/corey/kwtag/internal/domain/status"
	"github.com/corey/kwtag/internal/ports"
)

// ErrUnknownStage is returned by Scan for a stage name not in the pipeline.
var ErrUnknownStage = errors.New("unknown stage")

// throughputWindow is the rolling window for records per minute.
const throughputWindow = 5 * time.Minute

// App is the top-level container wiring all components together.
type App struct {
	ProjectRoot string
	Paths       *Paths
	Config      *Config

	Store     *bbolt.Store
	Watcher   *fsw.Watcher // set by Start when watching is enabled
	Labels    *labels.Table
	Pipeline  *stage.Pipeline
	Registry  *prometheus.Registry
	Server    *socket.Server
	WebServer *web.Server
	Bridge    *natsio.Bridge // nil until Start when NATS is configured

	Throughput *ThroughputTracker

	log      zerolog.Logger
	resolver *Resolver

	reloadMu sync.Mutex                  // serializes reloads
	specs    map[string]*dictionary.Spec // by dictionary name, guarded by reloadMu

	scans      atomic.Uint64
	shadowMu   sync.Mutex
	shadow     ShadowRing
	shadowRefs map[string]shadowRef // by stage, guarded by shadowMu

	started   time.Time
	flushDone chan struct{}
	flushWG   sync.WaitGroup
	stopOnce  sync.Once
}

// Options holds initialization parameters for the App.
type Options struct {
	ProjectRoot string
	Config      *Config // nil = LoadConfig(Paths.Config)
	Logger      zerolog.Logger
}

// New creates an App with all dependencies wired. Does not start services.
func New(opts Options) (*App, error) {
	if opts.ProjectRoot == "" {
		return nil, fmt.Errorf("project root required")
	}
	paths := NewPaths(opts.ProjectRoot)

	cfg := opts.Config
	if cfg == nil {
		loaded, err := LoadConfig(paths.Config)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.DBPath == "" {
		cfg.DBPath = paths.DB
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}

	if err := paths.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("create %s: %w", paths.Root, err)
	}
	store, err := bbolt.NewStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	a := &App{
		ProjectRoot: opts.ProjectRoot,
		Paths:       paths,
		Config:      cfg,
		Store:       store,
		Labels:      labels.NewTable(),
		log:         opts.Logger,
		resolver:    &Resolver{Root: opts.ProjectRoot, Store: store},
		flushDone:   make(chan struct{}),
		shadowRefs:  make(map[string]shadowRef),

		Throughput: NewThroughputTracker(throughputWindow),
	}

	var metrics *stage.Metrics
	if cfg.Metrics {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if metrics, err = stage.NewMetrics(a.Registry); err != nil {
			store.Close()
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	specs, err := a.resolver.ResolveAll(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}
	a.specs = specs

	a.Pipeline, err = BuildPipeline(cfg, specs, StageDeps{Labels: a.Labels, Metrics: metrics, Logger: a.log})
	if err != nil {
		store.Close()
		return nil, err
	}

	sockPath := cfg.Socket
	if sockPath == "" {
		sockPath = socket.SocketPath(opts.ProjectRoot)
	}
	a.Server = socket.NewServer(a, sockPath, a.log)

	var gatherer prometheus.Gatherer
	if a.Registry != nil {
		gatherer = a.Registry
	}
	a.WebServer = web.NewServer(a, gatherer, paths.PortFile, a.log)

	return a, nil
}

// Start begins the daemon (socket server, HTTP server, watcher, hit flusher
// and NATS bridge).
func (a *App) Start() error {
	a.started = time.Now()
	if err := a.Server.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	// HTTP is non-fatal if the port is unavailable
	if err := a.WebServer.Start(a.httpAddr()); err != nil {
		a.log.Warn().Err(err).Msg("http dashboard unavailable")
	}

	// Watching is non-fatal too; a failed watcher only disables hot reload
	if files := a.watchedFiles(); a.Config.Watch && len(files) > 0 {
		if err := a.startWatcher(files); err != nil {
			a.log.Warn().Err(err).Msg("dictionary watcher unavailable")
		}
	}

	if a.Config.NATS != nil {
		conn, err := natsio.Connect(*a.Config.NATS, a.log)
		if err != nil {
			a.Server.Stop()
			a.WebServer.Stop()
			return err
		}
		a.Bridge, err = natsio.NewBridge(*a.Config.NATS, conn, a, a.log)
		if err == nil {
			err = a.Bridge.Start()
		}
		if err != nil {
			conn.Close()
			a.Server.Stop()
			a.WebServer.Stop()
			return err
		}
	}

	a.flushWG.Add(1)
	go a.flushLoop()
	if err := a.writeStatus(); err != nil {
		a.log.Debug().Err(err).Msg("write status")
	}

	a.log.Info().Int("stages", len(a.Pipeline.Stages())).Int("dictionaries", len(a.Config.Dictionaries)).Msg("daemon started")
	return nil
}

// Stop gracefully shuts down all services and persists hit counters.
// Idempotent.
func (a *App) Stop() error {
	var firstErr error
	a.stopOnce.Do(func() {
		if a.Bridge != nil {
			if err := a.Bridge.Stop(); err != nil {
				a.log.Warn().Err(err).Msg("drain nats")
			}
		}
		if a.Watcher != nil {
			a.Watcher.Stop()
		}
		a.WebServer.Stop()
		a.Server.Stop()

		close(a.flushDone)
		a.flushWG.Wait()
		if err := a.flushHits(); err != nil {
			firstErr = err
		}
		if err := a.Store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.Paths.CleanEphemeral()
	})
	return firstErr
}

// Close releases the store without starting or stopping services. Used by
// one-shot commands that only need the pipeline.
func (a *App) Close() error {
	if err := a.flushHits(); err != nil {
		a.Store.Close()
		return err
	}
	return a.Store.Close()
}

func (a *App) httpAddr() string {
	if a.Config.HTTPAddr != "" {
		return a.Config.HTTPAddr
	}
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(web.DefaultPort(a.ProjectRoot)))
}

// flushLoop periodically persists label hit counters.
func (a *App) flushLoop() {
	defer a.flushWG.Done()
	ticker := time.NewTicker(a.Config.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.flushDone:
			return
		case <-ticker.C:
			if err := a.flushHits(); err != nil {
				a.log.Warn().Err(err).Msg("flush hits")
			}
			if err := a.writeStatus(); err != nil {
				a.log.Debug().Err(err).Msg("write status")
			}
		}
	}
}

func (a *App) flushHits() error {
	hits := a.Pipeline.DrainHits()
	if len(hits) == 0 {
		return nil
	}
	return a.Store.AddHits(hits)
}

// writeStatus snapshots stage counters and lifetime hits to the status file.
func (a *App) writeStatus() error {
	hits, err := a.Store.Hits()
	if err != nil {
		return err
	}
	perMin, _ := a.Throughput.PerMin()
	return status.WriteJSON(a.Paths.StatusFile, status.Generate(a.Pipeline.Stats(), hits, perMin))
}

func (a *App) startWatcher(files []string) error {
	w, err := fsw.NewWatcher(fsw.WithLogger(a.log))
	if err != nil {
		return err
	}
	if err := w.Watch(files, a.onDictionaryChanged); err != nil {
		w.Stop()
		return err
	}
	a.Watcher = w
	return nil
}

// watchedFiles returns the absolute paths of file-backed dictionaries.
func (a *App) watchedFiles() []string {
	var out []string
	for _, d := range a.Config.Dictionaries {
		if d.Path != "" {
			out = append(out, a.resolver.Abs(d.Path))
		}
	}
	return out
}

// onDictionaryChanged reloads every dictionary backed by path.
func (a *App) onDictionaryChanged(path string) {
	for _, d := range a.Config.Dictionaries {
		if d.Path == "" || filepath.Clean(a.resolver.Abs(d.Path)) != filepath.Clean(path) {
			continue
		}
		res, err := a.Reload(d.Name)
		if err != nil {
			// Keep serving the previous matcher until the file parses again.
			a.log.Error().Err(err).Str("dictionary", d.Name).Msg("reload failed")
			continue
		}
		a.log.Info().Str("dictionary", d.Name).Strs("stages", res.Stages).Int("keywords", res.Keywords).Msg("dictionary reloaded")
	}
}

// Reload re-reads one dictionary (or all when name is empty), builds fresh
// matchers for the stages that use it, and swaps them in. Nothing is swapped
// unless every affected matcher builds. Running scans finish on the old
// matchers. Implements socket.AppQueries.
func (a *App) Reload(name string) (socket.ReloadResult, error) {
	start := time.Now()
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	specs := make(map[string]*dictionary.Spec, len(a.specs))
	for k, v := range a.specs {
		specs[k] = v
	}
	found := name == ""
	for _, d := range a.Config.Dictionaries {
		if name != "" && d.Name != name {
			continue
		}
		found = true
		spec, err := a.resolver.Resolve(d)
		if err != nil {
			return socket.ReloadResult{}, err
		}
		specs[d.Name] = spec
	}
	if !found {
		return socket.ReloadResult{}, fmt.Errorf("%w %q", ErrUnknownDictionary, name)
	}

	type swap struct {
		st *stage.Stage
		m  *automaton.Automaton
	}
	var swaps []swap
	opts := a.Config.Matcher.Options()
	for _, sc := range a.Config.Stages {
		if name != "" && !contains(sc.Dictionaries, name) {
			continue
		}
		m, err := BuildMatcher(sc, specs, a.Labels, opts)
		if err != nil {
			return socket.ReloadResult{}, err
		}
		swaps = append(swaps, swap{st: a.Pipeline.Stage(sc.Name), m: m})
	}

	result := socket.ReloadResult{Stages: []string{}}
	for _, s := range swaps {
		if err := s.st.Swap(s.m); err != nil {
			return socket.ReloadResult{}, err
		}
		result.Stages = append(result.Stages, s.st.Name())
		result.Keywords += s.m.Len()
	}
	a.specs = specs
	result.Elapsed = time.Since(start).String()
	return result, nil
}

// Scan runs one stage's matcher over text without touching any record.
// Implements socket.AppQueries.
func (a *App) Scan(params socket.ScanParams) (socket.ScanResult, error) {
	stages := a.Pipeline.Stages()
	if len(stages) == 0 {
		return socket.ScanResult{}, ErrUnknownStage
	}
	st := stages[0]
	if params.Stage != "" {
		if st = a.Pipeline.Stage(params.Stage); st == nil {
			return socket.ScanResult{}, fmt.Errorf("%w %q", ErrUnknownStage, params.Stage)
		}
	}

	data := params.Data
	if data == nil {
		data = []byte(params.Text)
	}

	start := time.Now()
	m := st.Matcher()
	occ, err := ScanOccurrences(m, a.Labels, data, params.FirstOnly)
	if err != nil {
		return socket.ScanResult{}, err
	}
	elapsed := time.Since(start)

	if every := a.Config.ShadowEvery; every > 0 && !params.FirstOnly && a.scans.Add(1)%uint64(every) == 0 {
		a.shadowCheck(st.Name(), m, data, occ)
	}
	return socket.ScanResult{Matches: occ, Count: len(occ), Elapsed: elapsed.String()}, nil
}

// ScanOccurrences collects every match of m in data with its label.
func ScanOccurrences(m ports.Scanner, table *labels.Table, data []byte, firstOnly bool) ([]ports.Occurrence, error) {
	occ := []ports.Occurrence{}
	fn := func(match automaton.Match) automaton.Action {
		label := table.Name(match.Info.Value)
		if label == "" {
			label, _ = match.Info.Data.(string)
		}
		occ = append(occ, ports.Occurrence{
			Keyword: string(match.Info.Keyword),
			Label:   label,
			Start:   match.End - len(match.Info.Keyword),
			End:     match.End,
		})
		if firstOnly {
			return automaton.Stop
		}
		return automaton.Continue
	}

	var err error
	if m.SkipMode() {
		_, err = m.SearchSkip(data, fn)
	} else {
		_, err = m.Search(nil, data, fn)
	}
	if err != nil {
		return nil, err
	}
	sort.SliceStable(occ, func(i, j int) bool {
		if occ[i].End != occ[j].End {
			return occ[i].End < occ[j].End
		}
		return occ[i].Start < occ[j].Start
	})
	return occ, nil
}

// Tag runs rec through the pipeline. Implements socket.AppQueries.
func (a *App) Tag(rec *ports.Record) (bool, error) {
	if rec == nil {
		return false, errors.New("nil record")
	}
	return a.Process(rec), nil
}

// Process runs rec through the pipeline and counts it toward throughput.
// Implements natsio.Processor.
func (a *App) Process(rec *ports.Record) bool {
	n := 0
	for _, f := range rec.Fields {
		n += len(f.Value)
	}
	a.Throughput.Record(n)
	return a.Pipeline.Process(rec)
}

// Stats returns per-stage counters and the lifetime hits from storage.
// Implements socket.AppQueries.
func (a *App) Stats() socket.StatsResult {
	if err := a.flushHits(); err != nil {
		a.log.Warn().Err(err).Msg("flush hits")
	}
	hits, err := a.Store.Hits()
	if err != nil {
		a.log.Warn().Err(err).Msg("read hits")
	}
	res := socket.StatsResult{
		Stages: a.Pipeline.Stats(),
		Hits:   hits,
		Labels: a.Labels.Names(),
	}
	if a.Config.ShadowEvery > 0 {
		a.shadowMu.Lock()
		checks, mismatches := a.shadow.Totals()
		a.shadowMu.Unlock()
		res.Shadow = &socket.ShadowStats{Checks: checks, Mismatches: mismatches}
	}
	return res
}

// Health implements socket.AppQueries.
func (a *App) Health() socket.HealthResult {
	keywords := 0
	for _, st := range a.Pipeline.Stages() {
		keywords += st.Matcher().Len()
	}
	res := socket.HealthResult{
		Status:       "ok",
		Stages:       len(a.Pipeline.Stages()),
		Dictionaries: len(a.Config.Dictionaries),
		Keywords:     keywords,
	}
	if !a.started.IsZero() {
		res.Uptime = time.Since(a.started).Round(time.Second).String()
	}
	res.RecordsPerMin, res.BytesPerMin = a.Throughput.PerMin()
	return res
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
