// Package cluster supervises a set of emulated nodes: it builds the network,
// allocates ports, writes the controller membership, launches every node,
// watches it and pushes device configuration for live switches.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jrepp/nodesup/pkg/launcher"
	"github.com/jrepp/nodesup/pkg/membership"
	"github.com/jrepp/nodesup/pkg/netcfg"
	"github.com/jrepp/nodesup/pkg/node"
	"github.com/jrepp/nodesup/pkg/portalloc"
	"github.com/jrepp/nodesup/pkg/shell"
	"github.com/jrepp/nodesup/pkg/watchdog"
)

const tracerName = "github.com/jrepp/nodesup/pkg/cluster"

var (
	// ErrAborted is reported when Abort interrupts a start.
	ErrAborted = errors.New("cluster start aborted")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("cluster already started")
	// ErrNotStarted is returned by AddNodes before Start.
	ErrNotStarted = errors.New("cluster not started")
	// ErrStopped is returned once the supervisor was stopped.
	ErrStopped = errors.New("cluster stopped")
	// ErrUnknownNode is returned for names not in the cluster.
	ErrUnknownNode = errors.New("unknown node")
)

// Supervisor owns the set of nodes that should be running.
type Supervisor struct {
	cfg       Config
	launcher  *launcher.Launcher
	alloc     *portalloc.Allocator
	network   Network
	forwarder PortForwarder
	resolver  netcfg.RouteResolver
	runner    shell.Runner
	logger    *slog.Logger
	metrics   MetricsCollector
	wdMetrics watchdog.MetricsCollector
	events    []launcher.EventPublisher
	tracer    trace.Tracer
	client    *http.Client
	runID     string

	parent   context.Context
	abortCtx context.Context
	abort    context.CancelFunc

	mu         sync.Mutex
	nodes      map[string]*member
	order      []string
	forwards   []installedForward
	membership *membership.Artifact
	started    bool

	// memMu serializes membership regeneration and writes
	memMu sync.Mutex
	stopped    bool
}

// member is the supervisor's record of one node.
type member struct {
	spec  NodeSpec
	ip    string
	ports map[string]int
	paths launcher.Paths

	proc      launcher.Process
	dog       *watchdog.Watchdog
	err       error
	netcfgErr error
}

type installedForward struct {
	node     string
	hostPort int
	ip       string
	port     int
}

// Option configures a Supervisor
type Option func(*Supervisor)

// WithNetwork sets the data-plane network
func WithNetwork(n Network) Option {
	return func(s *Supervisor) {
		s.network = n
	}
}

// WithPortForwarder enables host port forwarding
func WithPortForwarder(f PortForwarder) Option {
	return func(s *Supervisor) {
		s.forwarder = f
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

// WithMetricsCollector sets the supervisor metrics collector
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(s *Supervisor) {
		s.metrics = mc
	}
}

// WithWatchdogMetrics sets the collector shared by every node watchdog
func WithWatchdogMetrics(mc watchdog.MetricsCollector) Option {
	return func(s *Supervisor) {
		s.wdMetrics = mc
	}
}

// WithEventPublisher adds a receiver of node lifecycle events
func WithEventPublisher(p launcher.EventPublisher) Option {
	return func(s *Supervisor) {
		s.events = append(s.events, p)
	}
}

// WithRouteResolver sets how the switch address seen by the controller is found
func WithRouteResolver(r netcfg.RouteResolver) Option {
	return func(s *Supervisor) {
		s.resolver = r
	}
}

// WithRunner sets the runner used by controller probes
func WithRunner(r shell.Runner) Option {
	return func(s *Supervisor) {
		s.runner = r
	}
}

// WithTracer sets the tracer
func WithTracer(t trace.Tracer) Option {
	return func(s *Supervisor) {
		s.tracer = t
	}
}

// WithHTTPClient sets the client used to push device configuration
func WithHTTPClient(c *http.Client) Option {
	return func(s *Supervisor) {
		s.client = c
	}
}

// WithAbortContext derives the abort token from ctx, so cancelling ctx
// aborts the cluster
func WithAbortContext(ctx context.Context) Option {
	return func(s *Supervisor) {
		s.parent = ctx
	}
}

// WithRunID overrides the generated run id
func WithRunID(id string) Option {
	return func(s *Supervisor) {
		s.runID = id
	}
}

// New creates a Supervisor.
func New(cfg Config, opts ...Option) *Supervisor {
	cfg.applyDefaults()

	s := &Supervisor{
		cfg:       cfg,
		alloc:     portalloc.NewAllocator(),
		network:   LocalNetwork{},
		resolver:  netcfg.UDPRouteResolver{},
		runner:    shell.NewExecRunner(),
		logger:    slog.Default(),
		metrics:   NewNoopMetricsCollector(),
		wdMetrics: watchdog.NewNoopMetricsCollector(),
		tracer:    otel.Tracer(tracerName),
		runID:     uuid.NewString(),
		parent:    context.Background(),
		nodes:     make(map[string]*member),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.abortCtx, s.abort = context.WithCancel(s.parent)
	s.logger = s.logger.With("component", "supervisor", "run_id", s.runID)

	events := launcher.MultiEventPublisher{
		launcher.LogEventPublisher{Logger: s.logger},
		metricsEventPublisher{metrics: s.metrics},
	}
	events = append(events, s.events...)

	s.launcher = launcher.New(
		launcher.WithLogger(s.logger),
		launcher.WithEventPublisher(events),
		launcher.WithRunID(s.runID),
		launcher.WithRestartDelay(cfg.RestartDelay),
		launcher.WithBuilderOptions(launcher.BuilderOptions{
			Valgrind: cfg.Valgrind,
			ONOSRoot: cfg.ONOSRoot,
		}),
	)
	return s
}

// RunID identifies this supervisor run. It is written into sentinels and the
// environment of every node.
func (s *Supervisor) RunID() string {
	return s.runID
}

// Config returns the effective configuration
func (s *Supervisor) Config() Config {
	return s.cfg
}

// Start builds the network and starts specs. It blocks until every node is
// live or dead. A node that fails does not stop its siblings; the returned
// error joins the errors of all failed nodes. A network failure is fatal to
// the whole cluster and is reported as ErrNetwork before any node starts.
func (s *Supervisor) Start(ctx context.Context, specs ...NodeSpec) (*Report, error) {
	return s.startBatch(ctx, "cluster.start", specs, true)
}

// AddNodes starts more nodes in a running cluster. The membership is
// regenerated and written for the new controllers only.
func (s *Supervisor) AddNodes(ctx context.Context, specs ...NodeSpec) (*Report, error) {
	return s.startBatch(ctx, "cluster.add_nodes", specs, false)
}

func (s *Supervisor) startBatch(ctx context.Context, spanName string, specs []NodeSpec, initial bool) (*Report, error) {
	begin := time.Now()
	ctx, span := s.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("run_id", s.runID),
		attribute.Int("nodes", len(specs)),
	))
	defer span.End()

	specs = FillExecutables(specs, s.cfg.Executables)
	for i := range specs {
		if specs[i].Cluster == "" {
			specs[i].Cluster = s.cfg.Name
		}
	}

	if err := s.admit(specs, initial); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := s.attach(ctx, specs, initial); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("network build failed, no node was started", "error", err)
		return nil, err
	}

	batch := s.register(specs)
	s.writeMembership(batch)

	for _, m := range batch {
		if m.err == nil {
			s.launch(ctx, m)
		}
	}

	waitErr := s.waitAll(ctx, batch)
	if waitErr == nil {
		s.pushNetcfg(ctx, batch)
	}

	report := &Report{
		RunID:   s.runID,
		Nodes:   s.statuses(batch),
		Elapsed: time.Since(begin),
		Aborted: s.abortCtx.Err() != nil,
	}
	s.metrics.ClusterStarted(len(batch), report.Elapsed)

	err := report.Err()
	if waitErr != nil {
		err = errors.Join(err, waitErr)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "nodes failed")
		s.logger.Warn("cluster started with failures",
			"failed", len(report.Failed()),
			"nodes", len(batch),
			"elapsed", report.Elapsed.Round(time.Millisecond))
	} else {
		s.logger.Info("cluster started",
			"nodes", len(batch),
			"elapsed", report.Elapsed.Round(time.Millisecond))
	}
	return report, err
}

// admit checks the lifecycle state and validates specs against the nodes
// already in the cluster.
func (s *Supervisor) admit(specs []NodeSpec, initial bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.stopped:
		return ErrStopped
	case initial && s.started:
		return ErrAlreadyStarted
	case !initial && !s.started:
		return ErrNotStarted
	}
	if len(specs) == 0 {
		return fmt.Errorf("no nodes to start")
	}
	if err := validateSpecs(specs, s.nodes); err != nil {
		return err
	}
	if initial {
		s.started = true
	}
	return nil
}

func (s *Supervisor) attach(ctx context.Context, specs []NodeSpec, initial bool) error {
	if initial {
		if err := s.network.Build(ctx, specs); err != nil {
			if tdErr := s.network.Teardown(ctx); tdErr != nil {
				err = errors.Join(err, fmt.Errorf("teardown: %w", tdErr))
			}
			s.mu.Lock()
			s.started = false
			s.mu.Unlock()
			return fmt.Errorf("%w: %w", ErrNetwork, err)
		}
		return nil
	}
	if a, ok := s.network.(NodeAttacher); ok {
		if err := a.AttachNodes(ctx, specs); err != nil {
			return fmt.Errorf("%w: %w", ErrNetwork, err)
		}
	}
	return nil
}

// register adds specs to the should-run set and resolves their addresses
// and ports. Pinned ports of the whole batch are reserved before any port is
// allocated. A port conflict fails only the node that lost it.
func (s *Supervisor) register(specs []NodeSpec) []*member {
	s.mu.Lock()
	defer s.mu.Unlock()

	reqs := make([]portalloc.Request, len(specs))
	for i, spec := range specs {
		reqs[i] = portalloc.Request{Owner: spec.Name, Ports: spec.PortRequests()}
	}
	resolved, errs := s.alloc.ResolveAll(reqs)

	batch := make([]*member, 0, len(specs))
	for i, spec := range specs {
		m := &member{
			spec:  spec,
			ip:    s.network.NodeIP(spec.Name),
			paths: s.cfg.Layout.For(spec.Prefix(), spec.Name),
			ports: resolved[i],
		}
		if err := errs[i]; err != nil {
			m.err = launcher.NewError(launcher.StagePort, spec.Name, "port allocation failed").
				WithCause(err).
				WithSuggestion("Pin a different port or leave it unset to allocate one")
			s.metrics.LaunchFailed(spec.Name, string(launcher.StagePort))
			s.logger.Error("node port allocation failed", "node", spec.Name, "error", err)
		}

		s.nodes[spec.Name] = m
		s.order = append(s.order, spec.Name)
		batch = append(batch, m)
	}
	return batch
}

// launch forks one node and starts its watchdog.
func (s *Supervisor) launch(ctx context.Context, m *member) {
	name := m.spec.Name
	_, span := s.tracer.Start(ctx, "node.launch", trace.WithAttributes(
		attribute.String("node", name),
		attribute.String("target", string(m.spec.Target)),
	))
	defer span.End()

	proc, err := s.launcher.Launch(s.abortCtx, launcher.Input{
		Spec:  m.spec,
		IP:    m.ip,
		Ports: m.ports,
		Paths: m.paths,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.LaunchFailed(name, string(launcher.StageOf(err)))
		s.logger.Error("node launch failed", "node", name, "error", err)

		s.mu.Lock()
		m.err = err
		s.mu.Unlock()
		return
	}
	span.SetAttributes(attribute.Int("pid", proc.PID()))

	startup, live := s.probes(m)
	dog := watchdog.New(name, startup, s.watchdogOptions(m, proc, live)...)

	s.mu.Lock()
	m.proc = proc
	m.dog = dog
	s.mu.Unlock()

	s.metrics.NodeLaunched(name, string(m.spec.Target))
	go dog.Run(s.abortCtx)
}

// probes returns the startup and live probes of a node.
func (s *Supervisor) probes(m *member) (watchdog.Probe, watchdog.Probe) {
	addr := m.addr(m.spec.PrimaryPort())

	if m.spec.Kind == node.KindController {
		live := watchdog.TCPProbe{Addr: addr}
		c := s.cfg.Controller
		if len(c.StatusCommand) == 0 && len(c.QueryCommand) == 0 {
			return live, live
		}

		vars := map[string]string{
			"name": m.spec.Name,
			"ip":   m.ip,
			"dir":  m.paths.WorkDir,
		}
		for k, v := range m.ports {
			vars[k] = strconv.Itoa(v)
		}
		return watchdog.ControllerProbe{
			Runner:        s.runner,
			StatusCommand: shell.Expand(c.StatusCommand, vars),
			AdminAddr:     m.addr(node.PortSSH),
			DataAddr:      m.addr(node.PortOpenFlow),
			QueryCommand:  shell.Expand(c.QueryCommand, vars),
			QueryExpect:   c.QueryExpect,
			StepInterval:  c.StepInterval,
		}, live
	}

	if s.cfg.Watchdog.GRPCProbe {
		p := watchdog.GRPCProbe{Addr: addr}
		return p, p
	}
	p := watchdog.TCPProbe{Addr: addr}
	return p, p
}

func (s *Supervisor) watchdogOptions(m *member, proc launcher.Process, live watchdog.Probe) []watchdog.Option {
	w := s.cfg.Watchdog
	startupTimeout := w.StartupTimeout
	probeTimeout := w.ProbeTimeout
	maxFailures := w.MaxFailures

	if m.spec.Kind == node.KindController {
		startupTimeout = w.ControllerStartupTimeout
		if len(s.cfg.Controller.StatusCommand) > 0 || len(s.cfg.Controller.QueryCommand) > 0 {
			// The compound probe retries its own steps.
			probeTimeout = startupTimeout
		}
	}
	if m.spec.Persistent {
		// Tolerate the gap between an exit and the next incarnation.
		maxFailures += int((s.cfg.RestartDelay+startupTimeout)/w.LiveInterval) + 1
	}

	logPath := m.paths.Log
	tailLines := w.TailLines

	return []watchdog.Option{
		watchdog.WithStartupTimeout(startupTimeout),
		watchdog.WithStartupInterval(w.StartupInterval),
		watchdog.WithLiveInterval(w.LiveInterval),
		watchdog.WithProbeTimeout(probeTimeout),
		watchdog.WithMaxFailures(maxFailures),
		watchdog.WithLiveProbe(live),
		watchdog.WithExited(proc.Exited()),
		watchdog.WithLogTail(func() []string {
			lines, err := launcher.Tail(logPath, tailLines)
			if err != nil {
				return []string{fmt.Sprintf("<log unavailable: %v>", err)}
			}
			return lines
		}),
		watchdog.WithOnDeath(func(err error) {
			if killErr := proc.Kill(); killErr != nil {
				s.logger.Warn("failed to kill dead node", "node", m.spec.Name, "error", killErr)
			}
		}),
		watchdog.WithMetricsCollector(s.wdMetrics),
		watchdog.WithLogger(s.logger),
	}
}

// waitAll blocks until every watchdog of batch left the Starting state.
func (s *Supervisor) waitAll(ctx context.Context, batch []*member) error {
	for _, m := range batch {
		s.mu.Lock()
		dog := m.dog
		s.mu.Unlock()
		if dog == nil {
			continue
		}

		_, span := s.tracer.Start(ctx, "node.wait", trace.WithAttributes(
			attribute.String("node", m.spec.Name),
		))
		state, err := dog.WaitStarted(ctx)
		span.SetAttributes(attribute.String("state", state.String()))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// writeMembership regenerates the membership from every controller of the
// cluster, writes the shared artifact and the boot-time copy of each new
// controller in batch.
func (s *Supervisor) writeMembership(batch []*member) {
	art, err := s.regenerateMembership()
	if err != nil {
		s.logger.Error("membership generation failed", "error", err)
	}
	if art == nil {
		return
	}

	for _, m := range batch {
		if m.spec.Kind != node.KindController || m.err != nil {
			continue
		}
		path := m.paths.ClusterConfigPath()
		if err := art.WriteFile(path); err != nil {
			s.mu.Lock()
			m.err = launcher.ErrWriteFile(m.spec.Name, path, err)
			s.mu.Unlock()
			s.logger.Error("failed to write membership", "node", m.spec.Name, "error", err)
		}
	}
}

// regenerateMembership rebuilds and writes the shared artifact. It returns
// nil when the cluster has no controllers.
func (s *Supervisor) regenerateMembership() (*membership.Artifact, error) {
	s.memMu.Lock()
	defer s.memMu.Unlock()

	s.mu.Lock()
	var members []membership.Member
	for _, name := range s.order {
		m := s.nodes[name]
		if m.spec.Kind != node.KindController || m.ports == nil {
			continue
		}
		members = append(members, membership.Member{
			ID:   m.spec.Name,
			IP:   m.ip,
			Port: m.ports[node.PortCluster],
		})
	}
	s.mu.Unlock()

	path := s.cfg.Layout.MembershipPath(s.cfg.Name)
	if len(members) == 0 {
		s.mu.Lock()
		s.membership = nil
		s.mu.Unlock()
		return nil, nil
	}

	art, err := membership.Generate(members, s.cfg.Membership)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.membership = art
	s.mu.Unlock()

	if err := art.WriteFile(path); err != nil {
		return art, fmt.Errorf("write %s: %w", path, err)
	}
	s.logger.Info("membership written", "path", path, "controllers", len(members))
	return art, nil
}

// Membership returns the current membership, or nil without controllers
func (s *Supervisor) Membership() *membership.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.membership
}

// MembershipPath is where the shared membership artifact is written
func (s *Supervisor) MembershipPath() string {
	return s.cfg.Layout.MembershipPath(s.cfg.Name)
}

// pushNetcfg writes and pushes the device configuration of every live
// switch in batch. Failures are warnings: the node stays live.
func (s *Supervisor) pushNetcfg(ctx context.Context, batch []*member) {
	ctrlIP, ctrlPort, known := s.controllerEndpoint()

	for _, m := range batch {
		s.mu.Lock()
		dog := m.dog
		s.mu.Unlock()
		if m.spec.Kind != node.KindSwitch || dog == nil || dog.State() != watchdog.StateLive {
			continue
		}

		err := s.push(ctx, m, ctrlIP, ctrlPort, known)
		s.metrics.NetcfgPushed(m.spec.Name, err)
		if err != nil {
			s.logger.Warn("netcfg push failed, node stays live", "node", m.spec.Name, "error", err)
		}

		s.mu.Lock()
		m.netcfgErr = err
		s.mu.Unlock()
	}
}

// PushNetcfg retries the device configuration push of a live switch.
func (s *Supervisor) PushNetcfg(ctx context.Context, name string) error {
	s.mu.Lock()
	m, ok := s.nodes[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, name)
	}
	if m.spec.Kind != node.KindSwitch {
		return fmt.Errorf("node %s is a %s, not a switch", name, m.spec.Kind)
	}

	ctrlIP, ctrlPort, known := s.controllerEndpoint()
	err := s.push(ctx, m, ctrlIP, ctrlPort, known)
	s.metrics.NetcfgPushed(name, err)

	s.mu.Lock()
	m.netcfgErr = err
	s.mu.Unlock()
	return err
}

func (s *Supervisor) push(ctx context.Context, m *member, ctrlIP string, ctrlPort int, known bool) error {
	ctx, span := s.tracer.Start(ctx, "netcfg.push", trace.WithAttributes(
		attribute.String("node", m.spec.Name),
		attribute.Bool("online", known && s.cfg.Controller.Push),
	))
	defer span.End()

	ip := m.ip
	if known {
		src, err := s.resolver.SourceIP(ctx, ctrlIP)
		if err != nil {
			s.logger.Warn("route lookup failed, using node address", "node", m.spec.Name, "controller", ctrlIP, "error", err)
		} else {
			ip = src
		}
	}

	dev, err := netcfg.NewDevice(m.spec, ip, m.ports[node.PortGRPC])
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	pusher := &netcfg.Pusher{
		Endpoint: netcfg.EndpointFor(ctrlIP, ctrlPort),
		Username: s.cfg.Controller.Username,
		Password: s.cfg.Controller.Password,
		Online:   known && s.cfg.Controller.Push,
		Client:   s.client,
		Logger:   s.logger,
	}
	if err := pusher.Push(ctx, m.spec.Name, m.paths.Netcfg, netcfg.NewDocument(m.spec.DeviceKey(), dev)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// controllerEndpoint returns the configured controller or the first live
// controller node of the cluster.
func (s *Supervisor) controllerEndpoint() (string, int, bool) {
	if s.cfg.Controller.IP != "" {
		return s.cfg.Controller.IP, s.cfg.Controller.Port, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, name := range s.order {
		m := s.nodes[name]
		if m.spec.Kind == node.KindController && m.dog != nil && m.dog.State() == watchdog.StateLive {
			return m.ip, m.ports[node.PortREST], true
		}
	}
	return "", 0, false
}

// Forward installs a host port forwarding rule to a node port. The rule is
// removed by Stop.
func (s *Supervisor) Forward(ctx context.Context, f Forward) error {
	if s.forwarder == nil {
		return fmt.Errorf("no port forwarder configured")
	}

	s.mu.Lock()
	m, ok := s.nodes[f.Node]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, f.Node)
	}
	port, ok := m.ports[f.Port]
	if !ok {
		return fmt.Errorf("node %s has no port %q", f.Node, f.Port)
	}

	if err := s.forwarder.Install(ctx, f.HostPort, m.ip, port); err != nil {
		return err
	}

	s.mu.Lock()
	s.forwards = append(s.forwards, installedForward{node: f.Node, hostPort: f.HostPort, ip: m.ip, port: port})
	s.mu.Unlock()
	s.logger.Info("port forward installed", "node", f.Node, "host_port", f.HostPort, "port", port)
	return nil
}

// RemoveNodes stops the named nodes and regenerates the membership.
func (s *Supervisor) RemoveNodes(ctx context.Context, names ...string) error {
	s.mu.Lock()
	removed := make([]*member, 0, len(names))
	for _, name := range names {
		if _, ok := s.nodes[name]; !ok {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrUnknownNode, name)
		}
	}
	for _, name := range names {
		removed = append(removed, s.nodes[name])
		delete(s.nodes, name)
	}
	s.order = without(s.order, names)
	s.mu.Unlock()

	var errs []error
	for i := len(removed) - 1; i >= 0; i-- {
		if err := s.stopMember(ctx, removed[i], false); err != nil {
			errs = append(errs, err)
		}
	}

	if _, err := s.regenerateMembership(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Abort cancels the shared abort token. Every watchdog stops quietly and
// persistent nodes stop respawning; a later Stop force-kills the processes.
func (s *Supervisor) Abort() {
	s.logger.Warn("cluster aborted")
	s.abort()
}

// Aborted reports whether Abort was called or the abort context ended
func (s *Supervisor) Aborted() bool {
	return s.abortCtx.Err() != nil
}

// Stop stops every node in reverse start order, tears down the network,
// removes port forwarding and deletes runtime files unless KeepFiles is set.
// Nodes are killed without a grace period once the cluster was aborted.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	order := append([]string(nil), s.order...)
	nodes := s.nodes
	forwards := s.forwards
	wasStarted := s.started
	s.nodes = make(map[string]*member)
	s.order = nil
	s.forwards = nil
	s.mu.Unlock()

	kill := s.Aborted()
	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		if err := s.stopMember(ctx, nodes[order[i]], kill); err != nil {
			errs = append(errs, err)
		}
	}

	if wasStarted {
		if err := s.network.Teardown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("network teardown: %w", err))
		}
	}

	for _, f := range forwards {
		if err := s.forwarder.Remove(ctx, f.hostPort, f.ip, f.port); err != nil {
			errs = append(errs, err)
		}
	}

	if !s.cfg.KeepFiles {
		if err := removeIfExists(s.MembershipPath()); err != nil {
			errs = append(errs, err)
		}
	}

	s.abort()
	s.logger.Info("cluster stopped", "nodes", len(order), "killed", kill)
	return errors.Join(errs...)
}

// stopMember stops one node, waits for its watchdog, releases its ports and
// removes its files.
func (s *Supervisor) stopMember(ctx context.Context, m *member, kill bool) error {
	s.mu.Lock()
	proc, dog := m.proc, m.dog
	s.mu.Unlock()

	if dog != nil {
		dog.Stop()
	}

	var err error
	if proc != nil {
		if kill {
			err = proc.Kill()
		} else {
			err = proc.Stop(s.cfg.GracePeriod)
		}
		if err != nil {
			err = fmt.Errorf("stop %s: %w", m.spec.Name, err)
		}
	}

	if dog != nil {
		select {
		case <-dog.Done():
		case <-ctx.Done():
			err = errors.Join(err, fmt.Errorf("stop %s: %w", m.spec.Name, ctx.Err()))
		}
	}

	for _, p := range m.ports {
		s.alloc.Release(p)
	}

	if !s.cfg.KeepFiles {
		if rmErr := m.paths.Remove(); rmErr != nil {
			err = errors.Join(err, fmt.Errorf("remove files of %s: %w", m.spec.Name, rmErr))
		}
	}
	s.logger.Info("node stopped", "node", m.spec.Name)
	return err
}

// Nodes returns a snapshot of every node in start order.
func (s *Supervisor) Nodes() []NodeStatus {
	s.mu.Lock()
	batch := make([]*member, 0, len(s.order))
	for _, name := range s.order {
		batch = append(batch, s.nodes[name])
	}
	s.mu.Unlock()
	return s.statuses(batch)
}

func (s *Supervisor) statuses(batch []*member) []NodeStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]NodeStatus, 0, len(batch))
	for _, m := range batch {
		st := NodeStatus{
			Name:      m.spec.Name,
			Kind:      m.spec.Kind,
			Target:    m.spec.Target,
			IP:        m.ip,
			Ports:     copyPorts(m.ports),
			LogPath:   m.paths.Log,
			Err:       m.err,
			NetcfgErr: m.netcfgErr,
			State:     watchdog.StateDead,
		}
		if m.proc != nil {
			st.PID = m.proc.PID()
		}
		if r, ok := m.proc.(*launcher.Respawner); ok {
			st.Restarts = r.Restarts()
		}
		if m.dog != nil {
			st.State = m.dog.State()
			if err := m.dog.Err(); err != nil && st.Err == nil {
				st.Err = err
			}
		}
		st.LogTail = watchdog.LogTailOf(st.Err)
		out = append(out, st)
	}
	return out
}

func (m *member) addr(port string) string {
	p, ok := m.ports[port]
	if !ok || p <= 0 {
		return ""
	}
	return net.JoinHostPort(m.ip, strconv.Itoa(p))
}

// validateSpecs checks every spec and that names are unique within specs
// and against existing nodes.
func validateSpecs(specs []NodeSpec, existing map[string]*member) error {
	seen := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return err
		}
		if seen[spec.Name] {
			return fmt.Errorf("duplicate node name %q", spec.Name)
		}
		if _, ok := existing[spec.Name]; ok {
			return fmt.Errorf("node %q is already in the cluster", spec.Name)
		}
		seen[spec.Name] = true
	}
	return nil
}

func without(names []string, drop []string) []string {
	skip := make(map[string]bool, len(drop))
	for _, d := range drop {
		skip[d] = true
	}
	out := names[:0:0]
	for _, n := range names {
		if !skip[n] {
			out = append(out, n)
		}
	}
	return out
}

func copyPorts(ports map[string]int) map[string]int {
	if ports == nil {
		return nil
	}
	out := make(map[string]int, len(ports))
	for k, v := range ports {
		out[k] = v
	}
	return out
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
