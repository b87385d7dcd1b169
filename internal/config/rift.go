package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/TetsujinOni/go-tartuffe/internal/core"
	"github.com/TetsujinOni/go-tartuffe/internal/core/fault"
	"github.com/TetsujinOni/go-tartuffe/internal/core/flowstore"
	"github.com/TetsujinOni/go-tartuffe/internal/core/pipeline"
	"github.com/TetsujinOni/go-tartuffe/internal/core/predicate"
	"github.com/TetsujinOni/go-tartuffe/internal/core/recording"
	"github.com/TetsujinOni/go-tartuffe/internal/core/scriptpool"
	goredis "github.com/redis/go-redis/v9"
)

// RiftConfig is the YAML tree for rift's proxy/fault-injection mode, loaded
// separately from the imposter-mode JSON config (internal/config/loader.go,
// ejs.go keep handling that path unchanged).
type RiftConfig struct {
	Listen         ListenConfig         `yaml:"listen"`
	Upstream       *UpstreamConfig      `yaml:"upstream"`
	Upstreams      []UpstreamConfig     `yaml:"upstreams"`
	Routes         []RouteConfig        `yaml:"routes"`
	Rules          []RuleConfig         `yaml:"rules"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
	ScriptPool     ScriptPoolConfig     `yaml:"script_pool"`
	DecisionCache  DecisionCacheConfig  `yaml:"decision_cache"`
	FlowState      FlowStateConfig      `yaml:"flow_state"`
	Recording      RecordingConfig      `yaml:"recording"`
}

// ListenConfig configures the proxy's inbound socket(s).
type ListenConfig struct {
	Addr    string `yaml:"addr"`
	Workers int    `yaml:"workers"` // >1 enables SO_REUSEPORT multi-listener mode
}

// UpstreamConfig names one backend a route can forward to.
type UpstreamConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// RouteConfig binds an inbound Host to an upstream and its recording mode.
type RouteConfig struct {
	Host            string         `yaml:"host"`
	Upstream        string         `yaml:"upstream"`
	RecordingMode   string         `yaml:"recording_mode"` // proxyOnce|proxyAlways|proxyTransparent
	RecordingFields RecordingField `yaml:"recording_fields"`
	IncludeFlags    IncludeFlags   `yaml:"predicate_generators"`
}

// RecordingField selects which request facets build a RequestSignature.
type RecordingField struct {
	Method  bool     `yaml:"method"`
	Path    bool     `yaml:"path"`
	Query   bool     `yaml:"query"`
	Headers []string `yaml:"headers"`
}

// IncludeFlags mirrors §4.7's generate_stub include set, plus the
// wait-behavior toggle.
type IncludeFlags struct {
	Method         bool     `yaml:"method"`
	Path           bool     `yaml:"path"`
	Query          bool     `yaml:"query"`
	Headers        []string `yaml:"headers"`
	AddWaitBehavior bool    `yaml:"add_wait_behavior"`
}

// RuleConfig is the YAML shape of a compiled fault.Rule (§3 "Rule").
type RuleConfig struct {
	ID        string              `yaml:"id"`
	Upstream  string              `yaml:"upstream"`
	Predicate PredicateConfig     `yaml:"predicate"`
	Script    *ScriptConfig       `yaml:"script"`
	Latency   *LatencyFaultConfig `yaml:"latency"`
	Error     *ErrorFaultConfig   `yaml:"error"`
	Tcp       *TcpFaultConfig     `yaml:"tcp"`
}

// PredicateConfig is the YAML shape of a RequestPredicateSpec leaf, plus a
// logical composition (not/and/or over nested children).
type PredicateConfig struct {
	CaseSensitive bool `yaml:"case_sensitive"`

	Method *StringMatcherConfig `yaml:"method"`
	Path   *PathConfig          `yaml:"path"`
	Body   *BodyConfig          `yaml:"body"`

	Headers []FieldConfig `yaml:"headers"`
	Query   []FieldConfig `yaml:"query"`

	Not *PredicateConfig   `yaml:"not"`
	And []PredicateConfig  `yaml:"and"`
	Or  []PredicateConfig  `yaml:"or"`
}

// StringMatcherConfig is the YAML shape of a StringMatcherSpec.
type StringMatcherConfig struct {
	Kind          string      `yaml:"kind"` // equals|contains|startsWith|endsWith|matches|exists|deepEquals
	Value         string      `yaml:"value"`
	Exists        bool        `yaml:"exists"`
	DeepValue     interface{} `yaml:"deepValue"`
	CaseSensitive *bool       `yaml:"case_sensitive"`
	Except        string      `yaml:"except"`
}

// FieldConfig is the YAML shape of a header/query FieldSpec.
type FieldConfig struct {
	Name    string               `yaml:"name"`
	Value   string               `yaml:"value"`
	Matcher *StringMatcherConfig `yaml:"matcher"`
}

// PathConfig is the YAML shape of a PathSpec.
type PathConfig struct {
	Kind  string `yaml:"kind"` // any|exact|prefix|regex|contains|endsWith
	Value string `yaml:"value"`
}

// BodyConfig is the YAML shape of a BodySpec.
type BodyConfig struct {
	Kind     string              `yaml:"kind"` // raw|jsonPath|xPath
	Selector string              `yaml:"selector"`
	Inner    StringMatcherConfig `yaml:"inner"`
}

// ScriptConfig is the YAML shape of a Rule's attached fault-decision script.
type ScriptConfig struct {
	Source string `yaml:"source"`
	Engine string `yaml:"engine"`
}

// LatencyFaultConfig is the YAML shape of a LatencyFault.
type LatencyFaultConfig struct {
	Probability float64 `yaml:"probability"`
	MinMS       int     `yaml:"min_ms"`
	MaxMS       int     `yaml:"max_ms"`
}

// ErrorFaultConfig is the YAML shape of an ErrorFault.
type ErrorFaultConfig struct {
	Probability float64               `yaml:"probability"`
	Status      int                   `yaml:"status"`
	Body        string                `yaml:"body"`
	Headers     map[string]string     `yaml:"headers"`
	Behaviors   *ErrorBehaviorsConfig `yaml:"behaviors"`
}

// ErrorBehaviorsConfig is the YAML shape of the behaviors applied to a
// synthesized error response before it is written (§4.6).
type ErrorBehaviorsConfig struct {
	Copy []CopyBehaviorConfig `yaml:"copy"`
}

// CopyBehaviorConfig is the YAML shape of a single "copy" behavior.
type CopyBehaviorConfig struct {
	From  string          `yaml:"from"`
	Into  string          `yaml:"into"`
	Using CopyUsingConfig `yaml:"using"`
}

// CopyUsingConfig names the extraction method a CopyBehaviorConfig applies.
type CopyUsingConfig struct {
	Method   string `yaml:"method"` // "regex" is the only supported method
	Selector string `yaml:"selector"`
}

// TcpFaultConfig is the YAML shape of a TcpFault.
type TcpFaultConfig struct {
	Kind string `yaml:"kind"` // connectionResetByPeer|randomDataThenClose
}

// ConnectionPoolConfig tunes the pipeline's upstream HTTP client.
type ConnectionPoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ScriptPoolConfig sizes the bounded script worker pool (§4.4).
type ScriptPoolConfig struct {
	Workers   int           `yaml:"workers"`
	QueueSize int           `yaml:"queue_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// DecisionCacheConfig sizes the decision cache (§4.5 "Decision cache").
type DecisionCacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	MaxSize int           `yaml:"max_size"`
	TTL     time.Duration `yaml:"ttl"`
}

// FlowStateConfig selects the flow store backend (§4.3).
type FlowStateConfig struct {
	Backend    string        `yaml:"backend"` // memory|redis
	RedisAddr  string        `yaml:"redis_addr"`
	KeyPrefix  string        `yaml:"key_prefix"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// RecordingConfig carries recording-store-wide defaults; per-route overrides
// live on RouteConfig.
type RecordingConfig struct {
	RngSeed int64 `yaml:"rng_seed"`
}

// LoadRiftConfig reads and parses a rift YAML config file. It compiles
// nothing: CompileRules, CompileRoutes and BuildFlowStore turn the parsed
// tree into the pieces a Pipeline is built from.
func LoadRiftConfig(path string) (*RiftConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, core.Wrap(core.ErrConfigInvalid, "reading rift config %s: %w", path, err)
	}
	var cfg RiftConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, core.Wrap(core.ErrConfigInvalid, "parsing rift config %s: %w", path, err)
	}
	return &cfg, nil
}

// CompileRules compiles every RuleConfig into a *fault.Rule, stopping at the
// first InvalidPattern failure (§7 "ConfigInvalid"/"InvalidPattern" are
// both rejected wholesale, unlike ScriptInvalid which loads the rule without
// its script).
func (c *RiftConfig) CompileRules() ([]*fault.Rule, error) {
	rules := make([]*fault.Rule, 0, len(c.Rules))
	for _, rc := range c.Rules {
		r, err := compileRule(rc)
		if err != nil {
			return nil, core.New(core.ErrInvalidPattern, fmt.Errorf("rule %q: %w", rc.ID, err), map[string]interface{}{"rule_id": rc.ID})
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func compileRule(rc RuleConfig) (*fault.Rule, error) {
	spec, pathSpec, err := compilePredicateSpec(rc.Predicate)
	if err != nil {
		return nil, err
	}
	node, err := predicate.Compile(spec)
	if err != nil {
		return nil, err
	}

	r := &fault.Rule{
		ID:        rc.ID,
		Predicate: node,
		PathSpec:  pathSpec,
		Upstream:  rc.Upstream,
	}
	// A script that fails validation is dropped; the rule loads without it.
	if rc.Script != nil && scriptpool.Validate(rc.Script.Source, rc.Script.Engine) == nil {
		r.Script = &fault.Script{Source: rc.Script.Source, Engine: rc.Script.Engine}
	}
	if rc.Latency != nil {
		r.Latency = &fault.LatencyFault{Probability: rc.Latency.Probability, MinMS: rc.Latency.MinMS, MaxMS: rc.Latency.MaxMS}
	}
	if rc.Error != nil {
		r.Error = &fault.ErrorFault{Probability: rc.Error.Probability, Status: rc.Error.Status, Body: rc.Error.Body, Headers: rc.Error.Headers}
		if rc.Error.Behaviors != nil {
			for _, cc := range rc.Error.Behaviors.Copy {
				r.Error.Copy = append(r.Error.Copy, fault.CopyBehavior{
					From:     cc.From,
					Into:     cc.Into,
					Method:   cc.Using.Method,
					Selector: cc.Using.Selector,
				})
			}
		}
	}
	if rc.Tcp != nil {
		r.TCP = &fault.TcpFault{Kind: parseTCPKind(rc.Tcp.Kind)}
	}
	return r, nil
}

// compilePredicateSpec returns both the compiled spec (for predicate.Compile)
// and, for a leaf predicate, the PathSpec the rule index shapes itself
// around (§4.2). Composed (not/and/or) predicates carry no PathSpec:
// they fall into the index's residual bucket, which every lookup scans.
func compilePredicateSpec(pc PredicateConfig) (predicate.RequestPredicateSpec, *predicate.PathSpec, error) {
	if pc.Not != nil {
		child, _, err := compilePredicateSpec(*pc.Not)
		if err != nil {
			return predicate.RequestPredicateSpec{}, nil, err
		}
		return predicate.RequestPredicateSpec{Op: predicate.OpNot, Children: []predicate.RequestPredicateSpec{child}}, nil, nil
	}
	if len(pc.And) > 0 {
		children, err := compilePredicateSpecs(pc.And)
		if err != nil {
			return predicate.RequestPredicateSpec{}, nil, err
		}
		return predicate.RequestPredicateSpec{Op: predicate.OpAnd, Children: children}, nil, nil
	}
	if len(pc.Or) > 0 {
		children, err := compilePredicateSpecs(pc.Or)
		if err != nil {
			return predicate.RequestPredicateSpec{}, nil, err
		}
		return predicate.RequestPredicateSpec{Op: predicate.OpOr, Children: children}, nil, nil
	}

	spec := predicate.RequestPredicateSpec{CaseSensitive: pc.CaseSensitive}
	if pc.Method != nil {
		spec.Method = compileStringMatcherSpec(*pc.Method)
	}
	var pathSpec *predicate.PathSpec
	if pc.Path != nil {
		ps := &predicate.PathSpec{Kind: parsePathKind(pc.Path.Kind), Value: pc.Path.Value}
		spec.Path = ps
		pathSpec = ps
	}
	if pc.Body != nil {
		spec.Body = &predicate.BodySpec{
			Kind:     parseBodyKind(pc.Body.Kind),
			Selector: pc.Body.Selector,
			Inner:    *compileStringMatcherSpec(pc.Body.Inner),
		}
	}
	for _, h := range pc.Headers {
		spec.Headers = append(spec.Headers, compileFieldSpec(h))
	}
	for _, q := range pc.Query {
		spec.Query = append(spec.Query, compileFieldSpec(q))
	}
	return spec, pathSpec, nil
}

func compilePredicateSpecs(pcs []PredicateConfig) ([]predicate.RequestPredicateSpec, error) {
	out := make([]predicate.RequestPredicateSpec, 0, len(pcs))
	for _, pc := range pcs {
		spec, _, err := compilePredicateSpec(pc)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

func compileFieldSpec(f FieldConfig) predicate.FieldSpec {
	fs := predicate.FieldSpec{Name: f.Name, Value: f.Value}
	if f.Matcher != nil {
		fs.Matcher = compileStringMatcherSpec(*f.Matcher)
	}
	return fs
}

func compileStringMatcherSpec(sc StringMatcherConfig) *predicate.StringMatcherSpec {
	return &predicate.StringMatcherSpec{
		Kind:          parseMatcherKind(sc.Kind),
		Value:         sc.Value,
		ExistsValue:   sc.Exists,
		DeepValue:     sc.DeepValue,
		CaseSensitive: sc.CaseSensitive,
		Except:        sc.Except,
	}
}

func parseMatcherKind(s string) predicate.Kind {
	switch s {
	case "contains":
		return predicate.Contains
	case "startsWith":
		return predicate.StartsWith
	case "endsWith":
		return predicate.EndsWith
	case "matches":
		return predicate.Matches
	case "exists":
		return predicate.Exists
	case "deepEquals":
		return predicate.DeepEquals
	default:
		return predicate.Equals
	}
}

func parsePathKind(s string) predicate.PathKind {
	switch s {
	case "exact":
		return predicate.PathExact
	case "prefix":
		return predicate.PathPrefix
	case "regex":
		return predicate.PathRegex
	case "contains":
		return predicate.PathContains
	case "endsWith":
		return predicate.PathEndsWith
	default:
		return predicate.PathAny
	}
}

func parseBodyKind(s string) predicate.BodyKind {
	switch s {
	case "jsonPath":
		return predicate.BodyJSONPath
	case "xPath":
		return predicate.BodyXPath
	default:
		return predicate.BodyRaw
	}
}

func parseTCPKind(s string) fault.TcpKind {
	if s == "randomDataThenClose" {
		return fault.RandomDataThenClose
	}
	return fault.ConnectionResetByPeer
}

// CompileRoutes resolves each RouteConfig's upstream name (or bare URL) into
// a pipeline.Route, defaulting to the single configured Upstream when Routes
// is empty (§6 "upstream(s)/routes").
func (c *RiftConfig) CompileRoutes() ([]pipeline.Route, error) {
	byName := make(map[string]string, len(c.Upstreams)+1)
	for _, u := range c.Upstreams {
		byName[u.Name] = u.URL
	}
	if c.Upstream != nil {
		byName[c.Upstream.Name] = c.Upstream.URL
	}

	resolve := func(name string) (string, error) {
		if url, ok := byName[name]; ok {
			return url, nil
		}
		if name != "" {
			return name, nil // treat as a literal URL
		}
		if c.Upstream != nil {
			return c.Upstream.URL, nil
		}
		return "", fmt.Errorf("route references unknown upstream %q", name)
	}

	if len(c.Routes) == 0 {
		url, err := resolve("")
		if err != nil {
			return nil, core.Wrap(core.ErrConfigInvalid, "%w", err)
		}
		return []pipeline.Route{{Upstream: url, RecordingMode: recording.ProxyOnce}}, nil
	}

	routes := make([]pipeline.Route, 0, len(c.Routes))
	for _, rc := range c.Routes {
		url, err := resolve(rc.Upstream)
		if err != nil {
			return nil, core.Wrap(core.ErrConfigInvalid, "%w", err)
		}
		routes = append(routes, pipeline.Route{
			Host:          rc.Host,
			Upstream:      url,
			RecordingMode: recording.ParseMode(rc.RecordingMode),
			RecordingFields: recording.Fields{
				IncludeMethod: rc.RecordingFields.Method,
				IncludePath:   rc.RecordingFields.Path,
				IncludeQuery:  rc.RecordingFields.Query,
				Headers:       rc.RecordingFields.Headers,
			},
			RecordingFlags: recording.IncludeFlags{
				Method:          rc.IncludeFlags.Method,
				Path:            rc.IncludeFlags.Path,
				Query:           rc.IncludeFlags.Query,
				Headers:         rc.IncludeFlags.Headers,
				AddWaitBehavior: rc.IncludeFlags.AddWaitBehavior,
			},
		})
	}
	return routes, nil
}

// BuildFlowStore constructs the flow store backend named by FlowState.Backend.
func (c *RiftConfig) BuildFlowStore() (flowstore.Store, error) {
	switch c.FlowState.Backend {
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: c.FlowState.RedisAddr})
		return flowstore.NewRedis(&flowstore.GoRedisAdapter{Client: client}, c.FlowState.KeyPrefix, c.FlowState.DefaultTTL), nil
	default:
		return flowstore.NewMemory(c.FlowState.DefaultTTL), nil
	}
}
