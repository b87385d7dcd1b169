package pipeline

import (
	"github.com/TetsujinOni/go-tartuffe/internal/core/fault"
	"github.com/TetsujinOni/go-tartuffe/internal/core/recording"
	"github.com/TetsujinOni/go-tartuffe/internal/core/ruleindex"
)

// Route binds one inbound Host to the upstream it forwards to and the
// recording configuration that applies along the way (§4.8, §6
// "upstream(s)/routes"). Host is matched against the incoming request's Host
// header; an empty Host is the catch-all default route used when no
// Host-specific route matches, or when only one upstream is configured.
type Route struct {
	Host            string
	Upstream        string
	RecordingMode   recording.Mode
	RecordingFields recording.Fields
	RecordingFlags  recording.IncludeFlags
}

// Snapshot is the immutable, fully-compiled configuration a Pipeline
// dispatches requests against. A reload (§6 "POST /admin/reload")
// builds a new Snapshot and swaps it in atomically; in-flight requests keep
// using the Snapshot they started with (§9 "compiled-tree sharing",
// "no cyclic ownership").
type Snapshot struct {
	Rules  []*fault.Rule
	Index  *ruleindex.Index
	Routes map[string]Route // keyed by Route.Host ("" is the catch-all default)
}

// BuildSnapshot compiles rules into a rule index and pairs it with the
// configured routes, producing the Snapshot a Pipeline will serve requests
// from until the next reload.
func BuildSnapshot(rules []*fault.Rule, routes []Route) *Snapshot {
	idx := ruleindex.Build(rules)
	routeMap := make(map[string]Route, len(routes))
	for _, rt := range routes {
		routeMap[rt.Host] = rt
	}
	return &Snapshot{Rules: rules, Index: idx, Routes: routeMap}
}
