package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"time"
)

const (
	Connections       = "Connections"
	OnlineUsers       = "OnlineUsers"
	ActiveRooms       = "ActiveRooms"
	MessagesSent      = "MessagesSent"
	EventsDropped     = "EventsDropped"
	OfflineNotices    = "OfflineNotices"
	PresenceBroadcast = "PresenceBroadcasts"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	Set(name string, value int64)
	RegisterMetric(name string)
	Run()
}

type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan *metricsUpdateReq
}

type metricsUpdateReq struct {
	name  string
	value int64
	set   bool
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	expvarData := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		expvarData[kv.Key] = value
	})

	json.NewEncoder(w).Encode(expvarData)
}

// NewStatsUpdater creates a stats updater serving its counters on
// GET /debug/vars of mux. The map is not published to the global expvar
// registry so several updaters can coexist in one process.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		vars:       new(expvar.Map).Init(),
		updateChan: make(chan *metricsUpdateReq, 512),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))
	su.initializeMetrics()

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))
}

func (su *StatsUpdater) updateMetrics() {
	for req := range su.updateChan {
		metric, ok := su.vars.Get(req.name).(*expvar.Int)
		if !ok {
			continue
		}

		if req.set {
			metric.Set(req.value)
		} else {
			metric.Add(req.value)
		}
	}
}

func (su *StatsUpdater) send(req *metricsUpdateReq) {
	select {
	case su.updateChan <- req:
	default:
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.send(&metricsUpdateReq{name: name, value: 1})
}

func (su *StatsUpdater) Decr(name string) {
	su.send(&metricsUpdateReq{name: name, value: -1})
}

// Set replaces the value of a gauge.
func (su *StatsUpdater) Set(name string, value int64) {
	su.send(&metricsUpdateReq{name: name, value: value, set: true})
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

func (su *StatsUpdater) Stop() {
	close(su.updateChan)
}
