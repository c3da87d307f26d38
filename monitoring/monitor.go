// Package monitoring turns a coupled run into an HTTP server so that the
// progress of the exchangers can be inspected while the solvers run.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"reflect"
	"runtime/pprof"
	"strconv"
	"strings"
	"sync"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/sarchlab/gridexchange/exchange"
	"github.com/sarchlab/gridexchange/idgen"
	"github.com/sarchlab/gridexchange/monitoring/web"
)

// Monitor serves the state of the registered exchangers over HTTP.
type Monitor struct {
	portNumber      int
	openBrowser     bool
	profileDuration time.Duration
	logger          zerolog.Logger

	exchangersLock sync.Mutex
	exchangers     []exchange.Exchanger

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	server *http.Server
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		profileDuration: time.Second,
		logger:          zerolog.Nop(),
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		m.logger.Warn().Msgf(
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithLogger sets the logger that reports the server address and failures.
func (m *Monitor) WithLogger(logger zerolog.Logger) *Monitor {
	m.logger = logger
	return m
}

// WithBrowser opens the monitoring page in the default browser once the
// server is up.
func (m *Monitor) WithBrowser(open bool) *Monitor {
	m.openBrowser = open
	return m
}

// WithProfileDuration sets how long the profile endpoint samples the CPU.
func (m *Monitor) WithProfileDuration(d time.Duration) *Monitor {
	m.profileDuration = d
	return m
}

// RegisterExchanger makes an exchanger visible to the monitor.
func (m *Monitor) RegisterExchanger(x exchange.Exchanger) {
	m.exchangersLock.Lock()
	defer m.exchangersLock.Unlock()

	m.exchangers = append(m.exchangers, x)
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        idgen.Get().Generate(),
		Name:      name,
		Total:     total,
		StartTime: time.Now(),
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))

	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Handler returns the router with every API endpoint and the static pages.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/list_exchangers", m.listExchangers)
	r.HandleFunc("/api/exchanger/{name}", m.exchangerDetails)
	r.HandleFunc("/api/field/{json}", m.listFieldValue)
	r.HandleFunc("/api/progress", m.listProgressBars)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
	r.PathPrefix("/").Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts serving in the background and returns the URL of the
// monitoring page.
func (m *Monitor) StartServer() (string, error) {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(m.portNumber))
	if err != nil {
		return "", fmt.Errorf("monitoring: listening: %w", err)
	}

	url := fmt.Sprintf("http://localhost:%d",
		listener.Addr().(*net.TCPAddr).Port)

	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		err := m.server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error().Err(err).Msg("monitoring server stopped")
		}
	}()

	m.logger.Info().Str("url", url).Msg("monitoring exchange")

	if m.openBrowser {
		if err := browser.OpenURL(url); err != nil {
			m.logger.Warn().Err(err).Msg("cannot open browser")
		}
	}

	return url, nil
}

// Shutdown stops the server started by StartServer.
func (m *Monitor) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

type exchangerRsp struct {
	Name  string `json:"name"`
	Role  string `json:"role"`
	Phase string `json:"phase"`
	Cycle int    `json:"cycle"`
}

func (m *Monitor) listExchangers(w http.ResponseWriter, _ *http.Request) {
	m.exchangersLock.Lock()
	rsp := make([]exchangerRsp, 0, len(m.exchangers))
	for _, x := range m.exchangers {
		s := x.Snapshot()
		rsp = append(rsp, exchangerRsp{
			Name:  s.Name,
			Role:  s.Role,
			Phase: s.Phase,
			Cycle: s.Cycle,
		})
	}
	m.exchangersLock.Unlock()

	m.writeJSON(w, rsp)
}

func (m *Monitor) exchangerDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	x := m.findExchangerOr404(w, name)
	if x == nil {
		return
	}

	snapshot := x.Snapshot()

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&snapshot)
	serializer.SetMaxDepth(1)

	if err := serializer.Serialize(w); err != nil {
		m.fail(w, err)
	}
}

type fieldReq struct {
	ExchangerName string `json:"exchanger_name,omitempty"`
	FieldName     string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	req := fieldReq{}

	err := json.Unmarshal([]byte(mux.Vars(r)["json"]), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	x := m.findExchangerOr404(w, req.ExchangerName)
	if x == nil {
		return
	}

	snapshot := x.Snapshot()

	if _, err := m.walkFields(&snapshot, req.FieldName); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(&snapshot)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	if err != nil {
		m.fail(w, err)
		return
	}

	if err := serializer.Serialize(w); err != nil {
		m.fail(w, err)
	}
}

type fieldFormatError struct {
	field string
}

func (e fieldFormatError) Error() string {
	return fmt.Sprintf("cannot follow field %q", e.field)
}

// walkFields follows a dot separated path of struct fields and slice
// indices.
func (m *Monitor) walkFields(
	root interface{},
	fields string,
) (reflect.Value, error) {
	elem := reflect.ValueOf(root)

	fieldNames := strings.Split(fields, ".")

	for len(fieldNames) > 0 {
		switch elem.Kind() {
		case reflect.Ptr, reflect.Interface:
			elem = elem.Elem()
		case reflect.Struct:
			elem = elem.FieldByName(fieldNames[0])
			if !elem.IsValid() {
				return elem, fieldFormatError{field: fieldNames[0]}
			}

			fieldNames = fieldNames[1:]
		case reflect.Slice:
			index, err := strconv.Atoi(fieldNames[0])
			if err != nil || index < 0 || index >= elem.Len() {
				return elem, fieldFormatError{field: fieldNames[0]}
			}

			elem = elem.Index(index)
			fieldNames = fieldNames[1:]
		default:
			return elem, fieldFormatError{field: fieldNames[0]}
		}
	}

	if elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}

	return elem, nil
}

func (m *Monitor) findExchangerOr404(
	w http.ResponseWriter,
	name string,
) exchange.Exchanger {
	m.exchangersLock.Lock()
	defer m.exchangersLock.Unlock()

	for _, x := range m.exchangers {
		if x.Name() == name {
			return x
		}
	}

	http.Error(w, "Exchanger not found", http.StatusNotFound)

	return nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}
	m.progressBarsLock.Unlock()

	m.writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		m.fail(w, err)
		return
	}

	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		m.fail(w, err)
		return
	}

	memorySize, err := proc.MemoryInfo()
	if err != nil {
		m.fail(w, err)
		return
	}

	m.writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	if err := pprof.StartCPUProfile(buf); err != nil {
		m.fail(w, err)
		return
	}

	time.Sleep(m.profileDuration)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	if err != nil {
		m.fail(w, err)
		return
	}

	m.writeJSON(w, prof)
}

func (m *Monitor) writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.fail(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	if _, err := w.Write(data); err != nil {
		m.logger.Debug().Err(err).Msg("writing monitoring response")
	}
}

func (m *Monitor) fail(w http.ResponseWriter, err error) {
	m.logger.Error().Err(err).Msg("monitoring request failed")
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
