// Package statusui is a read-only HTTP dashboard over a live process table:
// the all-processes listing, a per-pid detail view, and a parent-chain tree
// view, backed by internal/procapi.API.Ps's PCB registry snapshot.
package statusui

import (
	"fmt"
	"html/template"
	"log"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pennos-project/pennos/internal/pcb"
	"github.com/pennos-project/pennos/internal/procapi"
)

const (
	defaultAddr       = ":8080"
	refreshPath       = "/refresh"
	processesPath     = "/process/"
	processesTreePath = "/tree/"
)

// UI serves the dashboard. Addr defaults to defaultAddr; set it before
// calling RunUI to bind elsewhere.
type UI struct {
	Addr string

	api         *procapi.API
	data        Data
	refreshLock sync.Mutex
}

// Data is what every template renders against: the last snapshot time and
// the PCB table keyed by pid.
type Data struct {
	LastRefresh time.Time
	PS          map[int]pcb.PCB
}

type DetailKV struct {
	Field string
	Value string
}

// New builds a UI over api, taking an initial snapshot immediately so the
// first request doesn't race an empty table.
func New(api *procapi.API) *UI {
	u := &UI{Addr: defaultAddr, api: api}
	u.refresh()
	return u
}

func (ui *UI) refresh() {
	snap := ui.api.Ps()
	table := make(map[int]pcb.PCB, len(snap))
	for _, p := range snap {
		table[p.PID] = p
	}
	ui.data = Data{LastRefresh: time.Now(), PS: table}
}

// RunUI registers the handlers and serves until the process is killed; it
// never returns.
func (ui *UI) RunUI() {
	http.HandleFunc("/", ui.handleAllProcesses)
	http.HandleFunc(refreshPath, ui.handleRefresh)
	http.HandleFunc(processesPath, ui.handleProcessDetails)
	http.HandleFunc(processesTreePath, ui.handleProcessTree)

	log.Printf("serving at %s", ui.Addr)
	panic(http.ListenAndServe(ui.Addr, nil))
}

func (ui *UI) handleAllProcesses(w http.ResponseWriter, r *http.Request) {
	ui.refreshLock.Lock()
	defer ui.refreshLock.Unlock()
	ui.refresh()

	t, err := createTemplate(allProcessesView)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := t.Execute(w, ui.data); err != nil {
		writeFailure(w, err)
	}
}

func (ui *UI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	ui.refreshLock.Lock()
	ui.refresh()
	ui.refreshLock.Unlock()
	log.Println("refreshed process table")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (ui *UI) handleProcessDetails(w http.ResponseWriter, r *http.Request) {
	pidString := strings.TrimPrefix(r.URL.Path, processesPath)
	pid, err := strconv.Atoi(pidString)
	if err != nil {
		writeFailure(w, err)
		return
	}

	proc, ok := ui.data.PS[pid]
	if !ok {
		writeFailure(w, fmt.Errorf("process %d does not exist", pid))
		return
	}
	t, err := createTemplate(viewProcessDetails)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := t.Execute(w, proc); err != nil {
		writeFailure(w, err)
	}
}

func (ui *UI) handleProcessTree(w http.ResponseWriter, r *http.Request) {
	pidString := strings.TrimPrefix(r.URL.Path, processesTreePath)
	pid, err := strconv.Atoi(pidString)
	if err != nil {
		writeFailure(w, err)
		return
	}

	if _, ok := ui.data.PS[pid]; !ok {
		writeFailure(w, fmt.Errorf("process %d does not exist", pid))
		return
	}
	hierarchy := getProcessHierarchy(ui.data.PS, pid)
	t, err := createTemplate(viewTreeDetails)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := t.Execute(w, hierarchy); err != nil {
		writeFailure(w, err)
	}
}

// getProcessDetails returns a (field, value) row per exported PCB field, for
// the detail view's reflection-driven table. Unexported fields (the
// execution context) are skipped since reflect can't read them.
func getProcessDetails(process pcb.PCB) []DetailKV {
	result := []DetailKV{}
	t := reflect.TypeOf(process)
	v := reflect.ValueOf(process)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		result = append(result, DetailKV{field.Name, fmt.Sprintf("%v", v.Field(i).Interface())})
	}
	return result
}

// getProcessHierarchy walks PS from pid up through ParentPID links, returning
// child-first (most child to most parent), stopping at a self-parented root
// (init) or a missing/orphaned link.
func getProcessHierarchy(processes map[int]pcb.PCB, pid int) []pcb.PCB {
	result := []pcb.PCB{}

	current, ok := processes[pid]
	if !ok {
		return result
	}
	for {
		result = append(result, current)
		if current.ParentPID == current.PID {
			break
		}
		parent, ok := processes[current.ParentPID]
		if !ok {
			break
		}
		current = parent
	}
	return result
}

// createTemplate returns a final template with your template (temp) specified
// and wrapped with uiHeader and uiFooter.
func createTemplate(temp string) (*template.Template, error) {
	t, err := template.New("response").
		Funcs(template.FuncMap{"pDeets": getProcessDetails}).
		Parse(uiHeader + temp + uiFooter)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func writeFailure(w http.ResponseWriter, err error) {
	w.WriteHeader(http.StatusInternalServerError)
	t, _ := createTemplate(errorView)
	t.Execute(w, err.Error())
}
