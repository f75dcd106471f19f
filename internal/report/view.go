package report

import (
	"sort"
	"time"

	"logwarden/internal/fleet"
)

const timeLayout = "2006-01-02 15:04:05"

// TaskView is one task row in the rendered report.
type TaskView struct {
	Name   string
	State  string
	Detail string
	Addr   string
	New    bool
}

// DeviceView is one device panel in the rendered report.
type DeviceView struct {
	Name      string
	Addr      string
	Tasks     []TaskView
	OKCount   int
	ErrCount  int
	LostCount int
	New       bool
	Lost      bool
}

// Healthy reports whether every task of a present device is ok.
func (d DeviceView) Healthy() bool {
	return !d.Lost && d.ErrCount == 0 && d.LostCount == 0
}

// FleetView is the full daily report view model.
type FleetView struct {
	Server      string
	Addr        string
	GeneratedAt string
	Devices     []DeviceView
	OKDevices   int
	ErrDevices  int
	LostDevices int
}

// BuildView folds the cycle's statuses and the historical registry into the
// report view. Registry devices absent this cycle become device-LOST;
// registry tasks absent from a present device's report become task-lost;
// devices and tasks never seen before are flagged NEW and added to the
// registry. The updated registry is returned for persistence.
func BuildView(server fleet.Device, statuses map[string]fleet.DeviceStatus,
	known map[string][]string, now time.Time,
) (FleetView, map[string][]string) {
	view := FleetView{
		Server:      server.Name,
		Addr:        server.DisplayAddr(),
		GeneratedAt: now.Format(timeLayout),
	}

	for identity := range known {
		if _, ok := statuses[identity]; !ok {
			statuses[identity] = fleet.DeviceStatus{Lost: true}
		}
	}

	identities := make([]string, 0, len(statuses))
	for identity := range statuses {
		identities = append(identities, identity)
	}
	sort.Strings(identities)

	for _, identity := range identities {
		status := statuses[identity]
		device := fleet.ParseDevice(identity)
		knownTasks, seen := known[identity]

		dv := DeviceView{
			Name: device.Name,
			Addr: device.DisplayAddr(),
			New:  !seen,
			Lost: status.Lost,
		}

		tasks := make(map[string]fleet.TaskReport, len(status.Tasks))
		for name, tr := range status.Tasks {
			tasks[name] = tr
		}
		if !status.Lost {
			for _, name := range knownTasks {
				if _, ok := tasks[name]; !ok {
					tasks[name] = fleet.TaskReport{State: fleet.StateLost}
				}
			}
		}

		names := make([]string, 0, len(tasks))
		for name := range tasks {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			tr := tasks[name]
			tv := TaskView{Name: name, State: tr.State, Detail: tr.Detail, Addr: dv.Addr}
			if !contains(knownTasks, name) {
				knownTasks = append(knownTasks, name)
				tv.New = true
				// A known device growing a task is itself news.
				dv.New = true
			}
			switch tr.State {
			case fleet.StateOK:
				dv.OKCount++
			case fleet.StateErr:
				dv.ErrCount++
			case fleet.StateLost:
				dv.LostCount++
			}
			dv.Tasks = append(dv.Tasks, tv)
		}
		known[identity] = knownTasks

		switch {
		case dv.Lost:
			view.LostDevices++
		case dv.Healthy():
			view.OKDevices++
		default:
			view.ErrDevices++
		}
		view.Devices = append(view.Devices, dv)
	}

	return view, known
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
