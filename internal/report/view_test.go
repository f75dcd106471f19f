package report

import (
	"strings"
	"testing"
	"time"

	"logwarden/internal/fleet"
)

var testServer = fleet.Device{Name: "hub", Addr: "10.0.0.1"}

func deviceByName(t *testing.T, view FleetView, name string) DeviceView {
	t.Helper()
	for _, d := range view.Devices {
		if d.Name == name {
			return d
		}
	}
	t.Fatalf("device %q not in view", name)
	return DeviceView{}
}

func taskByName(t *testing.T, d DeviceView, name string) TaskView {
	t.Helper()
	for _, tv := range d.Tasks {
		if tv.Name == name {
			return tv
		}
	}
	t.Fatalf("task %q not on device %q", name, d.Name)
	return TaskView{}
}

func TestBuildViewMarksAbsentDeviceLost(t *testing.T) {
	now := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)
	known := map[string][]string{
		"worker-a": {"etl"},
		"worker-b": {"backup"},
	}
	statuses := map[string]fleet.DeviceStatus{
		"worker-a": {Tasks: map[string]fleet.TaskReport{"etl": {State: fleet.StateOK, Detail: "done"}}},
	}

	view, _ := BuildView(testServer, statuses, known, now)

	b := deviceByName(t, view, "worker-b")
	if !b.Lost {
		t.Error("absent device not marked lost")
	}
	if len(b.Tasks) != 0 {
		t.Errorf("lost device has task rows: %v", b.Tasks)
	}

	// The present device's reported state is untouched.
	a := deviceByName(t, view, "worker-a")
	if a.Lost {
		t.Error("present device marked lost")
	}
	etl := taskByName(t, a, "etl")
	if etl.State != fleet.StateOK || etl.Detail != "done" {
		t.Errorf("etl = %+v, want reported ok/done", etl)
	}

	if view.LostDevices != 1 || view.OKDevices != 1 || view.ErrDevices != 0 {
		t.Errorf("counts = %d lost / %d err / %d ok, want 1/0/1",
			view.LostDevices, view.ErrDevices, view.OKDevices)
	}
}

func TestBuildViewMarksMissingTaskLostNotDevice(t *testing.T) {
	// The device connected this cycle but its known task produced no log:
	// the task is lost, the device is not.
	now := time.Date(2026, 8, 2, 8, 0, 0, 0, time.UTC)
	known := map[string][]string{"worker-a": {"taskX"}}
	statuses := map[string]fleet.DeviceStatus{
		"worker-a": {Tasks: map[string]fleet.TaskReport{}},
	}

	view, _ := BuildView(testServer, statuses, known, now)

	a := deviceByName(t, view, "worker-a")
	if a.Lost {
		t.Fatal("device marked LOST despite having connected this cycle")
	}
	taskX := taskByName(t, a, "taskX")
	if taskX.State != fleet.StateLost {
		t.Errorf("taskX state = %q, want lost", taskX.State)
	}
	if view.LostDevices != 0 || view.ErrDevices != 1 {
		t.Errorf("counts = %d lost / %d err devices, want 0/1", view.LostDevices, view.ErrDevices)
	}
}

func TestBuildViewDeviceLostWhenNeverConnected(t *testing.T) {
	// Same history as above, but the device never connected: device-level
	// LOST, no per-task rows.
	now := time.Date(2026, 8, 2, 8, 0, 0, 0, time.UTC)
	known := map[string][]string{"worker-a": {"taskX"}}
	statuses := map[string]fleet.DeviceStatus{}

	view, _ := BuildView(testServer, statuses, known, now)

	a := deviceByName(t, view, "worker-a")
	if !a.Lost {
		t.Fatal("device not marked LOST")
	}
	if len(a.Tasks) != 0 {
		t.Errorf("lost device has task rows: %v", a.Tasks)
	}
}

func TestBuildViewFlagsNewDevicesAndTasks(t *testing.T) {
	now := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)
	known := map[string][]string{"worker-a": {"etl"}}
	statuses := map[string]fleet.DeviceStatus{
		"worker-a": {Tasks: map[string]fleet.TaskReport{
			"etl":   {State: fleet.StateOK},
			"fresh": {State: fleet.StateOK},
		}},
		"worker-new": {Tasks: map[string]fleet.TaskReport{"boot": {State: fleet.StateOK}}},
	}

	view, updated := BuildView(testServer, statuses, known, now)

	a := deviceByName(t, view, "worker-a")
	if !a.New {
		t.Error("device with a new task not flagged NEW")
	}
	if !taskByName(t, a, "fresh").New {
		t.Error("new task not flagged NEW")
	}
	if taskByName(t, a, "etl").New {
		t.Error("known task flagged NEW")
	}

	n := deviceByName(t, view, "worker-new")
	if !n.New {
		t.Error("unknown device not flagged NEW")
	}

	if !contains(updated["worker-a"], "fresh") {
		t.Error("new task not added to registry")
	}
	if !contains(updated["worker-new"], "boot") {
		t.Error("new device's task not added to registry")
	}
}

func TestRenderProducesReportPage(t *testing.T) {
	now := time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC)
	known := map[string][]string{"worker-b": {"backup"}}
	statuses := map[string]fleet.DeviceStatus{
		"worker-a#10.0.0.2": {Tasks: map[string]fleet.TaskReport{
			"etl": {State: fleet.StateErr, Detail: "disk full"},
		}},
	}
	view, _ := BuildView(testServer, statuses, known, now)

	html, err := NewRenderer().Render(view)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	for _, want := range []string{"hub", "worker-a", "worker-b", "DEVICE LOST", "disk full", "10.0.0.2"} {
		if !strings.Contains(html, want) {
			t.Errorf("rendered page missing %q", want)
		}
	}
}
